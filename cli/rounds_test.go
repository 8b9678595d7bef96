package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/absmach/flround/pkg/sdk"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSDK struct {
	offset, limit uint64
}

func (f *fakeSDK) Status() (sdk.Status, error) {
	return sdk.Status{State: "collecting", Round: 1, TotalRounds: 3, NumClients: 2, Ready: []uint16{1, 2}}, nil
}

func (f *fakeSDK) GetRound(round uint64) (sdk.Round, error) {
	if round > 1 {
		return sdk.Round{}, errors.New("round not found")
	}

	return sdk.Round{Round: round, Contributors: []uint16{1, 2}}, nil
}

func (f *fakeSDK) ListRounds(offset, limit uint64) (sdk.RoundPage, error) {
	f.offset, f.limit = offset, limit

	return sdk.RoundPage{Offset: offset, Limit: limit, Total: 2}, nil
}

// The commands share package state, so the cases run in order.
func TestRoundCommands(t *testing.T) {
	fake := &fakeSDK{}
	SetSDK(fake)

	run := func(cmd *cobra.Command, args ...string) (string, string) {
		var out, errOut bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&errOut)
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute())

		return out.String(), errOut.String()
	}

	out, errOut := run(NewStatusCmd())
	assert.Empty(t, errOut)
	assert.Contains(t, out, "collecting")
	assert.Contains(t, out, "total_rounds")

	out, _ = run(NewStatusCmd(), "extra")
	assert.Contains(t, out, "usage")

	out, errOut = run(NewRoundsCmd(), "list", "--offset", "1", "--limit", "5")
	assert.Empty(t, errOut)
	assert.Contains(t, out, "total")
	assert.Equal(t, uint64(1), fake.offset)
	assert.Equal(t, uint64(5), fake.limit)

	out, errOut = run(NewRoundsCmd(), "view", "1")
	assert.Empty(t, errOut)
	assert.Contains(t, out, "contributors")

	_, errOut = run(NewRoundsCmd(), "view", "9")
	assert.Contains(t, errOut, "round not found")

	_, errOut = run(NewRoundsCmd(), "view", "first")
	assert.Contains(t, errOut, "invalid syntax")
}
