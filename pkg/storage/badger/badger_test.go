package badger_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/storage/badger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *badger.Database

func TestMain(m *testing.M) {
	dbPath := filepath.Join(os.TempDir(), "badger_test_"+uuid.NewString())

	var err error
	testDB, err = badger.NewDatabase(dbPath)
	if err != nil {
		panic(err)
	}

	code := m.Run()

	testDB.Close()
	os.RemoveAll(dbPath)

	os.Exit(code)
}

func record(round uint64) fl.RoundRecord {
	start := time.Date(2026, 1, 1, 0, 0, int(round), 0, time.UTC)

	return fl.RoundRecord{
		Round:               round,
		StartedAt:           start,
		CollectedAt:         start.Add(time.Second),
		AggregationDuration: 5 * time.Millisecond,
		BytesSent:           300,
		BytesReceived:       310,
		Contributors:        []fl.ClientID{1, 2, 3},
		Contributions: map[fl.ClientID]params.ParameterSet{
			1: params.MustNew(params.Entry{Name: "w", Layer: params.Layer{Weight: params.Scalar(1)}}),
		},
	}
}

func TestRoundRepository(t *testing.T) {
	db, err := badger.NewInMemoryDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := badger.NewRoundRepository(db)
	ctx := context.Background()

	for _, r := range []uint64{10, 2, 0, 1} {
		require.NoError(t, repo.SaveRound(ctx, record(r)))
	}

	cases := []struct {
		desc   string
		offset uint64
		limit  uint64
		rounds []uint64
	}{
		{desc: "all rounds in order", offset: 0, limit: 10, rounds: []uint64{0, 1, 2, 10}},
		{desc: "page", offset: 1, limit: 2, rounds: []uint64{1, 2}},
		{desc: "offset past end", offset: 5, limit: 10, rounds: nil},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, total, err := repo.ListRounds(ctx, tc.offset, tc.limit)
			require.NoError(t, err)
			assert.Equal(t, uint64(4), total)

			var rounds []uint64
			for _, r := range got {
				rounds = append(rounds, r.Round)
				assert.Nil(t, r.Contributions)
			}
			assert.Equal(t, tc.rounds, rounds)
		})
	}
}

func TestRoundRepositoryGet(t *testing.T) {
	repo := badger.NewRoundRepository(testDB)
	ctx := context.Background()

	want := record(7)
	require.NoError(t, repo.SaveRound(ctx, want))

	got, err := repo.GetRound(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, want.Contributors, got.Contributors)
	assert.Equal(t, want.RoundDuration(), got.RoundDuration())
	assert.Equal(t, want.AggregationDuration, got.AggregationDuration)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.Nil(t, got.Contributions)

	_, err = repo.GetRound(ctx, 8)
	assert.ErrorIs(t, err, badger.ErrNotFound)

	err = repo.SaveRound(ctx, want)
	assert.ErrorIs(t, err, badger.ErrExists, "archived rounds are never overwritten")
}

func TestModelRepository(t *testing.T) {
	codec, err := params.NewCBORCodec()
	require.NoError(t, err)
	repo := badger.NewModelRepository(testDB, codec)
	ctx := context.Background()

	ps := params.MustNew(params.Entry{Name: "layer1", Layer: params.Layer{
		Weight: params.Tensor{Shape: []int{2}, Data: []float64{0.5, -1}},
		Bias:   params.Scalar(3),
	}})

	cases := []struct {
		desc string
		name string
		err  error
	}{
		{desc: "save model", name: "global_parameters.cbor"},
		{desc: "save model with empty name", name: "", err: fl.ErrEmptyPath},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := repo.Save(ctx, ps, tc.name)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)

			got, err := repo.Load(ctx, tc.name)
			require.NoError(t, err)
			assert.True(t, ps.Equal(got))

			_, err = repo.Load(ctx, tc.name+".missing")
			assert.ErrorIs(t, err, badger.ErrNotFound)
		})
	}
}
