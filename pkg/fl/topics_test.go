package fl_test

import (
	"testing"

	"github.com/absmach/flround/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicNames(t *testing.T) {
	t.Parallel()

	plain := fl.NewTopics("")
	assert.Equal(t, "client/ready", plain.Ready())
	assert.Equal(t, "client/terminate", plain.Terminate())
	assert.Equal(t, "server/initial_parameters/3", plain.InitialParameters(3))
	assert.Equal(t, "server/global_parameters/3", plain.GlobalParameters(3))
	assert.Equal(t, "client/updated_parameters/3", plain.UpdatedParameters(3))
	assert.Equal(t, "client/updated_parameters/+", plain.UpdatedParametersFilter())

	prefixed := fl.NewTopics("/runs/cifar/")
	assert.Equal(t, "runs/cifar/client/ready", prefixed.Ready())
	assert.Equal(t, "runs/cifar/server/global_parameters/1", prefixed.GlobalParameters(1))
}

func TestParse(t *testing.T) {
	t.Parallel()

	topics := fl.NewTopics("run1")

	cases := []struct {
		desc    string
		topic   string
		payload []byte
		event   fl.Event
		err     error
	}{
		{
			desc:    "ready signal",
			topic:   "run1/client/ready",
			payload: []byte("2\n"),
			event:   fl.Event{Kind: fl.ReadySignal, ClientID: 2},
		},
		{
			desc:    "ready signal with garbage",
			topic:   "run1/client/ready",
			payload: []byte("two"),
			err:     fl.ErrMalformed,
		},
		{
			desc:    "contribution",
			topic:   "run1/client/updated_parameters/7",
			payload: []byte{0x01},
			event:   fl.Event{Kind: fl.Contribution, ClientID: 7, Payload: []byte{0x01}},
		},
		{
			desc:    "contribution with bad id",
			topic:   "run1/client/updated_parameters/x",
			payload: []byte{0x01},
			err:     fl.ErrMalformed,
		},
		{
			desc:  "contribution without payload",
			topic: "run1/client/updated_parameters/1",
			err:   fl.ErrMalformed,
		},
		{
			desc:    "initial parameters",
			topic:   "run1/server/initial_parameters/1",
			payload: []byte{0x02},
			event:   fl.Event{Kind: fl.InitialParameters, ClientID: 1, Payload: []byte{0x02}},
		},
		{
			desc:    "global parameters",
			topic:   "run1/server/global_parameters/1",
			payload: []byte{0x03},
			event:   fl.Event{Kind: fl.GlobalParameters, ClientID: 1, Payload: []byte{0x03}},
		},
		{
			desc:    "terminate",
			topic:   "run1/client/terminate",
			payload: []byte(fl.TerminateMarker),
			event:   fl.Event{Kind: fl.TerminateSignal},
		},
		{
			desc:    "terminate with wrong marker",
			topic:   "run1/client/terminate",
			payload: []byte("STOP"),
			err:     fl.ErrMalformed,
		},
		{
			desc:  "other prefix",
			topic: "run2/client/ready",
			err:   fl.ErrUnknownTopic,
		},
		{
			desc:  "unknown topic",
			topic: "run1/client/alive",
			err:   fl.ErrUnknownTopic,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			ev, err := topics.Parse(tc.topic, tc.payload)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.event, ev)
		})
	}
}
