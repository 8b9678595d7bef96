package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/flround/client"
	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/mqtt/mocks"
	"github.com/absmach/flround/pkg/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

var (
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	topics = fl.NewTopics("")
)

func scalar(v float64) params.ParameterSet {
	return params.MustNew(params.Entry{Name: "dense", Layer: params.Layer{Weight: params.Scalar(v)}})
}

func valueOf(t *testing.T, ps params.ParameterSet) float64 {
	t.Helper()

	l, ok := ps.Layer("dense")
	require.True(t, ok)
	require.NotEmpty(t, l.Weight.Data)

	return l.Weight.Data[0]
}

func addOne() client.ComputationFunc {
	return func(_ context.Context, ps params.ParameterSet) (params.ParameterSet, client.Metrics, error) {
		l, _ := ps.Layer("dense")

		return scalar(l.Weight.Data[0] + 1), client.Metrics{Loss: 0.5, Accuracy: 0.9}, nil
	}
}

type harness struct {
	broker  *mocks.Broker
	codec   params.Codec
	session *client.Session
	id      fl.ClientID
	errc    chan error
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, cfg client.Config, computation client.LocalComputation) *harness {
	t.Helper()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)

	broker := mocks.NewBroker()
	session, err := client.NewSession(cfg, broker.Connect("client-"+cfg.ID.String()), codec, computation, logger)
	require.NoError(t, err)

	return &harness{
		broker:  broker,
		codec:   codec,
		session: session,
		id:      cfg.ID,
		errc:    make(chan error, 1),
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)

	go func() {
		h.errc <- h.session.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(h.broker.Published(topics.Ready())) > 0
	}, waitFor, time.Millisecond)
}

func (h *harness) send(t *testing.T, topic string, ps params.ParameterSet) {
	t.Helper()

	data, err := h.codec.Encode(ps)
	require.NoError(t, err)
	h.broker.Inject(topic, data)
}

func (h *harness) contributions(t *testing.T) []float64 {
	t.Helper()

	var out []float64
	for _, m := range h.broker.Published(topics.UpdatedParameters(h.id)) {
		ps, err := h.codec.Decode(m.Payload)
		require.NoError(t, err)
		out = append(out, valueOf(t, ps))
	}

	return out
}

func (h *harness) awaitContributions(t *testing.T, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(h.broker.Published(topics.UpdatedParameters(h.id))) >= n
	}, waitFor, time.Millisecond)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()

	select {
	case err := <-h.errc:
		return err
	case <-time.After(waitFor):
		require.FailNow(t, "session did not finish")

		return nil
	}
}

func TestSessionRounds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, client.Config{ID: 3}, addOne())
	h.start(t)

	ready := h.broker.Published(topics.Ready())
	require.Len(t, ready, 1)
	assert.Equal(t, "3", string(ready[0].Payload))
	assert.Equal(t, client.AwaitingParameters, h.session.State())

	h.send(t, topics.InitialParameters(3), scalar(10))
	h.awaitContributions(t, 1)
	assert.Equal(t, uint64(0), h.session.Round())

	h.send(t, topics.GlobalParameters(3), scalar(20))
	h.awaitContributions(t, 2)
	assert.Equal(t, uint64(1), h.session.Round())

	h.send(t, topics.GlobalParameters(3), scalar(30))
	h.awaitContributions(t, 3)
	assert.Equal(t, uint64(2), h.session.Round())
	assert.Equal(t, []float64{11, 21, 31}, h.contributions(t))

	h.broker.Inject(topics.Terminate(), []byte(fl.TerminateMarker))
	require.NoError(t, h.wait(t))
	assert.Equal(t, client.Terminated, h.session.State())
	assert.False(t, h.broker.Subscribed(topics.InitialParameters(3)))
	assert.False(t, h.broker.Subscribed(topics.Terminate()))
}

func TestSessionDropsRedeliveries(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	compute := client.ComputationFunc(func(ctx context.Context, ps params.ParameterSet) (params.ParameterSet, client.Metrics, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return params.ParameterSet{}, client.Metrics{}, ctx.Err()
		}

		return addOne()(ctx, ps)
	})

	h := newHarness(t, client.Config{ID: 1}, compute)
	h.start(t)

	h.send(t, topics.InitialParameters(1), scalar(1))
	require.Eventually(t, func() bool {
		return h.session.State() == client.Computing
	}, waitFor, time.Millisecond)

	// Delivery is synchronous, so the redelivery has been handled on return.
	h.send(t, topics.InitialParameters(1), scalar(1))
	h.send(t, topics.GlobalParameters(1), scalar(5))
	assert.Equal(t, client.Computing, h.session.State())

	close(release)
	h.awaitContributions(t, 1)
	require.Eventually(t, func() bool {
		return h.session.State() == client.AwaitingParameters
	}, waitFor, time.Millisecond)

	h.send(t, topics.InitialParameters(1), scalar(1))
	assert.Equal(t, client.AwaitingParameters, h.session.State())
	assert.Equal(t, []float64{2}, h.contributions(t))
	assert.Equal(t, uint64(0), h.session.Round())
}

func TestTerminateCancelsComputation(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	compute := client.ComputationFunc(func(ctx context.Context, _ params.ParameterSet) (params.ParameterSet, client.Metrics, error) {
		close(started)
		<-ctx.Done()

		return params.ParameterSet{}, client.Metrics{}, ctx.Err()
	})

	h := newHarness(t, client.Config{ID: 1}, compute)
	h.start(t)

	h.send(t, topics.InitialParameters(1), scalar(1))
	select {
	case <-started:
	case <-time.After(waitFor):
		require.FailNow(t, "computation did not start")
	}

	h.broker.Inject(topics.Terminate(), []byte(fl.TerminateMarker))
	require.NoError(t, h.wait(t))
	assert.Equal(t, client.Terminated, h.session.State())
	assert.Empty(t, h.contributions(t))
}

func TestTerminateBeforeParameters(t *testing.T) {
	t.Parallel()

	h := newHarness(t, client.Config{ID: 1}, addOne())
	h.start(t)

	h.broker.Inject(topics.Terminate(), []byte(fl.TerminateMarker))
	require.NoError(t, h.wait(t))
	assert.Equal(t, client.Terminated, h.session.State())

	h.send(t, topics.InitialParameters(1), scalar(1))
	assert.Empty(t, h.contributions(t))
}

func TestComputationFailurePublishesNothing(t *testing.T) {
	t.Parallel()

	errTraining := errors.New("training diverged")
	calls := 0
	compute := client.ComputationFunc(func(ctx context.Context, ps params.ParameterSet) (params.ParameterSet, client.Metrics, error) {
		calls++
		if calls == 1 {
			return params.ParameterSet{}, client.Metrics{}, errTraining
		}

		return addOne()(ctx, ps)
	})

	h := newHarness(t, client.Config{ID: 1}, compute)
	h.start(t)

	h.send(t, topics.InitialParameters(1), scalar(1))
	require.Eventually(t, func() bool {
		return h.session.State() == client.AwaitingParameters && h.session.Round() == 0
	}, waitFor, time.Millisecond)
	assert.Empty(t, h.contributions(t))

	h.send(t, topics.GlobalParameters(1), scalar(7))
	h.awaitContributions(t, 1)
	assert.Equal(t, []float64{8}, h.contributions(t))
	assert.Equal(t, uint64(1), h.session.Round())
}

func TestReadyRepeatedUntilParameters(t *testing.T) {
	t.Parallel()

	h := newHarness(t, client.Config{ID: 1, ReadyInterval: 2 * time.Millisecond}, addOne())
	h.start(t)

	require.Eventually(t, func() bool {
		return len(h.broker.Published(topics.Ready())) >= 3
	}, waitFor, time.Millisecond)

	h.send(t, topics.InitialParameters(1), scalar(1))
	h.awaitContributions(t, 1)

	n := len(h.broker.Published(topics.Ready()))
	assert.Never(t, func() bool {
		return len(h.broker.Published(topics.Ready())) > n
	}, 30*time.Millisecond, 2*time.Millisecond)
}

func TestHandle(t *testing.T) {
	t.Parallel()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)
	data, err := codec.Encode(scalar(1))
	require.NoError(t, err)

	cases := []struct {
		desc    string
		topic   string
		payload []byte
		err     error
	}{
		{
			desc:    "parameters for another client",
			topic:   topics.InitialParameters(2),
			payload: data,
		},
		{
			desc:    "contribution echo",
			topic:   topics.UpdatedParameters(1),
			payload: data,
		},
		{
			desc:    "foreign topic",
			topic:   "sensors/temperature",
			payload: []byte("21.5"),
			err:     fl.ErrUnknownTopic,
		},
		{
			desc:    "empty parameters",
			topic:   topics.InitialParameters(1),
			payload: nil,
			err:     fl.ErrMalformed,
		},
		{
			desc:    "bad terminate marker",
			topic:   topics.Terminate(),
			payload: []byte("STOP"),
			err:     fl.ErrMalformed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			s, err := client.NewSession(client.Config{ID: 1}, mocks.NewBroker().Connect("c"), codec, addOne(), logger)
			require.NoError(t, err)

			err = s.Handle(context.Background(), tc.topic, tc.payload)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, client.Connected, s.State())
		})
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, client.Config{ID: 1}, addOne())
	h.start(t)

	h.cancel()
	assert.ErrorIs(t, h.wait(t), context.Canceled)
	assert.False(t, h.broker.Subscribed(topics.Terminate()))
}

func TestRunTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, client.Config{ID: 1}, addOne())
	h.start(t)

	assert.ErrorIs(t, h.session.Run(context.Background()), client.ErrAlreadyStarted)
}

func TestNewSession(t *testing.T) {
	t.Parallel()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)
	conn := mocks.NewBroker().Connect("c")

	_, err = client.NewSession(client.Config{ID: 1, ReadyInterval: -time.Second}, conn, codec, addOne(), logger)
	assert.ErrorIs(t, err, client.ErrInvalidConfig)

	_, err = client.NewSession(client.Config{ID: 1}, conn, codec, nil, logger)
	assert.ErrorIs(t, err, client.ErrInvalidConfig)

	s, err := client.NewSession(client.Config{ID: 1}, conn, codec, addOne(), logger)
	require.NoError(t, err)
	assert.Equal(t, client.Connected, s.State())
	assert.Equal(t, "connected", s.State().String())
}

func TestRunBrokerFailures(t *testing.T) {
	t.Parallel()

	errBroker := errors.New("broker unavailable")
	initial, global, terminate := topics.InitialParameters(1), topics.GlobalParameters(1), topics.Terminate()

	cases := []struct {
		desc         string
		subscribeErr map[string]error
		publishErr   error
		unsubscribed []string
	}{
		{
			desc:         "subscription fails",
			subscribeErr: map[string]error{global: errBroker},
			unsubscribed: []string{initial},
		},
		{
			desc:         "ready signal fails",
			publishErr:   errBroker,
			unsubscribed: []string{initial, global, terminate},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			codec, err := params.NewCBORCodec()
			require.NoError(t, err)

			pubsub := new(mocks.MockPubSub)
			for _, topic := range []string{initial, global, terminate} {
				pubsub.On("Subscribe", mock.Anything, topic, mock.Anything).Return(tc.subscribeErr[topic]).Maybe()
			}
			pubsub.On("Publish", mock.Anything, topics.Ready(), []byte("1")).Return(tc.publishErr).Maybe()
			for _, topic := range tc.unsubscribed {
				pubsub.On("Unsubscribe", mock.Anything, topic).Return(nil).Once()
			}
			pubsub.On("Disconnect", mock.Anything).Return(nil).Once()

			s, err := client.NewSession(client.Config{ID: 1}, pubsub, codec, addOne(), logger)
			require.NoError(t, err)

			err = s.Run(context.Background())
			assert.ErrorIs(t, err, errBroker)
			pubsub.AssertExpectations(t)
		})
	}
}
