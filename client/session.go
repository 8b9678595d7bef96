package client

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/mqtt"
	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/usage"
)

const shutdownTimeout = 10 * time.Second

type delivery struct {
	round   uint64
	payload []byte
}

type Session struct {
	cfg         Config
	pubsub      mqtt.PubSub
	codec       params.Codec
	computation LocalComputation
	topics      fl.Topics
	logger      *slog.Logger

	// At most one delivery is pending: Handle only enqueues while the
	// session waits for parameters and moves it to Computing in the same
	// critical section.
	work chan delivery
	done chan struct{}

	mu       sync.Mutex
	started  bool
	state    State
	round    uint64
	received bool
	cancel   context.CancelFunc
}

func NewSession(cfg Config, pubsub mqtt.PubSub, codec params.Codec, computation LocalComputation, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pubsub == nil || codec == nil || computation == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidConfig)
	}

	return &Session{
		cfg:         cfg,
		pubsub:      pubsub,
		codec:       codec,
		computation: computation,
		topics:      fl.NewTopics(cfg.TopicPrefix),
		logger:      logger.With(slog.Uint64("client_id", uint64(cfg.ID))),
		work:        make(chan delivery, 1),
		done:        make(chan struct{}),
		state:       Connected,
	}, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Round returns the label of the last round parameters were accepted for.
func (s *Session) Round() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.round
}

// Run serves rounds until the coordinator terminates the session, in which
// case it returns nil, or until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()

		return ErrAlreadyStarted
	}
	s.started = true
	s.cancel = cancel
	s.mu.Unlock()

	handler := func(topic string, payload []byte) error {
		return s.Handle(ctx, topic, payload)
	}

	var subscribed []string
	defer func() {
		s.release(ctx, subscribed)
	}()

	topics := []string{
		s.topics.InitialParameters(s.cfg.ID),
		s.topics.GlobalParameters(s.cfg.ID),
		s.topics.Terminate(),
	}
	for _, topic := range topics {
		if err := s.pubsub.Subscribe(ctx, topic, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		subscribed = append(subscribed, topic)
	}

	s.mu.Lock()
	if s.state == Connected {
		s.state = AwaitingParameters
	}
	s.mu.Unlock()

	if err := s.announce(ctx); err != nil {
		return err
	}

	var retry <-chan time.Time
	if s.cfg.ReadyInterval > 0 {
		ticker := time.NewTicker(s.cfg.ReadyInterval)
		defer ticker.Stop()
		retry = ticker.C
	}

	for {
		select {
		case <-s.done:
			s.logger.Info("Session terminated", slog.Uint64("round", s.Round()))

			return nil
		case <-ctx.Done():
			if s.State() == Terminated {
				return nil
			}

			return ctx.Err()
		case <-retry:
			if s.hasReceived() {
				retry = nil

				continue
			}
			if err := s.announce(ctx); err != nil {
				s.logger.Warn("Failed to repeat ready signal", slog.Any("error", err))
			}
		case d := <-s.work:
			s.process(ctx, d)
		}
	}
}

// Handle is the single entry point for delivered messages.
func (s *Session) Handle(_ context.Context, topic string, payload []byte) error {
	ev, err := s.topics.Parse(topic, payload)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case fl.TerminateSignal:
		s.terminate()
	case fl.InitialParameters, fl.GlobalParameters:
		if ev.ClientID != s.cfg.ID {
			s.logger.Warn("Ignoring parameters addressed to another client", slog.String("topic", topic))

			return nil
		}
		s.accept(ev)
	default:
		s.logger.Warn("Ignoring message on unexpected topic",
			slog.String("topic", topic),
			slog.String("kind", ev.Kind.String()),
		)
	}

	return nil
}

func (s *Session) accept(ev fl.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != AwaitingParameters {
		s.logger.Debug("Dropping parameters outside of awaiting state",
			slog.String("kind", ev.Kind.String()),
			slog.String("state", s.state.String()),
		)

		return
	}

	var round uint64
	switch {
	case ev.Kind == fl.InitialParameters && s.received:
		s.logger.Debug("Dropping repeated initial parameters")

		return
	case ev.Kind == fl.GlobalParameters && s.received:
		round = s.round + 1
	}

	select {
	case s.work <- delivery{round: round, payload: ev.Payload}:
	default:
		s.logger.Error("Dropping parameters, previous delivery still pending", slog.Uint64("round", round))

		return
	}
	s.state = Computing
	s.round = round
	s.received = true
}

func (s *Session) process(ctx context.Context, d delivery) {
	args := []any{slog.Uint64("round", d.round)}

	ps, err := s.codec.Decode(d.payload)
	if err != nil {
		s.logger.Error("Failed to decode parameters", append(args, slog.Any("error", err))...)
		s.transition(Computing, AwaitingParameters)

		return
	}

	before := usage.Collect()
	updated, metrics, err := s.computation.Compute(ctx, ps)
	spent := usage.Since(before)
	if err != nil {
		if s.State() == Terminated {
			return
		}
		s.logger.Error("Local computation failed", append(args, slog.Any("error", err))...)
		s.transition(Computing, AwaitingParameters)

		return
	}

	if !s.transition(Computing, Publishing) {
		return
	}
	data, err := s.codec.Encode(updated)
	if err != nil {
		s.logger.Error("Failed to encode updated parameters", append(args, slog.Any("error", err))...)
		s.transition(Publishing, AwaitingParameters)

		return
	}

	// The next round's parameters may be delivered while the publish is in
	// flight, so the session must already be waiting for them.
	if !s.transition(Publishing, AwaitingParameters) || ctx.Err() != nil {
		return
	}
	if err := s.pubsub.Publish(ctx, s.topics.UpdatedParameters(s.cfg.ID), data); err != nil {
		s.logger.Error("Failed to publish updated parameters", append(args, slog.Any("error", err))...)

		return
	}

	s.logger.Info("Round completed", append(args,
		slog.String("training_time", spent.Wall.String()),
		slog.String("upload_kb", strconv.FormatFloat(float64(len(data))/1024, 'f', 2, 64)),
		slog.Float64("loss", metrics.Loss),
		slog.Float64("accuracy", metrics.Accuracy),
		slog.Float64("cpu_percent", spent.CPUPercent),
		slog.Uint64("peak_rss_bytes", spent.PeakRSS),
	)...)
}

// transition moves the session from one state to another and reports whether
// it was still in the expected state.
func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != from {
		return false
	}
	s.state = to

	return true
}

func (s *Session) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Terminated {
		return
	}
	s.state = Terminated
	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Termination signal received")
}

func (s *Session) hasReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.received
}

func (s *Session) announce(ctx context.Context) error {
	if err := s.pubsub.Publish(ctx, s.topics.Ready(), []byte(s.cfg.ID.String())); err != nil {
		return fmt.Errorf("failed to publish ready signal: %w", err)
	}
	s.logger.Debug("Ready signal sent")

	return nil
}

func (s *Session) release(ctx context.Context, topics []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	for _, topic := range topics {
		if err := s.pubsub.Unsubscribe(ctx, topic); err != nil {
			s.logger.Warn("Failed to unsubscribe", slog.String("topic", topic), slog.Any("error", err))
		}
	}
	if err := s.pubsub.Disconnect(ctx); err != nil {
		s.logger.Warn("Failed to disconnect", slog.Any("error", err))
	}
}
