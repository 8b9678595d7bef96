package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/mqtt"
	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

var _ Service = (*coordinator)(nil)

type coordinator struct {
	cfg        Config
	pubsub     mqtt.PubSub
	codec      params.Codec
	aggregator fl.Aggregator
	sink       fl.Sink
	archive    fl.RoundArchive
	topics     fl.Topics
	population []fl.ClientID
	members    map[fl.ClientID]struct{}
	logger     *slog.Logger

	fatal chan error

	mu          sync.Mutex
	started     bool
	state       State
	round       uint64
	completed   uint64
	global      params.ParameterSet
	ready       map[fl.ClientID]struct{}
	readyDone   chan struct{}
	record      fl.RoundRecord
	collectDone chan struct{}
	history     []fl.RoundRecord
	terminateMu sync.Mutex
	terminated  bool
}

// New returns a coordinator that will distribute initial in round 0. A nil
// archive keeps round summaries in memory.
func New(cfg Config, pubsub mqtt.PubSub, codec params.Codec, aggregator fl.Aggregator, sink fl.Sink, archive fl.RoundArchive, initial params.ParameterSet, logger *slog.Logger) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pubsub == nil || codec == nil || aggregator == nil || sink == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidConfig)
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = DefaultModelPath
	}
	if cfg.DeadlinePolicy == "" {
		cfg.DeadlinePolicy = AbortOnDeadline
	}
	if archive == nil {
		archive = storage.NewRoundArchive(storage.NewInMemoryStorage())
	}

	population := cfg.Population()
	members := make(map[fl.ClientID]struct{}, len(population))
	for _, id := range population {
		members[id] = struct{}{}
	}

	return &coordinator{
		cfg:        cfg,
		pubsub:     pubsub,
		codec:      codec,
		aggregator: aggregator,
		sink:       sink,
		archive:    archive,
		topics:     fl.NewTopics(cfg.TopicPrefix),
		population: population,
		members:    members,
		logger:     logger,
		fatal:      make(chan error, 1),
		state:      AwaitingReadiness,
		global:     initial,
		ready:      make(map[fl.ClientID]struct{}, len(population)),
		readyDone:  make(chan struct{}),
	}, nil
}

func (c *coordinator) Run(ctx context.Context, handler mqtt.Handler) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()

		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if handler == nil {
		handler = func(topic string, payload []byte) error {
			return c.Handle(ctx, topic, payload)
		}
	}

	var subscribed []string
	defer func() {
		c.release(ctx, subscribed)
	}()

	for _, topic := range []string{c.topics.Ready(), c.topics.UpdatedParametersFilter()} {
		if err := c.pubsub.Subscribe(ctx, topic, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		subscribed = append(subscribed, topic)
	}

	if err := c.awaitReadiness(ctx); err != nil {
		return c.abort(ctx, err)
	}

	for {
		last, err := c.runRound(ctx)
		if err != nil {
			return c.abort(ctx, err)
		}
		if last {
			break
		}
	}

	return c.terminate(ctx)
}

func (c *coordinator) Handle(_ context.Context, topic string, payload []byte) error {
	ev, err := c.topics.Parse(topic, payload)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case fl.ReadySignal:
		c.markReady(ev.ClientID)
	case fl.Contribution:
		c.collect(ev.ClientID, ev.Payload)
	default:
		c.logger.Warn("Ignoring message on unexpected topic",
			slog.String("topic", topic),
			slog.String("kind", ev.Kind.String()),
		)
	}

	return nil
}

func (c *coordinator) Status(_ context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		State:           c.state,
		Round:           c.round,
		TotalRounds:     c.cfg.TotalRounds,
		CompletedRounds: c.completed,
		NumClients:      len(c.population),
		Ready:           slices.Sorted(maps.Keys(c.ready)),
		Collected:       slices.Sorted(maps.Keys(c.record.Contributions)),
	}, nil
}

func (c *coordinator) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	rounds, total, err := c.archive.ListRounds(ctx, offset, limit)
	if err != nil {
		return fl.RoundPage{}, err
	}

	return fl.RoundPage{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Rounds: rounds,
	}, nil
}

func (c *coordinator) GetRound(ctx context.Context, round uint64) (fl.RoundRecord, error) {
	return c.archive.GetRound(ctx, round)
}

func (c *coordinator) markReady(id fl.ClientID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := []any{slog.Uint64("client_id", uint64(id))}
	switch _, seen := c.ready[id]; {
	case !c.isMember(id):
		c.logger.Warn("Ignoring ready signal from unknown client", args...)
	case c.state != AwaitingReadiness:
		c.logger.Debug("Ignoring ready signal after readiness barrier", args...)
	case seen:
		c.logger.Debug("Ignoring duplicate ready signal", args...)
	default:
		c.ready[id] = struct{}{}
		c.logger.Info("Client ready", append(args,
			slog.Int("ready", len(c.ready)),
			slog.Int("num_clients", len(c.population)),
		)...)
		if len(c.ready) == len(c.population) {
			c.state = Distributing
			close(c.readyDone)
		}
	}
}

func (c *coordinator) collect(id fl.ClientID, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := []any{
		slog.Uint64("round", c.round),
		slog.Uint64("client_id", uint64(id)),
	}
	if !c.isMember(id) {
		c.logger.Warn("Ignoring contribution from unknown client", args...)

		return
	}
	if c.state != Collecting {
		c.logger.Warn("Ignoring contribution outside collection", append(args, slog.String("state", c.state.String()))...)

		return
	}
	if _, ok := c.record.Contributions[id]; ok {
		c.logger.Warn("Ignoring duplicate contribution", args...)

		return
	}

	ps, err := c.codec.Decode(payload)
	if err != nil {
		c.fail(fmt.Errorf("contribution from client %d in round %d: %w", id, c.round, err))

		return
	}

	c.record.Contributions[id] = ps
	c.record.BytesReceived += uint64(len(payload))
	c.logger.Debug("Contribution received", append(args,
		slog.Int("bytes", len(payload)),
		slog.Int("collected", len(c.record.Contributions)),
	)...)

	if len(c.record.Contributions) == len(c.population) {
		c.state = Aggregating
		close(c.collectDone)
	}
}

func (c *coordinator) isMember(id fl.ClientID) bool {
	_, ok := c.members[id]

	return ok
}

// fail records the first fatal error; Run picks it up while waiting.
func (c *coordinator) fail(err error) {
	c.logger.Error("Fatal protocol error", slog.Any("error", err))
	select {
	case c.fatal <- err:
	default:
	}
}

func (c *coordinator) awaitReadiness(ctx context.Context) error {
	c.logger.Info("Waiting for clients to become ready", slog.Int("num_clients", len(c.population)))

	expired, stop := deadline(c.cfg.ReadyTimeout)
	defer stop()

	select {
	case <-c.readyDone:
	case err := <-c.fatal:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == AwaitingReadiness {
			return fmt.Errorf("%w: %d of %d ready", ErrReadinessDeadline, len(c.ready), len(c.population))
		}
	}
	c.logger.Info("All clients ready")

	return nil
}

// runRound distributes the global parameters, waits for the collection
// barrier and aggregates. It reports whether this was the last round.
func (c *coordinator) runRound(ctx context.Context) (bool, error) {
	c.mu.Lock()
	round := c.round
	global := c.global
	c.state = Distributing
	c.record = fl.RoundRecord{
		Round:         round,
		StartedAt:     time.Now(),
		Contributions: make(map[fl.ClientID]params.ParameterSet, len(c.population)),
	}
	c.collectDone = make(chan struct{})
	collected := c.collectDone
	// Contributions may arrive before the last publish returns.
	c.state = Collecting
	c.mu.Unlock()

	data, err := c.codec.Encode(global)
	if err != nil {
		return false, fmt.Errorf("round %d parameters: %w", round, err)
	}

	topic := c.topics.GlobalParameters
	if round == 0 {
		topic = c.topics.InitialParameters
	}
	for _, id := range c.population {
		if err := c.pubsub.Publish(ctx, topic(id), data); err != nil {
			return false, fmt.Errorf("%w: round %d parameters to client %d: %w", ErrPublish, round, id, err)
		}
	}
	sent := uint64(len(data)) * uint64(len(c.population))
	c.logger.Info("Parameters distributed",
		slog.Uint64("round", round),
		slog.Int("clients", len(c.population)),
		slog.Int("bytes_per_client", len(data)),
	)

	if err := c.awaitCollection(ctx, collected); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.record.CollectedAt = time.Now()
	c.record.BytesSent = sent
	rec := c.record
	c.mu.Unlock()

	rec.Contributors = slices.Sorted(maps.Keys(rec.Contributions))
	rec.Partial = len(rec.Contributors) < len(c.population)
	contributions := make([]params.ParameterSet, len(rec.Contributors))
	for i, id := range rec.Contributors {
		contributions[i] = rec.Contributions[id]
	}

	start := time.Now()
	next, err := c.aggregator.Aggregate(ctx, contributions, nil)
	if err != nil {
		return false, fmt.Errorf("round %d aggregation: %w", round, err)
	}
	rec.AggregationDuration = time.Since(start)

	last := round+1 >= c.cfg.TotalRounds

	c.mu.Lock()
	c.global = next
	c.completed++
	c.record = rec
	c.history = append(c.history, rec.Archive())
	if !last {
		c.round++
		c.state = Distributing
	}
	c.mu.Unlock()

	if err := c.archive.SaveRound(ctx, rec); err != nil {
		c.logger.Error("Failed to archive round", slog.Uint64("round", round), slog.Any("error", err))
	}
	c.logRound(rec)

	return last, nil
}

func (c *coordinator) awaitCollection(ctx context.Context, collected <-chan struct{}) error {
	expired, stop := deadline(c.cfg.RoundTimeout)
	defer stop()

	select {
	case <-collected:
		return nil
	case err := <-c.fatal:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return c.closeRound()
	}
}

// closeRound handles an expired round deadline. The collection barrier may
// have completed concurrently, in which case there is nothing to do.
func (c *coordinator) closeRound() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Collecting {
		return nil
	}

	got := len(c.record.Contributions)
	if c.cfg.DeadlinePolicy == PartialOnDeadline && got >= c.cfg.minContributions() {
		c.state = Aggregating
		c.logger.Warn("Round deadline reached, aggregating partial contributions",
			slog.Uint64("round", c.record.Round),
			slog.Int("collected", got),
			slog.Int("num_clients", len(c.population)),
		)

		return nil
	}

	return fmt.Errorf("%w: round %d has %d of %d contributions", ErrRoundDeadline, c.record.Round, got, len(c.population))
}

func (c *coordinator) terminate(ctx context.Context) error {
	c.mu.Lock()
	c.state = Terminated
	global := c.global
	c.mu.Unlock()

	// The final round is complete; an interruption must not cost the model.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs error
	if err := c.sink.Save(ctx, global, c.cfg.ModelPath); err != nil {
		errs = fmt.Errorf("failed to save final parameters: %w", err)
	} else {
		c.logger.Info("Final parameters saved", slog.String("path", c.cfg.ModelPath))
	}

	if err := c.broadcastTerminate(ctx); err != nil {
		errs = errors.Join(errs, err)
	}
	c.logSummary()

	return errs
}

// abort stops the run after cause. The last completed global parameters are
// saved when at least one round was aggregated.
func (c *coordinator) abort(ctx context.Context, cause error) error {
	c.mu.Lock()
	c.state = Terminated
	completed := c.completed
	global := c.global
	c.mu.Unlock()

	c.logger.Error("Run aborted", slog.Any("error", cause), slog.Uint64("completed_rounds", completed))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if completed == 0 {
		c.logger.Warn("No round completed, nothing to save")
	} else if err := c.sink.Save(ctx, global, c.cfg.ModelPath); err != nil {
		cause = errors.Join(cause, fmt.Errorf("failed to save last completed parameters: %w", err))
	} else {
		c.logger.Info("Last completed parameters saved",
			slog.String("path", c.cfg.ModelPath),
			slog.Uint64("completed_rounds", completed),
		)
	}

	if err := c.broadcastTerminate(ctx); err != nil {
		cause = errors.Join(cause, err)
	}

	return cause
}

// broadcastTerminate publishes the termination marker at most once.
func (c *coordinator) broadcastTerminate(ctx context.Context) error {
	c.terminateMu.Lock()
	defer c.terminateMu.Unlock()

	if c.terminated {
		return nil
	}
	if err := c.pubsub.Publish(ctx, c.topics.Terminate(), []byte(fl.TerminateMarker)); err != nil {
		return fmt.Errorf("%w: termination signal: %w", ErrPublish, err)
	}
	c.terminated = true
	c.logger.Info("Termination signal sent")

	return nil
}

func (c *coordinator) release(ctx context.Context, topics []string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	for _, topic := range topics {
		if err := c.pubsub.Unsubscribe(ctx, topic); err != nil {
			c.logger.Warn("Failed to unsubscribe", slog.String("topic", topic), slog.Any("error", err))
		}
	}
	if err := c.pubsub.Disconnect(ctx); err != nil {
		c.logger.Warn("Failed to disconnect", slog.Any("error", err))
	}
}

func deadline(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)

	return t.C, func() { t.Stop() }
}
