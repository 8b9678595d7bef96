package middleware

import (
	"context"
	"time"

	"github.com/absmach/flround/coordinator"
	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/mqtt"
	"github.com/go-kit/kit/metrics"
)

var _ coordinator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     coordinator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc coordinator.Service) coordinator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) Run(ctx context.Context, handler mqtt.Handler) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "run").Add(1)
		mm.latency.With("method", "run").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Run(ctx, handler)
}

func (mm *metricsMiddleware) Handle(ctx context.Context, topic string, payload []byte) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "handle").Add(1)
		mm.latency.With("method", "handle").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Handle(ctx, topic, payload)
}

func (mm *metricsMiddleware) Status(ctx context.Context) (coordinator.Status, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-status").Add(1)
		mm.latency.With("method", "get-status").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Status(ctx)
}

func (mm *metricsMiddleware) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-rounds").Add(1)
		mm.latency.With("method", "list-rounds").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListRounds(ctx, offset, limit)
}

func (mm *metricsMiddleware) GetRound(ctx context.Context, round uint64) (fl.RoundRecord, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-round").Add(1)
		mm.latency.With("method", "get-round").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetRound(ctx, round)
}
