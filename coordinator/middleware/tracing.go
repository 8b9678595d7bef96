package middleware

import (
	"context"

	"github.com/absmach/flround/coordinator"
	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/mqtt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ coordinator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    coordinator.Service
}

func Tracing(tracer trace.Tracer, svc coordinator.Service) coordinator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Run(ctx context.Context, handler mqtt.Handler) (err error) {
	ctx, span := tm.tracer.Start(ctx, "run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return tm.svc.Run(ctx, handler)
}

func (tm *tracing) Handle(ctx context.Context, topic string, payload []byte) error {
	ctx, span := tm.tracer.Start(ctx, "handle", trace.WithAttributes(
		attribute.String("topic", topic),
		attribute.Int("size", len(payload)),
	))
	defer span.End()

	return tm.svc.Handle(ctx, topic, payload)
}

func (tm *tracing) Status(ctx context.Context) (coordinator.Status, error) {
	ctx, span := tm.tracer.Start(ctx, "get-status")
	defer span.End()

	return tm.svc.Status(ctx)
}

func (tm *tracing) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-rounds", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRounds(ctx, offset, limit)
}

func (tm *tracing) GetRound(ctx context.Context, round uint64) (fl.RoundRecord, error) {
	ctx, span := tm.tracer.Start(ctx, "get-round", trace.WithAttributes(
		attribute.Int64("round", int64(round)),
	))
	defer span.End()

	return tm.svc.GetRound(ctx, round)
}
