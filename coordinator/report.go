package coordinator

import (
	"log/slog"
	"time"

	"github.com/absmach/flround/pkg/fl"
)

func kb(bytes uint64) float64 {
	return float64(bytes) / 1024
}

func (c *coordinator) logRound(rec fl.RoundRecord) {
	contributors := max(len(rec.Contributors), 1)

	c.logger.Info("Round completed",
		slog.Uint64("round", rec.Round),
		slog.Int("contributors", len(rec.Contributors)),
		slog.Bool("partial", rec.Partial),
		slog.String("round_duration", rec.RoundDuration().String()),
		slog.String("aggregation_duration", rec.AggregationDuration.String()),
		slog.Float64("sent_kb_per_client", kb(rec.BytesSent)/float64(len(c.population))),
		slog.Float64("received_kb_per_client", kb(rec.BytesReceived)/float64(contributors)),
		slog.Float64("total_kb", kb(rec.BytesSent+rec.BytesReceived)),
	)
}

func (c *coordinator) logSummary() {
	c.mu.Lock()
	history := c.history
	c.mu.Unlock()

	var (
		roundTime, aggTime time.Duration
		sent, received     uint64
		partial            int
	)
	for _, rec := range history {
		roundTime += rec.RoundDuration()
		aggTime += rec.AggregationDuration
		sent += rec.BytesSent
		received += rec.BytesReceived
		if rec.Partial {
			partial++
		}
	}

	args := []any{
		slog.Int("rounds", len(history)),
		slog.Int("partial_rounds", partial),
		slog.String("total_round_duration", roundTime.String()),
		slog.String("total_aggregation_duration", aggTime.String()),
		slog.Float64("total_sent_kb", kb(sent)),
		slog.Float64("total_received_kb", kb(received)),
	}
	if n := len(history); n > 0 {
		args = append(args,
			slog.String("mean_round_duration", (roundTime/time.Duration(n)).String()),
			slog.String("mean_aggregation_duration", (aggTime/time.Duration(n)).String()),
		)
	}
	c.logger.Info("Training completed", args...)
}
