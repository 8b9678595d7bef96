package fl

import (
	"context"
	"time"

	"github.com/absmach/flround/pkg/params"
)

type ClientID uint16

// RoundRecord describes one completed round. Contributions are kept while the
// round is open and are not serialized when the record is archived.
type RoundRecord struct {
	Round               uint64        `json:"round"`
	StartedAt           time.Time     `json:"started_at"`
	CollectedAt         time.Time     `json:"collected_at"`
	AggregationDuration time.Duration `json:"aggregation_duration"`
	BytesSent           uint64        `json:"bytes_sent"`
	BytesReceived       uint64        `json:"bytes_received"`
	Contributors        []ClientID    `json:"contributors"`
	Partial             bool          `json:"partial,omitempty"`

	Contributions map[ClientID]params.ParameterSet `json:"-"`
}

func (r RoundRecord) RoundDuration() time.Duration {
	return r.CollectedAt.Sub(r.StartedAt)
}

// Archive returns the record without its contributions.
func (r RoundRecord) Archive() RoundRecord {
	r.Contributions = nil
	r.Contributors = append([]ClientID(nil), r.Contributors...)

	return r
}

type RoundPage struct {
	Offset uint64        `json:"offset"`
	Limit  uint64        `json:"limit"`
	Total  uint64        `json:"total"`
	Rounds []RoundRecord `json:"rounds"`
}

type RoundArchive interface {
	SaveRound(ctx context.Context, r RoundRecord) error
	GetRound(ctx context.Context, round uint64) (RoundRecord, error)
	ListRounds(ctx context.Context, offset, limit uint64) ([]RoundRecord, uint64, error)
}

// Sink durably stores a parameter set, typically the final global model.
type Sink interface {
	Save(ctx context.Context, ps params.ParameterSet, path string) error
}

type Aggregator interface {
	Aggregate(ctx context.Context, contributions []params.ParameterSet, weights []float64) (params.ParameterSet, error)
}
