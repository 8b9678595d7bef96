// Package coordinator drives synchronous federated rounds: it waits for every
// client to report ready, distributes the global parameters, collects exactly
// one contribution per client, aggregates them and repeats until the
// configured number of rounds is done.
package coordinator

import (
	"context"

	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/mqtt"
)

type Service interface {
	// Run subscribes to the client topics and drives every round to
	// completion. Inbound messages go to handler, or straight to Handle when
	// handler is nil.
	Run(ctx context.Context, handler mqtt.Handler) error
	// Handle applies one inbound message. Errors are returned only for
	// messages that could not be interpreted; protocol violations are logged
	// and ignored.
	Handle(ctx context.Context, topic string, payload []byte) error

	Status(ctx context.Context) (Status, error)
	ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error)
	GetRound(ctx context.Context, round uint64) (fl.RoundRecord, error)
}

type State uint8

const (
	AwaitingReadiness State = iota
	Distributing
	Collecting
	Aggregating
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingReadiness:
		return "awaiting_readiness"
	case Distributing:
		return "distributing"
	case Collecting:
		return "collecting"
	case Aggregating:
		return "aggregating"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Status struct {
	State           State         `json:"state"`
	Round           uint64        `json:"round"`
	TotalRounds     uint64        `json:"total_rounds"`
	CompletedRounds uint64        `json:"completed_rounds"`
	NumClients      int           `json:"num_clients"`
	Ready           []fl.ClientID `json:"ready"`
	Collected       []fl.ClientID `json:"collected"`
}
