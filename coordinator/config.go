package coordinator

import (
	"fmt"
	"math"
	"time"

	"github.com/absmach/flround/pkg/fl"
)

const DefaultModelPath = "global_parameters.cbor"

// DeadlinePolicy decides what happens when RoundTimeout expires before every
// client contributed.
type DeadlinePolicy string

const (
	// AbortOnDeadline fails the run.
	AbortOnDeadline DeadlinePolicy = "abort"
	// PartialOnDeadline aggregates what was collected if at least
	// MinContributions arrived, and fails the run otherwise.
	PartialOnDeadline DeadlinePolicy = "partial"
)

type Config struct {
	NumClients    uint16
	TotalRounds   uint64
	FirstClientID fl.ClientID
	TopicPrefix   string
	ModelPath     string

	// ReadyTimeout and RoundTimeout bound the two barriers. Zero waits
	// forever.
	ReadyTimeout     time.Duration
	RoundTimeout     time.Duration
	DeadlinePolicy   DeadlinePolicy
	MinContributions int
}

func (c Config) Validate() error {
	if c.NumClients == 0 {
		return fmt.Errorf("%w: at least one client is required", ErrInvalidConfig)
	}
	if c.TotalRounds == 0 {
		return fmt.Errorf("%w: at least one round is required", ErrInvalidConfig)
	}
	if uint64(c.FirstClientID)+uint64(c.NumClients)-1 > math.MaxUint16 {
		return fmt.Errorf("%w: client ids overflow starting at %d", ErrInvalidConfig, c.FirstClientID)
	}
	if c.RoundTimeout < 0 || c.ReadyTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	switch c.DeadlinePolicy {
	case "", AbortOnDeadline:
	case PartialOnDeadline:
		if c.MinContributions < 0 || c.MinContributions > int(c.NumClients) {
			return fmt.Errorf("%w: min contributions %d outside [1, %d]", ErrInvalidConfig, c.MinContributions, c.NumClients)
		}
	default:
		return fmt.Errorf("%w: unknown deadline policy %q", ErrInvalidConfig, c.DeadlinePolicy)
	}

	return nil
}

// Population lists the expected client ids in ascending order.
func (c Config) Population() []fl.ClientID {
	ids := make([]fl.ClientID, c.NumClients)
	for i := range ids {
		ids[i] = c.FirstClientID + fl.ClientID(i)
	}

	return ids
}

func (c Config) minContributions() int {
	if c.DeadlinePolicy != PartialOnDeadline {
		return int(c.NumClients)
	}

	return max(c.MinContributions, 1)
}
