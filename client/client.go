// Package client implements one federated-learning participant. A Session
// announces readiness, trains on every parameter set the coordinator
// distributes and publishes the result until it is told to terminate.
package client

import (
	"context"

	"github.com/absmach/flround/pkg/params"
)

type State uint8

const (
	Connected State = iota
	AwaitingParameters
	Computing
	Publishing
	Terminated
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case AwaitingParameters:
		return "awaiting_parameters"
	case Computing:
		return "computing"
	case Publishing:
		return "publishing"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Metrics are reported by a local computation for logging only.
type Metrics struct {
	Loss     float64 `json:"loss"     cbor:"loss"`
	Accuracy float64 `json:"accuracy" cbor:"accuracy"`
}

// LocalComputation trains on the received parameters and returns the updated
// set. It must honour ctx cancellation.
type LocalComputation interface {
	Compute(ctx context.Context, ps params.ParameterSet) (params.ParameterSet, Metrics, error)
}

type ComputationFunc func(ctx context.Context, ps params.ParameterSet) (params.ParameterSet, Metrics, error)

func (f ComputationFunc) Compute(ctx context.Context, ps params.ParameterSet) (params.ParameterSet, Metrics, error) {
	return f(ctx, ps)
}
