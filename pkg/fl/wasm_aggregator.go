package fl

import (
	"context"
	"fmt"
	"os"

	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/wasm"
	"github.com/fxamacker/cbor/v2"
)

const wasmAggregatorName = "aggregator"

// aggregateRequest is written to the module's stdin. The module replies with
// a single encoded parameter set on stdout.
type aggregateRequest struct {
	Contributions [][]byte  `cbor:"1,keyasint"`
	Weights       []float64 `cbor:"2,keyasint,omitempty"`
}

// WasmAggregator delegates aggregation to a WASI module. Layer keys are still
// checked on the host so a faulty module cannot hide a mismatch.
type WasmAggregator struct {
	binary []byte
	runner *wasm.Runner
	codec  params.Codec
}

func NewWasmAggregator(wasmPath string, runner *wasm.Runner, codec params.Codec) (*WasmAggregator, error) {
	binary, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("wasm aggregator file not found: %w", err)
	}

	return &WasmAggregator{
		binary: binary,
		runner: runner,
		codec:  codec,
	}, nil
}

func (w *WasmAggregator) Aggregate(ctx context.Context, contributions []params.ParameterSet, weights []float64) (params.ParameterSet, error) {
	if len(contributions) == 0 {
		return params.ParameterSet{}, ErrNoContributions
	}

	req := aggregateRequest{
		Contributions: make([][]byte, len(contributions)),
		Weights:       weights,
	}
	for i, c := range contributions {
		if !contributions[0].SameKeys(c) {
			return params.ParameterSet{}, fmt.Errorf("%w: contribution %d", ErrLayerMismatch, i)
		}
		data, err := w.codec.Encode(c)
		if err != nil {
			return params.ParameterSet{}, err
		}
		req.Contributions[i] = data
	}

	input, err := cbor.Marshal(req)
	if err != nil {
		return params.ParameterSet{}, fmt.Errorf("failed to marshal contributions: %w", err)
	}

	output, err := w.runner.Run(ctx, wasmAggregatorName, w.binary, nil, input)
	if err != nil {
		return params.ParameterSet{}, fmt.Errorf("wasm aggregator execution failed: %w", err)
	}

	return w.codec.Decode(output)
}
