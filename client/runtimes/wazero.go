package runtimes

import (
	"context"
	"fmt"
	"io"

	"github.com/absmach/flround/client"
	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/wasm"
)

const computationName = "train"

var (
	_ client.LocalComputation = (*wazeroComputation)(nil)
	_ io.Closer               = (*wazeroComputation)(nil)
)

type wazeroComputation struct {
	binary []byte
	epochs uint
	runner *wasm.Runner
	codec  params.Codec
}

// NewWazeroComputation trains by running binary as a WASI command in process.
// The encoded parameters go to stdin and a Result is read from stdout.
func NewWazeroComputation(binary []byte, epochs uint, runner *wasm.Runner, codec params.Codec) (client.LocalComputation, error) {
	if len(binary) == 0 {
		return nil, wasm.ErrEmptyModule
	}

	return &wazeroComputation{
		binary: binary,
		epochs: epochs,
		runner: runner,
		codec:  codec,
	}, nil
}

func (w *wazeroComputation) Compute(ctx context.Context, ps params.ParameterSet) (params.ParameterSet, client.Metrics, error) {
	input, err := w.codec.Encode(ps)
	if err != nil {
		return params.ParameterSet{}, client.Metrics{}, err
	}

	out, err := w.runner.Run(ctx, computationName, w.binary, epochArgs(w.epochs), input)
	if err != nil {
		return params.ParameterSet{}, client.Metrics{}, fmt.Errorf("wasm computation failed: %w", err)
	}

	return decodeResult(w.codec, out)
}

// Close releases the runner's compilation cache.
func (w *wazeroComputation) Close() error {
	return w.runner.Close(context.Background())
}
