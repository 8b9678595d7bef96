package runtimes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/absmach/flround/client"
	"github.com/absmach/flround/pkg/params"
)

// waitDelay bounds how long output pipes are drained after the runtime is
// killed on cancellation.
const waitDelay = 2 * time.Second

var ErrNoRuntime = errors.New("host wasm runtime not configured")

var _ client.LocalComputation = (*hostComputation)(nil)

type hostComputation struct {
	wasmRuntime string
	runtimeArgs []string
	modulePath  string
	epochs      uint
	codec       params.Codec
	logger      *slog.Logger
}

// NewHostComputation trains by executing the module with an external WASI
// runtime such as wasmtime. The binary is written once to workDir and run as
// "<runtime> <runtimeArgs...> <module> --epochs N" for every round.
func NewHostComputation(wasmRuntime string, runtimeArgs []string, binary []byte, workDir string, epochs uint, codec params.Codec, logger *slog.Logger) (client.LocalComputation, error) {
	if wasmRuntime == "" {
		return nil, ErrNoRuntime
	}

	f, err := os.CreateTemp(workDir, "flround-*.wasm")
	if err != nil {
		return nil, fmt.Errorf("error creating file: %w", err)
	}
	if _, err := f.Write(binary); err != nil {
		f.Close()

		return nil, fmt.Errorf("error writing to file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("error closing file: %w", err)
	}

	return &hostComputation{
		wasmRuntime: wasmRuntime,
		runtimeArgs: runtimeArgs,
		modulePath:  f.Name(),
		epochs:      epochs,
		codec:       codec,
		logger:      logger,
	}, nil
}

func (h *hostComputation) Compute(ctx context.Context, ps params.ParameterSet) (params.ParameterSet, client.Metrics, error) {
	input, err := h.codec.Encode(ps)
	if err != nil {
		return params.ParameterSet{}, client.Metrics{}, err
	}

	args := append(append([]string{}, h.runtimeArgs...), h.modulePath)
	args = append(args, epochArgs(h.epochs)...)
	cmd := exec.CommandContext(ctx, h.wasmRuntime, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		return params.ParameterSet{}, client.Metrics{}, fmt.Errorf("%s failed: %w: %s", filepath.Base(h.wasmRuntime), err, stderr.String())
	}

	return decodeResult(h.codec, stdout.Bytes())
}

// Close removes the module file.
func (h *hostComputation) Close() error {
	if err := os.Remove(h.modulePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.logger.Error("failed to remove file", slog.String("file", h.modulePath), slog.Any("error", err))

		return err
	}

	return nil
}
