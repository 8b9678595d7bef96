// Package wasm runs WASI command modules as filters: the input is written to
// the module's stdin and whatever it writes to stdout is the output.
package wasm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

var (
	ErrEmptyModule = errors.New("empty wasm module")
	ErrModuleExit  = errors.New("wasm module exited with error")
)

type Runner struct {
	cache  wazero.CompilationCache
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		cache:  wazero.NewCompilationCache(),
		logger: logger,
	}
}

// Run instantiates binary once with the given arguments and stdin. A fresh
// runtime is used per call so no state leaks between invocations; compiled
// code is shared through the runner's cache.
func (r *Runner) Run(ctx context.Context, name string, binary []byte, args []string, stdin []byte) ([]byte, error) {
	if len(binary) == 0 {
		return nil, ErrEmptyModule
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCompilationCache(r.cache).
		WithCloseOnContextDone(true))
	defer func() {
		if err := rt.Close(ctx); err != nil {
			r.logger.Warn("failed to close wasm runtime", slog.String("module", name), slog.Any("error", err))
		}
	}()

	// TinyGo and Rust wasi targets need WASI for stdio and panics.
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithArgs(append([]string{name}, args...)...).
		WithStdin(bytes.NewReader(stdin)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	start := time.Now()
	mod, err := rt.InstantiateWithConfig(ctx, binary, cfg)
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			return nil, errors.Join(ErrModuleExit, fmt.Errorf("%s: %w: %s", name, err, stderr.String()))
		}
	}
	if mod != nil {
		if err := mod.Close(ctx); err != nil {
			r.logger.Warn("failed to close wasm module", slog.String("module", name), slog.Any("error", err))
		}
	}

	r.logger.Debug("wasm module finished",
		slog.String("module", name),
		slog.String("duration", time.Since(start).String()),
		slog.Int("stdout_bytes", stdout.Len()),
	)

	return stdout.Bytes(), nil
}

func (r *Runner) Close(ctx context.Context) error {
	return r.cache.Close(ctx)
}
