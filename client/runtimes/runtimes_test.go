package runtimes_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/absmach/flround/client/runtimes"
	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/wasm"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func scalar(v float64) params.ParameterSet {
	return params.MustNew(params.Entry{Name: "dense", Layer: params.Layer{Weight: params.Scalar(v)}})
}

// fakeRuntime writes a shell script standing in for a wasm runtime. It
// records its arguments and stdin next to itself and then runs body.
func fakeRuntime(t *testing.T, body string) (string, string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported")
	}

	dir := t.TempDir()
	script := "#!/bin/sh\n" +
		"echo \"$@\" > " + filepath.Join(dir, "args") + "\n" +
		"cat > " + filepath.Join(dir, "stdin") + "\n" +
		body + "\n"
	path := filepath.Join(dir, "runtime.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path, dir
}

func TestHostComputation(t *testing.T) {
	t.Parallel()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)

	input, err := codec.Encode(scalar(1))
	require.NoError(t, err)
	output, err := codec.Encode(scalar(2))
	require.NoError(t, err)
	result, err := cbor.Marshal(runtimes.Result{Params: output, Loss: 0.25, Accuracy: 0.75})
	require.NoError(t, err)

	resultFile := filepath.Join(t.TempDir(), "result.cbor")
	require.NoError(t, os.WriteFile(resultFile, result, 0o644))

	path, dir := fakeRuntime(t, "cat "+resultFile)
	comp, err := runtimes.NewHostComputation(path, []string{"run"}, []byte("\x00asm"), t.TempDir(), 4, codec, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, comp.(io.Closer).Close())
	})

	ps, metrics, err := comp.Compute(context.Background(), scalar(1))
	require.NoError(t, err)
	assert.True(t, scalar(2).Equal(ps))
	assert.Equal(t, 0.25, metrics.Loss)
	assert.Equal(t, 0.75, metrics.Accuracy)

	args, err := os.ReadFile(filepath.Join(dir, "args"))
	require.NoError(t, err)
	fields := strings.Fields(string(args))
	require.Len(t, fields, 4)
	assert.Equal(t, "run", fields[0])
	assert.True(t, strings.HasSuffix(fields[1], ".wasm"))
	assert.Equal(t, []string{"--epochs", "4"}, fields[2:])

	stdin, err := os.ReadFile(filepath.Join(dir, "stdin"))
	require.NoError(t, err)
	assert.Equal(t, input, stdin)
}

func TestHostComputationFailures(t *testing.T) {
	t.Parallel()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)

	cases := []struct {
		desc    string
		body    string
		timeout time.Duration
		err     error
	}{
		{
			desc: "non-zero exit",
			body: "echo boom >&2; exit 3",
		},
		{
			desc: "garbage output",
			body: "echo not-cbor",
			err:  runtimes.ErrInvalidResult,
		},
		{
			desc:    "cancelled",
			body:    "exec sleep 10",
			timeout: 50 * time.Millisecond,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			path, _ := fakeRuntime(t, tc.body)
			comp, err := runtimes.NewHostComputation(path, nil, []byte("\x00asm"), t.TempDir(), 1, codec, logger)
			require.NoError(t, err)

			ctx := context.Background()
			if tc.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tc.timeout)
				defer cancel()
			}

			_, _, err = comp.Compute(ctx, scalar(1))
			require.Error(t, err)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func TestNewHostComputationWithoutRuntime(t *testing.T) {
	t.Parallel()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)

	_, err = runtimes.NewHostComputation("", nil, []byte("\x00asm"), t.TempDir(), 1, codec, logger)
	assert.ErrorIs(t, err, runtimes.ErrNoRuntime)
}

func TestWazeroComputation(t *testing.T) {
	t.Parallel()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)
	runner := wasm.NewRunner(logger)

	_, err = runtimes.NewWazeroComputation(nil, 1, runner, codec)
	assert.ErrorIs(t, err, wasm.ErrEmptyModule)

	comp, err := runtimes.NewWazeroComputation([]byte("not a wasm module"), 1, runner, codec)
	require.NoError(t, err)
	_, _, err = comp.Compute(context.Background(), scalar(1))
	assert.ErrorIs(t, err, wasm.ErrModuleExit)

	closer, ok := comp.(io.Closer)
	require.True(t, ok, "wazero computation must release its runner")
	assert.NoError(t, closer.Close())
}
