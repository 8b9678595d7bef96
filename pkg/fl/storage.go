package fl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/absmach/flround/pkg/params"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// FileSink writes encoded parameter sets to the local filesystem. Writes go
// through a temporary file in the target directory followed by a rename.
type FileSink struct {
	codec params.Codec
	mu    sync.Mutex
}

func NewFileSink(codec params.Codec) *FileSink {
	return &FileSink{codec: codec}
}

func (fs *FileSink) Save(ctx context.Context, ps params.ParameterSet, path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := fs.codec.Encode(ps)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("failed to write model file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("failed to sync model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), filePermissions); err != nil {
		return fmt.Errorf("failed to set model file permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move model file into place: %w", err)
	}

	return nil
}

func (fs *FileSink) Load(_ context.Context, path string) (params.ParameterSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return params.ParameterSet{}, fmt.Errorf("failed to read model file: %w", err)
	}

	return fs.codec.Decode(data)
}

type multiSink []Sink

// MultiSink saves to every sink in order and stops at the first failure.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (ms multiSink) Save(ctx context.Context, ps params.ParameterSet, path string) error {
	for _, s := range ms {
		if err := s.Save(ctx, ps, path); err != nil {
			return err
		}
	}

	return nil
}
