package fl_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink(t *testing.T) {
	t.Parallel()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)
	sink := fl.NewFileSink(codec)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "models", "global_parameters.cbor")
	first := scalarSet("layer1", 2)
	require.NoError(t, sink.Save(ctx, first, path))

	got, err := sink.Load(ctx, path)
	require.NoError(t, err)
	assert.True(t, first.Equal(got))

	second := scalarSet("layer1", 4)
	require.NoError(t, sink.Save(ctx, second, path))
	got, err = sink.Load(ctx, path)
	require.NoError(t, err)
	assert.True(t, second.Equal(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")

	assert.ErrorIs(t, sink.Save(ctx, first, ""), fl.ErrEmptyPath)
}
