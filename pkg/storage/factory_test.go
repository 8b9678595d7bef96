package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRepositories(t *testing.T) {
	t.Parallel()

	codec, err := params.NewCBORCodec()
	require.NoError(t, err)

	cases := []struct {
		desc   string
		cfg    storage.Config
		models bool
		err    error
	}{
		{desc: "memory", cfg: storage.Config{Type: "memory"}},
		{desc: "badger", cfg: storage.Config{Type: "badger", BadgerPath: filepath.Join(t.TempDir(), "db")}, models: true},
		{desc: "unsupported", cfg: storage.Config{Type: "postgres"}, err: storage.ErrUnsupportedType},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			repos, err := storage.NewRepositories(tc.cfg, codec)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			if repos.Closer != nil {
				defer repos.Closer.Close()
			}

			assert.Equal(t, tc.models, repos.Models != nil)
			require.NoError(t, repos.Rounds.SaveRound(context.Background(), fl.RoundRecord{Round: 0}))
			_, total, err := repos.Rounds.ListRounds(context.Background(), 0, 10)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), total)
		})
	}
}
