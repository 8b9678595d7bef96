package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/params"
)

const modelPrefix = "model:"

// ModelRepository stores encoded parameter sets keyed by name. It satisfies
// fl.Sink, with the sink path used as the key.
type ModelRepository struct {
	db    *Database
	codec params.Codec
}

var _ fl.Sink = (*ModelRepository)(nil)

func NewModelRepository(db *Database, codec params.Codec) *ModelRepository {
	return &ModelRepository{db: db, codec: codec}
}

func (r *ModelRepository) Save(ctx context.Context, ps params.ParameterSet, name string) error {
	if name == "" {
		return fl.ErrEmptyPath
	}
	val, err := r.codec.Encode(ps)
	if err != nil {
		return err
	}

	return r.db.set([]byte(modelPrefix+name), val)
}

func (r *ModelRepository) Load(ctx context.Context, name string) (params.ParameterSet, error) {
	val, err := r.db.get([]byte(modelPrefix + name))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return params.ParameterSet{}, fmt.Errorf("%w: model %s", ErrNotFound, name)
		}

		return params.ParameterSet{}, err
	}

	return r.codec.Decode(val)
}
