package storage

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/flround/pkg/errors"
	"github.com/absmach/flround/pkg/fl"
)

const roundKeyFormat = "round:%020d"

func RoundKey(round uint64) string {
	return fmt.Sprintf(roundKeyFormat, round)
}

type memoryRoundRepo struct {
	storage Storage
}

// NewRoundArchive keeps round summaries in s. Records are stored without
// their contributions.
func NewRoundArchive(s Storage) fl.RoundArchive {
	return &memoryRoundRepo{storage: s}
}

func (r *memoryRoundRepo) SaveRound(ctx context.Context, rec fl.RoundRecord) error {
	return r.storage.Create(ctx, RoundKey(rec.Round), rec.Archive())
}

func (r *memoryRoundRepo) GetRound(ctx context.Context, round uint64) (fl.RoundRecord, error) {
	data, err := r.storage.Get(ctx, RoundKey(round))
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return fl.RoundRecord{}, fmt.Errorf("%w: %d", ErrRoundNotFound, round)
		}

		return fl.RoundRecord{}, err
	}
	rec, ok := data.(fl.RoundRecord)
	if !ok {
		return fl.RoundRecord{}, pkgerrors.ErrInvalidData
	}

	return rec.Archive(), nil
}

func (r *memoryRoundRepo) ListRounds(ctx context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error) {
	data, total, err := r.storage.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	rounds := make([]fl.RoundRecord, len(data))
	for i, d := range data {
		rec, ok := d.(fl.RoundRecord)
		if !ok {
			return nil, 0, pkgerrors.ErrInvalidData
		}
		rounds[i] = rec.Archive()
	}

	return rounds, total, nil
}
