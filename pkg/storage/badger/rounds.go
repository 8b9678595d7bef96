package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/absmach/flround/pkg/fl"
)

const roundPrefix = "round:"

type roundRepo struct {
	db *Database
}

func NewRoundRepository(db *Database) fl.RoundArchive {
	return &roundRepo{db: db}
}

// roundKey zero-pads the round number so badger's byte order matches numeric
// order.
func roundKey(round uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", roundPrefix, round)
}

func (r *roundRepo) SaveRound(ctx context.Context, rec fl.RoundRecord) error {
	val, err := json.Marshal(rec.Archive())
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return r.db.create(roundKey(rec.Round), val)
}

func (r *roundRepo) GetRound(ctx context.Context, round uint64) (fl.RoundRecord, error) {
	val, err := r.db.get(roundKey(round))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fl.RoundRecord{}, fmt.Errorf("%w: round %d", ErrNotFound, round)
		}

		return fl.RoundRecord{}, err
	}
	var rec fl.RoundRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return fl.RoundRecord{}, fmt.Errorf("unmarshal error: %w", err)
	}

	return rec, nil
}

func (r *roundRepo) ListRounds(ctx context.Context, offset, limit uint64) ([]fl.RoundRecord, uint64, error) {
	prefix := []byte(roundPrefix)
	total, err := r.db.countWithPrefix(prefix)
	if err != nil {
		return nil, 0, err
	}
	values, err := r.db.listWithPrefix(prefix, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	rounds := make([]fl.RoundRecord, len(values))
	for i, val := range values {
		if err := json.Unmarshal(val, &rounds[i]); err != nil {
			return nil, 0, fmt.Errorf("unmarshal error: %w", err)
		}
	}

	return rounds, total, nil
}
