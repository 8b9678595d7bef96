package storage

import "context"

// Storage is a flat key-value store. List returns values in ascending key
// order.
type Storage interface {
	Create(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string) (any, error)
	List(ctx context.Context, offset, limit uint64) ([]any, uint64, error)
}
