package storage

import (
	"fmt"
	"io"

	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/storage/badger"
)

type Config struct {
	Type       string `env:"STORAGE_TYPE" envDefault:"memory"`
	BadgerPath string `env:"BADGER_PATH"  envDefault:"./data/badger"`
}

type Repositories struct {
	Rounds fl.RoundArchive
	// Models holds a copy of every saved model. It is nil for the in-memory
	// backend.
	Models fl.Sink
	// Closer closes the underlying persistent storage connection.
	// It is nil for the in-memory backend.
	Closer io.Closer
}

func NewRepositories(cfg Config, codec params.Codec) (*Repositories, error) {
	switch cfg.Type {
	case "badger":
		return newBadgerRepositories(cfg, codec)
	case "memory", "":
		return newMemoryRepositories(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
}

func newBadgerRepositories(cfg Config, codec params.Codec) (*Repositories, error) {
	db, err := badger.NewDatabase(cfg.BadgerPath)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Rounds: badger.NewRoundRepository(db),
		Models: badger.NewModelRepository(db, codec),
		Closer: db,
	}, nil
}

func newMemoryRepositories() *Repositories {
	return &Repositories{
		Rounds: NewRoundArchive(NewInMemoryStorage()),
	}
}
