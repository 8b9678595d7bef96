package client

import (
	"fmt"
	"time"

	"github.com/absmach/flround/pkg/fl"
)

type Config struct {
	ID          fl.ClientID
	TopicPrefix string
	// ReadyInterval re-announces readiness until the first parameters arrive.
	// Zero announces once.
	ReadyInterval time.Duration
}

func (c Config) Validate() error {
	if c.ReadyInterval < 0 {
		return fmt.Errorf("%w: negative ready interval", ErrInvalidConfig)
	}

	return nil
}
