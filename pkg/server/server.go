// Package server holds the lifecycle shared by the HTTP servers of the
// binaries.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

type Server interface {
	Start() error
	Stop() error
}

type Config struct {
	Host         string        `env:"HOST"          envDefault:"localhost"`
	Port         string        `env:"PORT"          envDefault:""`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT"  envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT"  envDefault:"60s"`
}

// StopSignalHandler stops servers when SIGINT or SIGTERM is received and
// returns once ctx is done otherwise.
func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, svcName string, servers ...Server) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		logger.Info(fmt.Sprintf("%s service shutdown by signal: %s", svcName, sig))
		if len(errs) > 0 {
			return fmt.Errorf("%s service shutdown with errors: %v", svcName, errs)
		}

		return nil
	case <-ctx.Done():
		return nil
	}
}
