package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/absmach/flround/pkg/server"
)

const stopWaitTime = 5 * time.Second

var _ server.Server = (*httpServer)(nil)

type httpServer struct {
	ctx     context.Context
	cancel  context.CancelFunc
	name    string
	address string
	server  *http.Server
	logger  *slog.Logger
}

func NewServer(ctx context.Context, cancel context.CancelFunc, name string, cfg server.Config, handler http.Handler, logger *slog.Logger) server.Server {
	address := net.JoinHostPort(cfg.Host, cfg.Port)

	return &httpServer{
		ctx:     ctx,
		cancel:  cancel,
		name:    name,
		address: address,
		server: &http.Server{
			Addr:         address,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		logger: logger,
	}
}

// Start serves until the server's context is done, then shuts it down.
func (s *httpServer) Start() error {
	errCh := make(chan error, 1)
	s.logger.Info(fmt.Sprintf("%s service HTTP server listening at %s", s.name, s.address))
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-s.ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}

func (s *httpServer) Stop() error {
	defer s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), stopWaitTime)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error(fmt.Sprintf("%s service error occurred during shutdown at %s: %s", s.name, s.address, err))

		return fmt.Errorf("%s service occurred during shutdown at %s: %w", s.name, s.address, err)
	}
	s.logger.Info(fmt.Sprintf("%s HTTP service shutdown of http at %s", s.name, s.address))

	return nil
}
