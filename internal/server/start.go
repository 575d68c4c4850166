package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Start runs the HTTP server until an interrupt or terminate signal, then
// shuts down the modules and the container.
func (s *Server) Start() error {
	addr := s.Cfg.GetHTTPAddr()
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.E.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-waitForShutdown():
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops accepting requests, then shuts down modules in reverse
// order and finally the container.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(s.modules) - 1; i >= 0; i-- {
		if err := s.modules[i].Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if report := s.injector.ShutdownWithContext(ctx); report != nil && !report.Succeed {
		errs = append(errs, report)
	}
	return errors.Join(errs...)
}
