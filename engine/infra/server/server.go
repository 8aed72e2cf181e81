package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rapidcrm/crmstore/pkg/config"
	"github.com/rapidcrm/crmstore/pkg/logger"
)

const (
	httpReadTimeout  = 15 * time.Second
	httpWriteTimeout = 15 * time.Second
	httpIdleTimeout  = 60 * time.Second
)

// Server serves the admin router until its context ends.
type Server struct {
	cfg    *config.ServerConfig
	router *gin.Engine
}

func NewServer(cfg *config.ServerConfig, router *gin.Engine) *Server {
	return &Server{cfg: cfg, router: router}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and shuts down gracefully, within
// ShutdownTimeout, once ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	srv := &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
		IdleTimeout:  httpIdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Admin server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	log.Info("Admin server stopped")
	return nil
}
