package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fatalmerlin/dnssync/internal/server/config"
	"github.com/fatalmerlin/dnssync/internal/server/db"
	"github.com/fatalmerlin/dnssync/internal/server/reconciler"
)

// App wires the config, persistence, reconciler, and HTTP transport.
type App struct {
	cfg          config.Config
	logger       *slog.Logger
	store        db.Store
	engine       reconciler.Engine
	httpServer   *http.Server
	shutdownWait time.Duration
}

// New constructs the daemon application. The handler may be nil when the
// observation API is disabled.
func New(cfg config.Config, logger *slog.Logger, store db.Store, engine reconciler.Engine, handler http.Handler) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("reconciler engine not provided")
	}

	var httpServer *http.Server
	if cfg.APIListenAddr != "" && handler != nil {
		httpServer = &http.Server{
			Addr:         cfg.APIListenAddr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		engine:       engine,
		httpServer:   httpServer,
		shutdownWait: 15 * time.Second,
	}, nil
}

// Run starts the reconciliation loop and HTTP server, blocking until context
// cancellation.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if err := a.engine.Run(ctx); err != nil && err != context.Canceled {
			errCh <- err
		}
	}()

	if a.httpServer != nil {
		go func() {
			a.logger.Info("api server listening", "addr", a.httpServer.Addr)
			if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownWait)
		defer cancel()
		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("http shutdown", "error", err)
			}
		}
		if a.store != nil {
			if err := a.store.Close(shutdownCtx); err != nil {
				a.logger.Error("store close", "error", err)
			}
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
