package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatalmerlin/dnssync/internal/server/app"
	"github.com/fatalmerlin/dnssync/internal/server/config"
	"github.com/fatalmerlin/dnssync/internal/server/db/sqlite"
	"github.com/fatalmerlin/dnssync/internal/server/eventbus/memory"
	"github.com/fatalmerlin/dnssync/internal/server/httpapi"
	"github.com/fatalmerlin/dnssync/internal/server/nsupdate"
	"github.com/fatalmerlin/dnssync/internal/server/reconciler"
	"github.com/fatalmerlin/dnssync/internal/server/traefik"
	"github.com/fatalmerlin/dnssync/internal/shared/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.New("dnssyncd")
	logger.Info("starting dns updater")

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting to db", "path", cfg.DatabasePath)
	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}

	routeClient, err := traefik.New(cfg.TraefikBaseURL(), &http.Client{Timeout: 30 * time.Second}, logger)
	if err != nil {
		logger.Error("init traefik client", "error", err)
		os.Exit(1)
	}

	transport := &nsupdate.ExecTransport{Path: cfg.NsupdatePath, Timeout: 30 * time.Second}
	updater := nsupdate.NewUpdater(cfg.DNSServer, cfg.DNSDomain, cfg.TargetIP, transport, logger)

	events := memory.New()

	engine, err := reconciler.New(reconciler.Params{
		Store:       store,
		Routers:     routeClient,
		DNS:         updater,
		Bus:         events,
		Logger:      logger,
		EntryPoints: cfg.EntryPoints,
		Interval:    cfg.UpdateInterval,
	})
	if err != nil {
		logger.Error("init reconciler", "error", err)
		os.Exit(1)
	}

	var handler http.Handler
	if cfg.APIListenAddr != "" {
		handler = httpapi.New(logger, engine, events, httpapi.ZoneInfo{
			Server:   cfg.DNSServer,
			Zone:     cfg.DNSDomain,
			TargetIP: cfg.TargetIP,
			Interval: cfg.UpdateInterval.String(),
		})
	}

	daemon, err := app.New(cfg, logger, store, engine, handler)
	if err != nil {
		logger.Error("init app", "error", err)
		os.Exit(1)
	}

	if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon exit", "error", err)
		os.Exit(1)
	}
}
