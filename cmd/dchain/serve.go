package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Jovells/dchain/pkg/api"
	"github.com/Jovells/dchain/pkg/config"
	"github.com/Jovells/dchain/pkg/disclosure"
	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/identity"
	"github.com/Jovells/dchain/pkg/ledger"
	"github.com/Jovells/dchain/pkg/observability"
	"github.com/Jovells/dchain/pkg/store"
)

// app is a fully wired ledger service.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	engine  *ledger.Engine
	relay   *events.Relay
	broker  *events.Broker
	obs     *observability.Provider
	server  *api.Server
	closers []func(context.Context) error
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.WarnContext(ctx, "shutdown step failed", "error", err)
		}
	}
}

// buildApp wires every component from cfg. On error, anything already
// opened is closed.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, broker: events.NewBroker()}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.obs, err = observability.New(ctx, observabilityConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	a.closers = append(a.closers, a.obs.Shutdown)

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	var rdb *redis.Client
	if cfg.CustodyDriver == "redis" || cfg.EventsRedisChannel != "" {
		rdb = newRedisClient(cfg)
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	}

	custodian, err := newCustodian(ctx, cfg, rdb)
	if err != nil {
		return nil, err
	}
	authorizer, err := newAuthorizer(cfg)
	if err != nil {
		return nil, fmt.Errorf("release policy: %w", err)
	}

	publishers := []events.Publisher{a.broker}
	if cfg.EventsRedisChannel != "" {
		publishers = append(publishers, events.NewRedisPublisher(rdb, cfg.EventsRedisChannel))
	}
	tail, err := tailSeq(ctx, a.store)
	if err != nil {
		return nil, fmt.Errorf("event tail: %w", err)
	}
	a.relay = events.NewRelay(a.store, publishers, events.WithStartAfter(tail))

	a.engine = ledger.New(a.store, custodian,
		ledger.WithAuthorizer(authorizer),
		ledger.WithObservability(a.obs),
		ledger.WithLogger(logger.With("component", "ledger")),
		ledger.WithCommitHook(a.relay.Notify),
	)

	blobs, err := disclosure.NewStore(ctx, disclosureConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("disclosure store: %w", err)
	}

	ks, err := newKeySet(cfg)
	if err != nil {
		return nil, err
	}
	a.server, err = api.NewServer(a.engine, identity.NewTokenManager(ks, cfg.JWTIssuer),
		api.WithDisclosures(disclosure.NewService(a.engine, blobs, authorizer)),
		api.WithAsset(assetFor(cfg)),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithHealthCheck(a.store.Ping),
		api.WithLogger(logger.With("component", "api")),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", "", "YAML config file (environment overrides it)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	logger := newLogger(cfg, stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	if err := a.serve(ctx); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

// serve runs the HTTP server and event relay until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	relayCtx, stopRelay := context.WithCancel(ctx)
	relayDone := make(chan error, 1)
	go func() { relayDone <- a.relay.Run(relayCtx) }()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("dchain listening",
			"addr", srv.Addr,
			"store", a.cfg.StoreDriver,
			"custody", a.cfg.CustodyDriver,
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}

	stopRelay()
	if err := <-relayDone; err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("event relay stopped", "error", err)
	}
	// Deliver anything committed during shutdown.
	if _, err := a.relay.Flush(shutdownCtx); err != nil {
		a.logger.Warn("final event flush", "error", err)
	}
	a.Close(shutdownCtx)
	return serveErr
}
