// Package app wires up all subsystems and owns the application lifecycle
// for the routing engine host, grounded on the teacher gateway's
// internal/app package — same startup-step/Run/Close shape, generalised
// from "build provider clients + cache + gateway" to "build the router
// orchestrator and its collaborators".
//
// Startup order:
//  1. initInfra     — external connections (Redis, when the cost tracker needs it)
//  2. initServices  — attempt logger, metrics registry
//  3. initRouter    — registry, credential resolver, health table, adapters, router
//  4. initServer    — HTTP front door
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/summary-router/internal/adapters"
	"github.com/nulpointcorp/summary-router/internal/config"
	"github.com/nulpointcorp/summary-router/internal/costtracker"
	"github.com/nulpointcorp/summary-router/internal/credential"
	"github.com/nulpointcorp/summary-router/internal/health"
	"github.com/nulpointcorp/summary-router/internal/httpapi"
	"github.com/nulpointcorp/summary-router/internal/logger"
	"github.com/nulpointcorp/summary-router/internal/metrics"
	"github.com/nulpointcorp/summary-router/internal/registry"
	"github.com/nulpointcorp/summary-router/internal/router"
	"github.com/nulpointcorp/summary-router/internal/vertextoken"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb *redis.Client

	attemptLog *logger.Logger
	prom       *metrics.Registry

	reg    *registry.Registry
	health *health.Table
	rt     *router.Router
	srv    *httpapi.Server

	closeMu sync.Mutex
}

// New initialises all subsystems and returns a ready-to-run App. All
// resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"services", a.initServices},
		{"router", a.initRouter},
		{"server", a.initServer},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// initInfra establishes optional external connections. Redis is only
// required when COST_TRACKER_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.CostTracker.Mode != "redis" {
		return nil
	}

	a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))
	rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.rdb = rdb
	a.log.Info("redis connected")
	return nil
}

// initServices creates the batched attempt logger and Prometheus metrics
// registry, both installed into the Router in initRouter.
func (a *App) initServices(_ context.Context) error {
	attemptLog, err := logger.New(a.baseCtx, a.log)
	if err != nil {
		return fmt.Errorf("attempt logger: %w", err)
	}
	a.attemptLog = attemptLog

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initRouter builds the registry, credential resolver, health table, adapter
// registry, Vertex token service, and the Router Orchestrator itself.
func (a *App) initRouter(_ context.Context) error {
	a.reg = registry.New()

	store := credential.MapStore{}
	for id, key := range a.cfg.APIKeys {
		store[id] = key
	}
	cred := credential.New(store, a.reg)

	a.health = health.New()
	ad := adapters.Default()
	vt := vertextoken.New()

	a.rt = router.New(a.reg, cred, a.health, ad, vt, a.cfg.Routing, a.cfg.Gemini,
		router.WithLogger(a.log),
		router.WithAttemptLogger(a.attemptLog),
		router.WithMetrics(a.prom),
	)
	a.rt.SetAgentConfig(a.cfg.Providers)

	var tracker costtracker.Tracker
	if a.cfg.CostTracker.Mode == "redis" {
		tracker = costtracker.NewRedisTracker(a.rdb, a.cfg.CostTracker.CycleCeiling)
	} else {
		tracker = costtracker.NewMemoryTracker(a.cfg.CostTracker.CycleCeiling)
	}
	a.rt.SetCostTracker(tracker)

	return nil
}

// initServer wires the HTTP front door.
func (a *App) initServer(_ context.Context) error {
	a.srv = httpapi.New(a.rt, a.prom, a.log, httpapi.WithCORSOrigins(a.cfg.CORSOrigins))
	return nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting routing engine",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("cost_tracker_mode", a.cfg.CostTracker.Mode),
		slog.Any("providers", a.rt.Providers()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.Start(addr, &httpapi.ManagementRoutes{Metrics: a.prom.Handler()})
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()

	if a.attemptLog != nil {
		if err := a.attemptLog.Close(); err != nil {
			a.log.Error("attempt logger close error", slog.String("error", err.Error()))
		}
		a.attemptLog = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
