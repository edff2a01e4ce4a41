package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/analyzer"
	"github.com/sawpanic/pairsrun/internal/config"
	"github.com/sawpanic/pairsrun/internal/events"
	"github.com/sawpanic/pairsrun/internal/exchange"
	"github.com/sawpanic/pairsrun/internal/infrastructure/db"
	"github.com/sawpanic/pairsrun/internal/infrastructure/httpclient"
	httpapi "github.com/sawpanic/pairsrun/internal/interfaces/http"
	"github.com/sawpanic/pairsrun/internal/lifecycle"
	"github.com/sawpanic/pairsrun/internal/marketdata"
	"github.com/sawpanic/pairsrun/internal/metrics"
	"github.com/sawpanic/pairsrun/internal/persistence"
	"github.com/sawpanic/pairsrun/internal/selector"
)

// app holds the wired components for one process
type app struct {
	cfg      *config.AppConfig
	storage  *db.Storage
	store    *persistence.Store
	settings config.Provider
	metrics  *metrics.Registry
	hub      *events.Hub

	analyzerPool *httpclient.ClientPool
	exchangePool *httpclient.ClientPool

	pipeline *selector.Pipeline
	manager  *lifecycle.Manager

	closers []func() error
}

// buildApp connects storage, collaborators and the event stream
func buildApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewRegistry(), hub: events.NewHub()}

	storage, err := db.OpenStorage(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.storage = storage
	a.closers = append(a.closers, storage.Close)

	a.store = persistence.NewStore(storage.Positions(), persistence.WithObserver(a.metrics))

	settings, err := a.settingsProvider()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.settings = settings

	a.analyzerPool = httpclient.NewClientPool(clientConfig("analyzer", cfg.Analyzer))
	a.exchangePool = httpclient.NewClientPool(clientConfig("exchange", cfg.Exchange))
	client := analyzer.NewHTTPClient(a.analyzerPool)
	gateway := exchange.NewHTTPGateway(a.exchangePool)

	source := marketdata.NewCachedSource(gateway, a.candleCache(), time.Duration(cfg.Redis.CandleTTLSeconds)*time.Second).
		WithObserver(a.metrics)

	publisher := events.Multi{a.hub}
	if cfg.NATS.URL != "" {
		conn, err := events.DialNATS(cfg.NATS.URL)
		if err != nil {
			// the API and websocket stream still work without NATS
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, events go to websocket clients only")
		} else {
			a.closers = append(a.closers, func() error { return conn.Drain() })
			publisher = append(publisher, events.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix))
		}
	}
	a.closers = append(a.closers, func() error { a.hub.Close(); return nil })

	a.pipeline = selector.NewPipeline(client, source, a.store, settings, publisher, a.metrics)
	a.manager = lifecycle.NewManager(a.store, gateway, source, client, settings,
		lifecycle.WithObserver(a.metrics),
		lifecycle.WithPublisher(publisher),
	)
	return a, nil
}

func (a *app) settingsProvider() (config.Provider, error) {
	switch a.cfg.Settings.Source {
	case "file":
		return config.NewFileProvider(a.cfg.Settings.Path), nil
	case "redis":
		rc := goredis.NewClient(&goredis.Options{Addr: a.cfg.Redis.Addr, DB: a.cfg.Redis.DB})
		a.closers = append(a.closers, rc.Close)
		return config.NewRedisProvider(rc, a.cfg.Redis.SettingsKey), nil
	case "", "default":
		return config.Static{Settings: config.Default()}, nil
	default:
		return nil, fmt.Errorf("unknown settings source %q", a.cfg.Settings.Source)
	}
}

func (a *app) candleCache() marketdata.Cache {
	if a.cfg.Redis.Addr == "" {
		return marketdata.NewMemoryCache()
	}
	return marketdata.NewRedisCache(a.cfg.Redis.Addr, a.cfg.Redis.DB)
}

// healthChecks reports database reachability and the collaborator breakers
func (a *app) healthChecks() map[string]httpapi.Check {
	checks := map[string]httpapi.Check{
		"analyzer_circuit": breakerCheck(a.analyzerPool),
		"exchange_circuit": breakerCheck(a.exchangePool),
	}
	if a.storage.Manager().IsEnabled() {
		checks["database"] = a.storage.Health().Ping
	}
	return checks
}

func breakerCheck(pool *httpclient.ClientPool) httpapi.Check {
	return func(context.Context) error {
		if state := pool.State(); state == "open" {
			return fmt.Errorf("circuit %s", state)
		}
		return nil
	}
}

// Close releases connections in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func clientConfig(name string, svc config.ServiceConfig) httpclient.ClientConfig {
	c := httpclient.DefaultClientConfig(name, svc.BaseURL)
	if svc.Timeout > 0 {
		c.RequestTimeout = svc.Timeout
	}
	if svc.RPS > 0 {
		c.RPS = svc.RPS
	}
	if svc.Burst > 0 {
		c.Burst = svc.Burst
	}
	if svc.Circuit.ConsecutiveFailures > 0 {
		c.ConsecutiveFailures = svc.Circuit.ConsecutiveFailures
	}
	if svc.Circuit.OpenTimeout > 0 {
		c.OpenTimeout = svc.Circuit.OpenTimeout
	}
	return c
}
