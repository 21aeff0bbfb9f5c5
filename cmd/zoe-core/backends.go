package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/commbus"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/intent"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/memory"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/satisfaction"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/storage/mysql"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/storage/postgres"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/storage/redis"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/storage/sqlite"
)

// backends are the external resources selected by configuration.
type backends struct {
	catalog   *intent.Catalog
	model     llm.ModelClient
	episodes  memory.Store
	records   satisfaction.Store
	snapshots kernel.SnapshotStore
	closers   []func() error
}

// openBackends opens every configured store. On error the ones already
// opened are closed.
func openBackends(ctx context.Context, cfg *config.AppConfig, logger logging.Logger) (b *backends, err error) {
	b = &backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
			b = nil
		}
	}()

	b.catalog = intent.DefaultCatalog()
	if cfg.Catalog.Path != "" {
		if b.catalog, err = intent.LoadCatalog(cfg.Catalog.Path); err != nil {
			return b, err
		}
	}
	if cfg.Model.Enabled {
		b.model = llm.NewOllamaClient(cfg.Model.BaseURL, llm.WithModels(cfg.Model.ClassifyModel, cfg.Model.GenerateModel))
	}

	var sq *sqlite.DB
	if cfg.Storage.EpisodeDriver == "sqlite" || cfg.Storage.SatisfactionDriver == "sqlite" {
		if sq, err = sqlite.Open(cfg.Storage.SQLitePath); err != nil {
			return b, err
		}
		b.closers = append(b.closers, sq.Close)
	}

	switch cfg.Storage.EpisodeDriver {
	case "sqlite":
		b.episodes = sq.Episodes()
	default:
		b.episodes = memory.NewMemoryStore()
	}

	switch cfg.Storage.SatisfactionDriver {
	case "sqlite":
		b.records = sq.Satisfaction()
	case "postgres":
		pg, err := postgres.Connect(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return b, err
		}
		b.closers = append(b.closers, func() error { pg.Close(); return nil })
		b.records = pg
	case "mysql":
		my, err := mysql.Open(ctx, cfg.Storage.MySQLDSN)
		if err != nil {
			return b, err
		}
		b.closers = append(b.closers, my.Close)
		b.records = my
	default:
		b.records = satisfaction.NewMemoryStore()
	}

	if cfg.Redis.Addr != "" {
		snaps, err := redis.NewSnapshotStore(ctx, redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return b, err
		}
		b.closers = append(b.closers, snaps.Close)
		b.snapshots = snaps
	}

	logger.Info("backends_opened",
		"episode_driver", cfg.Storage.EpisodeDriver,
		"satisfaction_driver", cfg.Storage.SatisfactionDriver,
		"snapshots", b.snapshots != nil,
		"model", cfg.Model.Enabled,
		"intents", len(b.catalog.Labels()),
	)
	return b, nil
}

// Close releases the stores in reverse order of opening.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// newBus builds the in-process bus with logging and a circuit breaker in
// front of the event subscribers.
func newBus(logger logging.Logger) *commbus.InMemoryCommBus {
	bus := commbus.NewInMemoryCommBus(5*time.Second, logger)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))
	bus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(5, 30*time.Second, []string{"HealthCheckRequest"}, logger))
	return bus
}

// attachForwarder republishes pipeline events to the AMQP exchange when a
// broker is configured.
func attachForwarder(cfg config.AMQPConfig, bus commbus.CommBus, logger logging.Logger) (func() error, error) {
	if cfg.URL == "" {
		return func() error { return nil }, nil
	}
	fwd, err := commbus.DialAMQPForwarder(cfg.URL, cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("amqp forwarder: %w", err)
	}
	detach := fwd.Attach(bus, commbus.PipelineEventTypes)
	logger.Info("amqp_forwarder_attached", "exchange", cfg.Exchange)
	return func() error {
		detach()
		return fwd.Close()
	}, nil
}
