package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/syncache/bus"
	"github.com/IvanBrykalov/syncache/bus/amqpbridge"
	"github.com/IvanBrykalov/syncache/cache"
	"github.com/IvanBrykalov/syncache/config"
	"github.com/IvanBrykalov/syncache/internal/logging"
	pmet "github.com/IvanBrykalov/syncache/metrics/prom"
	"github.com/IvanBrykalov/syncache/model"
	"github.com/IvanBrykalov/syncache/persist"
	"github.com/IvanBrykalov/syncache/persist/redisstore"
	"github.com/IvanBrykalov/syncache/persist/sqlitestore"
	"github.com/IvanBrykalov/syncache/refresh"
	"github.com/IvanBrykalov/syncache/service"
	"github.com/IvanBrykalov/syncache/transport"
)

// engine is a fully wired service plus everything it needs closed.
type engine struct {
	svc     *service.Service
	bus     *bus.Bus
	logger  *zap.Logger
	level   zap.AtomicLevel
	closers []func() error
}

func openPersistence(ctx context.Context, c config.PersistConfig) (persist.Store, error) {
	switch c.Backend {
	case "sqlite":
		return sqlitestore.Open(c.Path, c.Table)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", c.Redis.Addr, err)
		}
		return redisstore.New(client, redisstore.Options{Prefix: c.Redis.Prefix, TTL: c.Redis.TTL})
	default:
		return persist.None{}, nil
	}
}

func newEngine(ctx context.Context, cfg *config.Config, tr transport.Transport, reg prometheus.Registerer) (*engine, error) {
	logger, level, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	e := &engine{logger: logger, level: level}

	metrics := pmet.New(reg, cfg.Metrics.Namespace, nil)
	store := service.NewStore(cache.Options[model.Key, any]{
		Shards:     cfg.Cache.Shards,
		MaxEntries: cfg.Cache.MaxEntries,
		Metrics:    metrics,
	})
	e.closers = append(e.closers, func() error { store.Close(); return nil })

	e.bus = bus.New(bus.WithBuffer(cfg.Bus.Buffer), bus.WithMetrics(metrics), bus.WithLogger(logger))
	e.closers = append(e.closers, func() error { e.bus.Close(); return nil })

	sched := refresh.New(refresh.WithMaxConcurrent(cfg.Refresh.MaxConcurrent), refresh.WithLogger(logger))
	e.closers = append(e.closers, func() error { sched.Close(); return nil })

	backing, err := openPersistence(ctx, cfg.Persist)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.closers = append(e.closers, backing.Close)

	if cfg.AMQP.Enabled {
		fwd, closeConn, err := amqpbridge.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		fwd.Start(ctx, e.bus)
		e.closers = append(e.closers, closeConn, fwd.Close)
	}

	mode := service.InvalidateRefetch
	if cfg.Service.Invalidation == "evict" {
		mode = service.InvalidateEvict
	}
	e.svc, err = service.New(tr,
		service.WithStore(store),
		service.WithBus(e.bus),
		service.WithScheduler(sched),
		service.WithLogger(logger),
		service.WithMetrics(metrics),
		service.WithPersistence(backing),
		service.WithInvalidation(mode),
		service.WithStaleAfter(cfg.Refresh.StaleAfter),
		service.WithPersistTimeout(cfg.Service.PersistTimeout),
	)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.closers = append(e.closers, func() error { e.svc.Close(); return nil })
	return e, nil
}

// Close releases everything in reverse order of creation.
func (e *engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = e.logger.Sync()
	return errors.Join(errs...)
}
