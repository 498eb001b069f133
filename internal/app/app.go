// Package app wires the settlement service to its store, locker and event
// producer from configuration. Both processes start from here.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-marketplace-settlement/internal/catalog"
	"github.com/ariefcatur/go-marketplace-settlement/internal/commission"
	"github.com/ariefcatur/go-marketplace-settlement/internal/config"
	kafkax "github.com/ariefcatur/go-marketplace-settlement/internal/kafka"
	"github.com/ariefcatur/go-marketplace-settlement/internal/memstore"
	"github.com/ariefcatur/go-marketplace-settlement/internal/orders"
	"github.com/ariefcatur/go-marketplace-settlement/internal/postgres"
	"github.com/ariefcatur/go-marketplace-settlement/internal/redisx"
	"github.com/ariefcatur/go-marketplace-settlement/internal/settlement"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const producerBuffer = 1024

type Runtime struct {
	Service  *settlement.Service
	Producer *kafkax.Producer
	// Redis is nil when REDIS_ADDR is unset.
	Redis *redis.Client

	db     *pgxpool.Pool
	logger *zap.Logger
}

// Build connects the backing services in parallel, applies the schema and seeds,
// and returns a ready service. The producer is created but not started.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{logger: logger}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Store == config.StorePostgres {
		g.Go(func() error {
			db, err := postgres.Connect(gctx, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			rt.db = db
			if err := postgres.Migrate(gctx, db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			return nil
		})
	} else if cfg.Store != config.StoreMemory {
		return nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	if cfg.RedisAddr != "" {
		g.Go(func() error {
			rdb := redisx.New(cfg.RedisAddr)
			rt.Redis = rdb
			if err := redisx.Ping(gctx, rdb); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rt.Close()
		return nil, err
	}

	var store interface {
		settlement.Store
		catalog.Seeder
	}
	if rt.db != nil {
		store = postgres.NewStore(rt.db, cfg.LockTimeout)
	} else {
		store = memstore.New()
		logger.Warn("using in-memory store, state is lost on exit")
	}
	if err := seed(ctx, store, cfg, logger); err != nil {
		rt.Close()
		return nil, err
	}

	var locker settlement.Locker = settlement.NewLocalLocker(cfg.LockTimeout)
	if rt.Redis != nil {
		locker = redisx.NewLocker(rt.Redis, cfg.LockTimeout)
	}

	rt.Producer = kafkax.NewProducer(cfg.KafkaBrokers, producerBuffer, logger)
	rt.Service = settlement.NewService(store, locker, &kafkax.Publisher{P: rt.Producer}, logger, settlement.Options{
		Currency:   cfg.Currency,
		HoldTTL:    cfg.HoldTTL,
		TierWindow: cfg.TierWindow,
		Producer:   cfg.ServiceName,
	})
	return rt, nil
}

func seed(ctx context.Context, store interface {
	settlement.Store
	catalog.Seeder
}, cfg config.Config, logger *zap.Logger) error {
	if cfg.CatalogFile != "" {
		items, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		if err := catalog.Seed(ctx, store, items); err != nil {
			return err
		}
		logger.Info("catalog seeded", zap.Int("variants", len(items)))
	}
	if cfg.RulesFile != "" {
		rs, err := commission.LoadFile(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("commission rules: %w", err)
		}
		err = store.SaveRuleSet(ctx, rs, true)
		switch {
		case errors.Is(err, orders.ErrInvalidRequest):
			// version already stored by an earlier start
			logger.Info("commission rule set already present", zap.Int("version", rs.Version))
		case err != nil:
			return fmt.Errorf("commission rules: %w", err)
		default:
			logger.Info("commission rule set activated", zap.Int("version", rs.Version))
		}
	}
	return nil
}

// Close flushes the producer and releases connections. Safe on a partial Runtime.
func (rt *Runtime) Close() {
	if rt.Producer != nil {
		rt.Producer.Close()
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.db != nil {
		rt.db.Close()
	}
}
