package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/store/memory"
	"github.com/odyssey-erp/odyssey-ledger/internal/store/postgres"
	"github.com/odyssey-erp/odyssey-ledger/migrations"
)

// Runtime holds the wired services of one process.
type Runtime struct {
	Config    *Config
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Stock     *inventory.Service
	Ledger    *accounting.Service
	Accounts  *accounts.Service
	Documents *documents.Service
	// Directory is non-nil only with the memory store.
	Directory *masterdata.MemoryDirectory
	Mappings  mappings.Repository
	Redis     *redis.Client

	closers []func()
}

// Close releases pools and clients in reverse order.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

type ports struct {
	inventory inventory.RepositoryPort
	ledger    accounting.RepositoryPort
	documents documents.RepositoryPort
	accounts  accounts.Repository
	mappings  mappings.Repository
	directory masterdata.Directory
	audit     documents.AuditPort
}

// Bootstrap connects the configured store and cache and wires every service.
// With the postgres driver pending migrations are applied first.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: metrics}

	var p ports
	switch cfg.StoreDriver {
	case StorePostgres:
		pool, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		store := postgres.New(pool, postgres.Config{TxTimeout: cfg.StoreTxTimeout, LockTimeout: cfg.LockTimeout, Logger: logger})
		p = ports{
			inventory: store.Inventory(),
			ledger:    store.Ledger(),
			documents: store.Documents(),
			accounts:  store.Accounts(),
			mappings:  store.Mappings(),
			directory: store.Directory(),
			audit:     shared.NewAuditLogger(pool),
		}
	default:
		store := memory.New(memory.WithLockTimeout(cfg.LockTimeout), memory.WithLogger(logger))
		rt.Directory = masterdata.NewMemoryDirectory()
		p = ports{
			inventory: store.Inventory(),
			ledger:    store.Ledger(),
			documents: store.Documents(),
			accounts:  store.Accounts(),
			mappings:  mappings.NewMemoryRepository(),
			directory: rt.Directory,
			audit:     shared.SlogAuditor{Logger: logger},
		}
	}
	rt.Mappings = p.mappings

	readCache := rt.connectCache(ctx, cfg, logger)

	stockEngine := inventory.NewEngine(inventory.EngineConfig{
		NegativePolicy: cfg.NegativePolicy(),
		Logger:         logger,
		OnNegative:     func(inventory.Balance) { metrics.IncNegativeStock() },
	})
	ledgerEngine := accounting.NewEngine()
	orchestrator := posting.NewOrchestrator(p.directory, p.mappings, stockEngine, ledgerEngine, logger)

	rt.Stock = inventory.NewService(p.inventory, stockEngine, p.directory, readCache, logger)
	rt.Ledger = accounting.NewService(p.ledger, ledgerEngine, p.audit, readCache, logger)
	rt.Accounts = accounts.NewService(p.accounts, logger)
	rt.Documents = documents.NewService(p.documents, orchestrator, p.directory, documents.Config{
		RetryBase: cfg.ConfirmRetryBase,
		Audit:     p.audit,
		Cache:     readCache,
		Metrics:   metrics,
		Logger:    logger,
	})

	if cfg.SeedFile != "" {
		if rt.Directory == nil {
			logger.Warn("SEED_FILE ignored with the postgres store", slog.String("path", cfg.SeedFile))
		} else if err := rt.seed(ctx, cfg.SeedFile); err != nil {
			rt.Close()
			return nil, err
		}
	}
	logger.Info("runtime ready", slog.String("store", cfg.StoreDriver), slog.Bool("cache", rt.Redis != nil))
	return rt, nil
}

func openPostgres(ctx context.Context, cfg *Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := migrations.Up(cfg.PGDSN, logger); err != nil {
		return nil, err
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// connectCache returns a nil cache when redis is not configured or not
// reachable; reads then go straight to the store.
func (rt *Runtime) connectCache(ctx context.Context, cfg *Config, logger *slog.Logger) shared.ReadCache {
	if cfg.RedisAddr == "" {
		return nil
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, read cache disabled", slog.Any("error", err))
		return nil
	}
	rt.Redis = client
	rt.closers = append(rt.closers, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	})
	return cache.NewVersioned(client, cfg.CacheTTL)
}

func (rt *Runtime) seed(ctx context.Context, path string) error {
	seed, err := LoadSeed(path)
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, rt.Directory, rt.Accounts, rt.Mappings); err != nil {
		return fmt.Errorf("app: apply seed: %w", err)
	}
	rt.Logger.Info("seed loaded",
		slog.String("path", path),
		slog.Int("items", len(seed.Items)),
		slog.Int("locations", len(seed.Locations)),
		slog.Int("accounts", len(seed.Accounts)),
	)
	return nil
}
