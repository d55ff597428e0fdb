// Package app assembles storage, locks, queues and domain services for the
// server and the worker binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"stockledger/internal/config"
	"stockledger/internal/core/idempotency"
	"stockledger/internal/core/lock"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/closing"
	"stockledger/internal/domain/gl"
	"stockledger/internal/domain/guard"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reports"
	"stockledger/internal/domain/repost"
	"stockledger/internal/domain/valuation"
	"stockledger/internal/infrastructure/cache"
	v1 "stockledger/internal/infrastructure/http/v1"
	"stockledger/internal/infrastructure/http/v1/handlers"
	"stockledger/internal/infrastructure/jobs"
	"stockledger/internal/infrastructure/locker"
	"stockledger/internal/infrastructure/storage/memory"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/internal/infrastructure/storage/postgres/catalog_repo"
	"stockledger/internal/infrastructure/storage/postgres/closing_repo"
	"stockledger/internal/infrastructure/storage/postgres/ledger_repo"
	"stockledger/internal/infrastructure/storage/postgres/repost_repo"
	"stockledger/pkg/logger"
)

// App holds the wired services of one process.
type App struct {
	Config *config.Config

	Ledger   *ledger.Service
	Reposts  *repost.Service
	Closings *closing.Service
	Reports  *reports.Service
	Audit    audit.Reader

	// Catalog is where seeding writes master data.
	Catalog CatalogWriter

	// Inline is set when deferred work runs in-process.
	Inline *jobs.Inline

	pool        *postgres.Pool
	pgTx        *postgres.TxManager
	redis       redis.UniversalClient
	queue       *jobs.Client
	catalogs    *cache.CatalogCache
	idempotency idempotency.Store
}

// storage is the driver-specific half of the wiring.
type storage struct {
	txm      tx.Manager
	entries  ledger.Repository
	closings closing.Repository
	jobs     repost.JobRepository
	catalog  catalog.Reader
	writer   CatalogWriter
	facts    gl.Publisher
	audit    audit.Logger
	reader   audit.Reader
}

// Build connects to the configured backends and wires every service.
// Call Close when done, also after an error.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	var (
		st  *storage
		err error
	)
	switch cfg.StorageDriver {
	case config.DriverMemory:
		st = a.memoryStorage()
	case config.DriverPostgres:
		st, err = a.postgresStorage(ctx)
	default:
		err = fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	if err != nil {
		return a, err
	}

	frozenUpTo, err := cfg.FrozenUpTo()
	if err != nil {
		return a, err
	}

	registry := valuation.NewRegistry(valuation.FIFO{}, valuation.MovingAverage{})
	negatives := guard.NewNegativeStockPolicy(cfg.AllowNegativeStock)
	locks := a.newLocker()

	engine := repost.NewEngine(st.entries, st.closings, registry, negatives)
	a.Reposts = repost.NewService(engine, st.jobs, st.txm, locks, st.catalog, st.facts, st.audit, nil)

	generator := closing.NewGenerator(st.entries, st.closings, st.catalog)
	a.Closings = closing.NewService(st.closings, generator, st.txm, st.catalog, st.audit, nil)

	deps := ledger.Deps{
		Repo:              st.entries,
		TxManager:         st.txm,
		Locker:            locks,
		Catalog:           st.catalog,
		Registry:          registry,
		Negatives:         negatives,
		Freeze:            guard.NewFreezePolicy(frozenUpTo, cfg.StockFrozenDays),
		Reposts:           a.Reposts,
		Closings:          st.closings,
		Facts:             st.facts,
		Audit:             st.audit,
		InlineRepostLimit: cfg.InlineRepostLimit,
	}
	if a.redis != nil && cfg.StorageDriver == config.DriverPostgres && cfg.BalanceCacheTTL > 0 {
		deps.Cache = cache.NewBalanceCache(a.redis, cfg.BalanceCacheTTL)
	}
	a.Ledger = ledger.NewService(deps)
	a.Reports = reports.NewService(st.entries, st.closings, st.catalog)
	a.Audit = st.reader
	a.Catalog = st.writer

	if cfg.QueueEnabled() {
		a.queue = jobs.NewClient(a.redisConnOpt())
		a.Reposts.SetScheduler(a.queue)
		a.Closings.SetScheduler(a.queue)
	} else {
		a.Inline = &jobs.Inline{Reposts: a.Reposts, Closings: a.Closings}
		a.Reposts.SetScheduler(a.Inline)
		a.Closings.SetScheduler(a.Inline)
	}

	if cfg.SeedDemo {
		if err := NewDemoCatalog().Load(ctx, a.Catalog); err != nil {
			return a, fmt.Errorf("seed demo catalog: %w", err)
		}
		logger.Info(ctx, "demo catalog loaded")
	}

	logger.Info(ctx, "application wired",
		"storage", cfg.StorageDriver,
		"lock", cfg.LockDriver,
		"queue", cfg.QueueEnabled(),
		"balance_cache", deps.Cache != nil,
	)
	return a, nil
}

func (a *App) memoryStorage() *storage {
	store := memory.New()
	cat := memory.NewCatalog(store)
	auditLog := memory.NewAuditLog(store)
	entries := memory.NewLedgerRepo(store)
	closings := memory.NewClosingRepo(store)
	if a.Config.IdempotencyEnabled {
		a.idempotency = memory.NewIdempotencyStore(a.Config.IdempotencyTTL)
	}
	return &storage{
		txm:      memory.NewTxManager(store),
		entries:  entries,
		closings: closings,
		jobs:     memory.NewJobRepo(store),
		catalog:  cat,
		writer:   cat,
		facts:    memory.NewOutbox(store),
		audit:    auditLog,
		reader:   auditLog,
	}
}

func (a *App) postgresStorage(ctx context.Context) (*storage, error) {
	poolCfg := postgres.DefaultPoolConfig(a.Config.DatabaseURL)
	if a.Config.DBMaxConns > 0 {
		poolCfg.MaxConns = a.Config.DBMaxConns
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.pool = pool

	txm := postgres.NewTxManager(pool)
	a.pgTx = txm
	if a.Config.DBAutoMigrate {
		if err := postgres.Migrate(ctx, txm); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	auditLog, err := postgres.NewAuditLog(txm)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}

	settings := catalog_repo.NewSettingsRepo(txm)
	a.catalogs = cache.NewCatalogCache(settings, pool.Pool)
	if err := a.catalogs.Start(ctx); err != nil {
		// The cache still serves, it just cannot hear invalidations.
		logger.Warn(ctx, "catalog cache listener not started", "error", err)
	}

	if a.Config.IdempotencyEnabled {
		a.idempotency = postgres.NewIdempotencyStore(txm, a.Config.IdempotencyTTL)
	}

	return &storage{
		txm:      txm,
		entries:  ledger_repo.NewLedgerRepo(txm),
		closings: closing_repo.NewClosingRepo(txm),
		jobs:     repost_repo.NewJobRepo(txm),
		catalog:  a.catalogs,
		writer:   settings,
		facts:    postgres.NewFactPublisher(txm),
		audit:    auditLog,
		reader:   auditLog,
	}, nil
}

func (a *App) newLocker() lock.Locker {
	if a.Config.LockDriver == config.LockRedis && a.redis != nil {
		return locker.NewRedis(a.redis, a.Config.LockTTL, a.Config.LockTimeout)
	}
	return locker.NewLocal(a.Config.LockTimeout)
}

func (a *App) redisConnOpt() asynq.RedisConnOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	}
}

// Router builds the HTTP API over the wired services.
func (a *App) Router(log *logger.Logger) *gin.Engine {
	cfg := v1.RouterConfig{
		Logger:       log,
		Ledger:       a.Ledger,
		Closings:     a.Closings,
		Reposts:      a.Reposts,
		Reports:      a.Reports,
		Audit:        a.Audit,
		Driver:       a.Config.StorageDriver,
		HealthChecks: a.healthChecks(),
		Idempotency:  a.idempotency,
	}
	if a.pool != nil {
		cfg.Stats = a.pool.Stats
	}
	return v1.NewRouter(cfg)
}

func (a *App) healthChecks() []handlers.HealthCheck {
	var checks []handlers.HealthCheck
	if a.pool != nil {
		checks = append(checks, handlers.HealthCheck{Name: "database", Ping: a.pool.Ping})
	}
	if a.redis != nil {
		checks = append(checks, handlers.HealthCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
		})
	}
	return checks
}

// WorkerConfig builds the asynq worker over the wired services. It needs the
// postgres driver and Redis.
func (a *App) WorkerConfig() (jobs.WorkerConfig, error) {
	if !a.Config.QueueEnabled() {
		return jobs.WorkerConfig{}, fmt.Errorf("worker requires STORAGE_DRIVER=postgres and REDIS_ADDR")
	}

	var relay jobs.OutboxRelay
	if a.pgTx != nil {
		relay = postgres.NewFactRelay(a.pgTx, a.Config.OutboxBatchSize, jobs.NewFactDeliverer(nil))
	}
	h := jobs.NewHandlers(a.Reposts, a.Closings, relay)
	h.ResumeGrace = a.Config.RepostResumeGrace

	var cron []jobs.CronRegistration
	if a.Config.ClosingCron != "" && len(a.Config.ClosingCompanies) > 0 {
		task, err := jobs.NewMonthEndTask(a.Config.ClosingCompanies)
		if err != nil {
			return jobs.WorkerConfig{}, err
		}
		cron = append(cron, jobs.CronRegistration{Spec: a.Config.ClosingCron, Task: task})
	}
	if a.Config.RepostResumeCron != "" {
		cron = append(cron, jobs.CronRegistration{Spec: a.Config.RepostResumeCron, Task: jobs.NewRepostResumeTask()})
	}
	if a.Config.OutboxRelayCron != "" && relay != nil {
		cron = append(cron, jobs.CronRegistration{Spec: a.Config.OutboxRelayCron, Task: jobs.NewOutboxRelayTask()})
	}

	return jobs.WorkerConfig{
		RedisOpts:       a.redisConnOpt(),
		Concurrency:     a.Config.WorkerConcurrency,
		ShutdownTimeout: a.Config.ShutdownTimeout,
		Handlers:        h.TaskHandlers(),
		Cron:            cron,
	}, nil
}

// Close releases every backend connection. Inline work is drained first.
func (a *App) Close() {
	if a.Inline != nil {
		done := make(chan struct{})
		go func() {
			a.Inline.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(a.Config.ShutdownTimeout):
			logger.Warn(context.Background(), "inline work still running at shutdown")
		}
	}
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.catalogs != nil {
		a.catalogs.Stop()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
