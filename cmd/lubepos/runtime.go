package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lubepos/lubepos/internal/app"
	"github.com/lubepos/lubepos/internal/archive"
	"github.com/lubepos/lubepos/internal/assistant"
	"github.com/lubepos/lubepos/internal/auth"
	"github.com/lubepos/lubepos/internal/catalog"
	"github.com/lubepos/lubepos/internal/export"
	"github.com/lubepos/lubepos/internal/fund"
	"github.com/lubepos/lubepos/internal/inventory"
	"github.com/lubepos/lubepos/internal/invoice"
	"github.com/lubepos/lubepos/internal/observability"
	"github.com/lubepos/lubepos/internal/platform/cache"
	"github.com/lubepos/lubepos/internal/platform/db"
	"github.com/lubepos/lubepos/internal/rbac"
	"github.com/lubepos/lubepos/internal/shared"
	"github.com/lubepos/lubepos/internal/shift"
	"github.com/lubepos/lubepos/internal/store/memory"
	"github.com/lubepos/lubepos/internal/store/postgres"
	"github.com/lubepos/lubepos/internal/users"
	"github.com/lubepos/lubepos/jobs"
	"github.com/lubepos/lubepos/report"
)

// repositories is implemented by both store drivers.
type repositories interface {
	Catalog() catalog.RepositoryPort
	Inventory() inventory.RepositoryPort
	Invoices() invoice.RepositoryPort
	Exports() export.RepositoryPort
	Funds() fund.RepositoryPort
	Users() users.RepositoryPort
}

// runtime holds the connections and services shared by subcommands.
type runtime struct {
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	store  repositories
	policy *rbac.Policy
	idem   shared.IdempotencyStore

	catalog   *catalog.Service
	inventory *inventory.Service
	invoices  *invoice.Service
	exports   *export.Service
	funds     *fund.Service
	users     *users.Service
	shift     *shift.Service
	assistant *assistant.Service
}

func openRuntime(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}
	switch cfg.StoreDriver {
	case app.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		rt.store = memory.New()
	default:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.StorageWait)
		if err != nil {
			return nil, err
		}
		rt.pool = pool
		rt.store = postgres.New(pool, db.TxOptions{Wait: cfg.StorageWait, Retries: cfg.StorageRetries})
	}
	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.redis = client
	}
	policy, err := rbac.DefaultPolicy()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.policy = policy

	audit := shared.NewAuditLogger(rt.pool, logger)
	files := archive.New(cfg.ExportDir, cfg.ExportRetention, logger)
	var locker shared.Locker = shared.NewLocalLocker(cfg.StorageWait)
	var queryCache *assistant.Cache
	rt.idem = shared.NewLocalIdempotencyStore(cfg.IdempotencyTTL)
	if rt.redis != nil {
		locker = shared.NewRedisLocker(rt.redis, 2*cfg.StorageWait, cfg.StorageWait)
		queryCache = assistant.NewCache(rt.redis, cfg.QueryCacheTTL)
		rt.idem = shared.NewRedisIdempotencyStore(rt.redis, cfg.IdempotencyTTL)
	}

	rt.catalog = catalog.NewService(rt.store.Catalog(), policy, audit)
	rt.inventory = inventory.NewService(rt.store.Inventory(), policy, audit, files, logger)
	rt.invoices = invoice.NewService(rt.store.Invoices(), policy, audit)
	rt.exports = export.NewService(rt.store.Exports(), policy, audit, locker, logger)
	rt.funds = fund.NewService(rt.store.Funds(), policy, audit)
	rt.users = users.NewService(rt.store.Users(), policy, audit)
	rt.shift = shift.NewService(rt.store.Invoices(), rt.store.Funds(), policy, audit, files, cfg.ReportLocale, logger)
	rt.shift.WithLocation(cfg.ReportLocation())
	if cfg.GotenbergURL != "" {
		rt.shift.WithPDF(report.NewClient(cfg.GotenbergURL, 0))
	}
	rt.assistant = assistant.NewService(rt.store.Catalog(), rt.store.Funds(), rt.store.Exports(), policy, policy, queryCache)
	return rt, nil
}

// migrate prepares the schema and the seed administrator.
func (rt *runtime) migrate(ctx context.Context) error {
	if rt.pool != nil {
		if err := postgres.Migrate(ctx, rt.pool); err != nil {
			return err
		}
	}
	seeded, err := rt.users.EnsureSeedAdmin(ctx)
	if err != nil {
		return err
	}
	if seeded {
		rt.logger.Warn("seed administrator created; change its password",
			slog.String("name", users.SeedAdminName))
	}
	return nil
}

func (rt *runtime) redisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: rt.cfg.RedisAddr}
}

func (rt *runtime) router(metrics *observability.Metrics, jobClient *jobs.Client, inspector *asynq.Inspector) http.Handler {
	mw := rbac.Middleware{Policy: rt.policy, Logger: rt.logger}
	tokens := auth.NewTokenManager(rt.cfg.AuthSecret, rt.cfg.AccessTokenTTL)
	notifier := rt.assistant
	return app.NewRouter(app.RouterParams{
		Logger:           rt.logger,
		Config:           rt.cfg,
		Metrics:          metrics,
		Tokens:           tokens,
		Health:           rt.health,
		Idempotency:      rt.idem,
		AuthHandler:      auth.NewHandler(rt.logger, rt.users, tokens, rt.policy),
		CatalogHandler:   catalog.NewHandler(rt.logger, rt.catalog, mw, notifier),
		InventoryHandler: inventory.NewHandler(rt.logger, rt.inventory, mw, notifier),
		InvoiceHandler:   invoice.NewHandler(rt.logger, rt.invoices, mw, notifier),
		ExportHandler:    export.NewHandler(rt.logger, rt.exports, mw, notifier, metrics),
		FundHandler:      fund.NewHandler(rt.logger, rt.funds, mw, notifier),
		UsersHandler:     users.NewHandler(rt.logger, rt.users, mw, notifier),
		ShiftHandler:     shift.NewHandler(rt.logger, rt.shift, mw),
		AssistantHandler: assistant.NewHandler(rt.logger, rt.assistant, mw),
		JobHandler:       jobs.NewHandler(inspector, jobClient, mw, rt.logger),
	})
}

func (rt *runtime) health(r *http.Request) error {
	var errs []error
	if rt.pool != nil {
		errs = append(errs, rt.pool.Ping(r.Context()))
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Ping(r.Context()).Err())
	}
	return errors.Join(errs...)
}

// Close releases connections.
func (rt *runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}
