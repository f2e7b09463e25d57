package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wp4odoo/bridge/internal/breaker"
	"github.com/wp4odoo/bridge/internal/cache"
	"github.com/wp4odoo/bridge/internal/config"
	"github.com/wp4odoo/bridge/internal/db"
	"github.com/wp4odoo/bridge/internal/enqueue"
	"github.com/wp4odoo/bridge/internal/locks"
	"github.com/wp4odoo/bridge/internal/module"
	"github.com/wp4odoo/bridge/internal/module/contacts"
	"github.com/wp4odoo/bridge/internal/notifications"
	"github.com/wp4odoo/bridge/internal/observability"
	"github.com/wp4odoo/bridge/internal/odoo"
	"github.com/wp4odoo/bridge/internal/reconcile"
	"github.com/wp4odoo/bridge/internal/redisclient"
	"github.com/wp4odoo/bridge/internal/repo/postgres"
	"github.com/wp4odoo/bridge/internal/scheduler"
	syncpkg "github.com/wp4odoo/bridge/internal/sync"
)

// App wires the full engine once; both the daemon and the CLI boot through
// it so wiring drift between the two cannot happen.
type App struct {
	Cfg config.Config
	Log *slog.Logger

	Pool  *pgxpool.Pool
	Redis *redisclient.Client // nil when redis is unreachable

	PromRegistry *prometheus.Registry
	Prom         *observability.Prom
	Metrics      *observability.RunMetrics
	Cache        *cache.Cache

	Queue    *postgres.QueueRepo
	Mappings *postgres.MappingsRepo
	Settings *config.Service

	Locks *locks.Factory
	RPC   *odoo.JSONRPC

	Registry *module.Registry

	Orch       *syncpkg.Orchestrator
	Global     *breaker.Global
	Modules    *breaker.Modules
	Notifier   *notifications.FailureNotifier
	Enqueuer   *enqueue.Enqueuer
	Scheduler  *scheduler.Scheduler
	Reconciler *reconcile.Reconciler
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	pool, err := db.NewPool(cfg.DBURL, int32(cfg.DBMaxConns))
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	rds := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Warn("redis unavailable, cross-process markers disabled", "addr", cfg.RedisAddr, "error", err)
		_ = rds.Close()
		rds = nil
	}
	cancel()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	metrics := observability.NewRunMetrics()
	memCache := cache.New(30 * time.Second)

	queue := postgres.NewQueueRepo(pool, prom)
	mappings := postgres.NewMappingsRepo(pool, prom)
	settingsRepo := postgres.NewSettingsRepo(pool, prom)
	settings := config.NewService(settingsRepo, cfg.WebhookKey)

	lockFactory := locks.NewFactory(pool)
	breakerLocks := func(name string, timeout time.Duration) breaker.Locker {
		return lockFactory.New(name, timeout)
	}

	rpc := odoo.NewJSONRPC(odoo.JSONRPCConfig{
		URL:      cfg.OdooURL,
		Database: cfg.OdooDB,
		Username: cfg.OdooUser,
		Password: cfg.OdooPassword,
	}, prom)

	registry := module.NewRegistry()
	registry.Register(contacts.New(contacts.NewMemStore(), nil))

	notifier := notifications.NewFailureNotifier(settings, settingsRepo, rds, notifications.NewLogSink(log), log)
	global := breaker.NewGlobal(breaker.NewGlobalStore(settingsRepo, rds), breakerLocks, notifier, log)
	modules := breaker.NewModules(breaker.NewModulesStore(settingsRepo, rds), breakerLocks, notifier, log)

	orch := syncpkg.NewOrchestrator(rpc, mappings, lockFactory, registry.Resolver(), cfg.MultiCompany, log)
	failures := syncpkg.NewFailureHandler(queue, log)
	batch := syncpkg.NewBatchCreateProcessor(orch, queue, mappings, rpc, lockFactory, registry.Resolver(), failures, log)

	enq := enqueue.New(queue, notifier, rds, memCache, log)

	sched := scheduler.New(scheduler.Deps{
		Queue:    queue,
		Orch:     orch,
		Batch:    batch,
		Failures: failures,
		Global:   global,
		Modules:  modules,
		Registry: registry,
		Settings: settings,
		Notifier: notifier,
		Redis:    rds,
		Locks:    lockFactory,
		Cache:    memCache,
		Metrics:  metrics,
		Prom:     prom,
		Log:      log,
		BlogID:   cfg.BlogID,
	})

	rec := reconcile.New(mappings, rpc, registry.Resolver(), log)

	return &App{
		Cfg:          cfg,
		Log:          log,
		Pool:         pool,
		Redis:        rds,
		PromRegistry: reg,
		Prom:         prom,
		Metrics:      metrics,
		Cache:        memCache,
		Queue:        queue,
		Mappings:     mappings,
		Settings:     settings,
		Locks:        lockFactory,
		RPC:          rpc,
		Registry:     registry,
		Orch:         orch,
		Global:       global,
		Modules:      modules,
		Notifier:     notifier,
		Enqueuer:     enq,
		Scheduler:    sched,
		Reconciler:   rec,
	}, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
