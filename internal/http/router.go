package http

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/wp4odoo/bridge/internal/breaker"
	"github.com/wp4odoo/bridge/internal/config"
	"github.com/wp4odoo/bridge/internal/enqueue"
	"github.com/wp4odoo/bridge/internal/http/handlers"
	"github.com/wp4odoo/bridge/internal/observability"
	"github.com/wp4odoo/bridge/internal/redisclient"
)

// Deps carries everything the daemon's HTTP surface reads from.
type Deps struct {
	Env      string
	Log      *slog.Logger
	Pool     *pgxpool.Pool
	Redis    *redisclient.Client // optional
	Prom     *observability.Prom
	Registry prometheus.Gatherer
	Enqueuer *enqueue.Enqueuer
	Settings *config.Service
	Global   *breaker.Global
	Modules  *breaker.Modules
	Metrics  *observability.RunMetrics
}

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(d.Log))
	r.Use(otelgin.Middleware("syncd"))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	pingDB := func(ctx context.Context) error {
		if d.Pool == nil {
			return nil
		}
		return d.Pool.Ping(ctx)
	}
	var pingRedis func(ctx context.Context) error
	if d.Redis != nil {
		pingRedis = d.Redis.Ping
	}

	h := handlers.NewHealthHandler(pingDB, pingRedis)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))

	stats := handlers.NewStatsHandler(d.Enqueuer, d.Global, d.Modules, d.Metrics)
	r.GET("/stats", stats.Stats)

	hook := handlers.NewWebhookHandler(d.Enqueuer, d.Settings)
	r.POST("/webhooks/:source", hook.Receive)

	return r
}
