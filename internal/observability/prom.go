package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec

	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Odoo RPC
	RPCDuration *prometheus.HistogramVec
	RPCResults  *prometheus.CounterVec

	// Jobs (scheduler)
	JobDuration  *prometheus.HistogramVec
	JobResults   *prometheus.CounterVec
	JobsInFlight prometheus.Gauge
	QueueDepth   *prometheus.GaugeVec

	// Breakers
	BreakerState *prometheus.GaugeVec

	// Scheduler runs
	RunDuration  *prometheus.HistogramVec
	RunProcessed *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wp4odoo",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wp4odoo",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wp4odoo",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wp4odoo",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
		RPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wp4odoo",
				Subsystem: "rpc",
				Name:      "call_duration_seconds",
				Help:      "Odoo RPC call latency by method.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "status"},
		),
		RPCResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wp4odoo",
				Subsystem: "rpc",
				Name:      "results_total",
				Help:      "Odoo RPC outcomes by method and error kind.",
			},
			[]string{"method", "result"}, // result=ok|transient|permanent
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wp4odoo",
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Job execution duration by module and result",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"module", "result"}, // result=completed|retry|failed
		),
		JobResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wp4odoo",
				Subsystem: "jobs",
				Name:      "results_total",
				Help:      "Job outcomes by module and result.",
			},
			[]string{"module", "result"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "wp4odoo",
				Subsystem: "jobs",
				Name:      "in_flight",
				Help:      "Current number of executing jobs (per process)",
			},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "wp4odoo",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Queue depth by status, refreshed on stats reads.",
			},
			[]string{"status"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "wp4odoo",
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Breaker state (0=closed 1=half_open 2=open) by scope.",
			},
			[]string{"scope"}, // "global" or module id
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wp4odoo",
				Subsystem: "scheduler",
				Name:      "run_duration_seconds",
				Help:      "Scheduler run wall time.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 45, 60},
			},
			[]string{"module"},
		),
		RunProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wp4odoo",
				Subsystem: "scheduler",
				Name:      "processed_total",
				Help:      "Jobs processed per scheduler run outcome.",
			},
			[]string{"module", "result"},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.RPCDuration, p.RPCResults,
		p.JobDuration, p.JobResults, p.JobsInFlight, p.QueueDepth,
		p.BreakerState,
		p.RunDuration, p.RunProcessed,
	)

	return p
}

// ObserveRPC wraps one Odoo RPC call with duration and outcome metrics.
func (p *Prom) ObserveRPC(method string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	if err != nil {
		status = "error"
	}
	p.RPCDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
	return err
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
