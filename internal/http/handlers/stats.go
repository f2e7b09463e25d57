package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wp4odoo/bridge/internal/breaker"
	"github.com/wp4odoo/bridge/internal/enqueue"
	"github.com/wp4odoo/bridge/internal/observability"
)

type StatsHandler struct {
	enq     *enqueue.Enqueuer
	global  *breaker.Global
	modules *breaker.Modules
	metrics *observability.RunMetrics
}

func NewStatsHandler(enq *enqueue.Enqueuer, global *breaker.Global, modules *breaker.Modules, metrics *observability.RunMetrics) *StatsHandler {
	return &StatsHandler{enq: enq, global: global, modules: modules, metrics: metrics}
}

// Stats is the operator dashboard payload: queue counters, the 24 h health
// digest, breaker states and this process's run counters.
func (h *StatsHandler) Stats(ctx *gin.Context) {
	stats, err := h.enq.GetStats(ctx.Request.Context())
	if err != nil {
		RespondInternal(ctx, "queue stats unavailable")
		return
	}

	health, err := h.enq.GetHealthMetrics(ctx.Request.Context())
	if err != nil {
		RespondInternal(ctx, "health metrics unavailable")
		return
	}

	globalState, globalRaw := h.global.Snapshot(ctx.Request.Context())

	ctx.JSON(http.StatusOK, gin.H{
		"queue":  stats,
		"health": health,
		"breakers": gin.H{
			"global":       globalState,
			"globalDetail": globalRaw,
			"modules":      h.modules.Snapshot(ctx.Request.Context()),
		},
		"worker": h.metrics.Snapshot(),
	})
}
