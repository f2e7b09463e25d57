package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	pingDB    func(ctx context.Context) error
	pingRedis func(ctx context.Context) error
}

func NewHealthHandler(pingDB, pingRedis func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{pingDB: pingDB, pingRedis: pingRedis}
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz checks the backing stores; redis is best effort because the engine
// degrades gracefully without it.
func (h *HealthHandler) Readyz(ctx *gin.Context) {
	checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), time.Second)
	defer cancel()

	if h.pingDB != nil {
		if err := h.pingDB(checkCtx); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
	}

	redisOK := true
	if h.pingRedis != nil {
		redisOK = h.pingRedis(checkCtx) == nil
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready", "redis": redisOK})
}
