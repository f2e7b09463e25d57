package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wp4odoo/bridge/internal/config"
	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/enqueue"
)

const webhookTokenHeader = "X-Webhook-Token"

type webhookRequest struct {
	Module     string          `json:"module" binding:"required"`
	EntityType string          `json:"entityType" binding:"required"`
	Action     string          `json:"action" binding:"required,oneof=create update delete"`
	Direction  string          `json:"direction" binding:"required,oneof=push pull"`
	LocalID    uint64          `json:"localId"`
	RemoteID   uint64          `json:"remoteId"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"`
}

// WebhookHandler turns authenticated change notifications into queue jobs.
// The token lives encrypted in settings; rotation takes effect without a
// restart.
type WebhookHandler struct {
	enq      *enqueue.Enqueuer
	settings *config.Service
}

func NewWebhookHandler(enq *enqueue.Enqueuer, settings *config.Service) *WebhookHandler {
	return &WebhookHandler{enq: enq, settings: settings}
}

func (h *WebhookHandler) Receive(ctx *gin.Context) {
	token, err := h.settings.WebhookToken(ctx.Request.Context())
	if err != nil || token == "" {
		RespondUnauthorized(ctx, "webhooks not configured")
		return
	}
	given := ctx.GetHeader(webhookTokenHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
		RespondUnauthorized(ctx, "invalid token")
		return
	}

	var req webhookRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(ctx, "invalid webhook body", err.Error())
		return
	}

	spec := job.Spec{
		Module:     req.Module,
		EntityType: req.EntityType,
		Action:     job.Action(req.Action),
		LocalID:    req.LocalID,
		RemoteID:   req.RemoteID,
		Payload:    req.Payload,
		Priority:   req.Priority,
	}

	var (
		j       job.Job
		deduped bool
	)
	if job.Direction(req.Direction) == job.DirectionPull {
		j, deduped, err = h.enq.EnqueuePull(ctx.Request.Context(), spec)
	} else {
		j, deduped, err = h.enq.EnqueuePush(ctx.Request.Context(), spec)
	}
	if err != nil {
		RespondBadRequest(ctx, "enqueue rejected", err.Error())
		return
	}

	status := http.StatusAccepted
	ctx.JSON(status, gin.H{
		"jobId":         j.ID,
		"correlationId": j.CorrelationID,
		"deduped":       deduped,
	})
}
