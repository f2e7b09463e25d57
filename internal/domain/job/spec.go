package job

import (
	"encoding/json"
	"time"
)

// Spec is the producer-side request to enqueue one job. The queue store
// coalesces specs targeting the same (module, entityType, direction, entity)
// into the existing pending row.

type Spec struct {
	Module      string          `json:"module" validate:"required"`
	Direction   Direction       `json:"direction" validate:"required"`
	EntityType  string          `json:"entityType" validate:"required"`
	Action      Action          `json:"action" validate:"required"`
	LocalID     uint64          `json:"localId"`
	RemoteID    uint64          `json:"remoteId"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"maxAttempts"`
	ScheduledAt *time.Time      `json:"scheduledAt,omitempty"`
}

func (s Spec) Validate() error {
	if s.Module == "" {
		return ErrMissingModule
	}
	if s.EntityType == "" {
		return ErrMissingEntity
	}
	if !s.Direction.IsValid() {
		return ErrInvalidDirection
	}
	if !s.Action.IsValid() {
		return ErrInvalidAction
	}
	if s.LocalID == 0 && s.RemoteID == 0 {
		return ErrMissingTarget
	}
	if len(s.Payload) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	if len(s.Payload) > 0 && !json.Valid(s.Payload) {
		return ErrInvalidPayload
	}
	return nil
}
