package job

import (
	"time"

	"github.com/google/uuid"
)

// a Job is one unit of sync work queued against the remote system.
// this maps to the sync_jobs table

type Job struct {
	ID            int64      `json:"id"`
	CorrelationID string     `json:"correlationId"`
	Module        string     `json:"module"`
	Direction     Direction  `json:"direction"`
	EntityType    string     `json:"entityType"`
	LocalID       uint64     `json:"localId"`
	RemoteID      uint64     `json:"remoteId"`
	Action        Action     `json:"action"`
	Payload       []byte     `json:"payload,omitempty"` // raw json
	Priority      int        `json:"priority"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"maxAttempts"`
	LastError     *string    `json:"lastError,omitempty"`
	ScheduledAt   *time.Time `json:"scheduledAt,omitempty"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

const (
	DefaultMaxAttempts = 3
	DefaultPriority    = 5

	MinPriority = 1
	MaxPriority = 10

	// hard cap on the stored payload blob
	MaxPayloadBytes = 1 << 20
)

// creation of a new pending job from a validated spec.

func New(spec Spec) (Job, error) {
	if err := spec.Validate(); err != nil {
		return Job{}, err
	}

	now := time.Now().UTC()

	if spec.Priority == 0 {
		spec.Priority = DefaultPriority
	}

	j := Job{
		CorrelationID: uuid.NewString(),
		Module:        spec.Module,
		Direction:     spec.Direction,
		EntityType:    spec.EntityType,
		LocalID:       spec.LocalID,
		RemoteID:      spec.RemoteID,
		Action:        spec.Action,
		Payload:       spec.Payload,
		Priority:      ClampPriority(spec.Priority),
		Status:        StatusPending,
		Attempts:      0,
		MaxAttempts:   spec.MaxAttempts,
		ScheduledAt:   spec.ScheduledAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if j.MaxAttempts <= 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}

	return j, nil
}

// ClampPriority forces a priority into the valid 1..10 band (lower runs first).
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// Terminal reports whether the job can no longer change state.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
