package sync

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/odoo"
)

// QueueStore is the slice of the job table the dispatch side writes to;
// satisfied by postgres.QueueRepo.
type QueueStore interface {
	Claim(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	RescheduleRetry(ctx context.Context, id int64, runAt time.Time, errMsg string) error
	SetRemoteID(ctx context.Context, id int64, remoteID uint64) error
}

// Backoff is the retry delay after the given (post-increment) attempt
// count: 2^attempts minutes plus up to a minute of jitter so concurrent
// workers do not retry in lockstep.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}

	delay := time.Duration(1<<attempts) * time.Minute
	delay += time.Duration(rand.Intn(60)) * time.Second
	return delay
}

// FailureHandler writes a job's failed result back into the queue: either a
// retry schedule or a terminal failure.
type FailureHandler struct {
	queue QueueStore
	log   *slog.Logger
}

func NewFailureHandler(queue QueueStore, log *slog.Logger) *FailureHandler {
	return &FailureHandler{queue: queue, log: log}
}

// Handle applies the retry policy to a failed job. Returns true when the job
// will retry, false when it is terminally failed.
func (h *FailureHandler) Handle(ctx context.Context, j job.Job, res Result) bool {
	// a remote record created before the failure must be remembered, or the
	// retry would create a duplicate
	if res.EntityID > 0 && j.RemoteID == 0 {
		if err := h.queue.SetRemoteID(ctx, j.ID, res.EntityID); err != nil {
			h.log.Warn("storing created remote id failed", "job_id", j.ID, "remote_id", res.EntityID, "error", err)
		}
	}

	retriable := res.Kind == odoo.KindTransient && j.Attempts+1 < j.MaxAttempts

	if retriable {
		runAt := time.Now().UTC().Add(Backoff(j.Attempts + 1))
		if err := h.queue.RescheduleRetry(ctx, j.ID, runAt, res.Message); err != nil {
			h.log.Warn("reschedule failed", "job_id", j.ID, "error", err)
		}
		h.log.Info("job scheduled for retry",
			"job_id", j.ID, "correlation_id", j.CorrelationID, "module", j.Module,
			"attempt", j.Attempts+1, "run_at", runAt, "error", res.Message)
		return true
	}

	if err := h.queue.MarkFailed(ctx, j.ID, res.Message); err != nil {
		h.log.Warn("mark failed failed", "job_id", j.ID, "error", err)
	}
	h.log.Error("job failed terminally",
		"job_id", j.ID, "correlation_id", j.CorrelationID, "module", j.Module,
		"kind", res.Kind.String(), "error", res.Message)
	return false
}
