package enqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/wp4odoo/bridge/internal/cache"
	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/notifications"
	"github.com/wp4odoo/bridge/internal/redisclient"
	"github.com/wp4odoo/bridge/internal/repo/postgres"
)

const (
	// pushes are debounced so a burst of local edits collapses into one job
	pushDebounce = 5 * time.Second

	depthWarn     = 1000
	depthCritical = 5000

	depthAlertKey   = "wp4odoo:alerts:queue_depth"
	depthAlertEvery = 5 * time.Minute

	statsTTL  = 10 * time.Second
	healthTTL = 5 * time.Minute
)

// Queue is the producer-facing slice of the job table; satisfied by
// postgres.QueueRepo.
type Queue interface {
	Enqueue(ctx context.Context, spec job.Spec) (job.Job, bool, error)
	Cancel(ctx context.Context, id int64) error
	RetryFailed(ctx context.Context) (int64, error)
	Cleanup(ctx context.Context, daysOld int) (int64, error)
	Depth(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (postgres.Stats, error)
	HealthMetrics(ctx context.Context) (postgres.HealthMetrics, error)
}

// Enqueuer is the write-side API producers and the CLI talk to. Dedup happens
// inside the queue repo; this layer adds direction defaults, the push
// debounce and the depth alerts.
type Enqueuer struct {
	queue    Queue
	notifier *notifications.FailureNotifier
	redis    *redisclient.Client // optional
	cache    *cache.Cache        // optional
	log      *slog.Logger
}

func New(queue Queue, notifier *notifications.FailureNotifier, redis *redisclient.Client, c *cache.Cache, log *slog.Logger) *Enqueuer {
	return &Enqueuer{
		queue:    queue,
		notifier: notifier,
		redis:    redis,
		cache:    c,
		log:      log,
	}
}

// EnqueuePush queues a local change for delivery to the remote. The deduped
// return is true when an existing pending job absorbed this change. When no
// explicit schedule is given the job is debounced a few seconds into the
// future so rapid re-edits coalesce before a worker picks it up.
func (e *Enqueuer) EnqueuePush(ctx context.Context, spec job.Spec) (job.Job, bool, error) {
	spec.Direction = job.DirectionPush
	if spec.ScheduledAt == nil {
		at := time.Now().UTC().Add(pushDebounce)
		spec.ScheduledAt = &at
	}
	return e.enqueue(ctx, spec)
}

// EnqueuePull queues a remote change for import. Pulls run as soon as a
// worker is free; webhooks already arrive post-commit on the remote side.
func (e *Enqueuer) EnqueuePull(ctx context.Context, spec job.Spec) (job.Job, bool, error) {
	spec.Direction = job.DirectionPull
	return e.enqueue(ctx, spec)
}

func (e *Enqueuer) enqueue(ctx context.Context, spec job.Spec) (job.Job, bool, error) {
	j, deduped, err := e.queue.Enqueue(ctx, spec)
	if err != nil {
		return job.Job{}, false, err
	}

	if deduped {
		e.log.Debug("enqueue coalesced into existing job",
			"job_id", j.ID, "module", j.Module, "entity_type", j.EntityType, "direction", j.Direction)
	} else {
		e.log.Info("job enqueued",
			"job_id", j.ID, "correlation_id", j.CorrelationID,
			"module", j.Module, "entity_type", j.EntityType,
			"direction", j.Direction, "action", j.Action)
		e.checkDepth(ctx)
	}
	return j, deduped, nil
}

// checkDepth fires a throttled alert when the live queue grows past the
// warning or critical watermark. Best effort; never fails the enqueue.
func (e *Enqueuer) checkDepth(ctx context.Context) {
	depth, err := e.queue.Depth(ctx)
	if err != nil {
		e.log.Warn("queue depth check failed", "error", err)
		return
	}
	if depth < depthWarn {
		return
	}

	severity := notifications.SeverityWarning
	if depth >= depthCritical {
		severity = notifications.SeverityCritical
		e.log.Error("queue depth critical", "depth", depth)
	}

	if e.redis != nil && !e.redis.OnceWithin(ctx, depthAlertKey, depthAlertEvery) {
		return
	}
	if e.notifier != nil {
		e.notifier.NotifyQueueDepth(ctx, depth, severity)
	}
}

// Cancel removes a still-pending job.
func (e *Enqueuer) Cancel(ctx context.Context, id int64) error {
	return e.queue.Cancel(ctx, id)
}

// RetryFailed requeues every failed job with a fresh attempt budget.
func (e *Enqueuer) RetryFailed(ctx context.Context) (int64, error) {
	n, err := e.queue.RetryFailed(ctx)
	if err == nil && n > 0 {
		e.log.Info("failed jobs requeued", "count", n)
		e.invalidate()
	}
	return n, err
}

// Cleanup prunes terminal jobs older than the retention window.
func (e *Enqueuer) Cleanup(ctx context.Context, daysOld int) (int64, error) {
	n, err := e.queue.Cleanup(ctx, daysOld)
	if err == nil && n > 0 {
		e.log.Info("old jobs pruned", "count", n, "days", daysOld)
		e.invalidate()
	}
	return n, err
}

// GetStats returns queue counters, briefly cached.
func (e *Enqueuer) GetStats(ctx context.Context) (postgres.Stats, error) {
	if e.cache != nil {
		if v, ok := e.cache.Get(cache.KeyQueueStats); ok {
			return v.(postgres.Stats), nil
		}
	}
	s, err := e.queue.Stats(ctx)
	if err != nil {
		return postgres.Stats{}, err
	}
	if e.cache != nil {
		e.cache.SetTTL(cache.KeyQueueStats, s, statsTTL)
	}
	return s, nil
}

// GetHealthMetrics returns the 24 h digest, cached for five minutes because
// the underlying query scans the terminal rows.
func (e *Enqueuer) GetHealthMetrics(ctx context.Context) (postgres.HealthMetrics, error) {
	if e.cache != nil {
		if v, ok := e.cache.Get(cache.KeyHealthMetrics); ok {
			return v.(postgres.HealthMetrics), nil
		}
	}
	h, err := e.queue.HealthMetrics(ctx)
	if err != nil {
		return postgres.HealthMetrics{}, err
	}
	if e.cache != nil {
		e.cache.SetTTL(cache.KeyHealthMetrics, h, healthTTL)
	}
	return h, nil
}

func (e *Enqueuer) invalidate() {
	if e.cache != nil {
		e.cache.Delete(cache.KeyQueueStats)
		e.cache.Delete(cache.KeyHealthMetrics)
	}
}
