package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/wp4odoo/bridge/internal/config"
	"github.com/wp4odoo/bridge/internal/redisclient"
)

// FailureNotifier counts consecutive sync failures across batches and sends
// a throttled alert when the configured threshold is first crossed. Any
// healthy batch resets the counter.
//
// The cooldown marker is claimed in redis *before* the side-effectful send,
// and the key is cluster-shared, so concurrent workers cannot double-alert.

const (
	cooldownKey = "wp4odoo:alerts:failures"
)

type FailureNotifier struct {
	settings *config.Service
	counter  config.Store
	redis    *redisclient.Client
	sink     Sink
	log      *slog.Logger
}

func NewFailureNotifier(settings *config.Service, counter config.Store, redis *redisclient.Client, sink Sink, log *slog.Logger) *FailureNotifier {
	return &FailureNotifier{
		settings: settings,
		counter:  counter,
		redis:    redis,
		sink:     sink,
		log:      log,
	}
}

// Check records one batch outcome. failures are only added when the batch is
// classified failed by the 0.8 ratio; a healthy batch zeroes the counter.
func (n *FailureNotifier) Check(ctx context.Context, successes, failures int) {
	total := successes + failures
	if total == 0 {
		return
	}

	if float64(failures)/float64(total) < 0.8 {
		n.setCounter(ctx, 0)
		return
	}

	count := n.getCounter(ctx) + failures
	n.setCounter(ctx, count)

	threshold := n.settings.FailureThreshold(ctx)
	if count < threshold {
		return
	}

	n.send(ctx, Alert{
		Severity: SeverityCritical,
		Title:    "sync failures over threshold",
		Body:     fmt.Sprintf("%d consecutive failures (threshold %d)", count, threshold),
	})
}

// NotifyBreakerOpened satisfies breaker.Notifier.
func (n *FailureNotifier) NotifyBreakerOpened(ctx context.Context, scope string, failures int) {
	n.send(ctx, Alert{
		Severity: SeverityCritical,
		Title:    "circuit breaker opened",
		Body:     fmt.Sprintf("scope=%s after %d failed batches", scope, failures),
	})
}

// NotifyQueueDepth is the enqueue-side depth alert.
func (n *FailureNotifier) NotifyQueueDepth(ctx context.Context, depth int64, severity Severity) {
	n.send(ctx, Alert{
		Severity: severity,
		Title:    "sync queue depth",
		Body:     fmt.Sprintf("queue depth at %d", depth),
	})
}

func (n *FailureNotifier) send(ctx context.Context, a Alert) {
	cooldown := n.settings.FailureCooldown(ctx)

	// claim the marker first; losing the race means another worker alerts
	if n.redis != nil && !n.redis.OnceWithin(ctx, cooldownKey+":"+a.Title, cooldown) {
		return
	}

	if err := n.sink.Send(ctx, a); err != nil {
		n.log.Warn("alert delivery failed", "title", a.Title, "error", err)
	}
}

func (n *FailureNotifier) getCounter(ctx context.Context) int {
	raw, ok, err := n.counter.Get(ctx, config.KeyConsecutiveFailures)
	if err != nil || !ok {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

func (n *FailureNotifier) setCounter(ctx context.Context, v int) {
	if v == 0 {
		if err := n.counter.Delete(ctx, config.KeyConsecutiveFailures); err != nil {
			n.log.Warn("failure counter reset failed", "error", err)
		}
		return
	}
	if err := n.counter.Set(ctx, config.KeyConsecutiveFailures, strconv.Itoa(v)); err != nil {
		n.log.Warn("failure counter update failed", "error", err)
	}
}

// LastAlertAgo reports how long ago the throttle window opened, for status
// output. Zero when no alert is in cooldown.
func (n *FailureNotifier) LastAlertAgo(ctx context.Context, title string) time.Duration {
	if n.redis == nil {
		return 0
	}
	raw, err := n.redis.GetString(ctx, cooldownKey+":"+title)
	if err != nil || raw == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0
	}
	return time.Since(t)
}
