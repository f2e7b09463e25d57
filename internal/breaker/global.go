package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Global is the engine-wide circuit. Three consecutive failed batches open
// it; after the recovery window one probe batch is admitted under an
// advisory mutex, and that batch's outcome decides re-close or re-open.
//
// State lives in the shared store, so every worker process sees the same
// circuit; the counter increment is serialized by the failure lock to
// prevent lost updates after a cache flush.

const (
	globalThreshold = 3
	globalRecovery  = 300 * time.Second
	globalTTL       = time.Hour

	probeLockName   = "wp4odoo_cb_probe"
	failureLockName = "wp4odoo_cb_failure"
)

type Global struct {
	store    Store
	locks    LockFactory
	notifier Notifier
	log      *slog.Logger

	threshold int
	recovery  time.Duration
	ttl       time.Duration

	mu        sync.Mutex
	probeLock Locker // non-nil while this process holds the half-open probe
}

func NewGlobal(store Store, locks LockFactory, notifier Notifier, log *slog.Logger) *Global {
	return &Global{
		store:     store,
		locks:     locks,
		notifier:  notifier,
		log:       log,
		threshold: globalThreshold,
		recovery:  globalRecovery,
		ttl:       globalTTL,
	}
}

// IsAvailable reports whether the scheduler may run a batch. In half-open it
// returns true for exactly one caller cluster-wide: the probe holder.
func (g *Global) IsAvailable(ctx context.Context) bool {
	st, ok, err := g.store.Load(ctx)
	if err != nil {
		g.log.Warn("breaker state load failed, failing open", "error", err)
		return true
	}
	if !ok || !st.Open() {
		return true
	}

	// hard TTL: a breaker nobody records against must not stay open forever
	if time.Since(st.UpdatedAt) >= g.ttl {
		if err := g.store.Clear(ctx); err != nil {
			g.log.Warn("breaker ttl reset failed", "error", err)
		}
		g.log.Info("global breaker auto-reset after ttl")
		return true
	}

	if time.Since(st.OpenedAt) < g.recovery {
		return false
	}

	// half-open: admit a single probe
	return g.tryProbe(ctx)
}

func (g *Global) tryProbe(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.probeLock != nil {
		// this process already holds the probe
		return true
	}

	l := g.locks(probeLockName, 0)
	got, err := l.Acquire(ctx)
	if err != nil {
		g.log.Warn("breaker probe lock failed", "error", err)
		return false
	}
	if !got {
		return false
	}

	g.probeLock = l
	g.log.Info("global breaker half-open, probe admitted")
	return true
}

// RecordBatch feeds one batch outcome into the circuit. A healthy batch
// closes it; a failed batch (>= 0.8 failure ratio) pushes it toward or back
// into open.
func (g *Global) RecordBatch(ctx context.Context, successes, failures int) {
	if successes == 0 && failures == 0 {
		// a probe that found nothing to run proves nothing; hand the
		// slot back so another worker can probe
		g.releaseProbe(ctx)
		return
	}

	failed := failedBatch(successes, failures)
	probing := g.releaseProbe(ctx)

	// counter updates race across workers; the advisory lock makes the
	// read-modify-write atomic
	fl := g.locks(failureLockName, 5*time.Second)
	got, err := fl.Acquire(ctx)
	if err != nil || !got {
		g.log.Warn("breaker failure lock unavailable, recording without it", "error", err)
	} else {
		defer fl.Release(context.WithoutCancel(ctx))
	}

	st, _, err := g.store.Load(ctx)
	if err != nil {
		g.log.Warn("breaker state load failed", "error", err)
		return
	}

	if !failed {
		if st.Failures > 0 || st.Open() {
			if err := g.store.Clear(ctx); err != nil {
				g.log.Warn("breaker reset failed", "error", err)
				return
			}
			g.log.Info("global breaker closed", "probe", probing)
		}
		return
	}

	now := time.Now().UTC()
	st.Failures++
	st.UpdatedAt = now

	opening := false
	if probing || (!st.Open() && st.Failures >= g.threshold) {
		st.OpenedAt = now
		opening = true
	}

	if err := g.store.Save(ctx, st); err != nil {
		g.log.Warn("breaker state save failed", "error", err)
		return
	}

	if opening {
		g.log.Error("global breaker opened", "failures", st.Failures, "probe", probing)
		if g.notifier != nil {
			g.notifier.NotifyBreakerOpened(ctx, "global", st.Failures)
		}
	}
}

// releaseProbe drops the probe mutex if held; returns whether this batch was
// the probe.
func (g *Global) releaseProbe(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.probeLock == nil {
		return false
	}
	if _, err := g.probeLock.Release(context.WithoutCancel(ctx)); err != nil {
		g.log.Warn("breaker probe release failed", "error", err)
	}
	g.probeLock = nil
	return true
}

// Reset force-closes the circuit (operator surface).
func (g *Global) Reset(ctx context.Context) error {
	g.releaseProbe(ctx)
	return g.store.Clear(ctx)
}

// Snapshot returns the current state name and raw counters.
func (g *Global) Snapshot(ctx context.Context) (string, State) {
	st, ok, err := g.store.Load(ctx)
	if err != nil || !ok {
		return "closed", State{}
	}
	if !st.Open() {
		return "closed", st
	}
	if time.Since(st.OpenedAt) >= g.recovery {
		return "half_open", st
	}
	return "open", st
}
