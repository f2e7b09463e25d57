package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Modules is the per-module circuit map. A tripped module is silently
// skipped by the scheduler while the rest keep draining. Thresholds are
// looser than the global circuit: five failed batches, 600 s recovery,
// 2 h auto-reset.

const (
	moduleThreshold = 5
	moduleRecovery  = 600 * time.Second
	moduleTTL       = 2 * time.Hour

	moduleProbePrefix = "wp4odoo_cb_probe_"
)

// MapStore persists the moduleID -> State document.
type MapStore interface {
	LoadAll(ctx context.Context) (map[string]State, error)
	SaveAll(ctx context.Context, states map[string]State) error
}

type Modules struct {
	store    MapStore
	locks    LockFactory
	notifier Notifier
	log      *slog.Logger

	threshold int
	recovery  time.Duration
	ttl       time.Duration

	mu     sync.Mutex
	probes map[string]Locker
}

func NewModules(store MapStore, locks LockFactory, notifier Notifier, log *slog.Logger) *Modules {
	return &Modules{
		store:     store,
		locks:     locks,
		notifier:  notifier,
		log:       log,
		threshold: moduleThreshold,
		recovery:  moduleRecovery,
		ttl:       moduleTTL,
		probes:    make(map[string]Locker),
	}
}

func (m *Modules) IsAvailable(ctx context.Context, moduleID string) bool {
	states, err := m.store.LoadAll(ctx)
	if err != nil {
		m.log.Warn("module breaker load failed, failing open", "module", moduleID, "error", err)
		return true
	}

	st, ok := states[moduleID]
	if !ok || !st.Open() {
		return true
	}

	if time.Since(st.UpdatedAt) >= m.ttl {
		delete(states, moduleID)
		if err := m.store.SaveAll(ctx, states); err != nil {
			m.log.Warn("module breaker ttl reset failed", "module", moduleID, "error", err)
		}
		m.log.Info("module breaker auto-reset after ttl", "module", moduleID)
		return true
	}

	if time.Since(st.OpenedAt) < m.recovery {
		return false
	}

	return m.tryProbe(ctx, moduleID)
}

func (m *Modules) tryProbe(ctx context.Context, moduleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.probes[moduleID]; held {
		return true
	}

	l := m.locks(moduleProbePrefix+moduleID, 0)
	got, err := l.Acquire(ctx)
	if err != nil || !got {
		return false
	}

	m.probes[moduleID] = l
	m.log.Info("module breaker half-open, probe admitted", "module", moduleID)
	return true
}

func (m *Modules) RecordBatch(ctx context.Context, moduleID string, successes, failures int) {
	if successes == 0 && failures == 0 {
		return
	}

	failed := failedBatch(successes, failures)
	probing := m.releaseProbe(ctx, moduleID)

	fl := m.locks(failureLockName, 5*time.Second)
	got, err := fl.Acquire(ctx)
	if err != nil || !got {
		m.log.Warn("breaker failure lock unavailable, recording without it", "error", err)
	} else {
		defer fl.Release(context.WithoutCancel(ctx))
	}

	states, err := m.store.LoadAll(ctx)
	if err != nil {
		m.log.Warn("module breaker load failed", "module", moduleID, "error", err)
		return
	}

	st := states[moduleID]

	if !failed {
		if st.Failures > 0 || st.Open() {
			delete(states, moduleID)
			if err := m.store.SaveAll(ctx, states); err != nil {
				m.log.Warn("module breaker reset failed", "module", moduleID, "error", err)
				return
			}
			m.log.Info("module breaker closed", "module", moduleID, "probe", probing)
		}
		return
	}

	now := time.Now().UTC()
	st.Failures++
	st.UpdatedAt = now

	opening := false
	if probing || (!st.Open() && st.Failures >= m.threshold) {
		st.OpenedAt = now
		opening = true
	}

	states[moduleID] = st
	if err := m.store.SaveAll(ctx, states); err != nil {
		m.log.Warn("module breaker save failed", "module", moduleID, "error", err)
		return
	}

	if opening {
		m.log.Error("module breaker opened", "module", moduleID, "failures", st.Failures, "probe", probing)
		if m.notifier != nil {
			m.notifier.NotifyBreakerOpened(ctx, moduleID, st.Failures)
		}
	}
}

func (m *Modules) releaseProbe(ctx context.Context, moduleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, held := m.probes[moduleID]
	if !held {
		return false
	}
	if _, err := l.Release(context.WithoutCancel(ctx)); err != nil {
		m.log.Warn("module breaker probe release failed", "module", moduleID, "error", err)
	}
	delete(m.probes, moduleID)
	return true
}

// Reset force-closes one module's circuit (operator surface).
func (m *Modules) Reset(ctx context.Context, moduleID string) error {
	m.releaseProbe(ctx, moduleID)

	states, err := m.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	if _, ok := states[moduleID]; !ok {
		return nil
	}
	delete(states, moduleID)
	return m.store.SaveAll(ctx, states)
}

// Snapshot returns state names per tripped module.
func (m *Modules) Snapshot(ctx context.Context) map[string]string {
	out := map[string]string{}
	states, err := m.store.LoadAll(ctx)
	if err != nil {
		return out
	}
	for id, st := range states {
		switch {
		case !st.Open():
			out[id] = "closed"
		case time.Since(st.OpenedAt) >= m.recovery:
			out[id] = "half_open"
		default:
			out[id] = "open"
		}
	}
	return out
}
