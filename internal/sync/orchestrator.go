package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wp4odoo/bridge/internal/module"
	"github.com/wp4odoo/bridge/internal/odoo"
)

// MappingStore is the identity anchor the orchestrator consults; satisfied
// by postgres.MappingsRepo and by the in-memory fake in tests.
type MappingStore interface {
	GetRemoteID(ctx context.Context, module, entityType string, localID uint64) (uint64, bool, error)
	BatchGetRemoteIDs(ctx context.Context, module, entityType string, localIDs []uint64) (map[uint64]uint64, error)
	GetSyncHash(ctx context.Context, module, entityType string, localID uint64) (string, bool, error)
	GetLocalID(ctx context.Context, module, entityType string, remoteID uint64) (uint64, bool, error)
	Save(ctx context.Context, module, entityType string, localID, remoteID uint64, remoteModel, syncHash string) error
	Remove(ctx context.Context, module, entityType string, localID uint64) error
	RemoveByRemote(ctx context.Context, module, entityType string, remoteID uint64) error
}

// LockManager hands out scoped named locks; satisfied by locks.Factory.
type LockManager interface {
	WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) (bool, error)
}

const pushLockTimeout = 5 * time.Second

// Orchestrator drives one job at a time against the remote. All cross-
// process safety comes from the database (queue claims, mappings, advisory
// locks); the in-memory state here is per-batch caching and the
// non-authoritative import guard.
type Orchestrator struct {
	rpc      odoo.Client
	mappings MappingStore
	locks    LockManager
	resolve  module.Resolver
	log      *slog.Logger

	// multiCompany injects company_id into pushed values when absent.
	multiCompany bool

	mu            sync.Mutex
	companyID     int64
	companyProbed bool
	importing     map[string]int

	pull *TranslationBuffer
}

func NewOrchestrator(rpc odoo.Client, mappings MappingStore, lm LockManager, resolve module.Resolver, multiCompany bool, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		rpc:          rpc,
		mappings:     mappings,
		locks:        lm,
		resolve:      resolve,
		multiCompany: multiCompany,
		log:          log,
		importing:    make(map[string]int),
		pull:         NewTranslationBuffer(0),
	}
}

// ResetBatch drops per-batch caches; the scheduler calls it at the top of
// every run so a stale company id never outlives one batch.
func (o *Orchestrator) ResetBatch() {
	o.mu.Lock()
	o.companyProbed = false
	o.companyID = 0
	o.mu.Unlock()
}

// Translations exposes the pull buffer for end-of-batch flushing.
func (o *Orchestrator) Translations() *TranslationBuffer {
	return o.pull
}

// IsImporting reports the process-local import guard for a module. Producers
// use it to skip re-enqueueing hook fires caused by our own local writes.
// Non-authoritative: the queue dedup is the real guard.
func (o *Orchestrator) IsImporting(moduleID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.importing[moduleID] > 0
}

func (o *Orchestrator) beginImport(moduleID string) {
	o.mu.Lock()
	o.importing[moduleID]++
	o.mu.Unlock()
}

func (o *Orchestrator) endImport(moduleID string) {
	o.mu.Lock()
	if o.importing[moduleID] > 0 {
		o.importing[moduleID]--
	}
	o.mu.Unlock()
}

// companyIDForBatch probes the remote once per batch.
func (o *Orchestrator) companyIDForBatch(ctx context.Context) int64 {
	o.mu.Lock()
	if o.companyProbed {
		id := o.companyID
		o.mu.Unlock()
		return id
	}
	o.mu.Unlock()

	id, err := o.rpc.CompanyID(ctx)
	if err != nil {
		o.log.Warn("company id probe failed", "error", err)
		id = 0
	}

	o.mu.Lock()
	o.companyID = id
	o.companyProbed = true
	o.mu.Unlock()
	return id
}
