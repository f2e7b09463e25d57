package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/module"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRPC implements odoo.Client with canned answers and call counters.
type fakeRPC struct {
	mu stdsync.Mutex

	nextCreateID int64
	searchIDs    []int64
	readRecords  []map[string]any

	createErr error
	batchErr  error
	writeErr  error

	createCalls int
	batchCalls  int
	batchSizes  []int
	writeCalls  int
	unlinkCalls int
	searchCalls int
	readCalls   int
}

func (f *fakeRPC) Search(ctx context.Context, model string, domain []any, offset, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	return f.searchIDs, nil
}

func (f *fakeRPC) SearchCount(ctx context.Context, model string, domain []any) (int, error) {
	return len(f.searchIDs), nil
}

func (f *fakeRPC) SearchRead(ctx context.Context, model string, domain []any, fields []string, offset, limit int) ([]map[string]any, error) {
	return f.readRecords, nil
}

func (f *fakeRPC) Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	return f.readRecords, nil
}

func (f *fakeRPC) Create(ctx context.Context, model string, values map[string]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextCreateID++
	return f.nextCreateID, nil
}

func (f *fakeRPC) CreateBatch(ctx context.Context, model string, values []map[string]any) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	f.batchSizes = append(f.batchSizes, len(values))
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	ids := make([]int64, len(values))
	for i := range values {
		f.nextCreateID++
		ids[i] = f.nextCreateID
	}
	return ids, nil
}

func (f *fakeRPC) Write(ctx context.Context, model string, ids []int64, values map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	return f.writeErr
}

func (f *fakeRPC) Unlink(ctx context.Context, model string, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlinkCalls++
	return nil
}

func (f *fakeRPC) Execute(ctx context.Context, model, method string, args ...any) (any, error) {
	return nil, nil
}

func (f *fakeRPC) CompanyID(ctx context.Context) (int64, error) { return 0, nil }

// fakeMappings is an in-memory MappingStore.
type fakeMappings struct {
	mu stdsync.Mutex

	remoteByLocal map[string]uint64
	localByRemote map[string]uint64
	hashByLocal   map[string]string

	saveErr   error
	saveCalls int
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{
		remoteByLocal: map[string]uint64{},
		localByRemote: map[string]uint64{},
		hashByLocal:   map[string]string{},
	}
}

func mkey(module, entityType string, id uint64) string {
	return fmt.Sprintf("%s|%s|%d", module, entityType, id)
}

func (f *fakeMappings) GetRemoteID(ctx context.Context, module, entityType string, localID uint64) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.remoteByLocal[mkey(module, entityType, localID)]
	return id, ok, nil
}

func (f *fakeMappings) BatchGetRemoteIDs(ctx context.Context, module, entityType string, localIDs []uint64) (map[uint64]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]uint64, len(localIDs))
	for _, id := range localIDs {
		if remote, ok := f.remoteByLocal[mkey(module, entityType, id)]; ok {
			out[id] = remote
		}
	}
	return out, nil
}

func (f *fakeMappings) GetSyncHash(ctx context.Context, module, entityType string, localID uint64) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashByLocal[mkey(module, entityType, localID)]
	return h, ok, nil
}

func (f *fakeMappings) GetLocalID(ctx context.Context, module, entityType string, remoteID uint64) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.localByRemote[mkey(module, entityType, remoteID)]
	return id, ok, nil
}

func (f *fakeMappings) Save(ctx context.Context, module, entityType string, localID, remoteID uint64, remoteModel, syncHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.remoteByLocal[mkey(module, entityType, localID)] = remoteID
	f.localByRemote[mkey(module, entityType, remoteID)] = localID
	f.hashByLocal[mkey(module, entityType, localID)] = syncHash
	return nil
}

func (f *fakeMappings) Remove(ctx context.Context, module, entityType string, localID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := mkey(module, entityType, localID)
	if remote, ok := f.remoteByLocal[k]; ok {
		delete(f.localByRemote, mkey(module, entityType, remote))
	}
	delete(f.remoteByLocal, k)
	delete(f.hashByLocal, k)
	return nil
}

func (f *fakeMappings) RemoveByRemote(ctx context.Context, module, entityType string, remoteID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := mkey(module, entityType, remoteID)
	if local, ok := f.localByRemote[k]; ok {
		lk := mkey(module, entityType, local)
		delete(f.remoteByLocal, lk)
		delete(f.hashByLocal, lk)
	}
	delete(f.localByRemote, k)
	return nil
}

// fakeLocks always grants unless held is false; records requested names.
type fakeLocks struct {
	mu    stdsync.Mutex
	held  bool
	names []string
}

func newFakeLocks() *fakeLocks { return &fakeLocks{held: true} }

func (f *fakeLocks) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) (bool, error) {
	f.mu.Lock()
	f.names = append(f.names, name)
	held := f.held
	f.mu.Unlock()

	if !held {
		return false, nil
	}
	return true, fn(ctx)
}

// fakeQueue implements QueueStore and records transitions.
type fakeQueue struct {
	mu stdsync.Mutex

	claimed     map[int64]bool
	completed   map[int64]bool
	failed      map[int64]string
	rescheduled map[int64]time.Time
	remoteIDs   map[int64]uint64
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		claimed:     map[int64]bool{},
		completed:   map[int64]bool{},
		failed:      map[int64]string{},
		rescheduled: map[int64]time.Time{},
		remoteIDs:   map[int64]uint64{},
	}
}

func (f *fakeQueue) Claim(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func (f *fakeQueue) MarkCompleted(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = true
	return nil
}

func (f *fakeQueue) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = errMsg
	return nil
}

func (f *fakeQueue) RescheduleRetry(ctx context.Context, id int64, runAt time.Time, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled[id] = runAt
	return nil
}

func (f *fakeQueue) SetRemoteID(ctx context.Context, id int64, remoteID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteIDs[id] = remoteID
	return nil
}

// testModule is a minimal module with an in-memory store.
type testModule struct {
	id      string
	models  map[string]string
	local   map[uint64]map[string]any
	nextID  uint64
	dedup   []any
	loadErr error
}

func newTestModule() *testModule {
	return &testModule{
		id:     "crm",
		models: map[string]string{"contact": "res.partner"},
		local:  map[uint64]map[string]any{},
		nextID: 100,
	}
}

func (m *testModule) ID() string                { return m.id }
func (m *testModule) Models() map[string]string { return m.models }

func (m *testModule) LoadLocal(ctx context.Context, entityType string, localID uint64) (map[string]any, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	data, ok := m.local[localID]
	if !ok {
		return nil, module.ErrEntityNotFound
	}
	return data, nil
}

func (m *testModule) SaveLocal(ctx context.Context, entityType string, data map[string]any, localID uint64) (uint64, error) {
	if localID == 0 {
		m.nextID++
		localID = m.nextID
	}
	m.local[localID] = data
	return localID, nil
}

func (m *testModule) DeleteLocal(ctx context.Context, entityType string, localID uint64) (bool, error) {
	_, ok := m.local[localID]
	delete(m.local, localID)
	return ok, nil
}

func (m *testModule) MapToRemote(entityType string, local map[string]any) (map[string]any, error) {
	out := map[string]any{}
	for k, v := range local {
		out[k] = v
	}
	return out, nil
}

func (m *testModule) MapFromRemote(entityType string, remote map[string]any) (map[string]any, error) {
	out := map[string]any{}
	for k, v := range remote {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (m *testModule) DedupDomain(entityType string, values map[string]any) []any {
	return m.dedup
}

func resolverFor(mods ...module.Module) module.Resolver {
	byID := map[string]module.Module{}
	for _, m := range mods {
		byID[m.ID()] = m
	}
	return func(id string) (module.Module, bool) {
		m, ok := byID[id]
		return m, ok
	}
}

func newTestOrchestrator(rpc *fakeRPC, mappings *fakeMappings, locks *fakeLocks, mods ...module.Module) *Orchestrator {
	return NewOrchestrator(rpc, mappings, locks, resolverFor(mods...), false, testLogger())
}

var errBoom = errors.New("boom")

func pushJob(id int64, localID uint64, action job.Action) job.Job {
	return job.Job{
		ID:          id,
		Module:      "crm",
		EntityType:  "contact",
		Direction:   job.DirectionPush,
		Action:      action,
		LocalID:     localID,
		MaxAttempts: job.DefaultMaxAttempts,
	}
}
