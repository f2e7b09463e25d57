package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wp4odoo/bridge/internal/domain/mapping"
	"github.com/wp4odoo/bridge/internal/module"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMappings struct {
	rows            []mapping.Mapping
	removedByRemote []uint64
	removedByLocal  []uint64
	polled          []uint64
	loadErr         error
}

func (f *fakeMappings) GetModuleEntityMappings(ctx context.Context, mod, entityType string) ([]mapping.Mapping, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	var out []mapping.Mapping
	for _, m := range f.rows {
		if m.Module == mod && m.EntityType == entityType {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMappings) MarkPolled(ctx context.Context, mod, entityType string, seenRemoteIDs []uint64, pollStart time.Time) error {
	f.polled = append(f.polled, seenRemoteIDs...)
	return nil
}

func (f *fakeMappings) RemoveByRemote(ctx context.Context, mod, entityType string, remoteID uint64) error {
	f.removedByRemote = append(f.removedByRemote, remoteID)
	return nil
}

func (f *fakeMappings) Remove(ctx context.Context, mod, entityType string, localID uint64) error {
	f.removedByLocal = append(f.removedByLocal, localID)
	return nil
}

// searchRPC answers existence queries from a fixed alive set.
type searchRPC struct {
	alive       map[int64]struct{}
	searchCalls int
	chunkLens   []int
}

func (r *searchRPC) Search(ctx context.Context, model string, domain []any, offset, limit int) ([]int64, error) {
	r.searchCalls++
	clause := domain[0].([]any)
	ids := clause[2].([]any)
	r.chunkLens = append(r.chunkLens, len(ids))

	var out []int64
	for _, raw := range ids {
		id := raw.(int64)
		if _, ok := r.alive[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *searchRPC) SearchCount(ctx context.Context, model string, domain []any) (int, error) {
	return 0, nil
}

func (r *searchRPC) SearchRead(ctx context.Context, model string, domain []any, fields []string, offset, limit int) ([]map[string]any, error) {
	return nil, nil
}

func (r *searchRPC) Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]any, error) {
	return nil, nil
}

func (r *searchRPC) Create(ctx context.Context, model string, values map[string]any) (int64, error) {
	return 0, nil
}

func (r *searchRPC) CreateBatch(ctx context.Context, model string, values []map[string]any) ([]int64, error) {
	return nil, nil
}

func (r *searchRPC) Write(ctx context.Context, model string, ids []int64, values map[string]any) error {
	return nil
}

func (r *searchRPC) Unlink(ctx context.Context, model string, ids []int64) error { return nil }

func (r *searchRPC) Execute(ctx context.Context, model, method string, args ...any) (any, error) {
	return nil, nil
}

func (r *searchRPC) CompanyID(ctx context.Context) (int64, error) { return 1, nil }

// localModule is a registry entry with an in-memory local store.
type localModule struct {
	id         string
	local      map[uint64]map[string]any
	loadErr    error
	userBacked bool
}

func (m *localModule) ID() string { return m.id }

func (m *localModule) Models() map[string]string {
	return map[string]string{"contact": "res.partner"}
}

func (m *localModule) LoadLocal(ctx context.Context, entityType string, localID uint64) (map[string]any, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	data, ok := m.local[localID]
	if !ok {
		return nil, module.ErrEntityNotFound
	}
	return data, nil
}

func (m *localModule) SaveLocal(ctx context.Context, entityType string, data map[string]any, localID uint64) (uint64, error) {
	return localID, nil
}

func (m *localModule) DeleteLocal(ctx context.Context, entityType string, localID uint64) (bool, error) {
	return false, nil
}

func (m *localModule) MapToRemote(entityType string, local map[string]any) (map[string]any, error) {
	return local, nil
}

func (m *localModule) MapFromRemote(entityType string, remote map[string]any) (map[string]any, error) {
	return remote, nil
}

func (m *localModule) UserBacked() bool { return m.userBacked }

func row(localID, remoteID uint64) mapping.Mapping {
	return mapping.Mapping{
		Module:      "crm",
		EntityType:  "contact",
		LocalID:     localID,
		RemoteID:    remoteID,
		RemoteModel: "res.partner",
	}
}

func newTestReconciler(maps *fakeMappings, rpc *searchRPC, mods ...module.Module) (*Reconciler, *module.Registry) {
	reg := module.NewRegistry()
	for _, m := range mods {
		reg.Register(m)
	}
	return New(maps, rpc, reg.Resolver(), testLogger()), reg
}

func TestRunReportsOrphans(t *testing.T) {
	maps := &fakeMappings{rows: []mapping.Mapping{row(1, 11), row(2, 12), row(3, 13)}}
	rpc := &searchRPC{alive: map[int64]struct{}{11: {}, 13: {}}}
	r, _ := newTestReconciler(maps, rpc, &localModule{id: "crm"})

	rep, err := r.Run(context.Background(), "crm", "contact", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if rep.Checked != 3 {
		t.Fatalf("checked = %d", rep.Checked)
	}
	if len(rep.Orphans) != 1 || rep.Orphans[0].RemoteID != 12 {
		t.Fatalf("unexpected orphans: %v", rep.Orphans)
	}
	if rep.Removed != 0 || len(maps.removedByRemote) != 0 {
		t.Fatal("report mode must not remove anything")
	}
	if len(maps.polled) != 2 {
		t.Fatalf("alive rows should be poll-stamped, got %v", maps.polled)
	}
}

func TestRunFixRemovesOrphans(t *testing.T) {
	maps := &fakeMappings{rows: []mapping.Mapping{row(1, 11), row(2, 12)}}
	rpc := &searchRPC{alive: map[int64]struct{}{11: {}}}
	r, _ := newTestReconciler(maps, rpc, &localModule{id: "crm"})

	rep, err := r.Run(context.Background(), "crm", "contact", true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if rep.Removed != 1 {
		t.Fatalf("removed = %d", rep.Removed)
	}
	if len(maps.removedByRemote) != 1 || maps.removedByRemote[0] != 12 {
		t.Fatalf("wrong rows removed: %v", maps.removedByRemote)
	}
}

func TestRunChunksRemoteQueries(t *testing.T) {
	maps := &fakeMappings{rows: []mapping.Mapping{
		row(1, 11), row(2, 12), row(3, 13), row(4, 14), row(5, 15),
	}}
	rpc := &searchRPC{alive: map[int64]struct{}{11: {}, 12: {}, 13: {}, 14: {}, 15: {}}}
	r, _ := newTestReconciler(maps, rpc, &localModule{id: "crm"})
	r.SetChunkSize(2)

	rep, err := r.Run(context.Background(), "crm", "contact", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if rpc.searchCalls != 3 {
		t.Fatalf("expected 3 chunks, got %d", rpc.searchCalls)
	}
	if rpc.chunkLens[0] != 2 || rpc.chunkLens[2] != 1 {
		t.Fatalf("bad chunk sizes: %v", rpc.chunkLens)
	}
	if len(rep.Orphans) != 0 {
		t.Fatalf("all alive, got orphans: %v", rep.Orphans)
	}
}

func TestRunUnknownModuleFails(t *testing.T) {
	r, _ := newTestReconciler(&fakeMappings{}, &searchRPC{}, &localModule{id: "crm"})

	if _, err := r.Run(context.Background(), "nope", "contact", false); err == nil {
		t.Fatal("unknown module should fail")
	}
	if _, err := r.Run(context.Background(), "crm", "invoice", false); err == nil {
		t.Fatal("unknown entity type should fail")
	}
}

func TestCleanupOrphansSweepsMissingLocals(t *testing.T) {
	maps := &fakeMappings{rows: []mapping.Mapping{row(1, 11), row(2, 12)}}
	mod := &localModule{id: "crm", local: map[uint64]map[string]any{1: {"name": "a"}}}
	r, reg := newTestReconciler(maps, &searchRPC{}, mod)

	rep, err := r.CleanupOrphans(context.Background(), reg, "", false)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if rep.Scanned != 2 || rep.Orphans != 1 || rep.Removed != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(maps.removedByLocal) != 1 || maps.removedByLocal[0] != 2 {
		t.Fatalf("wrong local rows removed: %v", maps.removedByLocal)
	}
}

func TestCleanupOrphansDryRun(t *testing.T) {
	maps := &fakeMappings{rows: []mapping.Mapping{row(1, 11)}}
	mod := &localModule{id: "crm"}
	r, reg := newTestReconciler(maps, &searchRPC{}, mod)

	rep, err := r.CleanupOrphans(context.Background(), reg, "", true)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if rep.Orphans != 1 || rep.Removed != 0 {
		t.Fatalf("dry run must only count: %+v", rep)
	}
	if len(maps.removedByLocal) != 0 {
		t.Fatal("dry run must not remove rows")
	}
}

func TestCleanupOrphansSkipsUserBackedModules(t *testing.T) {
	maps := &fakeMappings{rows: []mapping.Mapping{row(1, 11)}}
	mod := &localModule{id: "accounts", userBacked: true}
	r, reg := newTestReconciler(maps, &searchRPC{}, mod)

	rep, err := r.CleanupOrphans(context.Background(), reg, "", false)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if rep.Scanned != 0 {
		t.Fatalf("user-backed module must not be scanned: %+v", rep)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0] != "accounts" {
		t.Fatalf("skip not reported: %v", rep.Skipped)
	}
}

func TestCleanupOrphansTransientLoadErrorAborts(t *testing.T) {
	maps := &fakeMappings{rows: []mapping.Mapping{row(1, 11)}}
	mod := &localModule{id: "crm", loadErr: errors.New("db timeout")}
	r, reg := newTestReconciler(maps, &searchRPC{}, mod)

	if _, err := r.CleanupOrphans(context.Background(), reg, "", false); err == nil {
		t.Fatal("store trouble must abort, not delete")
	}
	if len(maps.removedByLocal) != 0 {
		t.Fatal("nothing may be removed on store errors")
	}
}

func TestCleanupOrphansUnknownFilterFails(t *testing.T) {
	r, reg := newTestReconciler(&fakeMappings{}, &searchRPC{}, &localModule{id: "crm"})

	if _, err := r.CleanupOrphans(context.Background(), reg, "nope", false); err == nil {
		t.Fatal("unknown module filter should fail")
	}
}
