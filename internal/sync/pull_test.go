package sync

import (
	"context"
	"testing"

	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/module"
	"github.com/wp4odoo/bridge/internal/odoo"
)

func TestPullCreatesLocalAndMapping(t *testing.T) {
	rpc := &fakeRPC{readRecords: []map[string]any{{"id": float64(9), "name": "Ada"}}}
	mappings := newFakeMappings()
	mod := newTestModule()

	orch := newTestOrchestrator(rpc, mappings, newFakeLocks(), mod)
	res := orch.PullFromRemote(context.Background(), "crm", "contact", job.ActionCreate, 9, 0, nil)

	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if rpc.readCalls != 1 {
		t.Fatalf("expected 1 read, got %d", rpc.readCalls)
	}

	localID, ok, _ := mappings.GetLocalID(context.Background(), "crm", "contact", 9)
	if !ok {
		t.Fatal("mapping not saved")
	}
	if _, exists := mod.local[localID]; !exists {
		t.Fatalf("local entity %d not saved", localID)
	}
}

func TestPullUpdateReusesMappedLocalID(t *testing.T) {
	rpc := &fakeRPC{readRecords: []map[string]any{{"name": "Ada v2"}}}
	mappings := newFakeMappings()
	mod := newTestModule()
	mod.local[55] = map[string]any{"name": "Ada"}
	_ = mappings.Save(context.Background(), "crm", "contact", 55, 9, "res.partner", "h")

	orch := newTestOrchestrator(rpc, mappings, newFakeLocks(), mod)
	res := orch.PullFromRemote(context.Background(), "crm", "contact", job.ActionUpdate, 9, 0, nil)

	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if got := mod.local[55]["name"]; got != "Ada v2" {
		t.Fatalf("local entity 55 not updated, name=%v", got)
	}
}

func TestPullPayloadSkipsRemoteRead(t *testing.T) {
	rpc := &fakeRPC{}
	mod := newTestModule()

	orch := newTestOrchestrator(rpc, newFakeMappings(), newFakeLocks(), mod)
	res := orch.PullFromRemote(context.Background(), "crm", "contact", job.ActionCreate, 9, 0,
		[]byte(`{"name":"Ada"}`))

	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if rpc.readCalls != 0 {
		t.Fatalf("payload provided, read should be skipped; got %d", rpc.readCalls)
	}
}

func TestPullMissingRemoteIsPermanent(t *testing.T) {
	rpc := &fakeRPC{} // Read returns nothing
	mod := newTestModule()

	orch := newTestOrchestrator(rpc, newFakeMappings(), newFakeLocks(), mod)
	res := orch.PullFromRemote(context.Background(), "crm", "contact", job.ActionUpdate, 9, 0, nil)

	if res.OK || res.Kind != odoo.KindPermanent {
		t.Fatalf("expected permanent, got ok=%v kind=%v", res.OK, res.Kind)
	}
}

func TestPullDeleteRemovesLocalAndMapping(t *testing.T) {
	mappings := newFakeMappings()
	mod := newTestModule()
	mod.local[55] = map[string]any{"name": "Ada"}
	_ = mappings.Save(context.Background(), "crm", "contact", 55, 9, "res.partner", "h")

	orch := newTestOrchestrator(&fakeRPC{}, mappings, newFakeLocks(), mod)
	res := orch.PullFromRemote(context.Background(), "crm", "contact", job.ActionDelete, 9, 0, nil)

	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if _, exists := mod.local[55]; exists {
		t.Fatal("local entity should be deleted")
	}
	if _, ok, _ := mappings.GetLocalID(context.Background(), "crm", "contact", 9); ok {
		t.Fatal("mapping should be gone")
	}
}

func TestPullDeleteUnknownMappingIsNoop(t *testing.T) {
	mod := newTestModule()
	orch := newTestOrchestrator(&fakeRPC{}, newFakeMappings(), newFakeLocks(), mod)

	res := orch.PullFromRemote(context.Background(), "crm", "contact", job.ActionDelete, 999, 0, nil)
	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
}

// filteringModule wraps testModule with a pull ownership filter.
type filteringModule struct {
	*testModule
	allow bool
}

func (m *filteringModule) FilterPull(entityType string, remote map[string]any) bool {
	return m.allow
}

func TestPullFilterSkipsForeignRecords(t *testing.T) {
	mod := &filteringModule{testModule: newTestModule(), allow: false}
	mappings := newFakeMappings()

	orch := NewOrchestrator(&fakeRPC{readRecords: []map[string]any{{"name": "x"}}},
		mappings, newFakeLocks(), resolverFor(mod), false, testLogger())

	res := orch.PullFromRemote(context.Background(), "crm", "contact", job.ActionCreate, 9, 0, nil)
	if !res.OK {
		t.Fatalf("filtered pull should report success, got %q", res.Message)
	}
	if len(mod.local) != 0 {
		t.Fatal("filtered record must not be saved locally")
	}
}

func TestImportGuardActiveDuringPull(t *testing.T) {
	mod := newTestModule()
	observed := false
	checker := &hookModule{testModule: mod}

	orch := newTestOrchestrator(&fakeRPC{}, newFakeMappings(), newFakeLocks(), checker)
	checker.onSave = func() { observed = orch.IsImporting("crm") }

	res := orch.PullFromRemote(context.Background(), "crm", "contact", job.ActionCreate, 9, 0,
		[]byte(`{"name":"Ada"}`))
	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if !observed {
		t.Fatal("import guard should be active while the pull saves locally")
	}
	if orch.IsImporting("crm") {
		t.Fatal("import guard should clear after the pull")
	}
}

type hookModule struct {
	*testModule
	onSave func()
}

func (m *hookModule) SaveLocal(ctx context.Context, entityType string, data map[string]any, localID uint64) (uint64, error) {
	if m.onSave != nil {
		m.onSave()
	}
	return m.testModule.SaveLocal(ctx, entityType, data, localID)
}

var _ module.Module = (*hookModule)(nil)
