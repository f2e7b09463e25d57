package sync

import (
	"context"
	"strings"
	"testing"

	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/odoo"
)

func TestPushCreateSavesMapping(t *testing.T) {
	rpc := &fakeRPC{nextCreateID: 6}
	mappings := newFakeMappings()
	locks := newFakeLocks()
	mod := newTestModule()
	mod.local[42] = map[string]any{"name": "Ada", "email": "ada@example.com"}

	orch := newTestOrchestrator(rpc, mappings, locks, mod)
	res := orch.PushToRemote(context.Background(), "crm", "contact", job.ActionCreate, 42, 0, nil)

	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if res.EntityID != 7 {
		t.Fatalf("expected remote id 7, got %d", res.EntityID)
	}
	if rpc.createCalls != 1 {
		t.Fatalf("expected 1 create call, got %d", rpc.createCalls)
	}
	if got, ok, _ := mappings.GetRemoteID(context.Background(), "crm", "contact", 42); !ok || got != 7 {
		t.Fatalf("mapping not saved: got=%d ok=%v", got, ok)
	}
	if len(locks.names) != 1 || !strings.HasPrefix(locks.names[0], "wp4odoo_push_") {
		t.Fatalf("expected per-entity push lock, got %v", locks.names)
	}
}

func TestPushCreatePromotesToUpdateWhenMapped(t *testing.T) {
	rpc := &fakeRPC{}
	mappings := newFakeMappings()
	locks := newFakeLocks()
	mod := newTestModule()
	mod.local[42] = map[string]any{"name": "Ada"}
	_ = mappings.Save(context.Background(), "crm", "contact", 42, 9, "res.partner", "old")

	orch := newTestOrchestrator(rpc, mappings, locks, mod)
	res := orch.PushToRemote(context.Background(), "crm", "contact", job.ActionCreate, 42, 0, nil)

	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if rpc.createCalls != 0 || rpc.writeCalls != 1 {
		t.Fatalf("expected update, got creates=%d writes=%d", rpc.createCalls, rpc.writeCalls)
	}
	if res.EntityID != 9 {
		t.Fatalf("expected remote id 9, got %d", res.EntityID)
	}
}

func TestPushUpdateHashGuardSkipsWrite(t *testing.T) {
	rpc := &fakeRPC{}
	mappings := newFakeMappings()
	locks := newFakeLocks()
	mod := newTestModule()
	data := map[string]any{"name": "Ada"}
	mod.local[42] = data

	values, _ := mod.MapToRemote("contact", data)
	_ = mappings.Save(context.Background(), "crm", "contact", 42, 9, "res.partner", CanonicalHash(values))

	orch := newTestOrchestrator(rpc, mappings, locks, mod)
	res := orch.PushToRemote(context.Background(), "crm", "contact", job.ActionUpdate, 42, 9, nil)

	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if rpc.writeCalls != 0 {
		t.Fatalf("hash guard should have skipped the write, got %d calls", rpc.writeCalls)
	}
}

func TestPushCreateDedupDomainFindsOrphan(t *testing.T) {
	rpc := &fakeRPC{searchIDs: []int64{77}}
	mappings := newFakeMappings()
	locks := newFakeLocks()
	mod := newTestModule()
	mod.local[42] = map[string]any{"email": "ada@example.com"}
	mod.dedup = []any{[]any{"email", "=", "ada@example.com"}}

	orch := newTestOrchestrator(rpc, mappings, locks, mod)
	res := orch.PushToRemote(context.Background(), "crm", "contact", job.ActionCreate, 42, 0, nil)

	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if rpc.createCalls != 0 {
		t.Fatalf("dedup hit must not create, got %d create calls", rpc.createCalls)
	}
	if rpc.writeCalls != 1 {
		t.Fatalf("expected orphan update, got %d write calls", rpc.writeCalls)
	}
	if got, _, _ := mappings.GetRemoteID(context.Background(), "crm", "contact", 42); got != 77 {
		t.Fatalf("expected mapping to orphan 77, got %d", got)
	}
}

func TestPushCreateMappingSaveFailureCarriesEntityID(t *testing.T) {
	rpc := &fakeRPC{nextCreateID: 30}
	mappings := newFakeMappings()
	mappings.saveErr = errBoom
	locks := newFakeLocks()
	mod := newTestModule()
	mod.local[42] = map[string]any{"name": "Ada"}

	orch := newTestOrchestrator(rpc, mappings, locks, mod)
	res := orch.PushToRemote(context.Background(), "crm", "contact", job.ActionCreate, 42, 0, nil)

	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Kind != odoo.KindTransient {
		t.Fatalf("expected transient, got %v", res.Kind)
	}
	if res.EntityID != 31 {
		t.Fatalf("expected created id 31 on the result, got %d", res.EntityID)
	}
}

func TestPushCreateLockTimeoutIsTransient(t *testing.T) {
	rpc := &fakeRPC{}
	locks := newFakeLocks()
	locks.held = false
	mod := newTestModule()
	mod.local[42] = map[string]any{"name": "Ada"}

	orch := newTestOrchestrator(rpc, newFakeMappings(), locks, mod)
	res := orch.PushToRemote(context.Background(), "crm", "contact", job.ActionCreate, 42, 0, nil)

	if res.OK || res.Kind != odoo.KindTransient {
		t.Fatalf("expected transient lock timeout, got ok=%v kind=%v", res.OK, res.Kind)
	}
	if rpc.createCalls != 0 {
		t.Fatal("must not create without the lock")
	}
}

func TestPushDeleteUnlinksAndRemovesMapping(t *testing.T) {
	rpc := &fakeRPC{}
	mappings := newFakeMappings()
	mod := newTestModule()
	_ = mappings.Save(context.Background(), "crm", "contact", 42, 9, "res.partner", "h")

	orch := newTestOrchestrator(rpc, mappings, newFakeLocks(), mod)
	res := orch.PushToRemote(context.Background(), "crm", "contact", job.ActionDelete, 42, 0, nil)

	if !res.OK {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if rpc.unlinkCalls != 1 {
		t.Fatalf("expected 1 unlink, got %d", rpc.unlinkCalls)
	}
	if _, ok, _ := mappings.GetRemoteID(context.Background(), "crm", "contact", 42); ok {
		t.Fatal("mapping should be gone")
	}
}

func TestPushUnknownModuleIsPermanent(t *testing.T) {
	orch := newTestOrchestrator(&fakeRPC{}, newFakeMappings(), newFakeLocks())
	res := orch.PushToRemote(context.Background(), "nope", "contact", job.ActionCreate, 1, 0, nil)

	if res.OK || res.Kind != odoo.KindPermanent {
		t.Fatalf("expected permanent failure, got ok=%v kind=%v", res.OK, res.Kind)
	}
}

func TestPushMissingLocalDataIsPermanent(t *testing.T) {
	mod := newTestModule()
	orch := newTestOrchestrator(&fakeRPC{}, newFakeMappings(), newFakeLocks(), mod)
	res := orch.PushToRemote(context.Background(), "crm", "contact", job.ActionCreate, 404, 0, nil)

	if res.OK || res.Kind != odoo.KindPermanent {
		t.Fatalf("expected permanent, got ok=%v kind=%v", res.OK, res.Kind)
	}
}
