package postgres

import (
	"testing"

	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/locks"
)

func pushSpec(localID uint64) job.Spec {
	return job.Spec{
		Module:     "crm",
		EntityType: "contact",
		Direction:  job.DirectionPush,
		Action:     job.ActionCreate,
		LocalID:    localID,
	}
}

func TestEnqueueLockNamePerIdentity(t *testing.T) {
	a := enqueueLockName(pushSpec(7))
	b := enqueueLockName(pushSpec(7))
	if a != b {
		t.Fatalf("same identity must map to the same lock: %q vs %q", a, b)
	}

	if a == enqueueLockName(pushSpec(8)) {
		t.Fatal("different local ids must not share a lock")
	}

	pull := pushSpec(7)
	pull.Direction = job.DirectionPull
	if a == enqueueLockName(pull) {
		t.Fatal("directions must not share a lock")
	}

	other := pushSpec(7)
	other.Module = "wc"
	if a == enqueueLockName(other) {
		t.Fatal("modules must not share a lock")
	}
}

func TestEnqueueLockNameIgnoresIntent(t *testing.T) {
	base := pushSpec(7)

	changed := pushSpec(7)
	changed.Action = job.ActionUpdate
	changed.Priority = 1
	changed.Payload = []byte(`{"name":"x"}`)

	if enqueueLockName(base) != enqueueLockName(changed) {
		t.Fatal("action, priority and payload must not change the lock identity")
	}
	if locks.Key(enqueueLockName(base)) != locks.Key(enqueueLockName(changed)) {
		t.Fatal("advisory keys must match for the same identity")
	}
}
