package sync

import (
	"context"
	"testing"
	"time"

	"github.com/wp4odoo/bridge/internal/domain/job"
)

func TestBackoffRange(t *testing.T) {
	// 2^3 minutes plus up to a minute of jitter
	for i := 0; i < 50; i++ {
		d := Backoff(3)
		if d < 8*time.Minute || d >= 9*time.Minute {
			t.Fatalf("attempt 3 backoff out of range: %v", d)
		}
	}
}

func TestBackoffClamps(t *testing.T) {
	if d := Backoff(-1); d < time.Minute {
		t.Fatalf("negative attempts should clamp to base delay, got %v", d)
	}
	if d := Backoff(100); d > (1<<10)*time.Minute+time.Minute {
		t.Fatalf("attempt cap violated: %v", d)
	}
}

func TestHandleTransientSchedulesRetry(t *testing.T) {
	q := newFakeQueue()
	h := NewFailureHandler(q, testLogger())

	j := pushJob(1, 42, job.ActionUpdate)
	j.Attempts = 0

	if retry := h.Handle(context.Background(), j, Transient("remote hiccup")); !retry {
		t.Fatal("first transient failure should retry")
	}
	runAt, ok := q.rescheduled[1]
	if !ok {
		t.Fatal("job not rescheduled")
	}
	if until := time.Until(runAt); until < time.Minute || until > 3*time.Minute {
		t.Fatalf("first retry delay out of range: %v", until)
	}
	if _, failed := q.failed[1]; failed {
		t.Fatal("retrying job must not be marked failed")
	}
}

func TestHandlePermanentFailsImmediately(t *testing.T) {
	q := newFakeQueue()
	h := NewFailureHandler(q, testLogger())

	j := pushJob(1, 42, job.ActionUpdate)
	if retry := h.Handle(context.Background(), j, Permanent("validation error")); retry {
		t.Fatal("permanent failure must not retry")
	}
	if q.failed[1] != "validation error" {
		t.Fatalf("expected terminal failure, got %q", q.failed[1])
	}
}

func TestHandleExhaustedAttemptsFails(t *testing.T) {
	q := newFakeQueue()
	h := NewFailureHandler(q, testLogger())

	j := pushJob(1, 42, job.ActionUpdate)
	j.Attempts = j.MaxAttempts - 1

	if retry := h.Handle(context.Background(), j, Transient("still broken")); retry {
		t.Fatal("exhausted job must not retry")
	}
	if _, ok := q.failed[1]; !ok {
		t.Fatal("exhausted job should be marked failed")
	}
}

func TestHandlePersistsCreatedRemoteID(t *testing.T) {
	q := newFakeQueue()
	h := NewFailureHandler(q, testLogger())

	j := pushJob(1, 42, job.ActionCreate)
	h.Handle(context.Background(), j, TransientWithEntity("mapping save failed", 77))

	if q.remoteIDs[1] != 77 {
		t.Fatalf("created remote id not persisted, got %d", q.remoteIDs[1])
	}
}

func TestHandleDoesNotOverwriteExistingRemoteID(t *testing.T) {
	q := newFakeQueue()
	h := NewFailureHandler(q, testLogger())

	j := pushJob(1, 42, job.ActionUpdate)
	j.RemoteID = 9
	h.Handle(context.Background(), j, TransientWithEntity("late failure", 77))

	if _, ok := q.remoteIDs[1]; ok {
		t.Fatal("jobs with a remote id must keep it")
	}
}
