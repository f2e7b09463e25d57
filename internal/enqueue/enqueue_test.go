package enqueue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wp4odoo/bridge/internal/cache"
	"github.com/wp4odoo/bridge/internal/config"
	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/notifications"
	"github.com/wp4odoo/bridge/internal/repo/postgres"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQueue struct {
	nextID     int64
	specs      []job.Spec
	deduped    bool
	depth      int64
	depthCalls int
	statsCalls int
	stats      postgres.Stats
}

func (q *fakeQueue) Enqueue(ctx context.Context, spec job.Spec) (job.Job, bool, error) {
	q.nextID++
	q.specs = append(q.specs, spec)
	j := job.Job{
		ID:         q.nextID,
		Module:     spec.Module,
		EntityType: spec.EntityType,
		Direction:  spec.Direction,
		Action:     spec.Action,
	}
	return j, q.deduped, nil
}

func (q *fakeQueue) Cancel(ctx context.Context, id int64) error { return nil }

func (q *fakeQueue) RetryFailed(ctx context.Context) (int64, error) { return 0, nil }

func (q *fakeQueue) Cleanup(ctx context.Context, daysOld int) (int64, error) { return 0, nil }

func (q *fakeQueue) Depth(ctx context.Context) (int64, error) {
	q.depthCalls++
	return q.depth, nil
}

func (q *fakeQueue) Stats(ctx context.Context) (postgres.Stats, error) {
	q.statsCalls++
	return q.stats, nil
}

func (q *fakeQueue) HealthMetrics(ctx context.Context) (postgres.HealthMetrics, error) {
	return postgres.HealthMetrics{}, nil
}

type memSettings struct {
	kv map[string]string
}

func (s *memSettings) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *memSettings) Set(ctx context.Context, key, value string) error {
	s.kv[key] = value
	return nil
}

func (s *memSettings) Delete(ctx context.Context, key string) error {
	delete(s.kv, key)
	return nil
}

type memSink struct {
	alerts []notifications.Alert
}

func (s *memSink) Send(ctx context.Context, a notifications.Alert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

func newTestEnqueuer(q *fakeQueue) (*Enqueuer, *memSink) {
	store := &memSettings{kv: map[string]string{}}
	sink := &memSink{}
	notifier := notifications.NewFailureNotifier(config.NewService(store, ""), store, nil, sink, testLogger())
	return New(q, notifier, nil, cache.New(time.Minute), testLogger()), sink
}

func pushSpec(localID uint64) job.Spec {
	return job.Spec{
		Module:     "crm",
		EntityType: "contact",
		Action:     job.ActionUpdate,
		LocalID:    localID,
	}
}

func TestEnqueuePushDebounces(t *testing.T) {
	q := &fakeQueue{}
	e, _ := newTestEnqueuer(q)

	before := time.Now().UTC()
	_, _, err := e.EnqueuePush(context.Background(), pushSpec(1))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	spec := q.specs[0]
	if spec.Direction != job.DirectionPush {
		t.Fatalf("direction not forced to push: %s", spec.Direction)
	}
	if spec.ScheduledAt == nil {
		t.Fatal("push without a schedule should be debounced")
	}
	delay := spec.ScheduledAt.Sub(before)
	if delay < 4*time.Second || delay > 6*time.Second {
		t.Fatalf("debounce delay out of range: %v", delay)
	}
}

func TestEnqueuePushKeepsExplicitSchedule(t *testing.T) {
	q := &fakeQueue{}
	e, _ := newTestEnqueuer(q)

	at := time.Now().UTC().Add(time.Hour)
	spec := pushSpec(1)
	spec.ScheduledAt = &at
	_, _, _ = e.EnqueuePush(context.Background(), spec)

	if !q.specs[0].ScheduledAt.Equal(at) {
		t.Fatalf("explicit schedule overwritten: %v", q.specs[0].ScheduledAt)
	}
}

func TestEnqueuePullRunsImmediately(t *testing.T) {
	q := &fakeQueue{}
	e, _ := newTestEnqueuer(q)

	spec := job.Spec{Module: "crm", EntityType: "contact", Action: job.ActionCreate, RemoteID: 5}
	_, _, _ = e.EnqueuePull(context.Background(), spec)

	got := q.specs[0]
	if got.Direction != job.DirectionPull {
		t.Fatalf("direction not forced to pull: %s", got.Direction)
	}
	if got.ScheduledAt != nil {
		t.Fatal("pulls must not be debounced")
	}
}

func TestDepthAlertAtWarningWatermark(t *testing.T) {
	q := &fakeQueue{depth: 1500}
	e, sink := newTestEnqueuer(q)

	_, _, _ = e.EnqueuePush(context.Background(), pushSpec(1))

	if len(sink.alerts) != 1 {
		t.Fatalf("expected one depth alert, got %d", len(sink.alerts))
	}
	if sink.alerts[0].Severity != notifications.SeverityWarning {
		t.Fatalf("1500 jobs is a warning, got %s", sink.alerts[0].Severity)
	}
}

func TestDepthAlertCritical(t *testing.T) {
	q := &fakeQueue{depth: 6000}
	e, sink := newTestEnqueuer(q)

	_, _, _ = e.EnqueuePush(context.Background(), pushSpec(1))

	if len(sink.alerts) != 1 || sink.alerts[0].Severity != notifications.SeverityCritical {
		t.Fatalf("expected critical depth alert, got %v", sink.alerts)
	}
}

func TestDepthNotCheckedBelowWatermark(t *testing.T) {
	q := &fakeQueue{depth: 10}
	e, sink := newTestEnqueuer(q)

	_, _, _ = e.EnqueuePush(context.Background(), pushSpec(1))

	if len(sink.alerts) != 0 {
		t.Fatalf("no alert expected at depth 10, got %v", sink.alerts)
	}
}

func TestDedupedEnqueueSkipsDepthCheck(t *testing.T) {
	q := &fakeQueue{depth: 6000, deduped: true}
	e, sink := newTestEnqueuer(q)

	_, deduped, _ := e.EnqueuePush(context.Background(), pushSpec(1))

	if !deduped {
		t.Fatal("dedup flag should pass through")
	}
	if q.depthCalls != 0 {
		t.Fatal("coalesced enqueues must not trigger the depth check")
	}
	if len(sink.alerts) != 0 {
		t.Fatalf("no alert expected, got %v", sink.alerts)
	}
}

func TestGetStatsIsCached(t *testing.T) {
	q := &fakeQueue{stats: postgres.Stats{Pending: 3}}
	e, _ := newTestEnqueuer(q)
	ctx := context.Background()

	s1, err := e.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	s2, _ := e.GetStats(ctx)

	if q.statsCalls != 1 {
		t.Fatalf("second read should hit the cache, got %d calls", q.statsCalls)
	}
	if s1.Pending != 3 || s2.Pending != 3 {
		t.Fatalf("unexpected stats: %+v %+v", s1, s2)
	}
}
