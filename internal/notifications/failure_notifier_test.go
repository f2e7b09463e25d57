package notifications

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/wp4odoo/bridge/internal/config"
)

type memStore struct {
	kv map[string]string
}

func newMemStore() *memStore { return &memStore{kv: map[string]string{}} }

func (s *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *memStore) Set(ctx context.Context, key, value string) error {
	s.kv[key] = value
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	delete(s.kv, key)
	return nil
}

type memSink struct {
	alerts []Alert
}

func (s *memSink) Send(ctx context.Context, a Alert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

func newTestNotifier() (*FailureNotifier, *memStore, *memSink) {
	store := newMemStore()
	sink := &memSink{}
	settings := config.NewService(store, "")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFailureNotifier(settings, store, nil, sink, log), store, sink
}

func TestCheckHealthyBatchResetsCounter(t *testing.T) {
	n, store, sink := newTestNotifier()
	store.kv[config.KeyConsecutiveFailures] = "7"

	n.Check(context.Background(), 10, 1)

	if _, ok := store.kv[config.KeyConsecutiveFailures]; ok {
		t.Fatal("healthy batch should clear the counter")
	}
	if len(sink.alerts) != 0 {
		t.Fatalf("no alert expected, got %v", sink.alerts)
	}
}

func TestCheckAccumulatesAcrossBatches(t *testing.T) {
	n, store, sink := newTestNotifier()
	ctx := context.Background()

	n.Check(ctx, 0, 6)
	if len(sink.alerts) != 0 {
		t.Fatal("below the default threshold of 10, no alert yet")
	}
	if store.kv[config.KeyConsecutiveFailures] != "6" {
		t.Fatalf("counter not persisted: %q", store.kv[config.KeyConsecutiveFailures])
	}

	n.Check(ctx, 0, 5)
	if len(sink.alerts) != 1 {
		t.Fatalf("crossing the threshold should alert once, got %d", len(sink.alerts))
	}
	if sink.alerts[0].Severity != SeverityCritical {
		t.Fatalf("threshold alert should be critical, got %s", sink.alerts[0].Severity)
	}
}

func TestCheckCustomThreshold(t *testing.T) {
	n, store, sink := newTestNotifier()
	store.kv[config.KeyFailureThreshold] = "3"

	n.Check(context.Background(), 0, 3)

	if len(sink.alerts) != 1 {
		t.Fatalf("configured threshold of 3 should trigger, got %d alerts", len(sink.alerts))
	}
}

func TestCheckMixedBatchBelowRatioCountsAsHealthy(t *testing.T) {
	n, store, _ := newTestNotifier()
	store.kv[config.KeyConsecutiveFailures] = "4"

	// 7 of 10 failed is under the 0.8 cutoff
	n.Check(context.Background(), 3, 7)

	if _, ok := store.kv[config.KeyConsecutiveFailures]; ok {
		t.Fatal("batch under the failure ratio should reset the counter")
	}
}

func TestCheckEmptyBatchIsIgnored(t *testing.T) {
	n, store, _ := newTestNotifier()
	store.kv[config.KeyConsecutiveFailures] = "4"

	n.Check(context.Background(), 0, 0)

	if store.kv[config.KeyConsecutiveFailures] != "4" {
		t.Fatal("empty batch must not touch the counter")
	}
}

func TestNotifyBreakerOpened(t *testing.T) {
	n, _, sink := newTestNotifier()

	n.NotifyBreakerOpened(context.Background(), "crm", 5)

	if len(sink.alerts) != 1 || sink.alerts[0].Title != "circuit breaker opened" {
		t.Fatalf("unexpected alerts: %v", sink.alerts)
	}
}

func TestNotifyQueueDepthSeverityPassthrough(t *testing.T) {
	n, _, sink := newTestNotifier()

	n.NotifyQueueDepth(context.Background(), 1500, SeverityWarning)
	n.NotifyQueueDepth(context.Background(), 6000, SeverityCritical)

	if len(sink.alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(sink.alerts))
	}
	if sink.alerts[0].Severity != SeverityWarning || sink.alerts[1].Severity != SeverityCritical {
		t.Fatalf("severities not carried through: %v", sink.alerts)
	}
}

func TestCounterSurvivesGarbage(t *testing.T) {
	n, store, _ := newTestNotifier()
	store.kv[config.KeyConsecutiveFailures] = "not a number"

	n.Check(context.Background(), 0, 2)

	got, _ := strconv.Atoi(store.kv[config.KeyConsecutiveFailures])
	if got != 2 {
		t.Fatalf("garbage counter should restart from zero, got %d", got)
	}
}
