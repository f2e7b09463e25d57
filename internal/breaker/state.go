package breaker

import (
	"context"
	"time"
)

// State is what survives a process restart: the consecutive failed-batch
// count and when the circuit opened. UpdatedAt drives the hard TTL that
// auto-heals a breaker nobody ever records a success against.
type State struct {
	Failures  int       `json:"failures"`
	OpenedAt  time.Time `json:"openedAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s State) Open() bool {
	return !s.OpenedAt.IsZero()
}

// Store persists one breaker state document.
type Store interface {
	Load(ctx context.Context) (State, bool, error)
	Save(ctx context.Context, s State) error
	Clear(ctx context.Context) error
}

// Locker is the advisory-lock handle shape the breakers need; satisfied by
// locks.Lock, faked in tests.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) (bool, error)
}

// LockFactory builds a named lock with a timeout (0 = non-blocking try).
type LockFactory func(name string, timeout time.Duration) Locker

// Notifier receives open-transition alerts.
type Notifier interface {
	NotifyBreakerOpened(ctx context.Context, scope string, failures int)
}

// failedBatch applies the 0.8 failure-ratio rule to one batch.
func failedBatch(successes, failures int) bool {
	total := successes + failures
	if total == 0 {
		return false
	}
	return float64(failures)/float64(total) >= 0.8
}
