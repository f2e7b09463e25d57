package module

import (
	"context"
	"errors"
)

var (
	ErrModuleNotFound = errors.New("module not registered")
	ErrEntityNotFound = errors.New("local entity not found")
)

// Module is the contract a domain plug-in fulfills. The core never imports
// module concrete types; it receives a Resolver and works through this
// interface.
type Module interface {
	// ID is the stable module tag used on jobs, mappings and lock names.
	ID() string

	// Models maps entityType -> remote model name.
	Models() map[string]string

	LoadLocal(ctx context.Context, entityType string, localID uint64) (map[string]any, error)
	SaveLocal(ctx context.Context, entityType string, data map[string]any, localID uint64) (uint64, error)
	DeleteLocal(ctx context.Context, entityType string, localID uint64) (bool, error)

	MapToRemote(entityType string, local map[string]any) (map[string]any, error)
	MapFromRemote(entityType string, remote map[string]any) (map[string]any, error)
}

// DedupDomainer lets a module declare a remote-side query that identifies
// orphan records left by prior failed creates. Optional.
type DedupDomainer interface {
	DedupDomain(entityType string, values map[string]any) []any
}

// PullFilter lets a module skip remote records it does not own. Optional.
type PullFilter interface {
	FilterPull(entityType string, remote map[string]any) bool
}

// PostPullHook fires after a pulled entity is saved locally, for meta-module
// enrichment. Optional.
type PostPullHook interface {
	AfterPull(ctx context.Context, entityType string, localID uint64, remote map[string]any) error
}

// TranslationFlusher receives the remote->local id translations accumulated
// during a batch of pulls. Optional.
type TranslationFlusher interface {
	FlushPullTranslations(ctx context.Context, translations map[string]map[uint64]uint64) error
}

// UserBacked marks modules whose local entities are user accounts. Mapping
// orphan cleanup never deletes rows for such modules. Optional.
type UserBacked interface {
	UserBacked() bool
}

// Resolver is the closure injected into the scheduler and orchestrator; it
// breaks the module <-> dispatcher dependency cycle.
type Resolver func(moduleID string) (Module, bool)
