package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wp4odoo/bridge/internal/domain/mapping"
	"github.com/wp4odoo/bridge/internal/module"
	"github.com/wp4odoo/bridge/internal/odoo"
)

// defaultChunkSize bounds the id list shipped per remote existence query.
const defaultChunkSize = 200

// MappingSource is the read/cleanup slice of the mapping table the
// reconciler needs; satisfied by postgres.MappingsRepo.
type MappingSource interface {
	GetModuleEntityMappings(ctx context.Context, mod, entityType string) ([]mapping.Mapping, error)
	MarkPolled(ctx context.Context, mod, entityType string, seenRemoteIDs []uint64, pollStart time.Time) error
	RemoveByRemote(ctx context.Context, mod, entityType string, remoteID uint64) error
	Remove(ctx context.Context, mod, entityType string, localID uint64) error
}

// Report summarizes one reconciliation pass.
type Report struct {
	Module     string            `json:"module"`
	EntityType string            `json:"entityType"`
	Checked    int               `json:"checked"`
	Orphans    []mapping.Mapping `json:"orphans"`
	Removed    int               `json:"removed"`
}

// Reconciler compares the mapping table against remote truth and finds
// mappings whose remote record no longer exists.
type Reconciler struct {
	mappings  MappingSource
	rpc       odoo.Client
	resolve   module.Resolver
	log       *slog.Logger
	chunkSize int
}

func New(mappings MappingSource, rpc odoo.Client, resolve module.Resolver, log *slog.Logger) *Reconciler {
	return &Reconciler{
		mappings:  mappings,
		rpc:       rpc,
		resolve:   resolve,
		log:       log,
		chunkSize: defaultChunkSize,
	}
}

// SetChunkSize overrides the remote query chunk size; values below 1 keep
// the default.
func (r *Reconciler) SetChunkSize(n int) {
	if n > 0 {
		r.chunkSize = n
	}
}

// Run checks every mapping of (module, entityType) against the remote. With
// fix the orphaned rows are removed; otherwise they are only reported.
func (r *Reconciler) Run(ctx context.Context, moduleID, entityType string, fix bool) (Report, error) {
	rep := Report{Module: moduleID, EntityType: entityType}

	mod, ok := r.resolve(moduleID)
	if !ok {
		return rep, fmt.Errorf("module %q not registered", moduleID)
	}
	remoteModel, ok := mod.Models()[entityType]
	if !ok {
		return rep, fmt.Errorf("entity type %q not registered for module %q", entityType, moduleID)
	}

	maps, err := r.mappings.GetModuleEntityMappings(ctx, moduleID, entityType)
	if err != nil {
		return rep, fmt.Errorf("load mappings: %w", err)
	}
	rep.Checked = len(maps)
	if len(maps) == 0 {
		return rep, nil
	}

	pollStart := time.Now().UTC()
	alive := make(map[uint64]struct{}, len(maps))
	for start := 0; start < len(maps); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(maps) {
			end = len(maps)
		}

		chunk := make([]any, 0, end-start)
		for _, m := range maps[start:end] {
			chunk = append(chunk, int64(m.RemoteID))
		}

		ids, err := r.rpc.Search(ctx, remoteModel, []any{[]any{"id", "in", chunk}}, 0, 0)
		if err != nil {
			return rep, fmt.Errorf("remote existence query: %w", err)
		}
		for _, id := range ids {
			alive[uint64(id)] = struct{}{}
		}
	}

	seen := make([]uint64, 0, len(alive))
	for id := range alive {
		seen = append(seen, id)
	}
	if err := r.mappings.MarkPolled(ctx, moduleID, entityType, seen, pollStart); err != nil {
		r.log.Warn("poll stamp failed", "module", moduleID, "entity_type", entityType, "error", err)
	}

	for _, m := range maps {
		if _, ok := alive[m.RemoteID]; ok {
			continue
		}
		rep.Orphans = append(rep.Orphans, m)
		if !fix {
			continue
		}
		if err := r.mappings.RemoveByRemote(ctx, moduleID, entityType, m.RemoteID); err != nil {
			r.log.Warn("orphan mapping remove failed",
				"module", moduleID, "entity_type", entityType, "remote_id", m.RemoteID, "error", err)
			continue
		}
		rep.Removed++
	}

	r.log.Info("reconcile finished",
		"module", moduleID, "entity_type", entityType,
		"checked", rep.Checked, "orphans", len(rep.Orphans), "removed", rep.Removed, "fix", fix)
	return rep, nil
}
