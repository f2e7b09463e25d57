package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/wp4odoo/bridge/internal/module"
)

// CleanupReport summarizes a local orphan sweep.
type CleanupReport struct {
	Scanned int      `json:"scanned"`
	Orphans int      `json:"orphans"`
	Removed int      `json:"removed"`
	Skipped []string `json:"skippedModules,omitempty"`
	DryRun  bool     `json:"dryRun"`
}

// CleanupOrphans removes mapping rows whose local entity no longer exists.
// moduleFilter narrows the sweep to one module; empty means all registered
// modules. User-backed modules are skipped, their local rows are accounts we
// must never judge deleted from here.
func (r *Reconciler) CleanupOrphans(ctx context.Context, registry *module.Registry, moduleFilter string, dryRun bool) (CleanupReport, error) {
	rep := CleanupReport{DryRun: dryRun}

	ids := registry.IDs()
	if moduleFilter != "" {
		if _, ok := registry.Get(moduleFilter); !ok {
			return rep, fmt.Errorf("module %q not registered", moduleFilter)
		}
		ids = []string{moduleFilter}
	}

	for _, id := range ids {
		mod, _ := registry.Get(id)
		if ub, ok := mod.(module.UserBacked); ok && ub.UserBacked() {
			rep.Skipped = append(rep.Skipped, id)
			continue
		}

		for entityType := range mod.Models() {
			if err := r.sweepLocal(ctx, mod, id, entityType, dryRun, &rep); err != nil {
				return rep, err
			}
		}
	}

	r.log.Info("orphan cleanup finished",
		"scanned", rep.Scanned, "orphans", rep.Orphans, "removed", rep.Removed,
		"dry_run", dryRun, "module", moduleFilter)
	return rep, nil
}

func (r *Reconciler) sweepLocal(ctx context.Context, mod module.Module, moduleID, entityType string, dryRun bool, rep *CleanupReport) error {
	maps, err := r.mappings.GetModuleEntityMappings(ctx, moduleID, entityType)
	if err != nil {
		return fmt.Errorf("load mappings for %s/%s: %w", moduleID, entityType, err)
	}

	for _, m := range maps {
		rep.Scanned++

		_, err := mod.LoadLocal(ctx, entityType, m.LocalID)
		if err == nil {
			continue
		}
		if !errors.Is(err, module.ErrEntityNotFound) {
			// transient store trouble must not look like a deleted entity
			return fmt.Errorf("load local %s/%s/%d: %w", moduleID, entityType, m.LocalID, err)
		}

		rep.Orphans++
		if dryRun {
			continue
		}
		if err := r.mappings.Remove(ctx, moduleID, entityType, m.LocalID); err != nil {
			r.log.Warn("orphan mapping remove failed",
				"module", moduleID, "entity_type", entityType, "local_id", m.LocalID, "error", err)
			continue
		}
		rep.Removed++
	}
	return nil
}
