package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/module"
)

// PullFromRemote mirrors push: fetch the remote record, map it local, save,
// anchor identity. The import guard keeps local hook callbacks from
// re-enqueueing our own writes while the pull runs.
func (o *Orchestrator) PullFromRemote(ctx context.Context, moduleID, entityType string, action job.Action, remoteID, localID uint64, payload []byte) Result {
	mod, ok := o.resolve(moduleID)
	if !ok {
		return Permanent(fmt.Sprintf("module %q not registered", moduleID))
	}

	remoteModel, ok := mod.Models()[entityType]
	if !ok {
		return Permanent(fmt.Sprintf("entity type %q not registered", entityType))
	}

	o.beginImport(moduleID)
	defer o.endImport(moduleID)

	if action == job.ActionDelete {
		return o.pullDelete(ctx, mod, moduleID, entityType, remoteID, localID)
	}

	record, res := o.fetchRemote(ctx, remoteModel, remoteID, payload)
	if !res.OK {
		return res
	}

	// module-level ownership filter
	if f, ok := mod.(module.PullFilter); ok && !f.FilterPull(entityType, record) {
		o.log.Debug("pull filtered by module", "module", moduleID, "entity_type", entityType, "remote_id", remoteID)
		return Success(remoteID)
	}

	data, err := mod.MapFromRemote(entityType, record)
	if err != nil {
		return Permanent("field mapping failed: " + err.Error())
	}

	if localID == 0 {
		if mapped, found, err := o.mappings.GetLocalID(ctx, moduleID, entityType, remoteID); err != nil {
			return Transient("mapping lookup failed: " + err.Error())
		} else if found {
			localID = mapped
		}
	}

	savedID, err := mod.SaveLocal(ctx, entityType, data, localID)
	if err != nil {
		return Transient("save local failed: " + err.Error())
	}

	// post-save hook for meta-module enrichment
	if h, ok := mod.(module.PostPullHook); ok {
		if err := h.AfterPull(ctx, entityType, savedID, record); err != nil {
			o.log.Warn("post-pull hook failed", "module", moduleID, "entity_type", entityType, "local_id", savedID, "error", err)
		}
	}

	hash := CanonicalHash(record)
	if err := o.mappings.Save(ctx, moduleID, entityType, savedID, remoteID, remoteModel, hash); err != nil {
		return TransientWithEntity("mapping save failed after pull: "+err.Error(), remoteID)
	}

	if o.pull.Add(moduleID, remoteModel, remoteID, savedID) {
		// buffer cap hit; flush this module mid-batch
		o.pull.Flush(ctx, mod, o.log)
	}

	return Success(remoteID)
}

func (o *Orchestrator) pullDelete(ctx context.Context, mod module.Module, moduleID, entityType string, remoteID, localID uint64) Result {
	if localID == 0 {
		mapped, found, err := o.mappings.GetLocalID(ctx, moduleID, entityType, remoteID)
		if err != nil {
			return Transient("mapping lookup failed: " + err.Error())
		}
		if !found {
			// nothing local to delete; drop any mapping row and move on
			if err := o.mappings.RemoveByRemote(ctx, moduleID, entityType, remoteID); err != nil {
				return Transient("mapping remove failed: " + err.Error())
			}
			return Success(remoteID)
		}
		localID = mapped
	}

	if _, err := mod.DeleteLocal(ctx, entityType, localID); err != nil {
		return Transient("delete local failed: " + err.Error())
	}

	if err := o.mappings.RemoveByRemote(ctx, moduleID, entityType, remoteID); err != nil {
		return Transient("mapping remove failed: " + err.Error())
	}
	return Success(remoteID)
}

func (o *Orchestrator) fetchRemote(ctx context.Context, remoteModel string, remoteID uint64, payload []byte) (map[string]any, Result) {
	if len(payload) > 0 {
		var record map[string]any
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, Permanent("invalid payload json: " + err.Error())
		}
		return record, Result{OK: true}
	}

	records, err := o.rpc.Read(ctx, remoteModel, []int64{int64(remoteID)}, nil)
	if err != nil {
		return nil, FromError(err)
	}
	if len(records) == 0 {
		return nil, Permanent(fmt.Sprintf("remote record %s/%d missing", remoteModel, remoteID))
	}
	return records[0], Result{OK: true}
}

// FlushPullTranslations drains buffered translations for every touched
// module; the scheduler calls it at end of batch.
func (o *Orchestrator) FlushPullTranslations(ctx context.Context) {
	for _, id := range o.pull.Modules() {
		mod, ok := o.resolve(id)
		if !ok {
			o.pull.Drain(id)
			continue
		}
		o.pull.Flush(ctx, mod, o.log)
	}
}
