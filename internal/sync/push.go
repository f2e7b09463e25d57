package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/locks"
	"github.com/wp4odoo/bridge/internal/module"
)

// PushToRemote replays one local change against the remote. Identity is
// anchored in the mapping table; the per-entity advisory lock plus the
// under-lock re-check make concurrent creates of the same entity converge on
// a single remote record.
func (o *Orchestrator) PushToRemote(ctx context.Context, moduleID, entityType string, action job.Action, localID, remoteID uint64, payload []byte) Result {
	mod, ok := o.resolve(moduleID)
	if !ok {
		return Permanent(fmt.Sprintf("module %q not registered", moduleID))
	}

	remoteModel, ok := mod.Models()[entityType]
	if !ok {
		return Permanent(fmt.Sprintf("entity type %q not registered", entityType))
	}

	if action == job.ActionDelete {
		return o.pushDelete(ctx, moduleID, entityType, remoteModel, localID, remoteID)
	}

	values, res := o.loadAndMap(ctx, mod, entityType, localID, payload)
	if !res.OK {
		return res
	}

	if o.multiCompany {
		if _, has := values["company_id"]; !has {
			if cid := o.companyIDForBatch(ctx); cid > 0 {
				values["company_id"] = cid
			}
		}
	}

	hash := CanonicalHash(values)

	// creates against an already-mapped entity are promoted to updates
	if action == job.ActionCreate || remoteID == 0 {
		if mapped, found, err := o.mappings.GetRemoteID(ctx, moduleID, entityType, localID); err != nil {
			return Transient("mapping lookup failed: " + err.Error())
		} else if found {
			remoteID = mapped
		}
	}

	if remoteID > 0 {
		// hash guard: skip the round trip when nothing changed
		if stored, found, err := o.mappings.GetSyncHash(ctx, moduleID, entityType, localID); err == nil && found && stored == hash {
			o.log.Debug("push is a no-op, hash unchanged",
				"module", moduleID, "entity_type", entityType, "local_id", localID)
			return Success(remoteID)
		}
		return o.pushUpdate(ctx, moduleID, entityType, remoteModel, localID, remoteID, values, hash)
	}
	return o.pushCreate(ctx, mod, moduleID, entityType, remoteModel, localID, values, hash)
}

func (o *Orchestrator) pushDelete(ctx context.Context, moduleID, entityType, remoteModel string, localID, remoteID uint64) Result {
	if remoteID == 0 {
		if mapped, found, err := o.mappings.GetRemoteID(ctx, moduleID, entityType, localID); err != nil {
			return Transient("mapping lookup failed: " + err.Error())
		} else if found {
			remoteID = mapped
		}
	}

	if remoteID > 0 {
		if err := o.rpc.Unlink(ctx, remoteModel, []int64{int64(remoteID)}); err != nil {
			return FromError(err)
		}
	}

	if err := o.mappings.Remove(ctx, moduleID, entityType, localID); err != nil {
		// remote record is gone; retry reconciles the mapping row
		return Transient("mapping remove failed: " + err.Error())
	}
	return Success(remoteID)
}

func (o *Orchestrator) loadAndMap(ctx context.Context, mod module.Module, entityType string, localID uint64, payload []byte) (map[string]any, Result) {
	var local map[string]any

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &local); err != nil {
			return nil, Permanent("invalid payload json: " + err.Error())
		}
	} else {
		var err error
		local, err = mod.LoadLocal(ctx, entityType, localID)
		if err != nil {
			if errors.Is(err, module.ErrEntityNotFound) {
				return nil, Permanent("no data to push")
			}
			return nil, Transient("load local failed: " + err.Error())
		}
	}

	if len(local) == 0 {
		return nil, Permanent("no data to push")
	}

	values, err := mod.MapToRemote(entityType, local)
	if err != nil {
		return nil, Permanent("field mapping failed: " + err.Error())
	}
	return values, Result{OK: true}
}

func (o *Orchestrator) pushUpdate(ctx context.Context, moduleID, entityType, remoteModel string, localID, remoteID uint64, values map[string]any, hash string) Result {
	if err := o.rpc.Write(ctx, remoteModel, []int64{int64(remoteID)}, values); err != nil {
		return FromError(err)
	}

	if err := o.mappings.Save(ctx, moduleID, entityType, localID, remoteID, remoteModel, hash); err != nil {
		// the remote mutation happened; retry reconciles the mapping
		return TransientWithEntity("mapping save failed after write: "+err.Error(), remoteID)
	}
	return Success(remoteID)
}

func (o *Orchestrator) pushCreate(ctx context.Context, mod module.Module, moduleID, entityType, remoteModel string, localID uint64, values map[string]any, hash string) Result {
	var out Result

	lockName := locks.EntityKey(moduleID, entityType, localID)
	held, err := o.locks.WithLock(ctx, lockName, pushLockTimeout, func(ctx context.Context) error {
		out = o.createUnderLock(ctx, mod, moduleID, entityType, remoteModel, localID, values, hash)
		return nil
	})
	if err != nil {
		return Transient("push lock error: " + err.Error())
	}
	if !held {
		// somebody else is creating this entity right now
		return Transient("push lock timeout")
	}
	return out
}

func (o *Orchestrator) createUnderLock(ctx context.Context, mod module.Module, moduleID, entityType, remoteModel string, localID uint64, values map[string]any, hash string) Result {
	// double-check: another worker may have finished the create while we
	// waited on the lock
	if mapped, found, err := o.mappings.GetRemoteID(ctx, moduleID, entityType, localID); err != nil {
		return Transient("mapping re-check failed: " + err.Error())
	} else if found {
		return o.pushUpdate(ctx, moduleID, entityType, remoteModel, localID, mapped, values, hash)
	}

	// dedup domain: find an orphan from a prior attempt whose mapping save
	// failed
	if dd, ok := mod.(module.DedupDomainer); ok {
		if domain := dd.DedupDomain(entityType, values); len(domain) > 0 {
			ids, err := o.rpc.Search(ctx, remoteModel, domain, 0, 1)
			if err != nil {
				return FromError(err)
			}
			if len(ids) > 0 && ids[0] > 0 {
				o.log.Info("dedup domain matched orphan, promoting to update",
					"module", moduleID, "entity_type", entityType, "local_id", localID, "remote_id", ids[0])
				return o.pushUpdate(ctx, moduleID, entityType, remoteModel, localID, uint64(ids[0]), values, hash)
			}
		}
	}

	createdID, err := o.rpc.Create(ctx, remoteModel, values)
	if err != nil {
		return FromError(err)
	}

	if err := o.mappings.Save(ctx, moduleID, entityType, localID, uint64(createdID), remoteModel, hash); err != nil {
		// remote record exists without a mapping; hand the id back so the
		// scheduler stores it on the job and the retry updates instead
		return TransientWithEntity("mapping save failed after create: "+err.Error(), uint64(createdID))
	}
	return Success(uint64(createdID))
}
