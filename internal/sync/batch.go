package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/module"
	"github.com/wp4odoo/bridge/internal/odoo"
)

const (
	// batches below this size are not worth the lock round trip
	minBatchSize     = 2
	batchLockTimeout = 5 * time.Second
)

// Tally is the per-module success/failure count a batch pass produces; the
// scheduler feeds it into the module breakers.
type Tally struct {
	Successes int
	Failures  int
}

// BatchOutcome reports what the batch pass did. Handled carries every job id
// the pass took off the scheduler's hands, including claims lost to another
// worker.
type BatchOutcome struct {
	Processed int
	Successes int
	Failures  int
	PerModule map[string]Tally
	Handled   map[int64]struct{}
}

func (b *BatchOutcome) record(moduleID string, ok bool) {
	b.Processed++
	t := b.PerModule[moduleID]
	if ok {
		b.Successes++
		t.Successes++
	} else {
		b.Failures++
		t.Failures++
	}
	b.PerModule[moduleID] = t
}

// BatchCreateProcessor collapses groups of push/create jobs for the same
// remote model into a single multi-record create call.
type BatchCreateProcessor struct {
	orch     *Orchestrator
	queue    QueueStore
	mappings MappingStore
	rpc      odoo.Client
	locks    LockManager
	resolve  module.Resolver
	failures *FailureHandler
	log      *slog.Logger
}

func NewBatchCreateProcessor(orch *Orchestrator, queue QueueStore, mappings MappingStore, rpc odoo.Client, lm LockManager, resolve module.Resolver, failures *FailureHandler, log *slog.Logger) *BatchCreateProcessor {
	return &BatchCreateProcessor{
		orch:     orch,
		queue:    queue,
		mappings: mappings,
		rpc:      rpc,
		locks:    lm,
		resolve:  resolve,
		failures: failures,
		log:      log,
	}
}

type batchKey struct {
	module     string
	entityType string
}

// Process picks the batchable jobs out of a fetched page and runs each group
// as one remote call. Jobs it does not handle stay with the caller.
func (p *BatchCreateProcessor) Process(ctx context.Context, jobs []job.Job) BatchOutcome {
	out := BatchOutcome{
		PerModule: make(map[string]Tally),
		Handled:   make(map[int64]struct{}),
	}

	groups := p.group(jobs, out.Handled)
	if len(groups) == 0 {
		return out
	}

	// stable ordering keeps lock acquisition deterministic across workers
	keys := make([]batchKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].module != keys[j].module {
			return keys[i].module < keys[j].module
		}
		return keys[i].entityType < keys[j].entityType
	})

	for _, k := range keys {
		p.processGroup(ctx, k, groups[k], &out)
	}
	return out
}

// group selects push/create jobs with a local id, collapses duplicates per
// entity keeping the most recent, and keeps only groups worth batching.
// Dropped duplicates are marked handled without side effects; the survivor
// carries the latest state.
func (p *BatchCreateProcessor) group(jobs []job.Job, handled map[int64]struct{}) map[batchKey][]job.Job {
	latest := make(map[batchKey]map[uint64]job.Job)

	for _, j := range jobs {
		if j.Direction != job.DirectionPush || j.Action != job.ActionCreate || j.LocalID == 0 {
			continue
		}
		k := batchKey{module: j.Module, entityType: j.EntityType}
		if latest[k] == nil {
			latest[k] = make(map[uint64]job.Job)
		}
		if prev, dup := latest[k][j.LocalID]; dup {
			if j.ID > prev.ID {
				handled[prev.ID] = struct{}{}
				latest[k][j.LocalID] = j
			} else {
				handled[j.ID] = struct{}{}
			}
			continue
		}
		latest[k][j.LocalID] = j
	}

	groups := make(map[batchKey][]job.Job)
	for k, byEntity := range latest {
		if len(byEntity) < minBatchSize {
			continue
		}
		g := make([]job.Job, 0, len(byEntity))
		for _, j := range byEntity {
			g = append(g, j)
		}
		sort.Slice(g, func(i, j int) bool { return g[i].ID < g[j].ID })
		groups[k] = g
	}
	return groups
}

func (p *BatchCreateProcessor) processGroup(ctx context.Context, k batchKey, group []job.Job, out *BatchOutcome) {
	mod, ok := p.resolve(k.module)
	if !ok {
		for _, j := range group {
			p.failGroup(ctx, j, fmt.Sprintf("module %q not registered", k.module), out)
		}
		return
	}
	remoteModel, ok := mod.Models()[k.entityType]
	if !ok {
		for _, j := range group {
			p.failGroup(ctx, j, fmt.Sprintf("entity type %q not registered", k.entityType), out)
		}
		return
	}

	// one mapping lookup for the whole group; jobs that turn out to be
	// mapped already are settled as updates during materialization
	localIDs := make([]uint64, 0, len(group))
	for _, j := range group {
		localIDs = append(localIDs, j.LocalID)
	}
	existing, err := p.mappings.BatchGetRemoteIDs(ctx, k.module, k.entityType, localIDs)
	if err != nil {
		for _, j := range group {
			got, claimErr := p.queue.Claim(ctx, j.ID)
			out.Handled[j.ID] = struct{}{}
			if claimErr != nil || !got {
				continue
			}
			p.failures.Handle(ctx, j, Transient("mapping lookup failed: "+err.Error()))
			out.record(k.module, false)
		}
		return
	}

	// claim and materialize values up front; anything that fails here is
	// settled individually and drops out of the batch
	claimed := make([]job.Job, 0, len(group))
	values := make([]map[string]any, 0, len(group))
	hashes := make([]string, 0, len(group))

	for _, j := range group {
		got, err := p.queue.Claim(ctx, j.ID)
		if err != nil {
			p.log.Warn("batch claim failed", "job_id", j.ID, "error", err)
			out.Handled[j.ID] = struct{}{}
			continue
		}
		if !got {
			// another worker has it
			out.Handled[j.ID] = struct{}{}
			continue
		}
		out.Handled[j.ID] = struct{}{}

		vals, res := p.materialize(ctx, mod, k, j, existing)
		if !res.OK {
			p.failures.Handle(ctx, j, res)
			out.record(k.module, false)
			continue
		}
		if res.EntityID > 0 {
			// entity already mapped; settled as an update inside materialize
			out.record(k.module, true)
			continue
		}
		claimed = append(claimed, j)
		values = append(values, vals)
		hashes = append(hashes, CanonicalHash(vals))
	}

	if len(claimed) == 0 {
		return
	}
	if len(claimed) == 1 {
		// group collapsed below batch size; push the survivor normally
		p.fallback(ctx, claimed[0], out)
		return
	}

	lockName := fmt.Sprintf("wp4odoo_batch_%s_%s", k.module, remoteModel)
	var ids []int64
	var createErr error
	held, lockErr := p.locks.WithLock(ctx, lockName, batchLockTimeout, func(ctx context.Context) error {
		ids, createErr = p.rpc.CreateBatch(ctx, remoteModel, values)
		return nil
	})
	if lockErr != nil || !held {
		// cannot serialize the batch right now; settle each job on its own
		for _, j := range claimed {
			p.fallback(ctx, j, out)
		}
		return
	}
	if createErr != nil {
		p.log.Warn("batch create failed, falling back to single pushes",
			"module", k.module, "remote_model", remoteModel, "size", len(claimed), "error", createErr)
		for _, j := range claimed {
			p.fallback(ctx, j, out)
		}
		return
	}

	// positional result: ids[i] belongs to claimed[i]
	for i, j := range claimed {
		if i >= len(ids) || ids[i] <= 0 {
			p.failures.Handle(ctx, j, Transient("batch create returned no id"))
			out.record(k.module, false)
			continue
		}
		remoteID := uint64(ids[i])
		if err := p.mappings.Save(ctx, k.module, k.entityType, j.LocalID, remoteID, remoteModel, hashes[i]); err != nil {
			p.failures.Handle(ctx, j, TransientWithEntity("mapping save failed after batch create: "+err.Error(), remoteID))
			out.record(k.module, false)
			continue
		}
		if err := p.queue.MarkCompleted(ctx, j.ID); err != nil {
			p.log.Warn("mark completed failed", "job_id", j.ID, "error", err)
		}
		out.record(k.module, true)
	}

	p.log.Info("batch create completed",
		"module", k.module, "remote_model", remoteModel, "size", len(claimed))
}

// failGroup settles a job that can never succeed: claim it, then fail it.
func (p *BatchCreateProcessor) failGroup(ctx context.Context, j job.Job, msg string, out *BatchOutcome) {
	got, err := p.queue.Claim(ctx, j.ID)
	out.Handled[j.ID] = struct{}{}
	if err != nil || !got {
		return
	}
	p.failures.Handle(ctx, j, Permanent(msg))
	out.record(j.Module, false)
}

// materialize loads and maps a claimed job's values. When the entity turns
// out to be mapped already the create is settled as a plain update here and
// the result carries the remote id.
func (p *BatchCreateProcessor) materialize(ctx context.Context, mod module.Module, k batchKey, j job.Job, existing map[uint64]uint64) (map[string]any, Result) {
	var local map[string]any
	if len(j.Payload) > 0 {
		if err := json.Unmarshal(j.Payload, &local); err != nil {
			return nil, Permanent("invalid payload json: " + err.Error())
		}
	} else {
		var err error
		local, err = mod.LoadLocal(ctx, k.entityType, j.LocalID)
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

	vals, err := mod.MapToRemote(k.entityType, local)
	if err != nil {
		return nil, Permanent("field mapping failed: " + err.Error())
	}

	if remoteID, found := existing[j.LocalID]; found {
		res := p.orch.PushToRemote(ctx, k.module, k.entityType, job.ActionUpdate, j.LocalID, remoteID, j.Payload)
		if !res.OK {
			return nil, res
		}
		if err := p.queue.MarkCompleted(ctx, j.ID); err != nil {
			p.log.Warn("mark completed failed", "job_id", j.ID, "error", err)
		}
		return nil, Result{OK: true, EntityID: remoteID}
	}

	return vals, Result{OK: true}
}

// fallback settles one already-claimed job through the single-entity path.
func (p *BatchCreateProcessor) fallback(ctx context.Context, j job.Job, out *BatchOutcome) {
	res := p.orch.PushToRemote(ctx, j.Module, j.EntityType, j.Action, j.LocalID, j.RemoteID, j.Payload)
	if res.OK {
		if err := p.queue.MarkCompleted(ctx, j.ID); err != nil {
			p.log.Warn("mark completed failed", "job_id", j.ID, "error", err)
		}
		out.record(j.Module, true)
		return
	}
	p.failures.Handle(ctx, j, res)
	out.record(j.Module, false)
}
