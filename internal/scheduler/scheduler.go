package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wp4odoo/bridge/internal/breaker"
	"github.com/wp4odoo/bridge/internal/cache"
	"github.com/wp4odoo/bridge/internal/config"
	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/module"
	"github.com/wp4odoo/bridge/internal/notifications"
	"github.com/wp4odoo/bridge/internal/observability"
	"github.com/wp4odoo/bridge/internal/redisclient"
	"github.com/wp4odoo/bridge/internal/sync"
)

const (
	// one run never exceeds this wall-clock budget or iteration count, so a
	// lease is always released well before a peer would consider it stale
	runBudget     = 55 * time.Second
	maxIterations = 20

	staleRecoveryPrefix = "wp4odoo:stale_recovery"
	staleRecoveryEvery  = time.Minute

	// fraction of the configured memory cap at which a run refuses to start
	memoryGuardNum = 8
	memoryGuardDen = 10
)

// Queue is the fetch side of the job table the scheduler reads from;
// satisfied by postgres.QueueRepo.
type Queue interface {
	FetchPending(ctx context.Context, limit int, now time.Time, excludeModules []string) ([]job.Job, error)
	FetchPendingForModule(ctx context.Context, mod string, limit int, now time.Time) ([]job.Job, error)
	RecoverStale(ctx context.Context, timeout time.Duration) (requeued, failed int64, err error)
	Claim(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64) error
}

// Options selects what one run covers.
type Options struct {
	// Module restricts the run to a single module's jobs.
	Module string
	// DryRun reports what would be processed without claiming anything.
	DryRun bool
}

// Deps wires a Scheduler; every field is required unless noted.
type Deps struct {
	Queue    Queue
	Orch     *sync.Orchestrator
	Batch    *sync.BatchCreateProcessor
	Failures *sync.FailureHandler
	Global   *breaker.Global
	Modules  *breaker.Modules
	Registry *module.Registry
	Settings *config.Service
	Notifier *notifications.FailureNotifier
	Redis    *redisclient.Client // optional; disables cross-process rate limits when nil
	Locks    sync.LockManager
	Cache    *cache.Cache // optional
	Metrics  *observability.RunMetrics
	Prom     *observability.Prom // optional
	Log      *slog.Logger
	BlogID   int
}

// Scheduler drains pending jobs under an advisory lease. At most one run per
// lease scope executes cluster-wide; breakers gate admission, the batch
// optimizer collapses create groups, and everything left runs one job at a
// time.
type Scheduler struct {
	d      Deps
	tracer trace.Tracer
}

func New(d Deps) *Scheduler {
	return &Scheduler{
		d:      d,
		tracer: otel.Tracer("github.com/wp4odoo/bridge/internal/scheduler"),
	}
}

func (s *Scheduler) staleRecoveryKey() string {
	return fmt.Sprintf("%s:%d", staleRecoveryPrefix, s.d.BlogID)
}

func (s *Scheduler) leaseName(mod string) string {
	if mod != "" {
		return fmt.Sprintf("wp4odoo_sync_%d_%s", s.d.BlogID, mod)
	}
	return fmt.Sprintf("wp4odoo_sync_%d", s.d.BlogID)
}

// Run executes one scheduler pass and returns the number of jobs it settled.
// A pass that loses the lease or finds the circuit open returns (0, nil);
// both are normal outcomes, not errors.
func (s *Scheduler) Run(ctx context.Context, opts Options) (int, error) {
	if opts.Module != "" && !s.d.Settings.ModuleEnabled(ctx, opts.Module) {
		s.d.Log.Info("module disabled, skipping run", "module", opts.Module)
		return 0, nil
	}

	start := time.Now()
	processed := 0

	held, err := s.d.Locks.WithLock(ctx, s.leaseName(opts.Module), 0, func(ctx context.Context) error {
		processed = s.runLeased(ctx, opts)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sync lease: %w", err)
	}
	if !held {
		s.d.Log.Debug("sync lease held elsewhere, skipping run", "module", opts.Module)
		return 0, nil
	}

	scope := opts.Module
	if scope == "" {
		scope = "all"
	}
	if s.d.Prom != nil {
		s.d.Prom.RunDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	}
	return processed, nil
}

func (s *Scheduler) runLeased(ctx context.Context, opts Options) int {
	scope := opts.Module
	if scope == "" {
		scope = "all"
	}
	ctx, span := s.tracer.Start(ctx, "sync.run",
		trace.WithAttributes(
			attribute.String("run.module", scope),
			attribute.Bool("run.dry_run", opts.DryRun),
		))
	defer span.End()

	if !s.d.Global.IsAvailable(ctx) {
		s.d.Log.Warn("global breaker open, run skipped")
		s.publishBreakerState(ctx)
		return 0
	}
	if opts.Module != "" && !s.d.Modules.IsAvailable(ctx, opts.Module) {
		s.d.Log.Warn("module breaker open, run skipped", "module", opts.Module)
		s.publishBreakerState(ctx)
		return 0
	}

	if over, alloc, capBytes := s.memoryPressure(ctx); over {
		s.d.Log.Warn("memory cap reached, run skipped", "alloc_bytes", alloc, "cap_bytes", capBytes)
		return 0
	}

	s.recoverStale(ctx)
	s.d.Orch.ResetBatch()

	if opts.DryRun {
		return s.dryRun(ctx, opts)
	}

	start := time.Now()
	exclude := s.disabledModules(ctx)
	batchSize := s.d.Settings.BatchSize(ctx)

	processed := 0
	successes := 0
	failures := 0
	perModule := map[string]sync.Tally{}

	for iter := 0; iter < maxIterations && time.Since(start) < runBudget; iter++ {
		if ctx.Err() != nil {
			break
		}
		// another worker's RecordBatch can trip the circuit between
		// iterations, and allocations grow as batches accumulate
		if iter > 0 {
			if !s.d.Global.IsAvailable(ctx) {
				s.d.Log.Warn("global breaker opened mid-run, stopping")
				break
			}
			if over, alloc, capBytes := s.memoryPressure(ctx); over {
				s.d.Log.Warn("memory cap reached mid-run, stopping", "alloc_bytes", alloc, "cap_bytes", capBytes)
				break
			}
		}

		jobs, err := s.fetch(ctx, opts.Module, batchSize, exclude)
		if err != nil {
			s.d.Log.Error("fetch pending failed", "error", err)
			break
		}
		if len(jobs) == 0 {
			break
		}

		// an open module breaker keeps that module's jobs pending; the
		// batch optimizer must never see them
		eligible := jobs[:0]
		for _, j := range jobs {
			if !s.d.Modules.IsAvailable(ctx, j.Module) {
				exclude = appendUnique(exclude, j.Module)
				s.d.Metrics.IncSkipped()
				continue
			}
			eligible = append(eligible, j)
		}
		if len(eligible) == 0 {
			if opts.Module != "" {
				break
			}
			continue
		}

		out := s.d.Batch.Process(ctx, eligible)
		processed += out.Processed
		successes += out.Successes
		failures += out.Failures
		for m, t := range out.PerModule {
			agg := perModule[m]
			agg.Successes += t.Successes
			agg.Failures += t.Failures
			perModule[m] = agg
		}

		for _, j := range eligible {
			if _, done := out.Handled[j.ID]; done {
				continue
			}
			if ctx.Err() != nil || time.Since(start) >= runBudget {
				break
			}

			if !s.d.Modules.IsAvailable(ctx, j.Module) {
				// leave the job pending and stop fetching this module's work
				exclude = appendUnique(exclude, j.Module)
				s.d.Metrics.IncSkipped()
				continue
			}

			ok, ran := s.runOne(ctx, j)
			if !ran {
				continue
			}
			processed++
			t := perModule[j.Module]
			if ok {
				successes++
				t.Successes++
			} else {
				failures++
				t.Failures++
			}
			perModule[j.Module] = t
		}
	}

	s.d.Orch.FlushPullTranslations(ctx)

	s.d.Notifier.Check(ctx, successes, failures)
	s.d.Global.RecordBatch(ctx, successes, failures)
	for m, t := range perModule {
		s.d.Modules.RecordBatch(ctx, m, t.Successes, t.Failures)
	}
	s.publishBreakerState(ctx)

	if s.d.Cache != nil {
		s.d.Cache.Delete(cache.KeyQueueStats)
		s.d.Cache.Delete(cache.KeyHealthMetrics)
	}

	if s.d.Prom != nil && processed > 0 {
		s.d.Prom.RunProcessed.WithLabelValues(scope, "success").Add(float64(successes))
		s.d.Prom.RunProcessed.WithLabelValues(scope, "failure").Add(float64(failures))
	}

	if processed > 0 {
		s.d.Log.Info("scheduler run finished",
			"module", scope, "processed", processed,
			"successes", successes, "failures", failures,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
	return processed
}

// runOne settles a single job. The second return is false when the job was
// not actually executed (claim lost).
func (s *Scheduler) runOne(ctx context.Context, j job.Job) (ok, ran bool) {
	got, err := s.d.Queue.Claim(ctx, j.ID)
	if err != nil {
		s.d.Log.Warn("claim failed", "job_id", j.ID, "error", err)
		return false, false
	}
	if !got {
		return false, false
	}
	s.d.Metrics.IncClaimed()

	ctx, span := s.tracer.Start(ctx, "sync.job",
		trace.WithAttributes(
			attribute.Int64("job.id", j.ID),
			attribute.String("job.correlation_id", j.CorrelationID),
			attribute.String("job.module", j.Module),
			attribute.String("job.entity_type", j.EntityType),
			attribute.String("job.direction", string(j.Direction)),
			attribute.String("job.action", string(j.Action)),
		))
	defer span.End()

	if s.d.Prom != nil {
		s.d.Prom.JobsInFlight.Inc()
		defer s.d.Prom.JobsInFlight.Dec()
	}

	start := time.Now()
	var res sync.Result
	switch j.Direction {
	case job.DirectionPush:
		res = s.d.Orch.PushToRemote(ctx, j.Module, j.EntityType, j.Action, j.LocalID, j.RemoteID, j.Payload)
	case job.DirectionPull:
		res = s.d.Orch.PullFromRemote(ctx, j.Module, j.EntityType, j.Action, j.RemoteID, j.LocalID, j.Payload)
	default:
		res = sync.Permanent("unknown direction " + string(j.Direction))
	}
	elapsed := time.Since(start)
	s.d.Metrics.ObserveDuration(elapsed)

	outcome := "completed"
	if res.OK {
		if err := s.d.Queue.MarkCompleted(ctx, j.ID); err != nil {
			s.d.Log.Warn("mark completed failed", "job_id", j.ID, "error", err)
		}
		s.d.Metrics.IncCompleted()
	} else {
		span.SetAttributes(attribute.String("job.error", res.Message))
		if s.d.Failures.Handle(ctx, j, res) {
			outcome = "retry"
			s.d.Metrics.IncRetried()
		} else {
			outcome = "failed"
			s.d.Metrics.IncFailed()
		}
	}

	if s.d.Prom != nil {
		s.d.Prom.JobDuration.WithLabelValues(j.Module, outcome).Observe(elapsed.Seconds())
		s.d.Prom.JobResults.WithLabelValues(j.Module, outcome).Inc()
	}
	return res.OK, true
}

func (s *Scheduler) fetch(ctx context.Context, mod string, limit int, exclude []string) ([]job.Job, error) {
	now := time.Now().UTC()
	if mod != "" {
		return s.d.Queue.FetchPendingForModule(ctx, mod, limit, now)
	}
	return s.d.Queue.FetchPending(ctx, limit, now, exclude)
}

// dryRun reports the backlog a real run would pick up, without side effects.
func (s *Scheduler) dryRun(ctx context.Context, opts Options) int {
	jobs, err := s.fetch(ctx, opts.Module, s.d.Settings.BatchSize(ctx), s.disabledModules(ctx))
	if err != nil {
		s.d.Log.Error("fetch pending failed", "error", err)
		return 0
	}
	byModule := map[string]int{}
	for _, j := range jobs {
		byModule[j.Module]++
	}
	s.d.Log.Info("dry run", "pending_batch", len(jobs), "by_module", byModule)
	return len(jobs)
}

// recoverStale requeues abandoned processing jobs; rate limited per blog
// context so a fleet of workers does not hammer the same scan, while
// separate blogs keep their own recovery cadence.
func (s *Scheduler) recoverStale(ctx context.Context) {
	if s.d.Redis != nil && !s.d.Redis.OnceWithin(ctx, s.staleRecoveryKey(), staleRecoveryEvery) {
		return
	}

	timeout := s.d.Settings.StaleTimeout(ctx)
	requeued, failed, err := s.d.Queue.RecoverStale(ctx, timeout)
	if err != nil {
		s.d.Log.Error("stale recovery failed", "error", err)
		return
	}
	if requeued > 0 || failed > 0 {
		s.d.Log.Warn("stale jobs recovered", "requeued", requeued, "failed", failed, "timeout", timeout)
	}
}

// publishBreakerState refreshes the breaker gauges from the shared stores.
func (s *Scheduler) publishBreakerState(ctx context.Context) {
	if s.d.Prom == nil {
		return
	}
	name, _ := s.d.Global.Snapshot(ctx)
	s.d.Prom.BreakerState.WithLabelValues("global").Set(breakerStateValue(name))
	for mod, st := range s.d.Modules.Snapshot(ctx) {
		s.d.Prom.BreakerState.WithLabelValues(mod).Set(breakerStateValue(st))
	}
}

func breakerStateValue(name string) float64 {
	switch name {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}

func (s *Scheduler) memoryPressure(ctx context.Context) (bool, uint64, uint64) {
	capBytes := s.d.Settings.MemoryCapBytes(ctx)
	if capBytes == 0 {
		return false, 0, 0
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Alloc > capBytes*memoryGuardNum/memoryGuardDen, ms.Alloc, capBytes
}

func (s *Scheduler) disabledModules(ctx context.Context) []string {
	var out []string
	for _, id := range s.d.Registry.IDs() {
		if !s.d.Settings.ModuleEnabled(ctx, id) {
			out = append(out, id)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
