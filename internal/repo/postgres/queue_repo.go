package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/locks"
	"github.com/wp4odoo/bridge/internal/observability"
	"github.com/wp4odoo/bridge/internal/utils"
)

var ErrJobNotPending = errors.New("job is not pending")

const jobColumns = `id, correlation_id, module, direction, entity_type,
	       local_id, remote_id, action, payload, priority, status,
	       attempts, max_attempts, last_error,
	       scheduled_at, processed_at, created_at, updated_at`

type QueueRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewQueueRepo(pool *pgxpool.Pool, prom *observability.Prom) *QueueRepo {
	return &QueueRepo{pool: pool, prom: prom}
}

func (r *QueueRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (job.Job, error) {
	var (
		j        job.Job
		status   string
		localID  int64
		remoteID int64
	)

	err := row.Scan(
		&j.ID, &j.CorrelationID, &j.Module, &j.Direction, &j.EntityType,
		&localID, &remoteID, &j.Action, &j.Payload, &j.Priority, &status,
		&j.Attempts, &j.MaxAttempts, &j.LastError,
		&j.ScheduledAt, &j.ProcessedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return job.Job{}, err
	}

	j.Status = job.Status(status)
	j.LocalID = uint64(localID)
	j.RemoteID = uint64(remoteID)
	return j, nil
}

// Enqueue inserts a pending job or coalesces into the matching in-flight row.
// The whole dedup-or-insert runs in one transaction; the locking read
// serializes concurrent producers over the same entity keyspace.
// Returns the resulting job and whether it coalesced into an existing row.
func (r *QueueRepo) Enqueue(ctx context.Context, spec job.Spec) (job.Job, bool, error) {
	var (
		out      job.Job
		deduped  bool
		innerErr error
	)

	op := "queue.enqueue"

	err := r.observe(op, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		out, deduped, innerErr = r.enqueueIn(ctx, tx, spec)
		if innerErr != nil {
			return innerErr
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return job.Job{}, false, err
	}
	return out, deduped, nil
}

// EnqueueTx is Enqueue inside an existing transaction. pgx nests via
// savepoints, so a failed dedup probe cannot poison the caller's tx.
func (r *QueueRepo) EnqueueTx(ctx context.Context, tx pgx.Tx, spec job.Spec) (job.Job, bool, error) {
	var (
		out     job.Job
		deduped bool
	)

	err := r.observe("queue.enqueue_tx", func() error {
		nested, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		defer nested.Rollback(ctx)

		out, deduped, err = r.enqueueIn(ctx, nested, spec)
		if err != nil {
			return err
		}
		return nested.Commit(ctx)
	})
	if err != nil {
		return job.Job{}, false, err
	}
	return out, deduped, nil
}

func (r *QueueRepo) enqueueIn(ctx context.Context, tx pgx.Tx, spec job.Spec) (job.Job, bool, error) {
	j, err := job.New(spec)
	if err != nil {
		return job.Job{}, false, err
	}

	// FOR UPDATE takes no lock when the read matches nothing, so two
	// first-time producers would both insert; the xact-scoped advisory
	// lock serializes them on the identity tuple instead
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, locks.Key(enqueueLockName(spec))); err != nil {
		return job.Job{}, false, fmt.Errorf("enqueue lock: %w", err)
	}

	// locking read over the in-flight rows for this entity
	conds := []string{
		"module = $1", "entity_type = $2", "direction = $3",
		"status IN ('pending','processing')",
	}
	args := []any{spec.Module, spec.EntityType, string(spec.Direction)}
	pos := 4

	if spec.LocalID > 0 {
		conds = append(conds, fmt.Sprintf("local_id = $%d", pos))
		args = append(args, int64(spec.LocalID))
		pos++
	}
	if spec.RemoteID > 0 {
		conds = append(conds, fmt.Sprintf("remote_id = $%d", pos))
		args = append(args, int64(spec.RemoteID))
		pos++
	}

	q := "SELECT id FROM sync_jobs WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY id LIMIT 1 FOR UPDATE"

	var existingID int64
	err = tx.QueryRow(ctx, q, args...).Scan(&existingID)

	switch {
	case err == nil:
		// coalesce: latest producer intent wins in place
		_, err = tx.Exec(ctx, `
			UPDATE sync_jobs
			SET action = $2,
			    payload = $3,
			    priority = $4,
			    scheduled_at = $5,
			    updated_at = NOW()
			WHERE id = $1
		`, existingID, string(j.Action), j.Payload, j.Priority, j.ScheduledAt)
		if err != nil {
			return job.Job{}, false, err
		}

		row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, existingID)
		out, err := scanJob(row)
		if err != nil {
			return job.Job{}, false, err
		}
		return out, true, nil

	case errors.Is(err, pgx.ErrNoRows):
		row := tx.QueryRow(ctx, `
			INSERT INTO sync_jobs(
			  correlation_id, module, direction, entity_type,
			  local_id, remote_id, action, payload, priority, status,
			  attempts, max_attempts, scheduled_at, created_at, updated_at
			) VALUES (
			  $1,$2,$3,$4,
			  $5,$6,$7,$8,$9,$10,
			  $11,$12,$13,$14,$15
			)
			RETURNING `+jobColumns, j.CorrelationID, j.Module, string(j.Direction), j.EntityType,
			int64(j.LocalID), int64(j.RemoteID), string(j.Action), j.Payload, j.Priority, string(j.Status),
			j.Attempts, j.MaxAttempts, j.ScheduledAt, j.CreatedAt, j.UpdatedAt)

		out, err := scanJob(row)
		if err != nil {
			return job.Job{}, false, err
		}
		return out, false, nil

	default:
		return job.Job{}, false, err
	}
}

// Claim flips pending -> processing for exactly one winner. The conditional
// update is the whole race: losers see zero rows affected.
func (r *QueueRepo) Claim(ctx context.Context, id int64) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	op := "queue.claim"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
			UPDATE sync_jobs
			SET status = 'processing',
			    processed_at = NOW(),
			    updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, id)
		return err
	})
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FetchPending returns due pending jobs in dispatch order. excludeModules
// filters out disabled modules at the query level.
func (r *QueueRepo) FetchPending(ctx context.Context, limit int, now time.Time, excludeModules []string) ([]job.Job, error) {
	return r.fetch(ctx, "queue.fetch_pending", limit, now, "", excludeModules)
}

func (r *QueueRepo) FetchPendingForModule(ctx context.Context, module string, limit int, now time.Time) ([]job.Job, error) {
	return r.fetch(ctx, "queue.fetch_pending_module", limit, now, module, nil)
}

func (r *QueueRepo) fetch(ctx context.Context, op string, limit int, now time.Time, module string, exclude []string) ([]job.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	conds := []string{"status = 'pending'", "(scheduled_at IS NULL OR scheduled_at <= $1)"}
	args := []any{now}
	pos := 2

	if module != "" {
		conds = append(conds, fmt.Sprintf("module = $%d", pos))
		args = append(args, module)
		pos++
	}
	if len(exclude) > 0 {
		conds = append(conds, fmt.Sprintf("module != ALL($%d)", pos))
		args = append(args, exclude)
		pos++
	}

	q := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY priority ASC, created_at ASC, id ASC LIMIT $%d", pos)
	args = append(args, limit)

	var rows pgx.Rows
	err := r.observe(op, func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, q, args...)
		return qerr
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]job.Job, 0, limit)
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// RecoverStale returns crashed jobs to the queue. Jobs with attempts budget
// left go back to pending with attempts+1; exhausted ones are failed.
func (r *QueueRepo) RecoverStale(ctx context.Context, timeout time.Duration) (requeued, failed int64, err error) {
	secs := int64(timeout.Seconds())
	if secs <= 0 {
		secs = 300
	}

	op := "queue.recover_stale"
	err = r.observe(op, func() error {
		tag, e := r.pool.Exec(ctx, `
			UPDATE sync_jobs
			SET status = 'pending',
			    attempts = attempts + 1,
			    processed_at = NULL,
			    last_error = 'recovered from stale processing',
			    updated_at = NOW()
			WHERE status = 'processing'
			  AND processed_at IS NOT NULL
			  AND processed_at < NOW() - ($1 * INTERVAL '1 second')
			  AND attempts + 1 < max_attempts
		`, secs)
		if e != nil {
			return e
		}
		requeued = tag.RowsAffected()

		tag, e = r.pool.Exec(ctx, `
			UPDATE sync_jobs
			SET status = 'failed',
			    attempts = attempts + 1,
			    last_error = 'stale processing, attempts exhausted',
			    updated_at = NOW()
			WHERE status = 'processing'
			  AND processed_at IS NOT NULL
			  AND processed_at < NOW() - ($1 * INTERVAL '1 second')
		`, secs)
		if e != nil {
			return e
		}
		failed = tag.RowsAffected()
		return nil
	})

	return requeued, failed, err
}

func (r *QueueRepo) MarkCompleted(ctx context.Context, id int64) error {
	var tag pgconn.CommandTag
	var err error
	op := "queue.mark_completed"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
			UPDATE sync_jobs
			SET status = 'completed',
			    last_error = NULL,
			    updated_at = NOW()
			WHERE id = $1 AND status = 'processing'
		`, id)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// MarkFailed stamps the terminal failure. processed_at records when the
// terminal attempt happened.
func (r *QueueRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	var tag pgconn.CommandTag
	var err error
	op := "queue.mark_failed"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
			UPDATE sync_jobs
			SET status = 'failed',
			    attempts = attempts + 1,
			    last_error = $2,
			    processed_at = NOW(),
			    updated_at = NOW()
			WHERE id = $1 AND status IN ('pending','processing')
		`, id, trimError(errMsg))
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// RescheduleRetry puts a transiently-failed job back in the queue with its
// backoff window. Useful for retries/backoff.
func (r *QueueRepo) RescheduleRetry(ctx context.Context, id int64, runAt time.Time, errMsg string) error {
	var tag pgconn.CommandTag
	var err error
	op := "queue.reschedule"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
			UPDATE sync_jobs
			SET status = 'pending',
			    attempts = attempts + 1,
			    scheduled_at = $2,
			    processed_at = NULL,
			    last_error = $3,
			    updated_at = NOW()
			WHERE id = $1 AND status = 'processing'
		`, id, runAt, trimError(errMsg))
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// SetRemoteID persists a remote id discovered mid-flight (create succeeded,
// mapping save failed) so the retry switches to update instead of creating a
// duplicate.
func (r *QueueRepo) SetRemoteID(ctx context.Context, id int64, remoteID uint64) error {
	op := "queue.set_remote_id"
	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE sync_jobs
			SET remote_id = $2,
			    updated_at = NOW()
			WHERE id = $1
		`, id, int64(remoteID))
		return err
	})
}

// Cancel deletes a job, but only while still pending.
func (r *QueueRepo) Cancel(ctx context.Context, id int64) error {
	var tag pgconn.CommandTag
	var err error
	op := "queue.cancel"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `DELETE FROM sync_jobs WHERE id = $1 AND status = 'pending'`, id)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotPending
	}
	return nil
}

// Cleanup deletes terminal rows older than the retention cutoff.
func (r *QueueRepo) Cleanup(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = 30
	}

	var tag pgconn.CommandTag
	var err error
	op := "queue.cleanup"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
			DELETE FROM sync_jobs
			WHERE status IN ('completed','failed')
			  AND updated_at < NOW() - ($1 * INTERVAL '1 day')
		`, daysOld)
		return err
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RetryFailed resets every failed job to pending with a fresh attempts budget.
func (r *QueueRepo) RetryFailed(ctx context.Context) (int64, error) {
	var tag pgconn.CommandTag
	var err error
	op := "queue.retry_failed"

	err = r.observe(op, func() error {
		tag, err = r.pool.Exec(ctx, `
			UPDATE sync_jobs
			SET status = 'pending',
			    attempts = 0,
			    last_error = NULL,
			    scheduled_at = NULL,
			    processed_at = NULL,
			    updated_at = NOW()
			WHERE status = 'failed'
		`)
		return err
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *QueueRepo) GetByID(ctx context.Context, id int64) (job.Job, error) {
	var j job.Job
	var err error
	op := "queue.get_by_id"

	err = r.observe(op, func() error {
		row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id)
		var scanErr error
		j, scanErr = scanJob(row)
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

// Depth counts the live queue (pending + processing).
func (r *QueueRepo) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := r.observe("queue.depth", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM sync_jobs WHERE status IN ('pending','processing')`,
		).Scan(&n)
	})
	return n, err
}

type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

func (r *QueueRepo) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.observe("queue.stats", func() error {
		rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM sync_jobs GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var status string
			var n int64
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			switch job.Status(status) {
			case job.StatusPending:
				s.Pending = n
			case job.StatusProcessing:
				s.Processing = n
			case job.StatusCompleted:
				s.Completed = n
			case job.StatusFailed:
				s.Failed = n
			}
		}
		return rows.Err()
	})
	if err != nil {
		return Stats{}, err
	}

	if r.prom != nil {
		r.prom.QueueDepth.WithLabelValues("pending").Set(float64(s.Pending))
		r.prom.QueueDepth.WithLabelValues("processing").Set(float64(s.Processing))
		r.prom.QueueDepth.WithLabelValues("failed").Set(float64(s.Failed))
	}
	return s, nil
}

type HealthMetrics struct {
	Window           string  `json:"window"`
	Completed24h     int64   `json:"completed24h"`
	Failed24h        int64   `json:"failed24h"`
	SuccessRate      float64 `json:"successRate"`
	AvgLatencySec    float64 `json:"avgLatencySec"`
	OldestPendingAge float64 `json:"oldestPendingAgeSec"`
}

// HealthMetrics digests the last 24 h of terminal outcomes. Callers cache the
// result for 5 minutes; the query is not cheap on large tables.
func (r *QueueRepo) HealthMetrics(ctx context.Context) (HealthMetrics, error) {
	h := HealthMetrics{Window: "24h"}

	err := r.observe("queue.health_metrics", func() error {
		err := r.pool.QueryRow(ctx, `
			SELECT
			  COUNT(*) FILTER (WHERE status = 'completed'),
			  COUNT(*) FILTER (WHERE status = 'failed'),
			  COALESCE(EXTRACT(EPOCH FROM AVG(processed_at - created_at)
			             FILTER (WHERE status = 'completed' AND processed_at IS NOT NULL)), 0)
			FROM sync_jobs
			WHERE updated_at >= NOW() - INTERVAL '24 hours'
			  AND status IN ('completed','failed')
		`).Scan(&h.Completed24h, &h.Failed24h, &h.AvgLatencySec)
		if err != nil {
			return err
		}

		return r.pool.QueryRow(ctx, `
			SELECT COALESCE(EXTRACT(EPOCH FROM NOW() - MIN(created_at)), 0)
			FROM sync_jobs
			WHERE status = 'pending'
		`).Scan(&h.OldestPendingAge)
	})
	if err != nil {
		return HealthMetrics{}, err
	}

	total := h.Completed24h + h.Failed24h
	if total > 0 {
		h.SuccessRate = float64(h.Completed24h) / float64(total)
	}
	return h, nil
}

// ListCursor pages jobs for the operator surface. DESC keyset on
// (updated_at, id), newest first.
func (r *QueueRepo) ListCursor(
	ctx context.Context,
	status *string,
	limit int,
	afterUpdatedAt time.Time,
	afterID int64,
) (items []job.Job, nextCursor *string, hasMore bool, err error) {
	op := "queue.admin.list_cursor"

	base := `SELECT ` + jobColumns + ` FROM sync_jobs`

	var (
		conds   []string
		args    []any
		argsPos = 1
	)

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPos))
		args = append(args, *status)
		argsPos++
	}

	// DESC keyset: fetch rows "older" than cursor
	conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d)", argsPos, argsPos+1))
	args = append(args, afterUpdatedAt, afterID)
	argsPos += 2

	q := base
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	limitPlusOne := limit + 1
	q += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", argsPos)
	args = append(args, limitPlusOne)

	var rows pgx.Rows

	err = r.observe(op, func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, q, args...)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	out := make([]job.Job, 0, limit)

	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, nil, false, scanErr
		}
		out = append(out, j)
	}

	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]

		cur, encErr := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

// enqueueLockName keys the per-identity enqueue serialization. Payload and
// priority deliberately stay out of the key: they change what the job does,
// not which job it is.
func enqueueLockName(spec job.Spec) string {
	return fmt.Sprintf("wp4odoo_enqueue_%s|%s|%s|%d|%d",
		spec.Module, spec.EntityType, spec.Direction, spec.LocalID, spec.RemoteID)
}

// error messages are stored trimmed; the full text lives in logs.
func trimError(msg string) string {
	const max = 1000
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}
