package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wp4odoo/bridge/internal/domain/mapping"
	"github.com/wp4odoo/bridge/internal/observability"
)

const mappingColumns = `module, entity_type, local_id, remote_id, remote_model,
	       sync_hash, last_polled_at, created_at, updated_at`

type MappingsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewMappingsRepo(pool *pgxpool.Pool, prom *observability.Prom) *MappingsRepo {
	return &MappingsRepo{pool: pool, prom: prom}
}

func (r *MappingsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanMapping(row rowScanner) (mapping.Mapping, error) {
	var (
		m        mapping.Mapping
		localID  int64
		remoteID int64
	)
	err := row.Scan(
		&m.Module, &m.EntityType, &localID, &remoteID, &m.RemoteModel,
		&m.SyncHash, &m.LastPolledAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return mapping.Mapping{}, err
	}
	m.LocalID = uint64(localID)
	m.RemoteID = uint64(remoteID)
	return m, nil
}

// GetRemoteID resolves local -> remote. A miss is not an error.
func (r *MappingsRepo) GetRemoteID(ctx context.Context, module, entityType string, localID uint64) (uint64, bool, error) {
	var remoteID int64
	var err error
	op := "mappings.get_remote_id"

	err = r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
			SELECT remote_id FROM sync_mappings
			WHERE module = $1 AND entity_type = $2 AND local_id = $3
		`, module, entityType, int64(localID)).Scan(&remoteID)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(remoteID), true, nil
}

func (r *MappingsRepo) GetLocalID(ctx context.Context, module, entityType string, remoteID uint64) (uint64, bool, error) {
	var localID int64
	var err error
	op := "mappings.get_local_id"

	err = r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
			SELECT local_id FROM sync_mappings
			WHERE module = $1 AND entity_type = $2 AND remote_id = $3
		`, module, entityType, int64(remoteID)).Scan(&localID)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(localID), true, nil
}

// GetSyncHash reads the stored content hash for the no-op push guard.
func (r *MappingsRepo) GetSyncHash(ctx context.Context, module, entityType string, localID uint64) (string, bool, error) {
	var hash string
	var err error
	op := "mappings.get_sync_hash"

	err = r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
			SELECT sync_hash FROM sync_mappings
			WHERE module = $1 AND entity_type = $2 AND local_id = $3
		`, module, entityType, int64(localID)).Scan(&hash)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return hash, true, nil
}

// BatchGetRemoteIDs resolves many local ids in one round trip; absent ids are
// simply missing from the returned map.
func (r *MappingsRepo) BatchGetRemoteIDs(ctx context.Context, module, entityType string, localIDs []uint64) (map[uint64]uint64, error) {
	out := make(map[uint64]uint64, len(localIDs))
	if len(localIDs) == 0 {
		return out, nil
	}

	ids := make([]int64, len(localIDs))
	for i, id := range localIDs {
		ids[i] = int64(id)
	}

	err := r.observe("mappings.batch_get_remote_ids", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT local_id, remote_id FROM sync_mappings
			WHERE module = $1 AND entity_type = $2 AND local_id = ANY($3)
		`, module, entityType, ids)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var l, rid int64
			if err := rows.Scan(&l, &rid); err != nil {
				return err
			}
			out[uint64(l)] = uint64(rid)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save upserts the identity link keyed on (module, entity_type, local_id).
// Idempotent; a re-push of the same entity refreshes remote id and hash.
func (r *MappingsRepo) Save(ctx context.Context, module, entityType string, localID, remoteID uint64, remoteModel, syncHash string) error {
	op := "mappings.save"
	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO sync_mappings(
			  module, entity_type, local_id, remote_id, remote_model,
			  sync_hash, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
			ON CONFLICT (module, entity_type, local_id) DO UPDATE
			SET remote_id = EXCLUDED.remote_id,
			    remote_model = EXCLUDED.remote_model,
			    sync_hash = EXCLUDED.sync_hash,
			    updated_at = NOW()
		`, module, entityType, int64(localID), int64(remoteID), remoteModel, syncHash)
		return err
	})
}

func (r *MappingsRepo) Remove(ctx context.Context, module, entityType string, localID uint64) error {
	op := "mappings.remove"
	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			DELETE FROM sync_mappings
			WHERE module = $1 AND entity_type = $2 AND local_id = $3
		`, module, entityType, int64(localID))
		return err
	})
}

func (r *MappingsRepo) RemoveByRemote(ctx context.Context, module, entityType string, remoteID uint64) error {
	op := "mappings.remove_by_remote"
	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			DELETE FROM sync_mappings
			WHERE module = $1 AND entity_type = $2 AND remote_id = $3
		`, module, entityType, int64(remoteID))
		return err
	})
}

// MarkPolled stamps last_polled_at for the remote ids a poll pass saw.
func (r *MappingsRepo) MarkPolled(ctx context.Context, module, entityType string, seenRemoteIDs []uint64, pollStart time.Time) error {
	if len(seenRemoteIDs) == 0 {
		return nil
	}
	ids := make([]int64, len(seenRemoteIDs))
	for i, id := range seenRemoteIDs {
		ids[i] = int64(id)
	}

	op := "mappings.mark_polled"
	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE sync_mappings
			SET last_polled_at = $4,
			    updated_at = NOW()
			WHERE module = $1 AND entity_type = $2 AND remote_id = ANY($3)
		`, module, entityType, ids, pollStart)
		return err
	})
}

// GetStalePollMappings returns mappings a full poll pass did not touch,
// candidates for remote-side deletion.
func (r *MappingsRepo) GetStalePollMappings(ctx context.Context, module, entityType string, pollStart time.Time) ([]mapping.Mapping, error) {
	var out []mapping.Mapping

	err := r.observe("mappings.stale_poll", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT `+mappingColumns+` FROM sync_mappings
			WHERE module = $1 AND entity_type = $2
			  AND (last_polled_at IS NULL OR last_polled_at < $3)
		`, module, entityType, pollStart)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, scanErr := scanMapping(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MappingsRepo) GetModuleEntityMappings(ctx context.Context, module, entityType string) ([]mapping.Mapping, error) {
	var out []mapping.Mapping

	err := r.observe("mappings.list_module_entity", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT `+mappingColumns+` FROM sync_mappings
			WHERE module = $1 AND entity_type = $2
			ORDER BY local_id ASC
		`, module, entityType)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, scanErr := scanMapping(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountByModule feeds the status surface.
func (r *MappingsRepo) CountByModule(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	err := r.observe("mappings.count_by_module", func() error {
		rows, err := r.pool.Query(ctx, `SELECT module, COUNT(*) FROM sync_mappings GROUP BY module`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m string
			var n int64
			if err := rows.Scan(&m, &n); err != nil {
				return err
			}
			out[m] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
