package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wp4odoo/bridge/internal/observability"
)

// SettingsRepo is the key/value backend behind config.Service and the
// breaker state rows. Values are opaque strings; typing and clamping happen
// in the callers.

type SettingsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewSettingsRepo(pool *pgxpool.Pool, prom *observability.Prom) *SettingsRepo {
	return &SettingsRepo{pool: pool, prom: prom}
}

func (r *SettingsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *SettingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	var err error
	op := "settings.get"

	err = r.observe(op, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT value FROM sync_settings WHERE key = $1`, key,
		).Scan(&val)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	op := "settings.set"
	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO sync_settings(key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value,
			    updated_at = NOW()
		`, key, value)
		return err
	})
}

func (r *SettingsRepo) Delete(ctx context.Context, key string) error {
	op := "settings.delete"
	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `DELETE FROM sync_settings WHERE key = $1`, key)
		return err
	})
}
