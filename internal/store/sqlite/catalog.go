package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/nulzo/model-gateway/internal/store/model"
)

type catalogRepo struct {
	db DB
}

func (r *catalogRepo) LatestOnlineHash(ctx context.Context, providerID string) (string, error) {
	var hash sql.NullString
	query := `
	SELECT etag_or_hash FROM model_catalog
	WHERE provider_id = ? AND status = 'online'
	ORDER BY fetched_at_unix_ms DESC, id DESC
	LIMIT 1`
	err := r.db.GetContext(ctx, &hash, query, providerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", translateErr(err)
	}
	return hash.String, nil
}

func (r *catalogRepo) Get(ctx context.Context, providerID, modelID string) (*model.CatalogEntry, error) {
	var e model.CatalogEntry
	err := r.db.GetContext(ctx, &e, `SELECT * FROM model_catalog WHERE provider_id = ? AND model_id = ?`, providerID, modelID)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *catalogRepo) Upsert(ctx context.Context, entry *model.CatalogEntry) error {
	query := `
	INSERT INTO model_catalog (
		provider_id, model_id, raw_json, capabilities_json, status,
		fetched_at_unix_ms, etag_or_hash, created_at_unix_ms, updated_at_unix_ms
	) VALUES (
		:provider_id, :model_id, :raw_json, :capabilities_json, 'online',
		:fetched_at_unix_ms, :etag_or_hash, :created_at_unix_ms, :updated_at_unix_ms
	)
	ON CONFLICT(provider_id, model_id) DO UPDATE SET
		raw_json = excluded.raw_json,
		capabilities_json = excluded.capabilities_json,
		status = 'online',
		offline_since_unix_ms = NULL,
		expire_at_unix_ms = NULL,
		fetched_at_unix_ms = excluded.fetched_at_unix_ms,
		etag_or_hash = excluded.etag_or_hash,
		updated_at_unix_ms = excluded.updated_at_unix_ms`
	_, err := r.db.NamedExecContext(ctx, query, entry)
	return translateErr(err)
}

func (r *catalogRepo) MarkOffline(ctx context.Context, providerID string, keep []string, now, expireAt int64) (int64, error) {
	query := `
	UPDATE model_catalog
	SET status = 'offline',
		offline_since_unix_ms = COALESCE(offline_since_unix_ms, ?),
		expire_at_unix_ms = COALESCE(expire_at_unix_ms, ?),
		updated_at_unix_ms = ?
	WHERE provider_id = ? AND status != 'offline'`
	args := []interface{}{now, expireAt, now, providerID}

	if len(keep) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND model_id NOT IN (?)`, now, expireAt, now, providerID, keep)
		if err != nil {
			return 0, err
		}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.RowsAffected()
}

func (r *catalogRepo) DeleteExpiredOffline(ctx context.Context, now int64) (int64, error) {
	query := `
	DELETE FROM model_catalog
	WHERE status = 'offline'
		AND expire_at_unix_ms IS NOT NULL
		AND expire_at_unix_ms < ?
		AND NOT EXISTS (
			SELECT 1 FROM trace_events te
			WHERE te.provider_id = model_catalog.provider_id AND te.model_id = model_catalog.model_id
		)`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.RowsAffected()
}

func (r *catalogRepo) List(ctx context.Context, filter model.CatalogFilter) ([]model.CatalogEntry, error) {
	query := `SELECT * FROM model_catalog WHERE 1 = 1`
	var args []interface{}
	if filter.ProviderID != "" {
		query += ` AND provider_id = ?`
		args = append(args, filter.ProviderID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY provider_id ASC, model_id ASC LIMIT 500`

	var entries []model.CatalogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, translateErr(err)
	}
	return entries, nil
}
