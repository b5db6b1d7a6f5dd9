package sqlite

import (
	"context"
	"fmt"

	"github.com/nulzo/model-gateway/internal/store/model"
)

type auditRepo struct {
	db DB
}

func (r *auditRepo) Insert(ctx context.Context, log *model.AuditLog) (int64, error) {
	query := `
	INSERT INTO audit_logs (actor, action, encrypted_payload, created_at_unix_ms, expire_at_unix_ms)
	VALUES (:actor, :action, :encrypted_payload, :created_at_unix_ms, :expire_at_unix_ms)`
	res, err := r.db.NamedExecContext(ctx, query, log)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.LastInsertId()
}

func (r *auditRepo) List(ctx context.Context, filter model.AuditFilter) ([]model.AuditLog, error) {
	query := `SELECT * FROM audit_logs WHERE 1 = 1`
	var args []interface{}
	if filter.Since > 0 {
		query += ` AND created_at_unix_ms >= ?`
		args = append(args, filter.Since)
	}
	if filter.Until > 0 {
		query += ` AND created_at_unix_ms <= ?`
		args = append(args, filter.Until)
	}
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, filter.Action)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += ` ORDER BY created_at_unix_ms DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var logs []model.AuditLog
	err := r.db.SelectContext(ctx, &logs, query, args...)
	return logs, translateErr(err)
}

func (r *auditRepo) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE expire_at_unix_ms < ?`, now)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.RowsAffected()
}

type checksumRepo struct {
	db DB
}

func (r *checksumRepo) Upsert(ctx context.Context, sum *model.Checksum) error {
	query := `
	INSERT INTO checksums (key, checksum, computed_at_unix_ms)
	VALUES (:key, :checksum, :computed_at_unix_ms)
	ON CONFLICT(key) DO UPDATE SET
		checksum = excluded.checksum,
		computed_at_unix_ms = excluded.computed_at_unix_ms`
	_, err := r.db.NamedExecContext(ctx, query, sum)
	return translateErr(err)
}

func (r *checksumRepo) List(ctx context.Context) ([]model.Checksum, error) {
	var sums []model.Checksum
	err := r.db.SelectContext(ctx, &sums, `SELECT * FROM checksums ORDER BY key ASC`)
	return sums, translateErr(err)
}

type traceRepo struct {
	db DB
}

func (r *traceRepo) Insert(ctx context.Context, event *model.TraceEvent) error {
	query := `
	INSERT INTO trace_events (
		trace_id, event_kind, provider_id, model_id, status, status_code, latency_ms, error, ts_unix_ms
	) VALUES (
		:trace_id, :event_kind, :provider_id, :model_id, :status, :status_code, :latency_ms, :error, :ts_unix_ms
	)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("failed to insert trace event: %w", translateErr(err))
	}
	return nil
}

func (r *traceRepo) Recent(ctx context.Context, limit int) ([]model.TraceEvent, error) {
	var events []model.TraceEvent
	err := r.db.SelectContext(ctx, &events, `SELECT * FROM trace_events ORDER BY ts_unix_ms DESC, id DESC LIMIT ?`, limit)
	return events, translateErr(err)
}

func (r *traceRepo) ProviderStats(ctx context.Context, since int64) ([]model.ProviderStats, error) {
	var stats []model.ProviderStats
	query := `
		SELECT
			provider_id,
			COUNT(*) AS total_attempts,
			SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END) AS successes,
			SUM(CASE WHEN status != 'ok' THEN 1 ELSE 0 END) AS failures,
			COALESCE(AVG(latency_ms), 0) AS avg_latency
		FROM trace_events
		WHERE ts_unix_ms >= ? AND provider_id IS NOT NULL
		GROUP BY provider_id
		ORDER BY provider_id ASC
	`
	err := r.db.SelectContext(ctx, &stats, query, since)
	return stats, translateErr(err)
}
