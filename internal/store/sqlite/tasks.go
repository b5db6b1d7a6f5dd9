package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nulzo/model-gateway/internal/store/model"
)

type presetRepo struct {
	db DB
}

// Upsert overwrites selection fields only; prompt template and constraints
// are kept once set.
func (r *presetRepo) Upsert(ctx context.Context, preset *model.LayerPreset) error {
	query := `
	INSERT INTO layer_presets (
		layer, selected_model_id, selection_reason_json, default_prompt_template, constraints_json, updated_at_unix_ms
	) VALUES (
		:layer, :selected_model_id, :selection_reason_json, :default_prompt_template, :constraints_json, :updated_at_unix_ms
	)
	ON CONFLICT(layer) DO UPDATE SET
		selected_model_id = excluded.selected_model_id,
		selection_reason_json = excluded.selection_reason_json,
		updated_at_unix_ms = excluded.updated_at_unix_ms`
	_, err := r.db.NamedExecContext(ctx, query, preset)
	return translateErr(err)
}

func (r *presetRepo) List(ctx context.Context) ([]model.LayerPreset, error) {
	var presets []model.LayerPreset
	err := r.db.SelectContext(ctx, &presets, `SELECT * FROM layer_presets ORDER BY layer ASC`)
	return presets, translateErr(err)
}

type taskRepo struct {
	db DB
}

func (r *taskRepo) ListEnabled(ctx context.Context) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.SelectContext(ctx, &tasks, `SELECT * FROM tasks WHERE enabled = 1 ORDER BY id ASC`)
	return tasks, translateErr(err)
}

func (r *taskRepo) Create(ctx context.Context, task *model.Task) (int64, error) {
	query := `
	INSERT INTO tasks (name, cron, payload_json, enabled, created_at_unix_ms, updated_at_unix_ms)
	VALUES (:name, :cron, :payload_json, :enabled, :created_at_unix_ms, :updated_at_unix_ms)`
	res, err := r.db.NamedExecContext(ctx, query, task)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.LastInsertId()
}

func (r *taskRepo) CompareAndSwapPayload(ctx context.Context, id int64, payload string, prevUpdatedAt, now int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET payload_json = ?, updated_at_unix_ms = ? WHERE id = ? AND updated_at_unix_ms = ?`,
		payload, now, id, prevUpdatedAt)
	if err != nil {
		return false, translateErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type researchRepo struct {
	db DB
}

func (r *researchRepo) Enqueue(ctx context.Context, job *model.ResearchJob) (int64, error) {
	query := `
	INSERT INTO research_jobs (
		query, collection, status, scheduled_at_unix_ms, query_embedding_json, created_at_unix_ms, updated_at_unix_ms
	) VALUES (
		:query, :collection, 'queued', :scheduled_at_unix_ms, :query_embedding_json, :created_at_unix_ms, :updated_at_unix_ms
	)`
	res, err := r.db.NamedExecContext(ctx, query, job)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.LastInsertId()
}

func (r *researchRepo) ClaimDue(ctx context.Context, now int64) (*model.ResearchJob, error) {
	var job model.ResearchJob
	err := r.db.GetContext(ctx, &job, `
	SELECT * FROM research_jobs
	WHERE status = 'queued' AND scheduled_at_unix_ms <= ?
	ORDER BY scheduled_at_unix_ms ASC, id ASC
	LIMIT 1`, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE research_jobs SET status = 'running', updated_at_unix_ms = ? WHERE id = ? AND status = 'queued'`,
		now, job.ID)
	if err != nil {
		return nil, translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	job.Status = model.ResearchRunning
	job.UpdatedAt = now
	return &job, nil
}

func (r *researchRepo) Complete(ctx context.Context, id int64, resultJSON string, now int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE research_jobs SET status = 'done', result_json = ?, error = NULL, updated_at_unix_ms = ? WHERE id = ?`,
		resultJSON, now, id)
	return translateErr(err)
}

func (r *researchRepo) Fail(ctx context.Context, id int64, msg string, now int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE research_jobs SET status = 'failed', error = ?, updated_at_unix_ms = ? WHERE id = ?`,
		msg, now, id)
	return translateErr(err)
}

func (r *researchRepo) Get(ctx context.Context, id int64) (*model.ResearchJob, error) {
	var job model.ResearchJob
	if err := r.db.GetContext(ctx, &job, `SELECT * FROM research_jobs WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}
