package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
)

var ErrInvalidJob = errors.New("tasks: invalid job")

// JobSpec describes a scheduled job to create. Exactly one of Interval and
// Cron must be set.
type JobSpec struct {
	Name     string                 `json:"name"`
	Type     string                 `json:"type"`
	Interval time.Duration          `json:"-"`
	Cron     string                 `json:"cron,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// Schedule persists a new enabled job. The job must decode the same way the
// runner will decode it, and its type must have a registered handler.
func (r *Runner) Schedule(ctx context.Context, spec JobSpec) (int64, error) {
	if (spec.Interval > 0) == (strings.TrimSpace(spec.Cron) != "") {
		return 0, fmt.Errorf("%w: set either an interval or a cron expression", ErrInvalidJob)
	}
	if _, ok := r.handlers[spec.Type]; !ok {
		return 0, fmt.Errorf("%w: no handler for type %q", ErrInvalidJob, spec.Type)
	}

	payload := make(map[string]interface{}, len(spec.Params)+2)
	for k, v := range spec.Params {
		payload[k] = v
	}
	payload["type"] = spec.Type
	if spec.Interval > 0 {
		payload["interval_seconds"] = int64(spec.Interval / time.Second)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	now := r.now().UnixMilli()
	task := model.Task{
		Name:        spec.Name,
		Cron:        sql.NullString{String: strings.TrimSpace(spec.Cron), Valid: spec.Cron != ""},
		PayloadJSON: string(data),
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, _, _, err := decodeTask(task); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	var id int64
	err = store.RetryOnBusy(ctx, func() error {
		var err error
		id, err = r.repo.Tasks().Create(ctx, &task)
		return err
	})
	return id, err
}

func (r *Runner) Tasks(ctx context.Context) ([]model.Task, error) {
	return r.repo.Tasks().ListEnabled(ctx)
}

// Enqueue queues a research job to run at or after at. A zero at means now.
func (r *Runner) Enqueue(ctx context.Context, query, collection string, at time.Time) (*model.ResearchJob, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty research query", ErrInvalidJob)
	}
	if collection == "" {
		collection = "default"
	}
	now := r.now()
	if at.IsZero() {
		at = now
	}

	job := &model.ResearchJob{
		Query:       query,
		Collection:  collection,
		Status:      model.ResearchQueued,
		ScheduledAt: at.UnixMilli(),
		CreatedAt:   now.UnixMilli(),
		UpdatedAt:   now.UnixMilli(),
	}
	err := store.RetryOnBusy(ctx, func() error {
		id, err := r.repo.Research().Enqueue(ctx, job)
		job.ID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Runner) ResearchJob(ctx context.Context, id int64) (*model.ResearchJob, error) {
	return r.repo.Research().Get(ctx, id)
}
