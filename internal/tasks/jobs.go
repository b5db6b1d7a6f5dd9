package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nulzo/model-gateway/internal/store/model"
)

// ErrSkipRun tells the runner the job had nothing to do yet. It is not
// counted as a failure.
var ErrSkipRun = errors.New("tasks: skip run")

// JobHandler executes one scheduled job. Handlers are registered by job type
// in a static map at construction.
type JobHandler func(ctx context.Context, job Job) error

// Job is a scheduled task with its payload decoded.
type Job struct {
	ID      int64
	Name    string
	Type    string
	Payload map[string]interface{}
}

// schedule is either a fixed interval or a cron expression.
type schedule struct {
	interval time.Duration
	cron     cron.Schedule
}

// due reports whether a job last run at lastRun (0 means never) should run at now.
func (s schedule) due(lastRun int64, now time.Time) bool {
	if lastRun <= 0 {
		return true
	}
	last := time.UnixMilli(lastRun)
	if s.cron != nil {
		return !s.cron.Next(last).After(now)
	}
	return now.Sub(last) >= s.interval
}

// decodeTask parses the task payload. Malformed or unschedulable tasks return
// an error and are skipped by the runner.
func decodeTask(t model.Task) (Job, schedule, int64, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(t.PayloadJSON), &payload); err != nil || payload == nil {
		return Job{}, schedule{}, 0, fmt.Errorf("task %d: payload is not a JSON object", t.ID)
	}

	jobType, _ := payload["type"].(string)
	if jobType == "" {
		return Job{}, schedule{}, 0, fmt.Errorf("task %d: missing type", t.ID)
	}

	var sched schedule
	if t.Cron.Valid && t.Cron.String != "" {
		cs, err := cron.ParseStandard(t.Cron.String)
		if err != nil {
			return Job{}, schedule{}, 0, fmt.Errorf("task %d: invalid cron %q: %w", t.ID, t.Cron.String, err)
		}
		sched.cron = cs
	} else {
		secs, ok := wholeNumber(payload["interval_seconds"])
		if !ok || secs <= 0 {
			return Job{}, schedule{}, 0, fmt.Errorf("task %d: interval_seconds must be a positive integer", t.ID)
		}
		sched.interval = time.Duration(secs) * time.Second
	}

	lastRun, _ := wholeNumber(payload["last_run_unix_ms"])
	return Job{ID: t.ID, Name: t.Name, Type: jobType, Payload: payload}, sched, lastRun, nil
}

// wholeNumber accepts JSON numbers without a fractional part.
func wholeNumber(v interface{}) (int64, bool) {
	f, ok := v.(float64)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}
