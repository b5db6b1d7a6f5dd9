package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/platform/metrics"
	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
)

const DefaultPollInterval = 5 * time.Second

// Actor is recorded on audit events written by background work.
const Actor = "task_runner"

// StepFunc is a periodic unit of work invoked on every tick after the
// scheduled jobs.
type StepFunc func(ctx context.Context) error

type step struct {
	name string
	fn   StepFunc
}

// Runner is a single cooperative scheduling loop. Ticks never overlap, and
// a failure in one job or step does not stop the others.
type Runner struct {
	repo     store.Repository
	handlers map[string]JobHandler
	steps    []step
	poll     time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	tickMu sync.Mutex

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

type Option func(*Runner)

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithResearch adds a "research" step that runs at most one due research
// job per tick. Like WithStep, its position follows the option order.
func WithResearch(e ResearchExecutor) Option {
	return func(r *Runner) {
		r.steps = append(r.steps, step{name: "research", fn: func(ctx context.Context) error {
			return r.tickResearch(ctx, e)
		}})
	}
}

// WithStep appends a periodic step. Steps run in the order they are added.
func WithStep(name string, fn StepFunc) Option {
	return func(r *Runner) { r.steps = append(r.steps, step{name: name, fn: fn}) }
}

// NewRunner copies handlers; the job-type table is fixed afterwards.
func NewRunner(repo store.Repository, handlers map[string]JobHandler, logger *zap.Logger, opts ...Option) *Runner {
	h := make(map[string]JobHandler, len(handlers))
	for k, v := range handlers {
		h[k] = v
	}
	r := &Runner{
		repo:     repo,
		handlers: h,
		poll:     DefaultPollInterval,
		logger:   logger.With(zap.String("component", "task_runner")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the loop. Cancelling ctx does not interrupt a tick; Stop is
// the only way to end the loop. Calling Start on a running runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(context.WithoutCancel(ctx), r.stop, r.done)
	r.logger.Info("Task runner started", zap.Duration("poll_interval", r.poll))
}

// Stop signals the loop and waits for any in-flight tick to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if done == nil {
		return
	}
	close(stop)
	<-done
	r.logger.Info("Task runner stopped")
}

func (r *Runner) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		r.Tick(ctx)
		timer.Reset(r.poll)
	}
}

// Tick runs every due job, then the registered steps in order.
func (r *Runner) Tick(ctx context.Context) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	r.runJobs(ctx)

	for _, s := range r.steps {
		r.guard(ctx, s.name, s.fn)
	}
}

// guard isolates fn: errors and panics are logged and swallowed.
func (r *Runner) guard(ctx context.Context, name string, fn StepFunc) {
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		err = fn(ctx)
	}()

	if errors.Is(err, ErrSkipRun) {
		return
	}
	r.metrics.RecordTaskRun(name, err)
	if err != nil {
		r.logger.Warn("Task step failed", zap.String("step", name), zap.Error(err))
	}
}

func (r *Runner) runJobs(ctx context.Context) {
	tasks, err := r.repo.Tasks().ListEnabled(ctx)
	if err != nil {
		r.logger.Warn("Failed to load scheduled tasks", zap.Error(err))
		return
	}

	for _, t := range tasks {
		if ctx.Err() != nil {
			return
		}
		job, sched, lastRun, err := decodeTask(t)
		if err != nil {
			r.logger.Debug("Skipping malformed task", zap.Int64("task_id", t.ID), zap.Error(err))
			continue
		}
		handler, ok := r.handlers[job.Type]
		if !ok {
			r.logger.Debug("Skipping task with unknown type", zap.Int64("task_id", t.ID), zap.String("type", job.Type))
			continue
		}

		now := r.now()
		if !sched.due(lastRun, now) {
			continue
		}

		claimed, err := r.claim(ctx, t, job, now)
		if err != nil {
			r.logger.Warn("Failed to claim task", zap.Int64("task_id", t.ID), zap.Error(err))
			continue
		}
		if !claimed {
			r.logger.Debug("Task claimed elsewhere", zap.Int64("task_id", t.ID))
			continue
		}

		r.guard(ctx, "job:"+job.Type, func(ctx context.Context) error { return handler(ctx, job) })
	}
}

// claim stamps last_run_unix_ms with a compare-and-swap on the row version,
// so concurrent runners cannot both execute the same run.
func (r *Runner) claim(ctx context.Context, t model.Task, job Job, now time.Time) (bool, error) {
	payload := make(map[string]interface{}, len(job.Payload)+1)
	for k, v := range job.Payload {
		payload[k] = v
	}
	payload["last_run_unix_ms"] = now.UnixMilli()
	data, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	version := now.UnixMilli()
	if version <= t.UpdatedAt {
		version = t.UpdatedAt + 1
	}

	var swapped bool
	err = store.RetryOnBusy(ctx, func() error {
		var err error
		swapped, err = r.repo.Tasks().CompareAndSwapPayload(ctx, t.ID, string(data), t.UpdatedAt, version)
		return err
	})
	return swapped, err
}

// tickResearch runs at most one due research job, oldest first.
func (r *Runner) tickResearch(ctx context.Context, e ResearchExecutor) error {
	var job *model.ResearchJob
	err := store.RetryOnBusy(ctx, func() error {
		return r.repo.WithTx(ctx, func(tx store.Repository) error {
			var err error
			job, err = tx.Research().ClaimDue(ctx, r.now().UnixMilli())
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("claim research job: %w", err)
	}
	if job == nil {
		return ErrSkipRun
	}

	result, runErr := e.Research(ctx, *job)
	finished := r.now().UnixMilli()
	if runErr != nil {
		if err := r.repo.Research().Fail(ctx, job.ID, truncate(runErr.Error(), 500), finished); err != nil {
			return err
		}
		return fmt.Errorf("research job %d: %w", job.ID, runErr)
	}
	return r.repo.Research().Complete(ctx, job.ID, string(result), finished)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
