package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
	"github.com/nulzo/model-gateway/internal/store/sqlite"
	"github.com/nulzo/model-gateway/pkg/api"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "tasks.sqlite"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func createTask(t *testing.T, repo store.Repository, name, cronExpr string, payload map[string]interface{}) int64 {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	id, err := repo.Tasks().Create(context.Background(), &model.Task{
		Name:        name,
		Cron:        sql.NullString{String: cronExpr, Valid: cronExpr != ""},
		PayloadJSON: string(data),
		Enabled:     true,
		CreatedAt:   1,
		UpdatedAt:   1,
	})
	require.NoError(t, err)
	return id
}

func TestRunner_JobRunsOncePerInterval(t *testing.T) {
	repo := newRepo(t)
	c := &clock{t: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	createTask(t, repo, "digest", "", map[string]interface{}{"type": "digest", "interval_seconds": 60})

	var runs atomic.Int32
	handlers := map[string]JobHandler{
		"digest": func(ctx context.Context, job Job) error {
			runs.Add(1)
			assert.Equal(t, "digest", job.Name)
			return nil
		},
	}
	r := NewRunner(repo, handlers, zap.NewNop(), WithClock(c.now))
	ctx := context.Background()

	r.Tick(ctx)
	assert.Equal(t, int32(1), runs.Load())

	for i := 0; i < 11; i++ {
		c.t = c.t.Add(5 * time.Second)
		r.Tick(ctx)
	}
	assert.Equal(t, int32(1), runs.Load())

	c.t = c.t.Add(5 * time.Second)
	r.Tick(ctx)
	assert.Equal(t, int32(2), runs.Load())
}

func TestRunner_SecondRunnerCannotDoubleRun(t *testing.T) {
	repo := newRepo(t)
	c := &clock{t: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	createTask(t, repo, "digest", "", map[string]interface{}{"type": "digest", "interval_seconds": 60})

	var runs atomic.Int32
	handlers := map[string]JobHandler{"digest": func(context.Context, Job) error { runs.Add(1); return nil }}
	a := NewRunner(repo, handlers, zap.NewNop(), WithClock(c.now))
	b := NewRunner(repo, handlers, zap.NewNop(), WithClock(c.now))

	tasks, err := repo.Tasks().ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	stale := tasks[0]

	a.Tick(context.Background())
	// b acts on the row version it read before a's claim.
	job, sched, last, err := decodeTask(stale)
	require.NoError(t, err)
	assert.True(t, sched.due(last, c.t))
	claimed, err := b.claim(context.Background(), stale, job, c.t)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int32(1), runs.Load())
}

func TestRunner_CronSchedule(t *testing.T) {
	repo := newRepo(t)
	c := &clock{t: time.Date(2026, 2, 1, 8, 0, 30, 0, time.UTC)}
	createTask(t, repo, "hourly", "0 * * * *", map[string]interface{}{"type": "hourly"})

	var runs atomic.Int32
	r := NewRunner(repo, map[string]JobHandler{"hourly": func(context.Context, Job) error { runs.Add(1); return nil }},
		zap.NewNop(), WithClock(c.now))

	r.Tick(context.Background())
	assert.Equal(t, int32(1), runs.Load())

	c.t = time.Date(2026, 2, 1, 8, 59, 0, 0, time.UTC)
	r.Tick(context.Background())
	assert.Equal(t, int32(1), runs.Load())

	c.t = time.Date(2026, 2, 1, 9, 0, 1, 0, time.UTC)
	r.Tick(context.Background())
	assert.Equal(t, int32(2), runs.Load())
}

func TestRunner_IsolatesFailures(t *testing.T) {
	repo := newRepo(t)
	c := &clock{t: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	createTask(t, repo, "bad-json", "", map[string]interface{}{"type": "boom", "interval_seconds": "soon"})
	createTask(t, repo, "unknown", "", map[string]interface{}{"type": "nope", "interval_seconds": 10})
	createTask(t, repo, "panics", "", map[string]interface{}{"type": "panic", "interval_seconds": 10})
	createTask(t, repo, "fails", "", map[string]interface{}{"type": "boom", "interval_seconds": 10})
	createTask(t, repo, "works", "", map[string]interface{}{"type": "ok", "interval_seconds": 10})
	_, err := repo.Tasks().Create(context.Background(), &model.Task{Name: "garbage", PayloadJSON: "not json", Enabled: true})
	require.NoError(t, err)

	var ok, steps atomic.Int32
	handlers := map[string]JobHandler{
		"panic": func(context.Context, Job) error { panic("kaboom") },
		"boom":  func(context.Context, Job) error { return errors.New("failed") },
		"ok":    func(context.Context, Job) error { ok.Add(1); return nil },
	}
	r := NewRunner(repo, handlers, zap.NewNop(), WithClock(c.now),
		WithStep("health", func(context.Context) error { steps.Add(1); return errors.New("probe failed") }),
		WithStep("self_heal", func(context.Context) error { steps.Add(1); return nil }))

	assert.NotPanics(t, func() { r.Tick(context.Background()) })
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(2), steps.Load())
}

type fakeChat struct {
	reply string
	err   error
	seen  api.Payload
}

func (f *fakeChat) DispatchChat(_ context.Context, payload api.Payload) (json.RawMessage, error) {
	f.seen = payload
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.reply), nil
}

func TestRunner_ResearchOneJobPerTickOldestFirst(t *testing.T) {
	repo := newRepo(t)
	c := &clock{t: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	ctx := context.Background()
	now := c.t.UnixMilli()

	enqueue := func(q string, at int64) int64 {
		id, err := repo.Research().Enqueue(ctx, &model.ResearchJob{Query: q, Collection: "shared", ScheduledAt: at, CreatedAt: now, UpdatedAt: now})
		require.NoError(t, err)
		return id
	}
	later := enqueue("later", now-1000)
	first := enqueue("first", now-5000)
	future := enqueue("future", now+60_000)

	chat := &fakeChat{reply: `{"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":" facts "}}]}`}
	r := NewRunner(repo, nil, zap.NewNop(), WithClock(c.now), WithResearch(NewChatResearcher(chat, "p1::m")))

	r.Tick(ctx)
	job, err := repo.Research().Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, model.ResearchDone, job.Status)
	assert.JSONEq(t, `{"query":"first","collection":"shared","model":"m","answer":"facts"}`, job.ResultJSON.String)
	assert.Equal(t, "p1::m", chat.seen["model"])

	job, err = repo.Research().Get(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, model.ResearchQueued, job.Status)

	chat.err = errors.New("all providers down")
	r.Tick(ctx)
	job, err = repo.Research().Get(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, model.ResearchFailed, job.Status)
	assert.Equal(t, "all providers down", job.Error.String)

	r.Tick(ctx)
	job, err = repo.Research().Get(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, model.ResearchQueued, job.Status)
}

func TestRunner_StartStop(t *testing.T) {
	repo := newRepo(t)
	ticked := make(chan struct{}, 1)
	r := NewRunner(repo, nil, zap.NewNop(), WithPollInterval(10*time.Millisecond),
		WithStep("signal", func(context.Context) error {
			select {
			case ticked <- struct{}{}:
			default:
			}
			return nil
		}))

	r.Start(context.Background())
	r.Start(context.Background())
	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not tick")
	}
	r.Stop()
	r.Stop()
}

type researchFunc func(ctx context.Context, job model.ResearchJob) (json.RawMessage, error)

func (f researchFunc) Research(ctx context.Context, job model.ResearchJob) (json.RawMessage, error) {
	return f(ctx, job)
}

func TestRunner_TickOrder(t *testing.T) {
	repo := newRepo(t)
	c := &clock{t: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	ctx := context.Background()
	createTask(t, repo, "sync", "", map[string]interface{}{"type": "sync", "interval_seconds": 10})
	_, err := repo.Research().Enqueue(ctx, &model.ResearchJob{Query: "q", Collection: "shared", ScheduledAt: 1, CreatedAt: 1, UpdatedAt: 1})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	handlers := map[string]JobHandler{
		"sync": func(context.Context, Job) error { record("job"); return nil },
	}
	r := NewRunner(repo, handlers, zap.NewNop(), WithClock(c.now),
		WithStep("health", func(context.Context) error { record("health"); return nil }),
		WithResearch(researchFunc(func(context.Context, model.ResearchJob) (json.RawMessage, error) {
			record("research")
			return json.RawMessage(`{}`), nil
		})),
		WithStep("self_heal", func(context.Context) error { record("self_heal"); return nil }))

	r.Tick(ctx)
	assert.Equal(t, []string{"job", "health", "research", "self_heal"}, order)
}

func TestRunner_ParentCancelLetsTickFinish(t *testing.T) {
	repo := newRepo(t)
	started := make(chan struct{})
	var (
		once     sync.Once
		finished atomic.Bool
		stepErr  atomic.Value
	)
	r := NewRunner(repo, nil, zap.NewNop(), WithPollInterval(time.Hour),
		WithStep("slow", func(ctx context.Context) error {
			once.Do(func() { close(started) })
			select {
			case <-ctx.Done():
				stepErr.Store(ctx.Err())
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			finished.Store(true)
			return nil
		}))

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not tick")
	}
	cancel()
	r.Stop()

	assert.True(t, finished.Load())
	assert.Nil(t, stepErr.Load())
}
