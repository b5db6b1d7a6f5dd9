package catalog

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/audit"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/controlstore"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
	"github.com/nulzo/model-gateway/internal/store/sqlite"
	"github.com/nulzo/model-gateway/pkg/api"
)

type fakeLister struct {
	mu     sync.Mutex
	models map[string][]map[string]interface{}
	err    error
	calls  int
}

func (f *fakeLister) ListModels(_ context.Context, p provider.Provider) (*api.ModelList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &api.ModelList{Object: "list", Data: f.models[p.ID]}, nil
}

func (f *fakeLister) set(providerID string, models ...map[string]interface{}) {
	f.mu.Lock()
	f.models[providerID] = models
	f.mu.Unlock()
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	svc      *Service
	repo     store.Repository
	registry *provider.Registry
	audit    audit.Service
	lister   *fakeLister
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "catalog.sqlite"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	c := &clock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	reg := provider.NewRegistry(controlstore.New(repo, zap.NewNop()), config.UpstreamConfig{}, zap.NewNop(),
		provider.WithSeed(&provider.Config{Providers: []provider.Provider{
			{ID: "p1", Kind: provider.KindOpenAICompatible, BaseURL: "http://p1", Enabled: true},
			{ID: "p2", Kind: provider.KindOpenAICompatible, BaseURL: "http://p2", Enabled: true},
		}}))
	_, err = reg.Load(context.Background())
	require.NoError(t, err)

	auditor := audit.NewService(repo, zap.NewNop(), "test-key", "", 30)
	lister := &fakeLister{models: map[string][]map[string]interface{}{}}
	return &fixture{
		svc:      NewService(repo, reg, lister, auditor, zap.NewNop(), WithClock(c.now)),
		repo:     repo,
		registry: reg,
		audit:    auditor,
		lister:   lister,
		clock:    c,
	}
}

func (f *fixture) provider(t *testing.T, id string) provider.Provider {
	p, err := f.registry.Provider(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) auditCount(t *testing.T, action string) int {
	entries, err := f.audit.List(context.Background(), model.AuditFilter{Action: action}, false)
	require.NoError(t, err)
	return len(entries)
}

func m(id string, extra ...interface{}) map[string]interface{} {
	out := map[string]interface{}{"id": id, "object": "model"}
	for i := 0; i+1 < len(extra); i += 2 {
		out[extra[i].(string)] = extra[i+1]
	}
	return out
}

func TestFetchAndCache_IdempotentResync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lister.set("p1", m("gpt-4o"), m("gpt-4o-mini"), map[string]interface{}{"object": "junk"})

	first, err := f.svc.FetchAndCache(ctx, f.provider(t, "p1"), "test")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 2, first.Models)
	assert.Equal(t, 2, first.Changed)
	assert.Len(t, first.Hash, 64)

	rows, err := f.repo.Catalog().List(ctx, model.CatalogFilter{ProviderID: "p1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	firstUpdated := rows[0].UpdatedAt

	f.clock.t = f.clock.t.Add(time.Minute)
	second, err := f.svc.FetchAndCache(ctx, f.provider(t, "p1"), "test")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 0, second.Changed)
	assert.Equal(t, first.Hash, second.Hash)

	rows, err = f.repo.Catalog().List(ctx, model.CatalogFilter{ProviderID: "p1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, firstUpdated, rows[0].UpdatedAt)
	assert.Equal(t, 1, f.auditCount(t, audit.ActionCatalogSync))
}

func TestFetchAndCache_HashIgnoresOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lister.set("p1", m("a", "owned_by", "x"), m("b"))
	first, err := f.svc.FetchAndCache(ctx, f.provider(t, "p1"), "test")
	require.NoError(t, err)

	f.lister.set("p1", m("b"), map[string]interface{}{"owned_by": "x", "object": "model", "id": "a"})
	second, err := f.svc.FetchAndCache(ctx, f.provider(t, "p1"), "test")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Hash, second.Hash)
}

func TestFetchAndCache_ConflictAndRemovedModels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lister.set("p1", m("a", "context", 8192), m("b"))
	_, err := f.svc.FetchAndCache(ctx, f.provider(t, "p1"), "test")
	require.NoError(t, err)

	f.lister.set("p1", m("a", "context", 32768))
	res, err := f.svc.FetchAndCache(ctx, f.provider(t, "p1"), "test")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, int64(1), res.Offline)
	assert.Equal(t, 1, f.auditCount(t, audit.ActionCatalogConflict))

	a, err := f.repo.Catalog().Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","object":"model","context":32768}`, a.RawJSON)
	assert.Equal(t, model.CatalogOnline, a.Status)

	b, err := f.repo.Catalog().Get(ctx, "p1", "b")
	require.NoError(t, err)
	assert.Equal(t, model.CatalogOffline, b.Status)
	assert.True(t, b.OfflineSince.Valid)
}

func TestFetchAndCache_ListError(t *testing.T) {
	f := newFixture(t)
	f.lister.err = errors.New("connection refused")

	_, err := f.svc.FetchAndCache(context.Background(), f.provider(t, "p1"), "test")
	assert.Error(t, err)
	assert.Zero(t, f.auditCount(t, audit.ActionCatalogSync))
}

func TestMarkProviderOffline_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lister.set("p1", m("a"), m("b"))
	_, err := f.svc.FetchAndCache(ctx, f.provider(t, "p1"), "test")
	require.NoError(t, err)

	n, err := f.svc.MarkProviderOffline(ctx, "p1", "test")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	before, err := f.repo.Catalog().Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, f.clock.t.UnixMilli(), before.OfflineSince.Int64)
	assert.Equal(t, f.clock.t.Add(OfflineRetention).UnixMilli(), before.ExpireAt.Int64)

	f.clock.t = f.clock.t.Add(time.Hour)
	n, err = f.svc.MarkProviderOffline(ctx, "p1", "test")
	require.NoError(t, err)
	assert.Zero(t, n)

	after, err := f.repo.Catalog().Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, before.OfflineSince, after.OfflineSince)
	assert.Equal(t, before.ExpireAt, after.ExpireAt)
	assert.Equal(t, 2, f.auditCount(t, audit.ActionCatalogOffline))
}

func TestCleanupOffline_RespectsTraceHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lister.set("p1", m("used"), m("unused"))
	_, err := f.svc.FetchAndCache(ctx, f.provider(t, "p1"), "test")
	require.NoError(t, err)
	_, err = f.svc.MarkProviderOffline(ctx, "p1", "test")
	require.NoError(t, err)

	require.NoError(t, f.repo.Traces().Insert(ctx, &model.TraceEvent{
		TraceID:    "t1",
		EventKind:  "chat.completions",
		ProviderID: sql.NullString{String: "p1", Valid: true},
		ModelID:    sql.NullString{String: "used", Valid: true},
		Status:     "ok",
		TS:         f.clock.t.UnixMilli(),
	}))

	n, err := f.svc.CleanupOffline(ctx, "test")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.auditCount(t, audit.ActionCatalogPrune))

	f.clock.t = f.clock.t.Add(OfflineRetention + time.Hour)
	n, err = f.svc.CleanupOffline(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, f.auditCount(t, audit.ActionCatalogPrune))

	_, err = f.repo.Catalog().Get(ctx, "p1", "used")
	assert.NoError(t, err)
	_, err = f.repo.Catalog().Get(ctx, "p1", "unused")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOnDefaultProviderChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lister.set("p1", m("old-model"))
	f.lister.set("p2", m("new-model"))
	_, err := f.svc.FetchAndCache(ctx, f.provider(t, "p1"), "test")
	require.NoError(t, err)

	res, err := f.svc.OnDefaultProviderChanged(ctx, "p1", "p2", "test")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "p2", res.ProviderID)

	old, err := f.svc.ListCached(ctx, "p1", model.CatalogOffline, 0)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "old-model", old[0].ModelID)

	ids, err := f.svc.ModelIDs(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"new-model"}, ids)

	res, err = f.svc.OnDefaultProviderChanged(ctx, "p2", "", "test")
	require.NoError(t, err)
	assert.Nil(t, res)
	ids, err = f.svc.ModelIDs(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListCached_DecodesColumns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lister.set("p1", m("z"), m("a"))
	_, err := f.svc.FetchAndCache(ctx, f.provider(t, "p1"), "test")
	require.NoError(t, err)

	rows, err := f.svc.ListCached(ctx, "p1", "", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ModelID)
	assert.JSONEq(t, `{"id":"a","object":"model"}`, string(rows[0].Raw))
	assert.JSONEq(t, `{"raw":{"id":"a","object":"model"}}`, string(rows[0].Capabilities))
}
