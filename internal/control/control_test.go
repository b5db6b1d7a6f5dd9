package control

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/audit"
	"github.com/nulzo/model-gateway/internal/catalog"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/controlstore"
	"github.com/nulzo/model-gateway/internal/matching"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
	"github.com/nulzo/model-gateway/internal/store/sqlite"
	"github.com/nulzo/model-gateway/pkg/api"
)

type fakeLister struct {
	mu     sync.Mutex
	models map[string][]string
	err    error
}

func (f *fakeLister) ListModels(_ context.Context, p provider.Provider) (*api.ModelList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := &api.ModelList{Object: "list"}
	for _, id := range f.models[p.ID] {
		out.Data = append(out.Data, map[string]interface{}{"id": id, "object": "model"})
	}
	return out, nil
}

type fixture struct {
	svc    *Service
	repo   store.Repository
	audit  audit.Service
	lister *fakeLister
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "control.sqlite"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	cs := controlstore.New(repo, zap.NewNop())
	reg := provider.NewRegistry(cs, config.UpstreamConfig{}, zap.NewNop(),
		provider.WithSeed(&provider.Config{Providers: []provider.Provider{
			{ID: "p1", Kind: provider.KindOpenAICompatible, BaseURL: "http://p1", Enabled: true},
			{ID: "p2", Kind: provider.KindOpenAICompatible, BaseURL: "http://p2", Enabled: true},
		}}))
	_, err = reg.Load(context.Background())
	require.NoError(t, err)
	models := provider.NewModelRegistry(cs, reg, "default", zap.NewNop())

	auditor := audit.NewService(repo, zap.NewNop(), "test-key", "", 30)
	lister := &fakeLister{models: map[string][]string{
		"p1": {"llama3"},
		"p2": {"gpt-4o", "gpt-4o-mini", "o1", "text-embedding-3-small", "gpt-3.5-turbo", "gpt-4-turbo"},
	}}
	cat := catalog.NewService(repo, reg, lister, auditor, zap.NewNop())
	engine := matching.NewEngine(repo, auditor, zap.NewNop())

	return &fixture{
		svc:    NewService(reg, models, cat, engine, lister, auditor, zap.NewNop()),
		repo:   repo,
		audit:  auditor,
		lister: lister,
	}
}

func (f *fixture) auditCount(t *testing.T, action string) int {
	entries, err := f.audit.List(context.Background(), model.AuditFilter{Action: action}, false)
	require.NoError(t, err)
	return len(entries)
}

func TestSetDefaultProvider_SyncsCatalogAndPresets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SyncCatalog(ctx, "p1", Actor)
	require.NoError(t, err)

	change, err := f.svc.SetDefaultProvider(ctx, "p2", Actor)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, "p1", change.OldProviderID)
	assert.Equal(t, "p2", change.NewProviderID)
	require.NotNil(t, change.Catalog)
	assert.Equal(t, 6, change.Catalog.Models)
	assert.Empty(t, change.CatalogError)

	require.NotNil(t, change.Presets)
	l1 := change.Presets.Layers[provider.TierL1]
	require.NotNil(t, l1.SelectedModelID)
	assert.Equal(t, "gpt-4o-mini", *l1.SelectedModelID)

	offline, err := f.repo.Catalog().List(ctx, model.CatalogFilter{ProviderID: "p1", Status: model.CatalogOffline})
	require.NoError(t, err)
	assert.Len(t, offline, 1)

	presets, err := f.svc.matching.ListLayerPresets(ctx)
	require.NoError(t, err)
	assert.Len(t, presets, 3)
	assert.Equal(t, 1, f.auditCount(t, audit.ActionProviderDefault))
}

func TestSetDefaultProvider_SyncFailureStillSwitches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lister.err = errors.New("connection refused")

	change, err := f.svc.SetDefaultProvider(ctx, "p2", Actor)
	require.NoError(t, err)
	assert.Nil(t, change.Catalog)
	assert.Contains(t, change.CatalogError, "connection refused")

	snap, err := f.svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p2", snap.DefaultProviderID)
}

func TestSetDefaultProvider_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetDefaultProvider(context.Background(), "nope", Actor)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDeleteProvider_ReassignsDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	change, err := f.svc.DeleteProvider(ctx, "p1", Actor)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, "p2", change.NewProviderID)

	// Removing a non-default provider is not a default change.
	_, err = f.svc.UpsertProvider(ctx, provider.Provider{ID: "p3", BaseURL: "http://p3", Enabled: true}, Actor)
	require.NoError(t, err)
	change, err = f.svc.DeleteProvider(ctx, "p3", Actor)
	require.NoError(t, err)
	assert.Nil(t, change)

	assert.Equal(t, 2, f.auditCount(t, audit.ActionProviderDelete))
	assert.Equal(t, 1, f.auditCount(t, audit.ActionProviderUpsert))
}

func TestTestProvider_SamplesFirstFive(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.TestProvider(context.Background(), "p2")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini", "o1", "text-embedding-3-small", "gpt-3.5-turbo"}, res.Models)

	_, err = f.svc.TestProvider(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestSyncCatalog_DefaultsToDefaultProvider(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.SyncCatalog(context.Background(), "", Actor)
	require.NoError(t, err)
	assert.Equal(t, "p1", res.Catalog.ProviderID)
	assert.Equal(t, "p1", res.Presets.ProviderID)
}

func TestUpsertPresets_ExplicitModels(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.UpsertPresets(context.Background(), "p2", []string{"gpt-4o"}, Actor)
	require.NoError(t, err)
	l1 := res.Layers[provider.TierL1]
	require.NotNil(t, l1.SelectedModelID)
	assert.Equal(t, "gpt-4o", *l1.SelectedModelID)
}

func TestSetDefaults_Audited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.SetDefaults(ctx, provider.Defaults{ChatModelID: " fast ", EmbeddingModelID: "embed"}, Actor)
	require.NoError(t, err)
	assert.Equal(t, "fast", out.ChatModelID)

	got, err := f.svc.Defaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, out, got)
	assert.Equal(t, 1, f.auditCount(t, audit.ActionModelDefaultsSave))
}

func TestAliasesAndProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.UpsertAlias(ctx, provider.Alias{
		ID:       "fast",
		Enabled:  true,
		Priority: []provider.Candidate{{ProviderID: "p2", UpstreamModel: "gpt-4o-mini"}},
	}))
	aliases, err := f.svc.Aliases(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(aliases))
	for _, a := range aliases {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, "fast")

	require.NoError(t, f.svc.DeleteAlias(ctx, "fast"))
	aliases, err = f.svc.Aliases(ctx)
	require.NoError(t, err)
	for _, a := range aliases {
		assert.NotEqual(t, "fast", a.ID)
	}

	require.NoError(t, f.svc.UpsertProfile(ctx, provider.Profile{ID: "writer", Tier: provider.TierL3, ModelAliasID: "default"}))
	require.NoError(t, f.svc.SetDefaultProfile(ctx, "writer"))
	profiles, err := f.svc.Profiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, "writer", profiles.DefaultProfileID)

	require.NoError(t, f.svc.DeleteProfile(ctx, "writer"))
	profiles, err = f.svc.Profiles(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "writer", profiles.DefaultProfileID)

	err = f.svc.SetDefaultProfile(ctx, "ghost")
	assert.True(t, IsNotFound(err))
}
