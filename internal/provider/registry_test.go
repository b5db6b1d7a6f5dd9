package provider

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/controlstore"
)

// memStore is an in-memory controlstore.Store.
type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return json.Unmarshal(raw, dest) == nil, nil
}

func (m *memStore) SetJSON(_ context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

var legacy = config.UpstreamConfig{
	BaseURL:        "http://legacy:8000/v1",
	APIKey:         "sk-legacy",
	Model:          "legacy-model",
	DefaultTimeout: 60 * time.Second,
}

func TestRegistry_LoadSeedsLegacyProvider(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := NewRegistry(store, legacy, zap.NewNop())

	cfg, err := r.Load(ctx)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)

	p := cfg.Providers[0]
	assert.Equal(t, "default", p.ID)
	assert.Equal(t, KindOpenAICompatible, p.Kind)
	assert.Equal(t, "http://legacy:8000/v1", p.BaseURL)
	assert.Equal(t, AuthBearer, p.Auth.Type)
	assert.Equal(t, "sk-legacy", p.Auth.Token)
	assert.Equal(t, "default", cfg.DefaultProviderID)
	assert.Contains(t, store.data, controlstore.KeyProviders)

	assert.Equal(t, CircuitClosed, r.Runtime("default").Circuit.State)
	assert.Equal(t, HealthUnknown, r.Runtime("default").Health.Status)
}

func TestRegistry_LoadRepairsDanglingDefault(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.SetJSON(ctx, controlstore.KeyProviders, map[string]interface{}{
		"schema_version":      1,
		"providers":           []map[string]interface{}{{"id": "a", "type": "openai_compat", "base_url": "http://a", "enabled": true}},
		"default_provider_id": "gone",
	}))

	cfg, err := NewRegistry(store, legacy, zap.NewNop()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.DefaultProviderID)
	assert.Equal(t, KindOpenAICompatible, cfg.Providers[0].Kind)
}

func TestRegistry_SaveValidates(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore(), legacy, zap.NewNop())

	err := r.Save(ctx, Config{Providers: []Provider{{ID: "a", BaseURL: "http://a"}, {ID: "a", BaseURL: "http://b"}}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = r.Save(ctx, Config{Providers: []Provider{{ID: "a", Kind: "grpc"}}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = r.Save(ctx, Config{Providers: []Provider{{ID: "a"}}, DefaultProviderID: "b"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = r.Save(ctx, Config{Providers: []Provider{{ID: "a", Auth: Auth{Type: AuthHeader}}}})
	assert.ErrorIs(t, err, ErrInvalidConfig, "header auth needs a header name")
}

func TestRegistry_SetHealthDoesNotTouchCircuit(t *testing.T) {
	r := NewRegistry(newMemStore(), legacy, zap.NewNop())

	for i := 0; i < FailureThreshold; i++ {
		r.RecordFailure("p1")
	}
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	r.SetHealth("p1", HealthUp, 15*time.Millisecond, string(long))

	rt := r.Runtime("p1")
	assert.Equal(t, HealthUp, rt.Health.Status)
	assert.EqualValues(t, 15, rt.Health.LatencyMS)
	assert.Len(t, rt.Health.LastError, 1000)
	assert.Equal(t, CircuitOpen, rt.Circuit.State)
	assert.Equal(t, FailureThreshold, rt.Circuit.Failures)
}

func TestRegistry_CircuitBreaker(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewRegistry(newMemStore(), legacy, zap.NewNop(), WithClock(func() time.Time { return now }))

	assert.False(t, r.RecordFailure("p1"))
	assert.False(t, r.RecordFailure("p1"))
	assert.True(t, r.Admit("p1"))
	assert.True(t, r.RecordFailure("p1"), "third failure opens the circuit")

	now = now.Add(29 * time.Second)
	assert.False(t, r.Admit("p1"), "open circuit rejects within cooldown")

	now = now.Add(time.Second)
	assert.True(t, r.Admit("p1"))
	assert.Equal(t, CircuitHalfOpen, r.Runtime("p1").Circuit.State)

	assert.True(t, r.RecordFailure("p1"), "failed probe reopens")
	assert.False(t, r.Admit("p1"))

	r.RecordSuccess("p1")
	rt := r.Runtime("p1")
	assert.Equal(t, CircuitClosed, rt.Circuit.State)
	assert.Zero(t, rt.Circuit.Failures)
	assert.Zero(t, rt.Circuit.OpenedAt)
	assert.True(t, r.Admit("p1"))
}

func TestRegistry_AdminOperations(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore(), legacy, zap.NewNop())
	_, err := r.Load(ctx)
	require.NoError(t, err)

	_, err = r.Upsert(ctx, Provider{ID: "b", BaseURL: "http://b", Enabled: true, Auth: Auth{Type: AuthBearer, Token: "tok-b"}})
	require.NoError(t, err)

	cfg, err := r.Upsert(ctx, Provider{ID: "b", BaseURL: "http://b2", Enabled: true, Auth: Auth{Type: AuthBearer}})
	require.NoError(t, err)
	b, ok := cfg.find("b")
	require.True(t, ok)
	assert.Equal(t, "tok-b", b.Auth.Token, "omitted token is preserved")
	assert.Equal(t, "http://b2", b.BaseURL)

	old, err := r.SetDefault(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "default", old)

	_, err = r.SetDefault(ctx, "missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)

	oldDefault, newDefault, err := r.Delete(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", oldDefault)
	assert.Equal(t, "default", newDefault)

	_, err = r.Provider(ctx, "b")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestRegistry_SnapshotMasksTokens(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore(), legacy, zap.NewNop())

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Providers, 1)
	assert.True(t, snap.Providers[0].HasToken)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-legacy")
}

func TestRegistry_SeedFile(t *testing.T) {
	ctx := context.Background()
	t.Setenv("SEED_TOKEN", "sk-seeded")
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_provider_id: local
providers:
  - id: remote
    type: openai_compat
    base_url: https://api.example.com/v1
    auth:
      type: bearer
      token: ENV:SEED_TOKEN
  - id: local
    type: ollama
    base_url: http://localhost:11434
    enabled: false
    auth:
      type: none
`), 0o644))

	seed, err := LoadSeedFile(path)
	require.NoError(t, err)

	r := NewRegistry(newMemStore(), legacy, zap.NewNop(), WithSeed(seed))
	cfg, err := r.Load(ctx)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "local", cfg.DefaultProviderID)
	assert.Equal(t, "sk-seeded", cfg.Providers[0].Auth.Token)
	assert.True(t, cfg.Providers[0].Enabled)
	assert.False(t, cfg.Providers[1].Enabled)
	assert.Equal(t, KindOllama, cfg.Providers[1].Kind)

	enabled, err := r.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)

	p, ok, err := r.DefaultProvider(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "remote", p.ID, "disabled default falls back to first enabled")
}
