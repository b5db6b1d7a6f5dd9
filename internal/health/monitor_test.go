package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/upstream"
	"github.com/nulzo/model-gateway/pkg/api"
)

type memStore struct{ data map[string][]byte }

func (m *memStore) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return json.Unmarshal(raw, dest) == nil, nil
}

func (m *memStore) SetJSON(_ context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	m.data[key] = raw
	return err
}

type fakeProber struct {
	mu       sync.Mutex
	calls    map[string]int
	timeouts map[string]time.Duration
	fail     map[string]error
}

func (f *fakeProber) ListModels(_ context.Context, p provider.Provider) (*api.ModelList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[p.ID]++
	f.timeouts[p.ID] = p.Timeout()
	if err := f.fail[p.ID]; err != nil {
		return nil, err
	}
	return &api.ModelList{Object: "list"}, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*Monitor, *provider.Registry, *fakeProber, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	off := provider.Provider{ID: "off", Kind: provider.KindOpenAICompatible, BaseURL: "http://off", Enabled: false}
	seed := &provider.Config{Providers: []provider.Provider{
		{ID: "fast", Kind: provider.KindOpenAICompatible, BaseURL: "http://fast", Enabled: true, TimeoutSeconds: 3},
		{ID: "slow", Kind: provider.KindOllama, BaseURL: "http://slow", Enabled: true, TimeoutSeconds: 120},
		off,
	}}
	reg := provider.NewRegistry(&memStore{data: map[string][]byte{}}, config.UpstreamConfig{}, zap.NewNop(),
		provider.WithClock(c.now), provider.WithSeed(seed))
	_, err := reg.Load(context.Background())
	require.NoError(t, err)

	prober := &fakeProber{calls: map[string]int{}, timeouts: map[string]time.Duration{}, fail: map[string]error{}}
	return NewMonitor(reg, prober, zap.NewNop(), WithClock(c.now)), reg, prober, c
}

func TestMonitor_TickIsRateLimited(t *testing.T) {
	m, _, prober, c := setup(t)
	ctx := context.Background()

	ran, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, prober.calls["fast"])
	assert.Equal(t, 1, prober.calls["slow"])
	assert.Zero(t, prober.calls["off"])

	c.t = c.t.Add(29 * time.Second)
	ran, err = m.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, prober.calls["fast"])

	c.t = c.t.Add(time.Second)
	ran, err = m.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, prober.calls["fast"])
}

func TestMonitor_ProbeTimeoutIsBounded(t *testing.T) {
	m, _, prober, _ := setup(t)
	_, err := m.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, prober.timeouts["fast"])
	assert.Equal(t, MaxProbeTimeout, prober.timeouts["slow"])
}

func TestMonitor_FailureMarksDownWithoutTouchingCircuit(t *testing.T) {
	m, reg, prober, _ := setup(t)
	prober.fail["slow"] = fmt.Errorf("probe: %w", &upstream.StatusError{StatusCode: 500, Path: upstream.PathModels})

	reg.RecordFailure("slow")
	_, err := m.Tick(context.Background())
	require.NoError(t, err)

	fast := reg.Runtime("fast")
	assert.Equal(t, provider.HealthUp, fast.Health.Status)
	assert.Empty(t, fast.Health.LastError)

	slow := reg.Runtime("slow")
	assert.Equal(t, provider.HealthDown, slow.Health.Status)
	assert.Equal(t, "StatusError", slow.Health.LastError)
	assert.Equal(t, 1, slow.Circuit.Failures)
	assert.Equal(t, provider.CircuitClosed, slow.Circuit.State)
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "NetworkError", ErrorClass(&upstream.NetworkError{URL: "http://x", Err: errors.New("refused")}))
	assert.Equal(t, "StatusError", ErrorClass(fmt.Errorf("wrap: %w", &upstream.StatusError{StatusCode: 404})))
	assert.Equal(t, "Error", ErrorClass(errors.New("plain")))
}
