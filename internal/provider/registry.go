package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/controlstore"
	"github.com/nulzo/model-gateway/internal/platform/metrics"
)

const (
	schemaVersion    = 1
	legacyProviderID = "default"
	maxErrorLen      = 1000
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrInvalidConfig    = errors.New("invalid provider config")
)

// Registry owns the provider list and the per-provider runtime state. Reads
// are served from memory after the first load; Save is the only path that
// adds providers to the runtime map.
type Registry struct {
	store    controlstore.Store
	logger   *zap.Logger
	legacy   config.UpstreamConfig
	seed     *Config
	metrics  *metrics.Metrics
	validate *validator.Validate
	now      func() time.Time

	mu      sync.RWMutex
	cfg     *Config
	runtime map[string]*Runtime
}

type Option func(*Registry)

// WithClock overrides the time source used for health and circuit stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithSeed supplies providers to persist on first load instead of the
// synthetic legacy provider.
func WithSeed(seed *Config) Option {
	return func(r *Registry) { r.seed = seed }
}

func NewRegistry(store controlstore.Store, legacy config.UpstreamConfig, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		logger:   logger.With(zap.String("component", "provider_registry")),
		legacy:   legacy,
		validate: validator.New(),
		now:      time.Now,
		runtime:  make(map[string]*Runtime),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads the persisted provider set. When nothing is persisted it seeds
// either the configured seed file or a single provider built from the legacy
// upstream settings.
func (r *Registry) Load(ctx context.Context) (Config, error) {
	var persisted Config
	found, err := r.store.GetJSON(ctx, controlstore.KeyProviders, &persisted)
	if err != nil {
		return Config{}, err
	}

	if !found || len(persisted.Providers) == 0 {
		seeded := r.initialConfig()
		r.logger.Info("Seeding provider registry",
			zap.Int("providers", len(seeded.Providers)),
			zap.String("default_provider_id", seeded.DefaultProviderID))
		if err := r.Save(ctx, seeded); err != nil {
			return Config{}, err
		}
		return r.snapshotConfig(), nil
	}

	for i := range persisted.Providers {
		persisted.Providers[i] = persisted.Providers[i].normalized()
	}
	if persisted.DefaultProviderID != "" {
		if _, ok := persisted.find(persisted.DefaultProviderID); !ok {
			persisted.DefaultProviderID = persisted.Providers[0].ID
		}
	}
	persisted.SchemaVersion = schemaVersion

	r.mu.Lock()
	r.install(persisted)
	r.mu.Unlock()

	return r.snapshotConfig(), nil
}

func (r *Registry) initialConfig() Config {
	if r.seed != nil && len(r.seed.Providers) > 0 {
		cfg := r.seed.clone()
		cfg.SchemaVersion = schemaVersion
		if cfg.DefaultProviderID == "" {
			cfg.DefaultProviderID = cfg.Providers[0].ID
		}
		return cfg
	}
	return Config{
		SchemaVersion: schemaVersion,
		Providers: []Provider{{
			ID:             legacyProviderID,
			Name:           "Default",
			Kind:           KindOpenAICompatible,
			BaseURL:        r.legacy.BaseURL,
			Enabled:        true,
			Auth:           Auth{Type: AuthBearer, Token: r.legacy.APIKey},
			TimeoutSeconds: r.legacy.DefaultTimeout.Seconds(),
		}},
		DefaultProviderID: legacyProviderID,
	}
}

// Get returns the cached provider set, loading it on first use.
func (r *Registry) Get(ctx context.Context) (Config, error) {
	r.mu.RLock()
	loaded := r.cfg != nil
	r.mu.RUnlock()
	if !loaded {
		return r.Load(ctx)
	}
	return r.snapshotConfig(), nil
}

// Save validates, persists and caches cfg.
func (r *Registry) Save(ctx context.Context, cfg Config) error {
	cfg = cfg.clone()
	cfg.SchemaVersion = schemaVersion
	for i := range cfg.Providers {
		cfg.Providers[i] = cfg.Providers[i].normalized()
	}
	if err := r.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.DefaultProviderID != "" {
		if _, ok := cfg.find(cfg.DefaultProviderID); !ok {
			return fmt.Errorf("%w: default provider %q is not configured", ErrInvalidConfig, cfg.DefaultProviderID)
		}
	}

	if err := r.store.SetJSON(ctx, controlstore.KeyProviders, cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.install(cfg)
	r.mu.Unlock()
	return nil
}

// install must be called with mu held.
func (r *Registry) install(cfg Config) {
	r.cfg = &cfg
	for _, p := range cfg.Providers {
		if _, ok := r.runtime[p.ID]; !ok {
			r.runtime[p.ID] = newRuntime()
		}
	}
}

func (r *Registry) snapshotConfig() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cfg == nil {
		return Config{SchemaVersion: schemaVersion}
	}
	return r.cfg.clone()
}

func (r *Registry) Provider(ctx context.Context, id string) (Provider, error) {
	cfg, err := r.Get(ctx)
	if err != nil {
		return Provider{}, err
	}
	p, ok := cfg.find(id)
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, nil
}

// ListEnabled returns enabled providers in registry order.
func (r *Registry) ListEnabled(ctx context.Context) ([]Provider, error) {
	cfg, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

// DefaultProvider returns the configured default if enabled, else the first
// enabled provider. ok is false when nothing is enabled.
func (r *Registry) DefaultProvider(ctx context.Context) (Provider, bool, error) {
	cfg, err := r.Get(ctx)
	if err != nil {
		return Provider{}, false, err
	}
	if cfg.DefaultProviderID != "" {
		if p, ok := cfg.find(cfg.DefaultProviderID); ok && p.Enabled {
			return p, true, nil
		}
	}
	for _, p := range cfg.Providers {
		if p.Enabled {
			return p, true, nil
		}
	}
	return Provider{}, false, nil
}

// Runtime returns a copy of the provider's runtime entry, creating it if needed.
func (r *Registry) Runtime(id string) Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.runtimeLocked(id)
}

func (r *Registry) runtimeLocked(id string) *Runtime {
	rt, ok := r.runtime[id]
	if !ok {
		rt = newRuntime()
		r.runtime[id] = rt
	}
	return rt
}

// SetHealth updates health fields only. Circuit state is left untouched.
func (r *Registry) SetHealth(id string, status HealthStatus, latency time.Duration, errMsg string) {
	if len(errMsg) > maxErrorLen {
		errMsg = errMsg[:maxErrorLen]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rt := r.runtimeLocked(id)
	rt.Health = Health{
		Status:    status,
		LatencyMS: latency.Milliseconds(),
		CheckedAt: r.now().UnixMilli(),
		LastError: errMsg,
	}
}

// Snapshot returns providers with credentials masked, plus runtime state.
func (r *Registry) Snapshot(ctx context.Context) (Snapshot, error) {
	cfg, err := r.Get(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		SchemaVersion:     cfg.SchemaVersion,
		DefaultProviderID: cfg.DefaultProviderID,
		Providers:         make([]View, 0, len(cfg.Providers)),
	}
	for _, p := range cfg.Providers {
		headerNames := make([]string, 0, len(p.ExtraHeaders))
		for k := range p.ExtraHeaders {
			headerNames = append(headerNames, k)
		}
		sort.Strings(headerNames)
		snap.Providers = append(snap.Providers, View{
			ID:             p.ID,
			Name:           p.Name,
			Kind:           p.Kind,
			BaseURL:        p.BaseURL,
			Enabled:        p.Enabled,
			AuthType:       p.Auth.Type,
			HeaderName:     p.Auth.HeaderName,
			HasToken:       p.Auth.Token != "",
			ExtraHeaders:   headerNames,
			TimeoutSeconds: p.TimeoutSeconds,
			Runtime:        *r.runtimeLocked(p.ID),
		})
	}
	return snap, nil
}
