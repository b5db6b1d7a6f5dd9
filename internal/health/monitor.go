package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nulzo/model-gateway/internal/platform/metrics"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/pkg/api"
)

const (
	DefaultInterval = 30 * time.Second
	// MaxProbeTimeout bounds a probe regardless of the provider's own timeout.
	MaxProbeTimeout = 10 * time.Second
)

// Prober lists a provider's models, falling back to the native shape on 404.
type Prober interface {
	ListModels(ctx context.Context, p provider.Provider) (*api.ModelList, error)
}

// Monitor probes enabled providers and records reachability on the registry.
// It never touches circuit state.
type Monitor struct {
	registry *provider.Registry
	prober   Prober
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	limiter *rate.Limiter
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithInterval overrides the minimum spacing between live ticks.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func NewMonitor(registry *provider.Registry, prober Prober, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		registry: registry,
		prober:   prober,
		logger:   logger.With(zap.String("component", "health_monitor")),
		now:      time.Now,
		limiter:  rate.NewLimiter(rate.Every(DefaultInterval), 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tick probes every enabled provider unless a live tick ran within the
// interval. It reports whether probes were issued.
func (m *Monitor) Tick(ctx context.Context) (bool, error) {
	m.mu.Lock()
	allowed := m.limiter.AllowN(m.now(), 1)
	m.mu.Unlock()
	if !allowed {
		return false, nil
	}

	providers, err := m.registry.ListEnabled(ctx)
	if err != nil {
		return true, fmt.Errorf("list providers: %w", err)
	}
	for _, p := range providers {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		m.CheckOne(ctx, p)
	}
	return true, nil
}

// CheckOne probes a single provider and stores the result.
func (m *Monitor) CheckOne(ctx context.Context, p provider.Provider) provider.Health {
	probe := p
	if timeout := p.Timeout(); timeout > MaxProbeTimeout {
		probe.TimeoutSeconds = MaxProbeTimeout.Seconds()
	}

	start := m.now()
	_, err := m.prober.ListModels(ctx, probe)
	latency := m.now().Sub(start)

	status := provider.HealthUp
	errMsg := ""
	if err != nil {
		status = provider.HealthDown
		errMsg = ErrorClass(err)
		m.logger.Debug("Provider probe failed",
			zap.String("provider_id", p.ID),
			zap.String("error_class", errMsg),
			zap.Error(err))
	}

	m.registry.SetHealth(p.ID, status, latency, errMsg)
	m.metrics.ObserveHealth(p.ID, status == provider.HealthUp, latency.Seconds())
	return m.registry.Runtime(p.ID).Health
}

// ErrorClass names the outermost typed error in err's chain, e.g.
// "StatusError" or "NetworkError". Plain wrapped errors are unwrapped until a
// typed one is found.
func ErrorClass(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		name := fmt.Sprintf("%T", e)
		if name == "*errors.errorString" || name == "*fmt.wrapError" || name == "*fmt.wrapErrors" {
			continue
		}
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "DeadlineExceeded"
	}
	return "Error"
}
