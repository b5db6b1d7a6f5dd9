package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/analytics"
	"github.com/nulzo/model-gateway/internal/platform/metrics"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/store/cache"
	"github.com/nulzo/model-gateway/internal/store/model"
	"github.com/nulzo/model-gateway/internal/upstream"
	"github.com/nulzo/model-gateway/pkg/api"
)

const (
	OpChat       = "chat.completions"
	OpEmbeddings = "embeddings"
)

// Upstream is the protocol client the router dispatches through.
type Upstream interface {
	ListModels(ctx context.Context, p provider.Provider) (*api.ModelList, error)
	ChatCompletions(ctx context.Context, p provider.Provider, payload api.Payload) (*upstream.ChatResult, error)
	Embeddings(ctx context.Context, p provider.Provider, payload api.Payload) (json.RawMessage, error)
}

// Service defines the business logic for routing requests.
type Service interface {
	ResolveCandidates(ctx context.Context, modelRef string) ([]Candidate, error)
	// DispatchChat tries candidates strictly in order until one succeeds.
	DispatchChat(ctx context.Context, payload api.Payload) (json.RawMessage, error)
	DispatchEmbeddings(ctx context.Context, payload api.Payload) (json.RawMessage, error)
	// ListModels lists one provider's models (the default when providerID is
	// empty). There is no fallback to other providers.
	ListModels(ctx context.Context, providerID string) (*api.ModelList, error)
}

type service struct {
	logger   *zap.Logger
	registry *provider.Registry
	models   *provider.ModelRegistry
	client   Upstream
	ingestor analytics.Ingestor
	cache    cache.CacheService
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*service)

func WithIngestor(i analytics.Ingestor) Option {
	return func(s *service) { s.ingestor = i }
}

// WithCache caches model listings for ttl. A nil cache disables caching.
func WithCache(c cache.CacheService, ttl time.Duration) Option {
	return func(s *service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *service) { s.metrics = m }
}

func NewService(logger *zap.Logger, registry *provider.Registry, models *provider.ModelRegistry, client Upstream, opts ...Option) Service {
	s := &service{
		logger:   logger.With(zap.String("component", "router")),
		registry: registry,
		models:   models,
		client:   client,
		tracer:   otel.Tracer("github.com/nulzo/model-gateway/internal/gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) DispatchChat(ctx context.Context, payload api.Payload) (json.RawMessage, error) {
	return s.dispatch(ctx, OpChat, payload, func(ctx context.Context, p provider.Provider, body api.Payload) (json.RawMessage, error) {
		res, err := s.client.ChatCompletions(ctx, p, body)
		if err != nil {
			return nil, err
		}
		return res.Body, nil
	})
}

func (s *service) DispatchEmbeddings(ctx context.Context, payload api.Payload) (json.RawMessage, error) {
	return s.dispatch(ctx, OpEmbeddings, payload, s.client.Embeddings)
}

type callFunc func(ctx context.Context, p provider.Provider, payload api.Payload) (json.RawMessage, error)

func (s *service) dispatch(ctx context.Context, op string, payload api.Payload, call callFunc) (json.RawMessage, error) {
	modelRef, err := s.modelRef(ctx, op, payload)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "gateway.dispatch", trace.WithAttributes(
		attribute.String("gateway.operation", op),
		attribute.String("gateway.model_ref", modelRef),
	))
	defer span.End()

	candidates, err := s.ResolveCandidates(ctx, modelRef)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	traceID := uuid.NewString()
	derr := &DispatchError{Operation: op}
	var (
		cfgErr      *ConfigError
		cfgFailures int
	)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := c.Provider
		if !p.Enabled {
			continue
		}
		if !s.registry.Admit(p.ID) {
			derr.Skipped = append(derr.Skipped, p.ID)
			s.metrics.RecordDispatch(p.ID, "skipped")
			s.logger.Debug("Skipping provider with open circuit", zap.String("provider_id", p.ID))
			continue
		}

		body := payload.WithModel(c.UpstreamModel)
		derr.Tried = append(derr.Tried, p.ID)

		start := time.Now()
		resp, err := call(ctx, p, body)
		latency := time.Since(start)

		if err == nil {
			s.registry.RecordSuccess(p.ID)
			s.metrics.RecordDispatch(p.ID, "success")
			s.trace(traceID, op, p.ID, body.Model(), "ok", 200, latency, "")
			span.SetAttributes(attribute.String("gateway.provider_id", p.ID))
			return resp, nil
		}

		if errors.Is(err, upstream.ErrMissingBaseURL) || errors.Is(err, upstream.ErrMissingCredential) {
			// Misconfiguration is not a health signal: no circuit accounting.
			cerr := &ConfigError{ProviderID: p.ID, Err: err}
			if cfgErr == nil {
				cfgErr = cerr
			}
			cfgFailures++
			derr.Message = cerr.Error()
			span.RecordError(cerr)
			s.metrics.RecordDispatch(p.ID, "config")
			s.trace(traceID, op, p.ID, body.Model(), "error", 0, latency, derr.Message)
			s.logger.Warn("Skipping misconfigured provider",
				zap.String("provider_id", p.ID),
				zap.String("operation", op),
				zap.Error(err))
			continue
		}

		msg, outcome, status := classify(p.ID, err)
		derr.Message = msg
		s.registry.RecordFailure(p.ID)
		s.metrics.RecordDispatch(p.ID, outcome)
		s.trace(traceID, op, p.ID, body.Model(), "error", status, latency, msg)
		s.logger.Warn("Upstream attempt failed",
			zap.String("provider_id", p.ID),
			zap.String("operation", op),
			zap.String("outcome", outcome),
			zap.Duration("latency", latency),
			zap.Error(err))
	}

	if cfgErr != nil && cfgFailures == len(derr.Tried) {
		span.SetStatus(codes.Error, "provider misconfigured")
		return nil, cfgErr
	}
	span.SetStatus(codes.Error, derr.Error())
	return nil, derr
}

// modelRef picks the requested model, falling back to the configured model
// default for the operation.
func (s *service) modelRef(ctx context.Context, op string, payload api.Payload) (string, error) {
	if ref := payload.Model(); ref != "" || s.models == nil {
		return ref, nil
	}
	d, err := s.models.Defaults(ctx)
	if err != nil {
		return "", err
	}
	if op == OpEmbeddings {
		return d.EmbeddingModelID, nil
	}
	return d.ChatModelID, nil
}

// classify turns an attempt error into the recorded message, a metrics
// outcome label and the upstream status (0 when there was none).
func classify(providerID string, err error) (msg, outcome string, status int) {
	var se *upstream.StatusError
	switch {
	case errors.As(err, &se):
		outcome = "error"
		if se.Retryable() {
			outcome = "retryable"
		}
		return fmt.Sprintf("%s %s %d: %s", providerID, se.Path, se.StatusCode, se.Snippet()), outcome, se.StatusCode
	case upstream.IsNetwork(err):
		kind := "connect"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = "timeout"
		}
		return fmt.Sprintf("%s network: %s", providerID, kind), "network", 0
	default:
		var de *upstream.DecodeError
		if errors.As(err, &de) {
			return fmt.Sprintf("%s error: malformed response", providerID), "error", 0
		}
		return fmt.Sprintf("%s error: %T", providerID, err), "error", 0
	}
}

func (s *service) trace(traceID, op, providerID, modelID, status string, code int, latency time.Duration, msg string) {
	if s.ingestor == nil {
		return
	}
	ev := &model.TraceEvent{
		TraceID:    traceID,
		EventKind:  op,
		ProviderID: sql.NullString{String: providerID, Valid: true},
		ModelID:    sql.NullString{String: modelID, Valid: modelID != ""},
		Status:     status,
		StatusCode: code,
		LatencyMS:  latency.Milliseconds(),
		TS:         time.Now().UnixMilli(),
	}
	if msg != "" {
		ev.Error = sql.NullString{String: msg, Valid: true}
	}
	s.ingestor.Record(ev)
}

func (s *service) ListModels(ctx context.Context, providerID string) (*api.ModelList, error) {
	var p provider.Provider
	if providerID == "" {
		def, ok, err := s.registry.DefaultProvider(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &api.ModelList{Object: "list", Data: []map[string]interface{}{}}, nil
		}
		p = def
	} else {
		found, err := s.registry.Provider(ctx, providerID)
		if err != nil {
			return nil, err
		}
		p = found
	}

	key := "models:" + p.ID
	if s.cache != nil {
		var cached api.ModelList
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	list, err := s.client.ListModels(ctx, p)
	if err != nil {
		if errors.Is(err, upstream.ErrMissingBaseURL) || errors.Is(err, upstream.ErrMissingCredential) {
			return nil, &ConfigError{ProviderID: p.ID, Err: err}
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, list, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to cache model list", zap.String("provider_id", p.ID), zap.Error(err))
		}
	}
	return list, nil
}
