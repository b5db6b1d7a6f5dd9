package provider

import (
	"strings"
	"time"
)

type Kind string

const (
	KindOpenAICompatible Kind = "openai_compatible"
	KindOllama           Kind = "ollama"
)

// normalizeKind accepts the short legacy spelling.
func normalizeKind(k Kind) Kind {
	switch strings.ToLower(strings.TrimSpace(string(k))) {
	case "", "openai_compat", "openai_compatible", "openai":
		return KindOpenAICompatible
	case "ollama":
		return KindOllama
	}
	return k
}

type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthHeader AuthType = "header"
)

type Auth struct {
	Type       AuthType `json:"type" yaml:"type" validate:"omitempty,oneof=none bearer header"`
	Token      string   `json:"token,omitempty" yaml:"token"`
	HeaderName string   `json:"header_name,omitempty" yaml:"header_name" validate:"required_if=Type header"`
}

const defaultTimeoutSeconds = 60.0

// Provider is a configured upstream backend. Identity is ID.
type Provider struct {
	ID             string            `json:"id" yaml:"id" validate:"required,max=64"`
	Name           string            `json:"name" yaml:"name"`
	Kind           Kind              `json:"type" yaml:"type" validate:"oneof=openai_compatible ollama"`
	BaseURL        string            `json:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Enabled        bool              `json:"enabled" yaml:"-"`
	Auth           Auth              `json:"auth" yaml:"auth"`
	ExtraHeaders   map[string]string `json:"extra_headers,omitempty" yaml:"extra_headers"`
	TimeoutSeconds float64           `json:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0,lte=600"`
}

// Timeout is the per-call upstream timeout.
func (p Provider) Timeout() time.Duration {
	secs := p.TimeoutSeconds
	if secs <= 0 {
		secs = defaultTimeoutSeconds
	}
	return time.Duration(secs * float64(time.Second))
}

func (p Provider) normalized() Provider {
	p.ID = strings.TrimSpace(p.ID)
	p.Kind = normalizeKind(p.Kind)
	p.BaseURL = strings.TrimSpace(p.BaseURL)
	if p.Auth.Type == "" {
		p.Auth.Type = AuthBearer
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = defaultTimeoutSeconds
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return p
}

// Config is the persisted provider set.
type Config struct {
	SchemaVersion     int        `json:"schema_version"`
	Providers         []Provider `json:"providers" validate:"unique=ID,dive"`
	DefaultProviderID string     `json:"default_provider_id,omitempty"`
}

func (c Config) clone() Config {
	out := c
	out.Providers = make([]Provider, len(c.Providers))
	for i, p := range c.Providers {
		if p.ExtraHeaders != nil {
			h := make(map[string]string, len(p.ExtraHeaders))
			for k, v := range p.ExtraHeaders {
				h[k] = v
			}
			p.ExtraHeaders = h
		}
		out.Providers[i] = p
	}
	return out
}

func (c Config) find(id string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

type HealthStatus string

const (
	HealthUnknown  HealthStatus = "unknown"
	HealthUp       HealthStatus = "up"
	HealthDown     HealthStatus = "down"
	HealthDegraded HealthStatus = "degraded"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

type Health struct {
	Status    HealthStatus `json:"status"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
	CheckedAt int64        `json:"checked_at_unix_ms,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

type Circuit struct {
	State         CircuitState `json:"state"`
	Failures      int          `json:"failures"`
	OpenedAt      int64        `json:"opened_at_unix_ms,omitempty"`
	LastFailureAt int64        `json:"last_failure_at_unix_ms,omitempty"`
}

// Runtime is the in-memory, unpersisted state of one provider.
type Runtime struct {
	Health  Health  `json:"health"`
	Circuit Circuit `json:"circuit"`
}

func newRuntime() *Runtime {
	return &Runtime{
		Health:  Health{Status: HealthUnknown},
		Circuit: Circuit{State: CircuitClosed},
	}
}

// View is a provider as exposed outside the process: credentials are
// replaced by HasToken.
type View struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Kind           Kind     `json:"type"`
	BaseURL        string   `json:"base_url"`
	Enabled        bool     `json:"enabled"`
	AuthType       AuthType `json:"auth_type"`
	HeaderName     string   `json:"header_name,omitempty"`
	HasToken       bool     `json:"has_token"`
	ExtraHeaders   []string `json:"extra_header_names,omitempty"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
	Runtime        Runtime  `json:"runtime"`
}

type Snapshot struct {
	SchemaVersion     int    `json:"schema_version"`
	DefaultProviderID string `json:"default_provider_id,omitempty"`
	Providers         []View `json:"providers"`
}
