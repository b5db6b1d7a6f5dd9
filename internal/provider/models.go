package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/controlstore"
)

var (
	ErrAliasNotFound   = errors.New("model alias not found")
	ErrProfileNotFound = errors.New("model profile not found")
)

type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityEmbeddings Capability = "embeddings"
)

type Tier string

const (
	TierL1 Tier = "L1"
	TierL2 Tier = "L2"
	TierL3 Tier = "L3"
)

// Tiers lists every tier in order.
var Tiers = []Tier{TierL1, TierL2, TierL3}

type Candidate struct {
	ProviderID    string `json:"provider_id" validate:"required"`
	UpstreamModel string `json:"upstream_model" validate:"required"`
}

// Alias is a user-declared fallback chain, independent of live provider state.
type Alias struct {
	ID           string       `json:"id" validate:"required"`
	Enabled      bool         `json:"enabled"`
	Capabilities []Capability `json:"capabilities" validate:"unique,dive,oneof=chat embeddings"`
	Priority     []Candidate  `json:"priority" validate:"dive"`
}

type Profile struct {
	ID                   string                 `json:"id" validate:"required"`
	Name                 string                 `json:"name"`
	Tier                 Tier                   `json:"tier" validate:"oneof=L1 L2 L3"`
	ModelAliasID         string                 `json:"model_alias_id" validate:"required"`
	SystemPrompt         string                 `json:"system_prompt"`
	Params               map[string]interface{} `json:"params"`
	ToolsEnabled         bool                   `json:"tools_enabled"`
	PrivateMemoryEnabled bool                   `json:"private_memory_enabled"`
}

type persistedAliases struct {
	SchemaVersion int     `json:"schema_version"`
	Models        []Alias `json:"models" validate:"unique=ID,dive"`
}

type persistedProfiles struct {
	SchemaVersion    int       `json:"schema_version"`
	Profiles         []Profile `json:"profiles" validate:"unique=ID,dive"`
	DefaultProfileID string    `json:"default_profile_id,omitempty"`
}

// Defaults are the preferred chat and embedding model references.
type Defaults struct {
	ChatModelID      string `json:"chat_model_id,omitempty"`
	EmbeddingModelID string `json:"embedding_model_id,omitempty"`
}

// ModelRegistry holds model aliases and profiles, seeded on first load.
type ModelRegistry struct {
	store      controlstore.Store
	providers  *Registry
	legacyName string
	logger     *zap.Logger
	validate   *validator.Validate

	mu               sync.RWMutex
	loaded           bool
	aliases          []Alias
	profiles         []Profile
	defaultProfileID string
}

func NewModelRegistry(store controlstore.Store, providers *Registry, legacyModel string, logger *zap.Logger) *ModelRegistry {
	if strings.TrimSpace(legacyModel) == "" {
		legacyModel = "default"
	}
	return &ModelRegistry{
		store:      store,
		providers:  providers,
		legacyName: legacyModel,
		logger:     logger.With(zap.String("component", "model_registry")),
		validate:   validator.New(),
	}
}

func (m *ModelRegistry) Load(ctx context.Context) error {
	var a persistedAliases
	if _, err := m.store.GetJSON(ctx, controlstore.KeyModels, &a); err != nil {
		return err
	}
	var p persistedProfiles
	if _, err := m.store.GetJSON(ctx, controlstore.KeyProfiles, &p); err != nil {
		return err
	}

	if len(a.Models) == 0 {
		cfg, err := m.providers.Get(ctx)
		if err != nil {
			return err
		}
		providerID := cfg.DefaultProviderID
		if providerID == "" {
			providerID = legacyProviderID
		}
		a.Models = []Alias{{
			ID:           "default",
			Enabled:      true,
			Capabilities: []Capability{CapabilityChat, CapabilityEmbeddings},
			Priority:     []Candidate{{ProviderID: providerID, UpstreamModel: m.legacyName}},
		}}
		if err := m.SaveAliases(ctx, a.Models); err != nil {
			return err
		}
	}

	if len(p.Profiles) == 0 {
		p.Profiles = []Profile{{
			ID:                   "default",
			Name:                 "Default",
			Tier:                 TierL2,
			ModelAliasID:         "default",
			Params:               map[string]interface{}{},
			ToolsEnabled:         true,
			PrivateMemoryEnabled: true,
		}}
		p.DefaultProfileID = "default"
		if err := m.SaveProfiles(ctx, p.Profiles, p.DefaultProfileID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.aliases = a.Models
	m.profiles = p.Profiles
	m.defaultProfileID = p.DefaultProfileID
	m.loaded = true
	m.mu.Unlock()
	return nil
}

func (m *ModelRegistry) ensure(ctx context.Context) error {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if loaded {
		return nil
	}
	return m.Load(ctx)
}

func (m *ModelRegistry) Aliases(ctx context.Context) ([]Alias, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Alias(nil), m.aliases...), nil
}

// Alias returns the alias with the given id, or ErrAliasNotFound.
func (m *ModelRegistry) Alias(ctx context.Context, id string) (Alias, error) {
	aliases, err := m.Aliases(ctx)
	if err != nil {
		return Alias{}, err
	}
	for _, a := range aliases {
		if a.ID == id {
			return a, nil
		}
	}
	return Alias{}, fmt.Errorf("%w: %s", ErrAliasNotFound, id)
}

func (m *ModelRegistry) SaveAliases(ctx context.Context, aliases []Alias) error {
	doc := persistedAliases{SchemaVersion: schemaVersion, Models: aliases}
	if err := m.validate.Struct(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := m.store.SetJSON(ctx, controlstore.KeyModels, doc); err != nil {
		return err
	}
	m.mu.Lock()
	m.aliases = append([]Alias(nil), aliases...)
	m.mu.Unlock()
	return nil
}

func (m *ModelRegistry) Profiles(ctx context.Context) ([]Profile, string, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Profile(nil), m.profiles...), m.defaultProfileID, nil
}

func (m *ModelRegistry) Profile(ctx context.Context, id string) (Profile, error) {
	profiles, _, err := m.Profiles(ctx)
	if err != nil {
		return Profile{}, err
	}
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}

// SaveProfiles persists profiles. defaultID must be empty or name one of them.
func (m *ModelRegistry) SaveProfiles(ctx context.Context, profiles []Profile, defaultID string) error {
	doc := persistedProfiles{SchemaVersion: schemaVersion, Profiles: profiles, DefaultProfileID: defaultID}
	if err := m.validate.Struct(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if defaultID != "" {
		found := false
		for _, p := range profiles {
			found = found || p.ID == defaultID
		}
		if !found {
			return fmt.Errorf("%w: default profile %q is not configured", ErrInvalidConfig, defaultID)
		}
	}
	if err := m.store.SetJSON(ctx, controlstore.KeyProfiles, doc); err != nil {
		return err
	}
	m.mu.Lock()
	m.profiles = append([]Profile(nil), profiles...)
	m.defaultProfileID = defaultID
	m.mu.Unlock()
	return nil
}

func (m *ModelRegistry) Defaults(ctx context.Context) (Defaults, error) {
	var d Defaults
	if _, err := m.store.GetJSON(ctx, controlstore.KeyDefaultChatModel, &d.ChatModelID); err != nil {
		return Defaults{}, err
	}
	if _, err := m.store.GetJSON(ctx, controlstore.KeyDefaultEmbedModel, &d.EmbeddingModelID); err != nil {
		return Defaults{}, err
	}
	return d, nil
}

func (m *ModelRegistry) SetDefaults(ctx context.Context, d Defaults) (Defaults, error) {
	if err := m.store.SetJSON(ctx, controlstore.KeyDefaultChatModel, strings.TrimSpace(d.ChatModelID)); err != nil {
		return Defaults{}, err
	}
	if err := m.store.SetJSON(ctx, controlstore.KeyDefaultEmbedModel, strings.TrimSpace(d.EmbeddingModelID)); err != nil {
		return Defaults{}, err
	}
	return m.Defaults(ctx)
}
