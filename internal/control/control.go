package control

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/audit"
	"github.com/nulzo/model-gateway/internal/catalog"
	"github.com/nulzo/model-gateway/internal/matching"
	"github.com/nulzo/model-gateway/internal/provider"
)

// Actor is recorded on audit events raised through the control API.
const Actor = "control_api"

// sampleSize is how many model ids a provider test returns.
const sampleSize = 5

// DefaultChange reports the side effects of a default provider switch.
// CatalogError is set when the new default could not be synced; the switch
// itself has already been persisted by then.
type DefaultChange struct {
	OldProviderID string                `json:"old_provider_id,omitempty"`
	NewProviderID string                `json:"new_provider_id,omitempty"`
	Catalog       *catalog.SyncResult   `json:"model_catalog"`
	Presets       *matching.MatchResult `json:"layer_presets"`
	CatalogError  string                `json:"catalog_error,omitempty"`
}

// CatalogRefresh is the result of an explicit catalog sync.
type CatalogRefresh struct {
	Catalog *catalog.SyncResult   `json:"cache"`
	Presets *matching.MatchResult `json:"layer_presets"`
}

type ProviderTest struct {
	ProviderID string   `json:"provider_id"`
	OK         bool     `json:"ok"`
	Models     []string `json:"models_sample"`
}

// Service coordinates provider administration across the registry, the
// model catalog and the matching engine.
type Service struct {
	providers *provider.Registry
	models    *provider.ModelRegistry
	catalog   *catalog.Service
	matching  *matching.Engine
	lister    catalog.Lister
	audit     audit.Service
	logger    *zap.Logger
}

func NewService(
	providers *provider.Registry,
	models *provider.ModelRegistry,
	catalogSvc *catalog.Service,
	engine *matching.Engine,
	lister catalog.Lister,
	auditor audit.Service,
	logger *zap.Logger,
) *Service {
	return &Service{
		providers: providers,
		models:    models,
		catalog:   catalogSvc,
		matching:  engine,
		lister:    lister,
		audit:     auditor,
		logger:    logger.With(zap.String("component", "control")),
	}
}

func (s *Service) Snapshot(ctx context.Context) (provider.Snapshot, error) {
	return s.providers.Snapshot(ctx)
}

// UpsertProvider adds or replaces a provider. When it becomes the first
// default, the catalog is synced for it.
func (s *Service) UpsertProvider(ctx context.Context, p provider.Provider, actor string) (*DefaultChange, error) {
	before, err := s.providers.Get(ctx)
	if err != nil {
		return nil, err
	}
	after, err := s.providers.Upsert(ctx, p)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.ActionProviderUpsert, map[string]interface{}{
		"provider_id": p.ID,
		"type":        p.Kind,
		"enabled":     p.Enabled,
	})

	if before.DefaultProviderID == after.DefaultProviderID {
		return nil, nil
	}
	return s.defaultChanged(ctx, before.DefaultProviderID, after.DefaultProviderID, actor), nil
}

// DeleteProvider removes a provider, handing the default to the first
// remaining provider when needed.
func (s *Service) DeleteProvider(ctx context.Context, id, actor string) (*DefaultChange, error) {
	oldDefault, newDefault, err := s.providers.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.ActionProviderDelete, map[string]interface{}{"provider_id": id})

	if oldDefault == newDefault {
		return nil, nil
	}
	return s.defaultChanged(ctx, oldDefault, newDefault, actor), nil
}

// SetDefaultProvider switches the default provider, re-syncs the catalog
// and re-matches layer presets against the new default's online models.
// An empty id clears the default.
func (s *Service) SetDefaultProvider(ctx context.Context, id, actor string) (*DefaultChange, error) {
	old, err := s.providers.SetDefault(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.ActionProviderDefault, map[string]interface{}{
		"old_provider_id": old,
		"new_provider_id": id,
	})
	return s.defaultChanged(ctx, old, id, actor), nil
}

// defaultChanged never fails: the registry change is already durable, so
// downstream errors are reported in the result and logged.
func (s *Service) defaultChanged(ctx context.Context, oldID, newID, actor string) *DefaultChange {
	change := &DefaultChange{OldProviderID: oldID, NewProviderID: newID}

	res, err := s.catalog.OnDefaultProviderChanged(ctx, oldID, newID, actor)
	if err != nil {
		s.logger.Warn("Catalog sync after default change failed",
			zap.String("old_provider_id", oldID),
			zap.String("new_provider_id", newID),
			zap.Error(err))
		change.CatalogError = err.Error()
	}
	change.Catalog = res

	if newID == "" {
		return change
	}
	presets, err := s.matchPresets(ctx, newID, actor)
	if err != nil {
		s.logger.Warn("Layer preset match after default change failed",
			zap.String("provider_id", newID),
			zap.Error(err))
		return change
	}
	change.Presets = presets
	return change
}

func (s *Service) matchPresets(ctx context.Context, providerID, actor string) (*matching.MatchResult, error) {
	ids, err := s.catalog.ModelIDs(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return s.matching.UpsertLayerPresets(ctx, providerID, ids, actor)
}

// TestProvider lists the provider's models live and returns a sample.
func (s *Service) TestProvider(ctx context.Context, id string) (*ProviderTest, error) {
	p, err := s.providers.Provider(ctx, id)
	if err != nil {
		return nil, err
	}
	list, err := s.lister.ListModels(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("test %s: %w", id, err)
	}
	ids := list.IDs()
	if len(ids) > sampleSize {
		ids = ids[:sampleSize]
	}
	return &ProviderTest{ProviderID: id, OK: true, Models: ids}, nil
}

// SyncCatalog fetches the provider's catalog (the default provider when id
// is empty) and re-matches layer presets over its online models.
func (s *Service) SyncCatalog(ctx context.Context, id, actor string) (*CatalogRefresh, error) {
	if id == "" {
		cfg, err := s.providers.Get(ctx)
		if err != nil {
			return nil, err
		}
		id = cfg.DefaultProviderID
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no default provider", provider.ErrProviderNotFound)
	}
	p, err := s.providers.Provider(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := s.catalog.FetchAndCache(ctx, p, actor)
	if err != nil {
		return nil, err
	}
	presets, err := s.matchPresets(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return &CatalogRefresh{Catalog: res, Presets: presets}, nil
}

// UpsertPresets matches layer presets against an explicit model list, or
// against the provider's cached online models when models is empty.
func (s *Service) UpsertPresets(ctx context.Context, providerID string, models []string, actor string) (*matching.MatchResult, error) {
	if len(models) == 0 {
		return s.matchPresets(ctx, providerID, actor)
	}
	return s.matching.UpsertLayerPresets(ctx, providerID, models, actor)
}

func (s *Service) Defaults(ctx context.Context) (provider.Defaults, error) {
	return s.models.Defaults(ctx)
}

func (s *Service) SetDefaults(ctx context.Context, d provider.Defaults, actor string) (provider.Defaults, error) {
	out, err := s.models.SetDefaults(ctx, d)
	if err != nil {
		return provider.Defaults{}, err
	}
	s.record(ctx, actor, audit.ActionModelDefaultsSave, out)
	return out, nil
}

// record is fire-and-forget; a failed audit write never fails the mutation.
func (s *Service) record(ctx context.Context, actor, action string, payload interface{}) {
	if err := s.audit.Write(ctx, actor, action, payload); err != nil {
		s.logger.Warn("Audit write failed", zap.String("action", action), zap.Error(err))
	}
}

// IsNotFound reports whether err names an unknown provider, alias or profile.
func IsNotFound(err error) bool {
	return errors.Is(err, provider.ErrProviderNotFound) ||
		errors.Is(err, provider.ErrAliasNotFound) ||
		errors.Is(err, provider.ErrProfileNotFound)
}
