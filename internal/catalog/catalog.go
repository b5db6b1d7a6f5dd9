package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/audit"
	"github.com/nulzo/model-gateway/internal/platform/metrics"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
	"github.com/nulzo/model-gateway/pkg/api"
)

// OfflineRetention is how long an offline row survives before cleanup may
// delete it.
const OfflineRetention = 90 * 24 * time.Hour

const defaultListLimit = 500

// Lister fetches a provider's advertised models.
type Lister interface {
	ListModels(ctx context.Context, p provider.Provider) (*api.ModelList, error)
}

// SyncResult summarises one FetchAndCache run.
type SyncResult struct {
	OK         bool   `json:"ok"`
	ProviderID string `json:"provider_id"`
	Changed    int    `json:"changed"`
	Models     int    `json:"models"`
	Conflicts  int    `json:"conflicts"`
	// Offline counts rows the provider stopped advertising.
	Offline int64  `json:"offline"`
	Hash    string `json:"etag_or_hash"`
	Cached  bool   `json:"cached,omitempty"`
}

// CachedModel is a catalog row with its JSON columns decoded.
type CachedModel struct {
	ProviderID   string          `json:"provider_id"`
	ModelID      string          `json:"model_id"`
	Status       string          `json:"status"`
	Raw          json.RawMessage `json:"raw"`
	Capabilities json.RawMessage `json:"capabilities"`
	FetchedAt    int64           `json:"fetched_at_unix_ms"`
}

type Service struct {
	repo     store.Repository
	registry *provider.Registry
	lister   Lister
	audit    audit.Service
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo store.Repository, registry *provider.Registry, lister Lister, auditor audit.Service, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		registry: registry,
		lister:   lister,
		audit:    auditor,
		logger:   logger.With(zap.String("component", "catalog")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchAndCache pulls the provider's model list and persists it. An unchanged
// list (same content hash as the newest online row) is a no-op.
func (s *Service) FetchAndCache(ctx context.Context, p provider.Provider, actor string) (*SyncResult, error) {
	list, err := s.lister.ListModels(ctx, p)
	if err != nil {
		s.metrics.RecordCatalogSync(p.ID, "error")
		return nil, fmt.Errorf("list models for %s: %w", p.ID, err)
	}

	entries := normalize(list)
	hash, err := contentHash(entries)
	if err != nil {
		return nil, err
	}

	var res *SyncResult
	err = store.RetryOnBusy(ctx, func() error {
		var txErr error
		res, txErr = s.upsertModels(ctx, p.ID, entries, hash, actor)
		return txErr
	})
	if err != nil {
		s.metrics.RecordCatalogSync(p.ID, "error")
		return nil, err
	}

	if res.Cached {
		s.metrics.RecordCatalogSync(p.ID, "cached")
	} else {
		s.metrics.RecordCatalogSync(p.ID, "changed")
		s.logger.Info("Model catalog synced",
			zap.String("provider_id", p.ID),
			zap.Int("models", res.Models),
			zap.Int("conflicts", res.Conflicts),
			zap.Int64("offline", res.Offline))
	}
	return res, nil
}

func (s *Service) upsertModels(ctx context.Context, providerID string, entries []map[string]interface{}, hash, actor string) (*SyncResult, error) {
	res := &SyncResult{OK: true, ProviderID: providerID, Hash: hash}

	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		latest, err := tx.Catalog().LatestOnlineHash(ctx, providerID)
		if err != nil {
			return err
		}
		if latest != "" && latest == hash {
			res.Cached = true
			return nil
		}

		now := s.now().UnixMilli()
		keep := make([]string, 0, len(entries))
		for _, m := range entries {
			modelID := m["id"].(string)
			raw, err := json.Marshal(m)
			if err != nil {
				return err
			}
			caps, err := json.Marshal(map[string]interface{}{"raw": m})
			if err != nil {
				return err
			}

			existing, err := tx.Catalog().Get(ctx, providerID, modelID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if existing != nil && (existing.RawJSON != string(raw) || existing.CapabilitiesJSON != string(caps)) {
				res.Conflicts++
				if err := s.audit.WriteTx(ctx, tx, actor, audit.ActionCatalogConflict, map[string]interface{}{
					"provider_id": providerID,
					"model_id":    modelID,
					"action":      "upsert_update",
				}); err != nil {
					return err
				}
			}

			if err := tx.Catalog().Upsert(ctx, &model.CatalogEntry{
				ProviderID:       providerID,
				ModelID:          modelID,
				RawJSON:          string(raw),
				CapabilitiesJSON: string(caps),
				Status:           model.CatalogOnline,
				FetchedAt:        now,
				ContentHash:      sql.NullString{String: hash, Valid: true},
				CreatedAt:        now,
				UpdatedAt:        now,
			}); err != nil {
				return err
			}
			res.Changed++
			keep = append(keep, modelID)
		}
		res.Models = len(entries)

		// Models the provider no longer advertises start their offline timer.
		offline, err := tx.Catalog().MarkOffline(ctx, providerID, keep, now, now+OfflineRetention.Milliseconds())
		if err != nil {
			return err
		}
		res.Offline = offline

		return s.audit.WriteTx(ctx, tx, actor, audit.ActionCatalogSync, map[string]interface{}{
			"provider_id":  providerID,
			"models":       res.Models,
			"changed":      res.Changed,
			"conflicts":    res.Conflicts,
			"offline":      res.Offline,
			"etag_or_hash": hash,
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// MarkProviderOffline moves every online row of the provider to offline.
// Rows already offline keep their original timers.
func (s *Service) MarkProviderOffline(ctx context.Context, providerID, actor string) (int64, error) {
	var affected int64
	err := store.RetryOnBusy(ctx, func() error {
		now := s.now().UnixMilli()
		return s.repo.WithTx(ctx, func(tx store.Repository) error {
			n, err := tx.Catalog().MarkOffline(ctx, providerID, nil, now, now+OfflineRetention.Milliseconds())
			if err != nil {
				return err
			}
			affected = n
			return s.audit.WriteTx(ctx, tx, actor, audit.ActionCatalogOffline, map[string]interface{}{
				"provider_id": providerID,
				"affected":    n,
			})
		})
	})
	if err != nil {
		return 0, fmt.Errorf("mark %s offline: %w", providerID, err)
	}
	return affected, nil
}

// CleanupOffline deletes expired offline rows that no trace event references.
func (s *Service) CleanupOffline(ctx context.Context, actor string) (int64, error) {
	var deleted int64
	err := store.RetryOnBusy(ctx, func() error {
		return s.repo.WithTx(ctx, func(tx store.Repository) error {
			n, err := tx.Catalog().DeleteExpiredOffline(ctx, s.now().UnixMilli())
			if err != nil {
				return err
			}
			deleted = n
			if n == 0 {
				return nil
			}
			return s.audit.WriteTx(ctx, tx, actor, audit.ActionCatalogPrune, map[string]interface{}{"deleted": n})
		})
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup offline catalog: %w", err)
	}
	return deleted, nil
}

// OnDefaultProviderChanged marks the previous default offline and syncs the
// new one. It returns a nil result when no new default is set.
func (s *Service) OnDefaultProviderChanged(ctx context.Context, oldID, newID, actor string) (*SyncResult, error) {
	if oldID != "" && oldID != newID {
		if _, err := s.MarkProviderOffline(ctx, oldID, actor); err != nil {
			return nil, err
		}
	}
	if newID == "" {
		return nil, nil
	}
	p, err := s.registry.Provider(ctx, newID)
	if err != nil {
		return nil, err
	}
	return s.FetchAndCache(ctx, p, actor)
}

// ListCached returns cached rows for a provider ordered by model id. Status
// defaults to online.
func (s *Service) ListCached(ctx context.Context, providerID, status string, limit int) ([]CachedModel, error) {
	if status == "" {
		status = model.CatalogOnline
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	rows, err := s.repo.Catalog().List(ctx, model.CatalogFilter{ProviderID: providerID, Status: status})
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]CachedModel, 0, len(rows))
	for _, r := range rows {
		out = append(out, CachedModel{
			ProviderID:   r.ProviderID,
			ModelID:      r.ModelID,
			Status:       r.Status,
			Raw:          validJSON(r.RawJSON),
			Capabilities: validJSON(r.CapabilitiesJSON),
			FetchedAt:    r.FetchedAt,
		})
	}
	return out, nil
}

// ModelIDs returns the ids of the provider's online models.
func (s *Service) ModelIDs(ctx context.Context, providerID string) ([]string, error) {
	rows, err := s.ListCached(ctx, providerID, model.CatalogOnline, defaultListLimit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ModelID
	}
	return ids, nil
}

func validJSON(s string) json.RawMessage {
	if !json.Valid([]byte(s)) {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}

// normalize keeps well-formed entries (objects with a string id), first
// occurrence per id, in upstream order.
func normalize(list *api.ModelList) []map[string]interface{} {
	if list == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(list.Data))
	out := make([]map[string]interface{}, 0, len(list.Data))
	for _, m := range list.Data {
		id, ok := m["id"].(string)
		if !ok || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, m)
	}
	return out
}

// contentHash is the sha256 of the entries sorted by id. encoding/json sorts
// map keys, so field order upstream does not matter.
func contentHash(entries []map[string]interface{}) (string, error) {
	sorted := make([]map[string]interface{}, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i]["id"].(string) < sorted[j]["id"].(string)
	})
	data, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("hash model list: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
