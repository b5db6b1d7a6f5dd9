package matching

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/audit"
	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
)

var lightweight = regexp.MustCompile(`(?i)(flash|mini)`)

// Selection is one tier's outcome.
type Selection struct {
	// SelectedModelID is nil when the model list was empty.
	SelectedModelID *string         `json:"selected_model_id"`
	Reason          json.RawMessage `json:"selection_reason_json"`
}

type MatchResult struct {
	ProviderID string                      `json:"provider_id"`
	Layers     map[provider.Tier]Selection `json:"layers"`
}

// Preset is a stored layer preset with its reason decoded.
type Preset struct {
	Layer                 string  `json:"layer"`
	SelectedModelID       *string `json:"selected_model_id"`
	SelectionReason       *Reason `json:"selection_reason"`
	DefaultPromptTemplate string  `json:"default_prompt_template"`
	ConstraintsJSON       string  `json:"constraints_json"`
	UpdatedAt             int64   `json:"updated_at_unix_ms"`
}

// Select picks a model for tier. The choice depends only on the order and
// names in models.
//
//	L1: first "flash"/"mini" model, else the first model.
//	L2: first model that is not "flash"/"mini", else the first model.
//	L3: the first model.
func Select(models []string, tier provider.Tier) (string, bool, Reason) {
	first := ""
	if len(models) > 0 {
		first = models[0]
	}

	switch tier {
	case provider.TierL1, provider.TierL2:
		wantLight := tier == provider.TierL1
		for _, m := range models {
			if lightweight.MatchString(m) == wantLight {
				return m, true, tierReason(tier, true)
			}
		}
		return first, first != "", tierReason(tier, false)
	default:
		return first, first != "", tierReason(tier, first != "")
	}
}

func tierReason(tier provider.Tier, matched bool) Reason {
	switch tier {
	case provider.TierL1:
		r := Reason{
			MatchingLogic:   "L1 prefers a lightweight model whose name contains flash or mini; otherwise falls back to the first model.",
			DecisionFactors: []string{"name_contains_flash_or_mini", "fallback_first_model"},
			ConfidenceScore: 0.48,
		}
		if matched {
			r.ConfidenceScore = 0.72
		}
		return r
	case provider.TierL2:
		r := Reason{
			MatchingLogic:   "L2 prefers the first mid-size model that is not flash or mini; otherwise falls back to the first model.",
			DecisionFactors: []string{"avoid_flash_mini", "fallback_first_model"},
			ConfidenceScore: 0.46,
		}
		if matched {
			r.ConfidenceScore = 0.66
		}
		return r
	default:
		r := Reason{
			MatchingLogic:   "L3 takes the first model in provider order.",
			DecisionFactors: []string{"provider_first_model"},
			ConfidenceScore: 0.2,
		}
		if matched {
			r.ConfidenceScore = 0.6
		}
		return r
	}
}

// Engine persists tier selections as layer presets.
type Engine struct {
	repo   store.Repository
	audit  audit.Service
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(repo store.Repository, auditor audit.Service, logger *zap.Logger) *Engine {
	return &Engine{
		repo:   repo,
		audit:  auditor,
		logger: logger.With(zap.String("component", "matching")),
		now:    time.Now,
	}
}

// UpsertLayerPresets selects a model per tier and overwrites all three
// preset rows in one transaction with a single audit event.
func (e *Engine) UpsertLayerPresets(ctx context.Context, providerID string, models []string, actor string) (*MatchResult, error) {
	result := &MatchResult{ProviderID: providerID, Layers: make(map[provider.Tier]Selection, len(provider.Tiers))}
	presets := make([]*model.LayerPreset, 0, len(provider.Tiers))

	now := e.now().UnixMilli()
	for _, tier := range provider.Tiers {
		picked, ok, reason := Select(models, tier)
		reasonJSON := NormalizeReason(reason)

		sel := Selection{Reason: json.RawMessage(reasonJSON)}
		p := &model.LayerPreset{
			Layer:               string(tier),
			SelectionReasonJSON: sql.NullString{String: reasonJSON, Valid: true},
			ConstraintsJSON:     "{}",
			UpdatedAt:           now,
		}
		if ok {
			id := picked
			sel.SelectedModelID = &id
			p.SelectedModelID = sql.NullString{String: picked, Valid: true}
		}
		result.Layers[tier] = sel
		presets = append(presets, p)
	}

	err := store.RetryOnBusy(ctx, func() error {
		return e.repo.WithTx(ctx, func(tx store.Repository) error {
			for _, p := range presets {
				if err := tx.Presets().Upsert(ctx, p); err != nil {
					return fmt.Errorf("upsert preset %s: %w", p.Layer, err)
				}
			}
			return e.audit.WriteTx(ctx, tx, actor, audit.ActionLayerPresetMatch, map[string]interface{}{
				"provider_id": providerID,
				"layers":      result.Layers,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Layer presets matched",
		zap.String("provider_id", providerID),
		zap.Int("models", len(models)))
	return result, nil
}

func (e *Engine) ListLayerPresets(ctx context.Context) ([]Preset, error) {
	rows, err := e.repo.Presets().List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Preset, 0, len(rows))
	for _, r := range rows {
		p := Preset{
			Layer:                 r.Layer,
			DefaultPromptTemplate: r.DefaultPromptTemplate,
			ConstraintsJSON:       r.ConstraintsJSON,
			UpdatedAt:             r.UpdatedAt,
		}
		if r.SelectedModelID.Valid {
			id := r.SelectedModelID.String
			p.SelectedModelID = &id
		}
		if r.SelectionReasonJSON.Valid {
			p.SelectionReason = ParseReason(r.SelectionReasonJSON.String)
		}
		out = append(out, p)
	}
	return out, nil
}
