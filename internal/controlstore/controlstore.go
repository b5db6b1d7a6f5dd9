package controlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/store"
)

// Keys owned by the control plane.
const (
	KeyProviders           = "control.providers"
	KeyModels              = "control.models"
	KeyProfiles            = "control.profiles"
	KeyDefaultChatModel    = "model.defaults.chat_model_id"
	KeyDefaultEmbedModel   = "model.defaults.embedding_model_id"
	KeySelfHealLastDailyMs = "self_heal.last_daily_check_ms"
)

// Store is a last-writer-wins JSON key/value store on the settings table. It
// is not coupled to any relational transaction.
type Store interface {
	// GetJSON decodes the value at key into dest. It reports false when the key
	// is absent or its value is not valid JSON for dest.
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}) error
}

type controlStore struct {
	repo   store.Repository
	logger *zap.Logger
}

func New(repo store.Repository, logger *zap.Logger) Store {
	return &controlStore{repo: repo, logger: logger}
}

func (s *controlStore) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := s.repo.Settings().Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		s.logger.Warn("Ignoring malformed control value", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (s *controlStore) SetJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.repo.Settings().Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
