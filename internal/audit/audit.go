package audit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
)

// Actions recorded by the control plane.
const (
	ActionCatalogSync       = "MODEL_CATALOG_SYNC"
	ActionCatalogConflict   = "MODEL_CATALOG_CONFLICT"
	ActionCatalogOffline    = "PROVIDER_CATALOG_OFFLINE"
	ActionCatalogPrune      = "MODEL_CATALOG_PRUNE"
	ActionLayerPresetMatch  = "LAYER_PRESET_MATCH"
	ActionBackup            = "DB_BACKUP"
	ActionRollback          = "DB_ROLLBACK"
	ActionChecksums         = "DB_CHECKSUMS"
	ActionDailyCheck        = "DAILY_CHECK"
	ActionManualCheck       = "MANUAL_CHECK"
	ActionProviderUpsert    = "PROVIDER_UPSERT"
	ActionProviderDelete    = "PROVIDER_DELETE"
	ActionProviderDefault   = "PROVIDER_DEFAULT_SET"
	ActionModelDefaultsSave = "MODEL_DEFAULTS_SET"
)

const (
	defaultSeed   = "model-gateway-audit-default"
	keySalt       = "model-gateway/audit/v1"
	keyIterations = 4096
	dayMillis     = int64(24 * time.Hour / time.Millisecond)
)

var ErrDecrypt = errors.New("audit: payload cannot be decrypted")

// Entry is an audit record as returned by List. Payload is only set when
// decryption was requested and succeeded.
type Entry struct {
	ID        int64           `json:"id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt int64           `json:"created_at_unix_ms"`
	ExpireAt  int64           `json:"expire_at_unix_ms"`
}

// Service is the append-only audit sink. Payloads are encrypted at rest.
type Service interface {
	Write(ctx context.Context, actor, action string, payload interface{}) error
	// WriteTx appends through repo, so the record commits or rolls back with
	// the caller's transaction.
	WriteTx(ctx context.Context, repo store.Repository, actor, action string, payload interface{}) error
	List(ctx context.Context, filter model.AuditFilter, decrypt bool) ([]Entry, error)
	PruneExpired(ctx context.Context) (int64, error)
}

type service struct {
	repo          store.Repository
	logger        *zap.Logger
	key           []byte
	retentionDays int
	now           func() time.Time
}

// NewService derives the payload key from secret. An empty secret falls back
// to fallbackSeed (usually the gateway API key) and then a fixed seed.
func NewService(repo store.Repository, logger *zap.Logger, secret, fallbackSeed string, retentionDays int) Service {
	seed := strings.TrimSpace(secret)
	if seed == "" {
		seed = strings.TrimSpace(fallbackSeed)
	}
	if seed == "" {
		seed = defaultSeed
	}
	if retentionDays <= 0 {
		retentionDays = 180
	}
	return &service{
		repo:          repo,
		logger:        logger.With(zap.String("component", "audit")),
		key:           pbkdf2.Key([]byte(seed), []byte(keySalt), keyIterations, chacha20poly1305.KeySize, sha256.New),
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

func (s *service) Write(ctx context.Context, actor, action string, payload interface{}) error {
	return s.WriteTx(ctx, s.repo, actor, action, payload)
}

func (s *service) WriteTx(ctx context.Context, repo store.Repository, actor, action string, payload interface{}) error {
	plain, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	blob, err := s.seal(plain)
	if err != nil {
		return err
	}

	now := s.now().UnixMilli()
	_, err = repo.Audit().Insert(ctx, &model.AuditLog{
		Actor:            actor,
		Action:           action,
		EncryptedPayload: blob,
		CreatedAt:        now,
		ExpireAt:         now + int64(s.retentionDays)*dayMillis,
	})
	if err != nil {
		return fmt.Errorf("write audit %s: %w", action, err)
	}
	return nil
}

func (s *service) List(ctx context.Context, filter model.AuditFilter, decrypt bool) ([]Entry, error) {
	logs, err := s.repo.Audit().List(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(logs))
	for _, l := range logs {
		e := Entry{
			ID:        l.ID,
			Actor:     l.Actor,
			Action:    l.Action,
			CreatedAt: l.CreatedAt,
			ExpireAt:  l.ExpireAt,
		}
		if decrypt {
			plain, err := s.open(l.EncryptedPayload)
			if err != nil {
				s.logger.Warn("Skipping undecryptable audit payload", zap.Int64("id", l.ID), zap.Error(err))
			} else {
				e.Payload = plain
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *service) PruneExpired(ctx context.Context) (int64, error) {
	return s.repo.Audit().DeleteExpired(ctx, s.now().UnixMilli())
}

// seal returns nonce || ciphertext.
func (s *service) seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *service) open(blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ct := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
