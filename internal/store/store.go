package store

import (
	"context"
	"errors"

	"github.com/nulzo/model-gateway/internal/store/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrBusy marks lock contention (database busy or locked). It is the only
	// error class RetryOnBusy retries.
	ErrBusy = errors.New("store: database busy")
)

// Repository is the main contract for the data layer.
type Repository interface {
	Settings() SettingsRepository
	Catalog() CatalogRepository
	Presets() PresetRepository
	Tasks() TaskRepository
	Research() ResearchRepository
	Audit() AuditRepository
	Checksums() ChecksumRepository
	Traces() TraceRepository
	Maintenance() MaintenanceRepository

	// WithTx runs fn inside one exclusive-write transaction. fn must only use
	// the repository it is handed.
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type SettingsRepository interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type CatalogRepository interface {
	// LatestOnlineHash returns the content hash of the most recently fetched
	// online row for the provider, or "" when there is none.
	LatestOnlineHash(ctx context.Context, providerID string) (string, error)
	// Get returns ErrNotFound when the pair is unknown.
	Get(ctx context.Context, providerID, modelID string) (*model.CatalogEntry, error)
	// Upsert inserts or overwrites by (provider_id, model_id), always resetting
	// the row to online.
	Upsert(ctx context.Context, entry *model.CatalogEntry) error
	// MarkOffline moves online rows of the provider to offline, stamping the
	// offline timers only where they are not already set. Rows whose model id
	// is in keep are left alone.
	MarkOffline(ctx context.Context, providerID string, keep []string, now, expireAt int64) (int64, error)
	// DeleteExpiredOffline removes offline rows past expiry that no trace event references.
	DeleteExpiredOffline(ctx context.Context, now int64) (int64, error)
	List(ctx context.Context, filter model.CatalogFilter) ([]model.CatalogEntry, error)
}

type PresetRepository interface {
	Upsert(ctx context.Context, preset *model.LayerPreset) error
	List(ctx context.Context) ([]model.LayerPreset, error)
}

type TaskRepository interface {
	ListEnabled(ctx context.Context) ([]model.Task, error)
	Create(ctx context.Context, task *model.Task) (int64, error)
	// CompareAndSwapPayload replaces the payload only if the row is still at
	// prevUpdatedAt. It reports whether the swap happened.
	CompareAndSwapPayload(ctx context.Context, id int64, payload string, prevUpdatedAt, now int64) (bool, error)
}

type ResearchRepository interface {
	Enqueue(ctx context.Context, job *model.ResearchJob) (int64, error)
	// ClaimDue moves the oldest queued job scheduled at or before now to
	// running and returns it. It returns (nil, nil) when nothing is due.
	ClaimDue(ctx context.Context, now int64) (*model.ResearchJob, error)
	Complete(ctx context.Context, id int64, resultJSON string, now int64) error
	Fail(ctx context.Context, id int64, msg string, now int64) error
	Get(ctx context.Context, id int64) (*model.ResearchJob, error)
}

type AuditRepository interface {
	Insert(ctx context.Context, log *model.AuditLog) (int64, error)
	List(ctx context.Context, filter model.AuditFilter) ([]model.AuditLog, error)
	DeleteExpired(ctx context.Context, now int64) (int64, error)
}

type ChecksumRepository interface {
	Upsert(ctx context.Context, sum *model.Checksum) error
	List(ctx context.Context) ([]model.Checksum, error)
}

type TraceRepository interface {
	Insert(ctx context.Context, event *model.TraceEvent) error
	Recent(ctx context.Context, limit int) ([]model.TraceEvent, error)
	ProviderStats(ctx context.Context, since int64) ([]model.ProviderStats, error)
}

type MaintenanceRepository interface {
	// IntegrityCheck returns the raw messages of the native consistency check.
	IntegrityCheck(ctx context.Context) ([]string, error)
	// TrackedTables lists the tables TableRows accepts, sorted by name.
	TrackedTables() []string
	// TableRows dumps a tracked table ordered by its sort key.
	TableRows(ctx context.Context, table string) ([]map[string]interface{}, error)
	// BackupTo writes a consistent copy of the live database to path.
	// It cannot run inside a transaction.
	BackupTo(ctx context.Context, path string) error
	// RestoreFrom replaces the live database contents with the copy at path.
	// It cannot run inside a transaction.
	RestoreFrom(ctx context.Context, path string) error
}
