package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/nulzo/model-gateway/internal/store"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
	inTx     bool
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

// WithTx runs fn in a transaction. Called on a repository that is already
// inside a transaction, fn joins it.
func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return translateErr(fmt.Errorf("begin: %w", err))
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
		inTx:     true,
	}

	if err := fn(txRepo); err != nil {
		_ = tx.Rollback()
		return translateErr(err)
	}

	if err := tx.Commit(); err != nil {
		return translateErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (r *SqliteRepository) Settings() store.SettingsRepository {
	return &settingsRepo{db: r.executor}
}

func (r *SqliteRepository) Catalog() store.CatalogRepository {
	return &catalogRepo{db: r.executor}
}

func (r *SqliteRepository) Presets() store.PresetRepository {
	return &presetRepo{db: r.executor}
}

func (r *SqliteRepository) Tasks() store.TaskRepository {
	return &taskRepo{db: r.executor}
}

func (r *SqliteRepository) Research() store.ResearchRepository {
	return &researchRepo{db: r.executor}
}

func (r *SqliteRepository) Audit() store.AuditRepository {
	return &auditRepo{db: r.executor}
}

func (r *SqliteRepository) Checksums() store.ChecksumRepository {
	return &checksumRepo{db: r.executor}
}

func (r *SqliteRepository) Traces() store.TraceRepository {
	return &traceRepo{db: r.executor}
}

func (r *SqliteRepository) Maintenance() store.MaintenanceRepository {
	return &maintenanceRepo{root: r.db, db: r.executor, inTx: r.inTx}
}

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// translateErr tags lock contention with store.ErrBusy so callers can retry
// without importing the driver.
func translateErr(err error) error {
	if err == nil || errors.Is(err, store.ErrBusy) {
		return err
	}
	if IsBusy(err) {
		return fmt.Errorf("%w: %w", store.ErrBusy, err)
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return translateErr(err)
}

type settingsRepo struct {
	db DB
}

func (r *settingsRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	if err := r.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = ?`, key); err != nil {
		return "", notFound(err)
	}
	return value, nil
}

func (r *settingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return translateErr(err)
}
