package sqlite

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/store"
)

//go:embed migrations/*.sql
var fs embed.FS

// DSN builds the connection string for a database file. Transactions begin
// IMMEDIATE so every write transaction takes the write lock up front. The
// rollback journal keeps the whole database in one file for backups.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=2000&_txlock=immediate&_journal_mode=DELETE&_foreign_keys=on", path)
}

func NewSQLiteStorage(path string, logger *zap.Logger) (store.Repository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations applied", zap.String("path", path))

	return NewSqliteRepository(db), nil
}

func runMigrations(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}

	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
