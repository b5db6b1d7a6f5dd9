package selfheal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/audit"
	"github.com/nulzo/model-gateway/internal/controlstore"
	"github.com/nulzo/model-gateway/internal/store"
	"github.com/nulzo/model-gateway/internal/store/model"
)

// DailyInterval is the minimum spacing between live daily checks.
const DailyInterval = 24 * time.Hour

var ErrNoBackups = errors.New("selfheal: no backups available")

// CatalogCleaner deletes expired offline catalog rows.
type CatalogCleaner interface {
	CleanupOffline(ctx context.Context, actor string) (int64, error)
}

type Integrity struct {
	OK       bool     `json:"ok"`
	Messages []string `json:"messages"`
}

// Report is the outcome of a daily or manual check. Errors lists the steps
// that failed; the remaining steps still ran.
type Report struct {
	Skipped         bool              `json:"skipped,omitempty"`
	Backup          string            `json:"backup,omitempty"`
	Integrity       *Integrity        `json:"integrity,omitempty"`
	Checksums       map[string]string `json:"checksums,omitempty"`
	PrunedCatalog   int64             `json:"pruned_model_catalog"`
	PrunedAuditLogs int64             `json:"pruned_audit_logs"`
	Errors          []string          `json:"errors,omitempty"`
}

type Service struct {
	repo      store.Repository
	control   controlstore.Store
	audit     audit.Service
	catalog   CatalogCleaner
	dbPath    string
	backupDir string
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo store.Repository, control controlstore.Store, auditor audit.Service, catalog CatalogCleaner, dbPath, backupDir string, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		control:   control,
		audit:     auditor,
		catalog:   catalog,
		dbPath:    dbPath,
		backupDir: backupDir,
		logger:    logger.With(zap.String("component", "self_heal")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// backupPrefix is "<db name without extension>."; backups are
// "<prefix><unix ms>.sqlite".
func (s *Service) backupPrefix() string {
	base := filepath.Base(s.dbPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "."
}

// Backup writes a timestamped copy of the live database and returns its file
// name. It returns "" without error when the live file does not exist yet.
func (s *Service) Backup(ctx context.Context, actor, reason string) (string, error) {
	if _, err := os.Stat(s.dbPath); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	ts := s.now().UnixMilli()
	var dst string
	for {
		dst = filepath.Join(s.backupDir, fmt.Sprintf("%s%d.sqlite", s.backupPrefix(), ts))
		if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
			break
		}
		ts++
	}

	if err := s.repo.Maintenance().BackupTo(ctx, dst); err != nil {
		return "", fmt.Errorf("backup database: %w", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return "", err
	}

	name := filepath.Base(dst)
	if err := s.audit.Write(ctx, actor, audit.ActionBackup, map[string]interface{}{
		"backup_id": uuid.NewString(),
		"path":      dst,
		"reason":    reason,
		"size":      info.Size(),
	}); err != nil {
		s.logger.Warn("Failed to audit backup", zap.String("backup", name), zap.Error(err))
	}
	s.logger.Info("Database backed up", zap.String("backup", name), zap.String("reason", reason))
	return name, nil
}

// IntegrityCheck is ok only when the native check reports exactly "ok".
func (s *Service) IntegrityCheck(ctx context.Context) (*Integrity, error) {
	msgs, err := s.repo.Maintenance().IntegrityCheck(ctx)
	if err != nil {
		return nil, err
	}
	return &Integrity{OK: len(msgs) == 1 && msgs[0] == "ok", Messages: msgs}, nil
}

// ComputeChecksums hashes every tracked table in one transaction and stores
// one checksum row per table.
func (s *Service) ComputeChecksums(ctx context.Context, actor string) (map[string]string, error) {
	out := make(map[string]string)
	err := store.RetryOnBusy(ctx, func() error {
		return s.repo.WithTx(ctx, func(tx store.Repository) error {
			now := s.now().UnixMilli()
			for _, table := range tx.Maintenance().TrackedTables() {
				rows, err := tx.Maintenance().TableRows(ctx, table)
				if err != nil {
					return err
				}
				sum, err := hashRows(rows)
				if err != nil {
					return fmt.Errorf("checksum %s: %w", table, err)
				}
				if err := tx.Checksums().Upsert(ctx, &model.Checksum{Key: table, Checksum: sum, ComputedAt: now}); err != nil {
					return err
				}
				out[table] = sum
			}
			return s.audit.WriteTx(ctx, tx, actor, audit.ActionChecksums, map[string]interface{}{"checksums": out})
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// hashRows is sha256 over one JSON line per row. encoding/json sorts map
// keys, so the encoding is stable.
func hashRows(rows []map[string]interface{}) (string, error) {
	h := sha256.New()
	for _, r := range rows {
		line, err := json.Marshal(r)
		if err != nil {
			return "", err
		}
		h.Write(line)
		h.Write([]byte("\n"))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DailyTick runs the full check at most once per DailyInterval, tracked by a
// persisted marker.
func (s *Service) DailyTick(ctx context.Context, actor string) (*Report, error) {
	var last int64
	if _, err := s.control.GetJSON(ctx, controlstore.KeySelfHealLastDailyMs, &last); err != nil {
		return nil, err
	}
	now := s.now()
	if last > 0 && now.Sub(time.UnixMilli(last)) < DailyInterval {
		return &Report{Skipped: true}, nil
	}

	report := s.runChecks(ctx, actor, "daily_precheck")

	// The marker is stamped even after a partial failure so a broken step is
	// not retried on every tick.
	if err := s.control.SetJSON(ctx, controlstore.KeySelfHealLastDailyMs, now.UnixMilli()); err != nil {
		report.Errors = append(report.Errors, "marker: "+err.Error())
	}
	if err := s.audit.Write(ctx, actor, audit.ActionDailyCheck, report); err != nil {
		return report, err
	}
	return report, nil
}

// RunFullCheck runs the same sequence as DailyTick on demand, without the
// rate limit.
func (s *Service) RunFullCheck(ctx context.Context, actor string) (*Report, error) {
	report := s.runChecks(ctx, actor, "manual_full_check")
	if err := s.audit.Write(ctx, actor, audit.ActionManualCheck, report); err != nil {
		return report, err
	}
	return report, nil
}

// runChecks does backup, integrity, checksums, catalog cleanup and audit
// pruning in that order. A failing step is recorded and the next one runs.
func (s *Service) runChecks(ctx context.Context, actor, reason string) *Report {
	report := &Report{}
	fail := func(step string, err error) {
		report.Errors = append(report.Errors, step+": "+err.Error())
		s.logger.Warn("Self-heal step failed", zap.String("step", step), zap.Error(err))
	}

	if name, err := s.Backup(ctx, actor, reason); err != nil {
		fail("backup", err)
	} else {
		report.Backup = name
	}

	if integrity, err := s.IntegrityCheck(ctx); err != nil {
		fail("integrity", err)
	} else {
		report.Integrity = integrity
		if !integrity.OK {
			s.logger.Error("Database integrity check failed", zap.Strings("messages", integrity.Messages))
		}
	}

	if sums, err := s.ComputeChecksums(ctx, actor); err != nil {
		fail("checksums", err)
	} else {
		report.Checksums = sums
	}

	if s.catalog != nil {
		if n, err := s.catalog.CleanupOffline(ctx, actor); err != nil {
			fail("catalog_cleanup", err)
		} else {
			report.PrunedCatalog = n
		}
	}

	if n, err := s.audit.PruneExpired(ctx); err != nil {
		fail("audit_prune", err)
	} else {
		report.PrunedAuditLogs = n
	}
	return report
}

// Backups lists backup file names, newest first.
func (s *Service) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type backup struct {
		name string
		ts   int64
	}
	prefix := s.backupPrefix()
	var found []backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".sqlite") {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".sqlite"), 10, 64)
		if err != nil {
			continue
		}
		found = append(found, backup{name: name, ts: ts})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ts > found[j].ts })

	names := make([]string, len(found))
	for i, b := range found {
		names[i] = b.name
	}
	return names, nil
}

// RollbackLatest restores the newest backup over the live database and
// returns its name.
func (s *Service) RollbackLatest(ctx context.Context, actor string) (string, error) {
	backups, err := s.Backups()
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", ErrNoBackups
	}

	latest := backups[0]
	if err := s.repo.Maintenance().RestoreFrom(ctx, filepath.Join(s.backupDir, latest)); err != nil {
		return "", fmt.Errorf("restore %s: %w", latest, err)
	}
	s.logger.Warn("Database rolled back", zap.String("backup", latest), zap.String("actor", actor))

	if err := s.audit.Write(ctx, actor, audit.ActionRollback, map[string]interface{}{"backup": latest}); err != nil {
		s.logger.Warn("Failed to audit rollback", zap.Error(err))
	}
	return latest, nil
}
