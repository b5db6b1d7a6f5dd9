package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
)

var errInTx = errors.New("sqlite: operation not allowed inside a transaction")

// trackedTables maps each checksummed table to its stable sort key.
var trackedTables = map[string]string{
	"model_catalog": "id",
	"layer_presets": "layer",
}

type maintenanceRepo struct {
	root *sqlx.DB
	db   DB
	inTx bool
}

func (r *maintenanceRepo) IntegrityCheck(ctx context.Context) ([]string, error) {
	var msgs []string
	if err := r.db.SelectContext(ctx, &msgs, `PRAGMA integrity_check`); err != nil {
		return nil, translateErr(err)
	}
	return msgs, nil
}

func (r *maintenanceRepo) TrackedTables() []string {
	tables := make([]string, 0, len(trackedTables))
	for t := range trackedTables {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

func (r *maintenanceRepo) TableRows(ctx context.Context, table string) ([]map[string]interface{}, error) {
	orderBy, ok := trackedTables[table]
	if !ok {
		return nil, fmt.Errorf("table %q is not tracked", table)
	}

	rows, err := r.db.QueryxContext(ctx, fmt.Sprintf(`SELECT * FROM %s ORDER BY %s ASC`, table, orderBy))
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *maintenanceRepo) BackupTo(ctx context.Context, path string) error {
	if r.inTx {
		return errInTx
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("backup target %s already exists", path)
	}
	_, err := r.root.ExecContext(ctx, `VACUUM INTO ?`, path)
	return translateErr(err)
}

// RestoreFrom copies the backup over the live database with the online
// backup API, so open handles observe the restored contents.
func (r *maintenanceRepo) RestoreFrom(ctx context.Context, path string) error {
	if r.inTx {
		return errInTx
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup %s: %w", path, err)
	}

	src, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return err
	}
	defer src.Close()

	srcConn, err := src.Conn(ctx)
	if err != nil {
		return err
	}
	defer srcConn.Close()

	dstConn, err := r.root.Conn(ctx)
	if err != nil {
		return translateErr(err)
	}
	defer dstConn.Close()

	return dstConn.Raw(func(dc interface{}) error {
		return srcConn.Raw(func(sc interface{}) error {
			dst, ok := dc.(*sqlite3.SQLiteConn)
			if !ok {
				return errors.New("unexpected destination driver connection")
			}
			srcRaw, ok := sc.(*sqlite3.SQLiteConn)
			if !ok {
				return errors.New("unexpected source driver connection")
			}

			backup, err := dst.Backup("main", srcRaw, "main")
			if err != nil {
				return translateErr(err)
			}
			if _, err := backup.Step(-1); err != nil {
				_ = backup.Close()
				return translateErr(err)
			}
			return backup.Finish()
		})
	})
}
