// Package sqlindex mirrors every table of a workspace into an embedded
// relational database (spec.md §4.3), grounded on the teacher's
// core.Engine: same DSN pragma string, same Exec/Query/QueryRow wrapper
// shape, same WAL-checkpoint-then-close destroy sequence.
package sqlindex

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/epicenter-run/epicenter/internal/elog"
	"github.com/epicenter-run/epicenter/internal/schema"
	"github.com/epicenter-run/epicenter/internal/table"
	"github.com/epicenter-run/epicenter/internal/xerrors"
)

// Index is the SQL projection for one workspace.
type Index struct {
	db          *sql.DB
	workspaceID string
	log         zerolog.Logger
	cancels     []table.Cancel
}

// Attach opens (or creates) the SQLite file at path, creates one table
// per schema, backfills every row from the CRDT ("clear and rebuild",
// the prescribed resolution to spec.md §9's open question), and
// registers an observer that keeps the projection current.
func Attach(path, workspaceID string, tables []*table.Table) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sql index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sql index: %w", err)
	}

	idx := &Index{
		db:          db,
		workspaceID: workspaceID,
		log:         elog.WithIndex(workspaceID, "sql"),
	}

	if _, err := db.Exec(metaSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	for _, t := range tables {
		if err := idx.createTable(t); err != nil {
			db.Close()
			return nil, err
		}
		if err := idx.backfill(t); err != nil {
			db.Close()
			return nil, err
		}
		idx.subscribe(t)
	}

	return idx, nil
}

const metaSchema = `
CREATE TABLE IF NOT EXISTS _epicenter_meta (
	workspace_id TEXT PRIMARY KEY,
	last_backfill_at INTEGER DEFAULT (strftime('%s', 'now'))
);`

// DB returns the read-only handle exposed to actions. Consumers must
// issue SELECT only; nothing in this package grants write access outside
// the observer-driven projection path.
func (idx *Index) DB() *sql.DB { return idx.db }

func (idx *Index) createTable(t *table.Table) error {
	var cols []string
	idField, _ := t.Schema().IDField()
	for name, f := range t.Schema() {
		cols = append(cols, columnDef(name, f, name == idField))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(t.Name()), strings.Join(cols, ", "))
	if _, err := idx.db.Exec(stmt); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name(), err)
	}
	return nil
}

func columnDef(name string, f schema.Field, isPrimaryKey bool) string {
	sqlType := "TEXT"
	switch f.Kind {
	case schema.KindInteger, schema.KindBoolean, schema.KindTimestamp:
		sqlType = "INTEGER"
	case schema.KindReal:
		sqlType = "REAL"
	}

	col := fmt.Sprintf("%s %s", quoteIdent(name), sqlType)
	if isPrimaryKey {
		col += " PRIMARY KEY"
	} else if !f.Nullable {
		col += " NOT NULL"
	}
	return col
}

func (idx *Index) backfill(t *table.Table) error {
	if _, err := idx.db.Exec(fmt.Sprintf("DELETE FROM %s", quoteIdent(t.Name()))); err != nil {
		return fmt.Errorf("clear table %s before backfill: %w", t.Name(), err)
	}
	for _, row := range t.GetAll() {
		if err := idx.insertRow(t, row); err != nil {
			idx.log.Warn().Err(err).Str("table", t.Name()).Msg("backfill row skipped")
		}
	}

	_, err := idx.db.Exec(`
		INSERT INTO _epicenter_meta (workspace_id, last_backfill_at) VALUES (?, strftime('%s', 'now'))
		ON CONFLICT(workspace_id) DO UPDATE SET last_backfill_at = excluded.last_backfill_at
	`, idx.workspaceID)
	return err
}

func (idx *Index) subscribe(t *table.Table) {
	cancel := t.Observe(table.Funcs{
		OnAddFunc: func(row schema.Row) {
			if err := idx.insertRow(t, row); err != nil {
				idx.log.Warn().Err(err).Str("table", t.Name()).Msg("insert projection failed")
			}
		},
		OnUpdateFunc: func(row schema.Row) {
			if err := idx.updateRow(t, row); err != nil {
				idx.log.Warn().Err(err).Str("table", t.Name()).Msg("update projection failed")
			}
		},
		OnDeleteFunc: func(id string) {
			if err := idx.deleteRow(t, id); err != nil {
				idx.log.Warn().Err(err).Str("table", t.Name()).Msg("delete projection failed")
			}
		},
	})
	idx.cancels = append(idx.cancels, cancel)
}

func (idx *Index) insertRow(t *table.Table, row schema.Row) error {
	cols, placeholders, values := columnValues(t.Schema(), row)
	stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(t.Name()), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err := idx.db.Exec(stmt, values...)
	return err
}

func (idx *Index) updateRow(t *table.Table, row schema.Row) error {
	idField, _ := t.Schema().IDField()
	var sets []string
	var values []any
	for name, f := range t.Schema() {
		if name == idField {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = ?", quoteIdent(name)))
		values = append(values, toSQLValue(f, row[name]))
	}
	values = append(values, row[idField])
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", quoteIdent(t.Name()), strings.Join(sets, ", "), quoteIdent(idField))
	_, err := idx.db.Exec(stmt, values...)
	return err
}

func (idx *Index) deleteRow(t *table.Table, id string) error {
	idField, _ := t.Schema().IDField()
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(t.Name()), quoteIdent(idField))
	_, err := idx.db.Exec(stmt, id)
	return err
}

func columnValues(s schema.TableSchema, row schema.Row) (cols, placeholders []string, values []any) {
	for name, f := range s {
		cols = append(cols, quoteIdent(name))
		placeholders = append(placeholders, "?")
		values = append(values, toSQLValue(f, row[name]))
	}
	return cols, placeholders, values
}

func toSQLValue(f schema.Field, v any) any {
	switch f.Kind {
	case schema.KindMultiSelect:
		data, err := json.Marshal(v)
		if err != nil {
			return "[]"
		}
		return string(data)
	case schema.KindBoolean:
		b, _ := v.(bool)
		if b {
			return 1
		}
		return 0
	case schema.KindTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.Unix()
		}
		return v
	default:
		return v
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Destroy unsubscribes observers, closes the database, checkpointing the
// write-ahead log first (mirrors the teacher's Engine.Close).
func (idx *Index) Destroy() xerrors.Result[struct{}] {
	for _, cancel := range idx.cancels {
		cancel()
	}
	if _, err := idx.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		idx.log.Warn().Err(err).Msg("wal checkpoint failed")
	}
	if err := idx.db.Close(); err != nil {
		return xerrors.Fail[struct{}](xerrors.Wrap(xerrors.KindIndex, "close sql index", err, nil))
	}
	return xerrors.Ok(struct{}{})
}
