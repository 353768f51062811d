// Package db stores the run history of stage invocations and driver events
// in SQLite or PostgreSQL.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// timeLayout is the timestamp format stored in every table. It sorts
// lexicographically in both backends.
const timeLayout = "2006-01-02 15:04:05"

// DB wraps the history database connection.
type DB struct {
	conn    *sql.DB
	dialect dialect
	dsn     string
	now     func() time.Time
}

// EnsureDir creates the parent directory of a SQLite database path.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to the database named by dsn. postgres:// and
// postgresql:// URLs use PostgreSQL; anything else is a SQLite path
// (":memory:" included).
func Open(dsn string) (*DB, error) {
	if isPostgres(dsn) {
		conn, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return &DB{conn: conn, dialect: dialectPostgres, dsn: dsn, now: time.Now}, nil
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	return &DB{conn: conn, dialect: dialectSQLite, dsn: dsn, now: time.Now}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Postgres reports whether the database is PostgreSQL.
func (d *DB) Postgres() bool {
	return d.dialect == dialectPostgres
}

// Rebind rewrites ? placeholders into the backend's native form.
func (d *DB) Rebind(query string) string {
	if d.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *DB) exec(query string, args ...any) (sql.Result, error) {
	return d.conn.Exec(d.Rebind(query), args...)
}

func (d *DB) query(query string, args ...any) (*sql.Rows, error) {
	return d.conn.Query(d.Rebind(query), args...)
}

func (d *DB) stamp() string {
	return d.now().UTC().Format(timeLayout)
}

const schemaTables = `
CREATE TABLE IF NOT EXISTS stage_runs (
    id             %[1]s,
    run_id         TEXT NOT NULL,
    top_name       TEXT NOT NULL,
    stage          TEXT NOT NULL,
    outcome        TEXT NOT NULL CHECK(outcome IN ('success','fail')),
    exit_code      INTEGER NOT NULL DEFAULT 0,
    elapsed_ms     BIGINT NOT NULL DEFAULT 0,
    cell_area      DOUBLE PRECISION,
    core_util      DOUBLE PRECISION,
    instance_count INTEGER,
    error          TEXT,
    timestamp      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stage_runs_run ON stage_runs(run_id, id);
CREATE INDEX IF NOT EXISTS idx_stage_runs_stage ON stage_runs(stage, timestamp);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id          %[1]s,
    run_id      TEXT NOT NULL,
    top_name    TEXT NOT NULL,
    event       TEXT NOT NULL,
    stage       TEXT,
    detail      TEXT,
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_run ON pipeline_events(run_id, id);
`

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

func (d *DB) schemaV1() string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.dialect == dialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	return schemaVersionTable + fmt.Sprintf(schemaTables, pk)
}

// Migrate applies the database schema. It is a no-op on an up-to-date database.
func (d *DB) Migrate() error {
	if _, err := d.conn.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var count int
	err := d.conn.QueryRow(d.Rebind("SELECT COUNT(*) FROM schema_version WHERE version = ?"), 1).Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(d.schemaV1()); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec(d.Rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"), 1, d.stamp()); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"pipeline_events", "stage_runs", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
