// Package database is the backing store adapter for the knowledge base:
// relational table lifecycle and statement execution over sqlite3 or
// postgres, plus the disk-backed deduplicated set primitive.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/logger"
)

// Column describes one column of a table created through the adapter.
type Column struct {
	Name string
	Type string
}

type DB struct {
	conn *sqlx.DB
	cfg  config.DatabaseConfig
	log  *logger.Logger
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Open connects to the configured database and applies pool settings.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	log = log.WithComponent("database")

	ctx := context.Background()
	start := time.Now()

	conn, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		log.LogError(ctx, err, "database.Open",
			"driver", cfg.Driver,
			"dsn_masked", maskDSN(cfg.DSN),
		)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxConnections)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.Driver == "sqlite3" {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	log.LogDuration(ctx, "database.Open", start,
		"driver", cfg.Driver,
		"max_connections", cfg.MaxConnections,
	)

	return &DB{conn: conn, cfg: cfg, log: log}, nil
}

// maskDSN masks credentials in a DSN for logging.
func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}

func (d *DB) Driver() string { return d.cfg.Driver }

// Rebind translates ?-style placeholders to the driver's dialect.
func (d *DB) Rebind(query string) string { return d.conn.Rebind(query) }

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}

// CreateTable creates the named table if it does not exist.
func (d *DB) CreateTable(ctx context.Context, name string, cols []Column) error {
	if err := validIdent(name); err != nil {
		return err
	}
	defs := make([]string, len(cols))
	for n, col := range cols {
		if err := validIdent(col.Name); err != nil {
			return err
		}
		defs[n] = col.Name + " " + col.Type
	}

	start := time.Now()
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(defs, ", "))
	if _, err := d.conn.ExecContext(ctx, query); err != nil {
		d.log.LogError(ctx, err, "database.CreateTable", "table", name)
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	d.log.LogDatabaseOperation(ctx, "CREATE TABLE", name, 0, time.Since(start))
	return nil
}

// CreateIndex creates an index over the given columns of a table.
func (d *DB) CreateIndex(ctx context.Context, table string, cols []string) error {
	if err := validIdent(table); err != nil {
		return err
	}
	for _, col := range cols {
		if err := validIdent(col); err != nil {
			return err
		}
	}

	name := fmt.Sprintf("idx_%s_%s", table, strings.Join(cols, "_"))
	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		name, table, strings.Join(cols, ", "))

	if _, err := d.conn.ExecContext(ctx, query); err != nil {
		d.log.LogError(ctx, err, "database.CreateIndex", "table", table, "index", name)
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	return nil
}

// Exec runs a ?-placeholder statement and returns its result.
func (d *DB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.conn.ExecContext(ctx, d.conn.Rebind(query), args...)
}

// Query runs a ?-placeholder query. The caller owns the returned rows.
func (d *DB) Query(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	return d.conn.QueryxContext(ctx, d.conn.Rebind(query), args...)
}

// SelectOne scans the single row the query yields into dest, or reports
// found=false when there is none.
func (d *DB) SelectOne(ctx context.Context, query string, args []interface{}, dest ...interface{}) (bool, error) {
	row := d.conn.QueryRowxContext(ctx, d.conn.Rebind(query), args...)
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DropTable removes the named table.
func (d *DB) DropTable(ctx context.Context, name string) error {
	if err := validIdent(name); err != nil {
		return err
	}
	start := time.Now()
	if _, err := d.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		d.log.LogError(ctx, err, "database.DropTable", "table", name)
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	d.log.LogDatabaseOperation(ctx, "DROP TABLE", name, 0, time.Since(start))
	return nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// RandomTableName appends a random suffix to prefix so concurrent sessions
// sharing one database never collide on table names.
func RandomTableName(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%s", prefix, suffix)
}
