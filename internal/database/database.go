package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var (
	//go:embed migrations
	migrationsFS embed.FS
)

// Open connects to the metadata database and applies the embedded schema
// for the given driver.
func Open(ctx context.Context, driver string, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if dsn == "" {
		return nil, errors.New("database DSN must not be empty")
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; funnelling everything through one
		// connection turns "database is locked" errors into queueing.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}

	if err := initSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// SQLiteDSN builds a DSN for a SQLite database file with the pragmas the
// stores rely on.
func SQLiteDSN(file string) string {
	return "file:" + file + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// initSchema initializes the metadata database schema by applying all SQL
// files for the driver in lexicographical order. Every migration must be
// idempotent since they run on each start.
func initSchema(ctx context.Context, db *sqlx.DB, driver string) error {
	root := path.Join("migrations", driver)
	return fs.WalkDir(migrationsFS, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Info("Running migration", "path", path)

		// Not every driver accepts several statements per Exec.
		for _, stmt := range strings.Split(string(content), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s: %w", path, err)
			}
		}
		return nil
	})
}

// WithTransaction runs a function within a database transaction.
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}
