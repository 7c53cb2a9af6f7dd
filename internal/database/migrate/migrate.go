// Package migrate applies embedded SQL files to a database in file name
// order, recording each applied file in schema_migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

// Dialect holds the backend specific statements.
type Dialect struct {
	Name string
	// CreateTable creates schema_migrations if it does not exist.
	CreateTable string
	// InsertVersion records one applied file; it takes the file name.
	InsertVersion string
	// Transactional runs each file and its record in one transaction.
	// Backends that commit DDL implicitly leave it off.
	Transactional bool
}

// Postgres runs every file in its own transaction.
var Postgres = Dialect{
	Name: "postgres",
	CreateTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	InsertVersion: "INSERT INTO schema_migrations (version) VALUES ($1)",
	Transactional: true,
}

// MariaDB records a file only after all its statements ran.
var MariaDB = Dialect{
	Name: "mariadb",
	CreateTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,
	InsertVersion: "INSERT INTO schema_migrations (version) VALUES (?)",
}

// Runner applies the .sql files of one directory.
type Runner struct {
	db      *sql.DB
	files   fs.FS
	dialect Dialect
	logger  *slog.Logger
}

// New creates a runner over files, a directory holding the .sql migrations.
func New(db *sql.DB, files fs.FS, dialect Dialect) *Runner {
	return &Runner{
		db:      db,
		files:   files,
		dialect: dialect,
		logger:  slog.Default().With("component", "migrate", "backend", dialect.Name),
	}
}

// Applied returns the recorded versions in order.
func (r *Runner) Applied(ctx context.Context) ([]string, error) {
	if _, err := r.db.ExecContext(ctx, r.dialect.CreateTable); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

// Pending returns the files not applied yet.
func (r *Runner) Pending(ctx context.Context) ([]string, error) {
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	return pendingFiles(r.files, applied)
}

// Up applies every pending file and returns how many ran.
func (r *Runner) Up(ctx context.Context) (int, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return 0, err
	}

	for i, file := range pending {
		content, err := fs.ReadFile(r.files, file)
		if err != nil {
			return i, fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := r.apply(ctx, file, string(content)); err != nil {
			return i, err
		}
		r.logger.Info("applied migration", "version", file)
	}
	return len(pending), nil
}

func (r *Runner) apply(ctx context.Context, file, content string) error {
	if !r.dialect.Transactional {
		if _, err := r.db.ExecContext(ctx, content); err != nil {
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
		if _, err := r.db.ExecContext(ctx, r.dialect.InsertVersion, file); err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return fmt.Errorf("execute migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, r.dialect.InsertVersion, file); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

// pendingFiles lists the .sql files of files missing from applied, sorted.
func pendingFiles(files fs.FS, applied []string) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") || done[e.Name()] {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}
