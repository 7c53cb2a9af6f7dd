package postgres

import (
	"context"
	"embed"
	"io/fs"

	"github.com/kozaktomas/campus-attendance/internal/database/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func (p *Pool) migrator() *migrate.Runner {
	files, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		// The directory is embedded at build time.
		panic(err)
	}
	return migrate.New(p.db, files, migrate.Postgres)
}

// PendingMigrations returns the migration files not yet applied.
func (p *Pool) PendingMigrations(ctx context.Context) ([]string, error) {
	return p.migrator().Pending(ctx)
}

// Migrate applies all pending migrations, each in its own transaction.
func (p *Pool) Migrate(ctx context.Context) error {
	_, err := p.migrator().Up(ctx)
	return err
}

// MigrationsApplied returns the list of applied migrations
func (p *Pool) MigrationsApplied(ctx context.Context) ([]string, error) {
	return p.migrator().Applied(ctx)
}
