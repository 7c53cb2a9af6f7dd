package mariadb

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
		panic(err)
	}
	return migrate.New(p.db, files, migrate.MariaDB)
}

// PendingMigrations returns the migration files not yet applied.
func (p *Pool) PendingMigrations(ctx context.Context) ([]string, error) {
	return p.migrator().Pending(ctx)
}

// Migrate applies pending migrations in file name order. MariaDB commits DDL
// implicitly, so a file is recorded only after all its statements ran.
func (p *Pool) Migrate(ctx context.Context) error {
	_, err := p.migrator().Up(ctx)
	return err
}
