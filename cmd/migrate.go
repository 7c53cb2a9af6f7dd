package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/campus-attendance/internal/config"
	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/database/mariadb"
	"github.com/kozaktomas/campus-attendance/internal/database/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending schema migrations to the configured database.
serve applies them on startup as well; this command is for deployments that
migrate in a separate step.

Examples:
  # Show pending migrations
  campus-attendance migrate --dry-run

  # Apply them
  campus-attendance migrate`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("dry-run", false, "List pending migrations without applying them")
}

// migrator is the migration surface shared by the SQL backends.
type migrator interface {
	PendingMigrations(ctx context.Context) ([]string, error)
	Migrate(ctx context.Context) error
	Close() error
}

func openMigrator(ctx context.Context, cfg config.DatabaseConfig) (migrator, error) {
	switch cfg.Driver {
	case database.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		return pool, nil
	case database.DriverMariaDB:
		pool, err := mariadb.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MariaDB: %w", err)
		}
		return pool, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")
	ctx := context.Background()
	cfg := config.Load()

	if cfg.Database.Driver == database.DriverMemory {
		fmt.Println("The memory backend has no schema")
		return nil
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	m, err := openMigrator(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer m.Close()

	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("Database is up to date")
		return nil
	}
	fmt.Printf("Pending migrations: %d\n", len(pending))
	for _, file := range pending {
		fmt.Printf("  %s\n", file)
	}
	if dryRun {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Migrations applied")
	return nil
}
