package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/kozaktomas/campus-attendance/internal/attendance"
	"github.com/kozaktomas/campus-attendance/internal/config"
	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/database/mariadb"
	"github.com/kozaktomas/campus-attendance/internal/database/mock"
	"github.com/kozaktomas/campus-attendance/internal/database/postgres"
	"github.com/kozaktomas/campus-attendance/internal/embedding"
	"github.com/kozaktomas/campus-attendance/internal/enroll"
	"github.com/kozaktomas/campus-attendance/internal/facecache"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

// cliOrigin is recorded as the audit origin of changes made from the CLI.
const cliOrigin = "cli"

func init() {
	database.RegisterBackend(database.DriverPostgres, postgres.Open)
	database.RegisterBackend(database.DriverMariaDB, mariadb.Open)
	database.RegisterBackend(database.DriverMemory, mock.Open)
}

// app holds the wired services shared by the commands.
type app struct {
	cfg        *config.Config
	store      database.Store
	provider   embedding.Provider
	cache      *facecache.Cache
	detector   *facematch.Detector
	registrar  *enroll.Registrar
	attendance *attendance.Service
}

// newApp opens the configured store and wires every service on top of it.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	loc, err := cfg.Attendance.Location()
	if err != nil {
		return nil, err
	}
	opts := facematch.OptionsFromConfig(cfg.Matching)
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("matching configuration: %w", err)
	}
	provider, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	store, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	cache := facecache.New(store, facecache.Options{TTL: cfg.Cache.TTL})
	detector, err := facematch.NewDetector(cache, opts, cfg.Embedding.Dim, nil)
	if err != nil {
		store.Close()
		return nil, err
	}

	slog.Info("services ready",
		"database", cfg.Database.Driver,
		"embedding_provider", provider.Name(),
		"dim", cfg.Embedding.Dim,
		"preset", cfg.Matching.Preset,
		"timezone", loc.String())

	return &app{
		cfg:       cfg,
		store:     store,
		provider:  provider,
		cache:     cache,
		detector:  detector,
		registrar: enroll.NewRegistrar(store, provider, detector, cache, nil, nil),
		attendance: attendance.NewService(store, provider, detector, attendance.Options{
			Location:         loc,
			FallbackLateHour: cfg.Attendance.FallbackLateHour,
			MinConfidence:    cfg.Matching.VerifyMinConfidence,
		}),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("closing database", "error", err)
	}
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
