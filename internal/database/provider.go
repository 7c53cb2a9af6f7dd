package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/campus-attendance/internal/config"
)

// Opener creates a Store for a backend.
type Opener func(ctx context.Context, cfg config.DatabaseConfig) (Store, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Opener)
)

// RegisterBackend registers a Store constructor under a driver name.
// This is called from cmd to avoid import cycles between database and its backends.
func RegisterBackend(driver string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[driver] = open
}

// Drivers returns the registered driver names.
func Drivers() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates the Store for the configured driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	backendsMu.RLock()
	open, ok := backends[cfg.Driver]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (registered: %v)", cfg.Driver, Drivers())
	}
	if cfg.Driver != DriverMemory && cfg.URL == "" {
		return nil, fmt.Errorf("%s backend not initialized: DATABASE_URL is required", cfg.Driver)
	}
	store, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Driver, err)
	}
	return store, nil
}
