// Package facecache keeps the registered face embeddings in memory so
// duplicate checks do not read every identity from the store per request.
package facecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/campus-attendance/internal/clock"
	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

const (
	// KeyAll is the cache key of the unscoped snapshot.
	KeyAll = "face_embeddings_all"

	// DefaultTTL bounds how long a snapshot is served without reloading.
	DefaultTTL = time.Hour
)

// Key returns the cache key for a snapshot excluding one identity.
func Key(excludeID string) string {
	if excludeID == "" {
		return KeyAll
	}
	return KeyAll + "_exclude_" + excludeID
}

type entry struct {
	snap      *Snapshot
	expiresAt time.Time
}

// call is an in-flight load shared by concurrent misses on one key.
type call struct {
	done chan struct{}
	snap *Snapshot
	err  error
}

// Cache serves immutable snapshots of the registered faces. Invalidate bumps
// a generation counter so loads started before it never populate the cache.
// Every hit is checked against the store's registry version, which catches
// writes made by other processes such as the CLI.
type Cache struct {
	reader database.IdentityReader
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger

	mu         sync.Mutex
	entries    map[string]entry
	inflight   map[string]*call
	generation uint64
}

// Options configures a Cache. Zero values fall back to defaults.
type Options struct {
	TTL    time.Duration
	Clock  clock.Clock
	Logger *slog.Logger
}

// New creates an empty cache reading from reader.
func New(reader database.IdentityReader, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		reader:   reader,
		clock:    opts.Clock,
		ttl:      opts.TTL,
		logger:   opts.Logger.With("component", "facecache"),
		entries:  make(map[string]entry),
		inflight: make(map[string]*call),
	}
}

var _ facematch.CandidateSource = (*Cache)(nil)

// Candidates implements facematch.CandidateSource.
func (c *Cache) Candidates(ctx context.Context, excludeID string) (facematch.CandidateSet, error) {
	snap, err := c.Snapshot(ctx, excludeID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Snapshot returns the cached snapshot for excludeID, loading it from the
// store on a miss, after expiry, or when the registry version in the store no
// longer matches the cached one.
func (c *Cache) Snapshot(ctx context.Context, excludeID string) (*Snapshot, error) {
	key := Key(excludeID)
	now := c.clock.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Before(e.expiresAt) {
		current, err := c.reader.RegistryVersion(ctx)
		if err != nil {
			return nil, fmt.Errorf("read registry version: %w", err)
		}
		if current.Equal(e.snap.version) {
			return e.snap, nil
		}
		c.logger.Info("registered faces changed in the store, reloading",
			"key", key,
			"cached_count", e.snap.version.Count,
			"store_count", current.Count)
		c.Invalidate()
	}
	return c.load(ctx, key, excludeID)
}

// load fills key from the store, sharing one read between concurrent misses.
func (c *Cache) load(ctx context.Context, key, excludeID string) (*Snapshot, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.clock.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.snap, nil
	}
	if inflight, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return waitFor(ctx, inflight)
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	gen := c.generation
	c.mu.Unlock()

	cl.snap, cl.err = c.LoadUncached(ctx, excludeID)

	c.mu.Lock()
	if c.inflight[key] == cl {
		delete(c.inflight, key)
	}
	if cl.err == nil && gen == c.generation {
		c.entries[key] = entry{snap: cl.snap, expiresAt: cl.snap.loadedAt.Add(c.ttl)}
	}
	c.mu.Unlock()
	close(cl.done)

	if cl.err != nil {
		return nil, cl.err
	}
	c.logger.Debug("loaded face embeddings", "key", key, "count", cl.snap.Len())
	return cl.snap, nil
}

func waitFor(ctx context.Context, cl *call) (*Snapshot, error) {
	select {
	case <-cl.done:
		return cl.snap, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LoadUncached reads a fresh snapshot from the store without touching the cache.
// The version is read before the list, so a concurrent write can only make the
// snapshot look older than it is.
func (c *Cache) LoadUncached(ctx context.Context, excludeID string) (*Snapshot, error) {
	loadedAt := c.clock.Now()
	version, err := c.reader.RegistryVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read registry version: %w", err)
	}
	all, err := c.reader.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registered faces: %w", err)
	}
	identities := make([]database.StoredIdentity, 0, len(all))
	for _, id := range all {
		if len(id.Embedding) == 0 || (excludeID != "" && id.IdentityID == excludeID) {
			continue
		}
		identities = append(identities, id)
	}
	return newSnapshot(identities, loadedAt, version), nil
}

// Invalidate drops every cached snapshot. Loads already in flight will not
// store their result.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.inflight = make(map[string]*call)
	if len(c.entries) > 0 {
		c.logger.Debug("invalidated face embedding cache", "keys", len(c.entries))
	}
	c.entries = make(map[string]entry)
}

// Cached reports whether a live entry exists for excludeID.
func (c *Cache) Cached(excludeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[Key(excludeID)]
	return ok && c.clock.Now().Before(e.expiresAt)
}

// Len returns the number of cached keys, live or expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}
