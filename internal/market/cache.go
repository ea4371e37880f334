// Package market maintains the latest known state of every monitored venue
// and publishes immutable, versioned snapshots to consumers. Refreshes poll
// the venue adapters; push-based updates arrive between refreshes through
// ApplyUpdate.
package market

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/venuelab/poolrunner/internal/domain"
)

// Cache owns the venue records. Consumers only ever see them through
// immutable MarketSnapshots; Latest never blocks on a refresh in progress.
type Cache struct {
	mu       sync.RWMutex
	venues   map[string]domain.Venue
	stale    map[string]bool
	snapshot domain.MarketSnapshot
	version  uint64

	adapters       map[string]domain.VenueAdapter
	refreshTimeout time.Duration
	remote         domain.VenueStateCache // optional write-through for sibling processes
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithRemote enables write-through of refreshed venue state to a shared
// cache.
func WithRemote(remote domain.VenueStateCache) Option {
	return func(c *Cache) { c.remote = remote }
}

// WithNow overrides the clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a Cache over the given adapters. refreshTimeout bounds
// each individual venue query.
func NewCache(adapters []domain.VenueAdapter, refreshTimeout time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	byID := make(map[string]domain.VenueAdapter, len(adapters))
	for _, a := range adapters {
		byID[a.VenueID()] = a
	}
	c := &Cache{
		venues:         make(map[string]domain.Venue, len(adapters)),
		stale:          make(map[string]bool),
		adapters:       byID,
		refreshTimeout: refreshTimeout,
		logger:         logger.With(slog.String("component", "market_cache")),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh queries every adapter concurrently and publishes a new snapshot.
// Individual venue failures do not fail the refresh: the venue keeps its
// previous state and is flagged stale in the snapshot. Refresh only returns
// an error when the context is cancelled before completion.
func (c *Cache) Refresh(ctx context.Context) (domain.MarketSnapshot, error) {
	type result struct {
		id    string
		venue domain.Venue
		err   error
	}

	results := make([]result, 0, len(c.adapters))
	var resMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for id, adapter := range c.adapters {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, c.refreshTimeout)
			defer cancel()
			v, err := adapter.State(qctx)
			resMu.Lock()
			results = append(results, result{id: id, venue: v, err: err})
			resMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.MarketSnapshot{}, err
	}
	if ctx.Err() != nil {
		return domain.MarketSnapshot{}, ctx.Err()
	}

	now := c.now()

	c.mu.Lock()
	for _, r := range results {
		if r.err != nil {
			// Keep the previous state; flag it stale.
			c.stale[r.id] = true
			c.logger.Warn("venue refresh failed",
				slog.String("venue", r.id),
				slog.String("error", r.err.Error()),
			)
			continue
		}
		v := r.venue
		if prev, ok := c.venues[r.id]; ok && prev.Seq > v.Seq {
			// A push update already moved past this poll; keep the newer
			// state.
			delete(c.stale, r.id)
			continue
		}
		v.RefreshedAt = now
		c.venues[r.id] = v
		delete(c.stale, r.id)
	}
	snap := c.rebuildLocked(now)
	c.mu.Unlock()

	c.writeThrough(ctx, snap)
	return snap, nil
}

// ApplyUpdate folds a push-based update into the cache. Updates with a
// sequence number at or below the venue's current one are dropped. A new
// snapshot version is published so Latest reflects the update immediately.
func (c *Cache) ApplyUpdate(u domain.VenueUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.venues[u.VenueID]
	if !ok {
		return false
	}
	if u.Seq <= v.Seq {
		return false
	}
	if u.Price > 0 {
		v.Price = u.Price
	}
	if u.Depth > 0 {
		v.Depth = u.Depth
	}
	v.Seq = u.Seq
	v.RefreshedAt = u.At
	c.venues[u.VenueID] = v
	c.rebuildLocked(c.now())
	return true
}

// Latest returns the most recent snapshot. It never blocks callers on a
// refresh in progress; they get the previous snapshot.
func (c *Cache) Latest() domain.MarketSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// VenueIDs returns the IDs of all monitored venues in sorted order.
func (c *Cache) VenueIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.adapters))
	for id := range c.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// rebuildLocked publishes a new snapshot version from the current venue map.
// Callers must hold c.mu.
func (c *Cache) rebuildLocked(takenAt time.Time) domain.MarketSnapshot {
	c.version++
	venues := make([]domain.Venue, 0, len(c.venues))
	for _, v := range c.venues {
		venues = append(venues, v)
	}
	stale := make([]string, 0, len(c.stale))
	for id := range c.stale {
		stale = append(stale, id)
	}
	c.snapshot = domain.NewMarketSnapshot(c.version, takenAt, venues, stale)
	return c.snapshot
}

// writeThrough mirrors fresh venue state into the shared remote cache.
// Failures are logged, never propagated: the in-process snapshot is
// authoritative.
func (c *Cache) writeThrough(ctx context.Context, snap domain.MarketSnapshot) {
	if c.remote == nil {
		return
	}
	for _, v := range snap.Venues {
		if snap.IsStale(v.ID) {
			continue
		}
		if err := c.remote.SetVenue(ctx, v); err != nil {
			c.logger.Warn("remote cache write failed",
				slog.String("venue", v.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
	}
}
