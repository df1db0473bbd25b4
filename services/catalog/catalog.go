package catalog

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"sjsage522/grailworker/internal/crawler"
	"sjsage522/grailworker/logger"
	"sjsage522/grailworker/services/metrics"
	"sjsage522/grailworker/services/storage"
)

// Catalog holds the listings served to the game. Every update builds a new
// slice and swaps it in under the write lock; a published slice is never
// modified afterwards.
type Catalog struct {
	store  storage.Store
	window time.Duration
	now    func() time.Time
	log    *logger.Logger

	// writeMu serializes updates so a merge always starts from the latest snapshot
	writeMu sync.Mutex

	mu          sync.RWMutex
	items       []crawler.Listing
	lastUpdated time.Time
	persistErr  error
}

// Option customizes a Catalog
type Option func(*Catalog)

// WithFreshnessWindow overrides DefaultFreshnessWindow
func WithFreshnessWindow(d time.Duration) Option {
	return func(c *Catalog) { c.window = d }
}

// WithClock sets the clock used for LastUpdated and freshness checks
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New creates an empty catalog persisted to store. A nil store keeps it in memory only.
func New(store storage.Store, opts ...Option) *Catalog {
	c := &Catalog{
		store:  store,
		window: DefaultFreshnessWindow,
		now:    time.Now,
		log:    logger.ForCatalog(),
		items:  []crawler.Listing{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load replaces the in-memory state with the stored snapshot. On error the
// catalog stays empty and the error is returned for the caller to report.
func (c *Catalog) Load() error {
	if c.store == nil {
		return nil
	}

	snap, err := c.store.Load()
	if err != nil {
		c.log.Error().Err(err).Msg("Could not load saved catalog, starting empty")
		return err
	}

	items := snap.Items
	if items == nil {
		items = []crawler.Listing{}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.publish(items, snap.LastScraped)
	return nil
}

// Apply merges the listings of a successful scrape cycle into the catalog,
// stamps it as updated now and persists it. Placeholder listings are dropped
// once real ones arrive. It returns the listings that were new.
//
// A persistence error is returned but does not undo the update: the in-memory
// catalog stays authoritative and PersistError reports the divergence.
func (c *Catalog) Apply(incoming []crawler.Listing) ([]crawler.Listing, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	current, _ := c.snapshot()
	existing := make([]crawler.Listing, 0, len(current))
	for _, l := range current {
		if !l.Placeholder {
			existing = append(existing, l)
		}
	}

	merged, added := MergeAdded(existing, incoming)
	now := c.now()
	c.publish(merged, now)

	metrics.ListingsAdded.Add(float64(len(added)))
	c.log.Info().
		Int("incoming", len(incoming)).
		Int("added", len(added)).
		Int("total", len(merged)).
		Msg("Catalog updated")

	return added, c.persist(merged, now)
}

// Seed installs placeholder listings when the catalog is empty. It does not
// touch LastUpdated, so the catalog never counts as fresh because of them.
func (c *Catalog) Seed(placeholders []crawler.Listing) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	current, lastUpdated := c.snapshot()
	if len(current) > 0 {
		return false, nil
	}

	items := Merge(nil, placeholders)
	c.publish(items, lastUpdated)
	c.log.Warn().Int("total", len(items)).Msg("Catalog seeded with placeholder listings")

	return true, c.persist(items, lastUpdated)
}

// Items returns a copy of the current listings
func (c *Catalog) Items() []crawler.Listing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

// Len returns the number of listings
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Random returns a uniformly chosen listing, or false when the catalog is empty
func (c *Catalog) Random() (crawler.Listing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.items) == 0 {
		return crawler.Listing{}, false
	}
	return c.items[rand.IntN(len(c.items))], true
}

// LastUpdated returns when a scrape last updated the catalog; zero if never
func (c *Catalog) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdated
}

// IsFresh reports whether the last update is within the freshness window
func (c *Catalog) IsFresh() bool {
	return IsFreshWithin(c.LastUpdated(), c.now(), c.window)
}

// PersistError returns the error of the last failed save, or nil after a successful one
func (c *Catalog) PersistError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.persistErr
}

func (c *Catalog) snapshot() ([]crawler.Listing, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items, c.lastUpdated
}

func (c *Catalog) publish(items []crawler.Listing, lastUpdated time.Time) {
	c.mu.Lock()
	c.items = items
	c.lastUpdated = lastUpdated
	c.mu.Unlock()
	metrics.CatalogSize.Set(float64(len(items)))
}

func (c *Catalog) persist(items []crawler.Listing, lastUpdated time.Time) error {
	if c.store == nil {
		return nil
	}

	err := c.store.Save(storage.Snapshot{Items: items, LastScraped: lastUpdated})

	c.mu.Lock()
	c.persistErr = err
	c.mu.Unlock()

	if err != nil {
		metrics.PersistFailures.Inc()
		c.log.Error().Err(err).Msg("Catalog kept in memory but not saved")
	}
	return err
}
