package storage

import (
	"time"

	"sjsage522/grailworker/internal/crawler"
)

// FormatVersion is written into every persisted catalog
const FormatVersion = "1.0"

// Snapshot is the persisted form of the catalog
type Snapshot struct {
	Items []crawler.Listing
	// LastScraped is zero when the catalog was never filled by a real scrape
	LastScraped time.Time
}

// Store persists catalog snapshots
type Store interface {
	// Load returns the stored snapshot; a store that has never been written yields an empty one
	Load() (Snapshot, error)

	// Save replaces the stored snapshot
	Save(s Snapshot) error
}
