package catalog

import (
	"time"

	"sjsage522/grailworker/internal/crawler"
)

// DefaultFreshnessWindow is how long a scrape result counts as current
const DefaultFreshnessWindow = 30 * time.Minute

// Merge returns existing followed by every incoming listing whose key is not
// already present. Neither input is modified.
func Merge(existing, incoming []crawler.Listing) []crawler.Listing {
	merged, _ := MergeAdded(existing, incoming)
	return merged
}

// MergeAdded is Merge that also returns the listings it appended
func MergeAdded(existing, incoming []crawler.Listing) (merged, added []crawler.Listing) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged = make([]crawler.Listing, 0, len(existing)+len(incoming))

	for _, l := range existing {
		seen[l.Key()] = struct{}{}
		merged = append(merged, l)
	}
	for _, l := range incoming {
		key := l.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, l)
		added = append(added, l)
	}
	return merged, added
}

// IsFresh reports whether lastUpdated lies within the default window before now
func IsFresh(lastUpdated, now time.Time) bool {
	return IsFreshWithin(lastUpdated, now, DefaultFreshnessWindow)
}

// IsFreshWithin reports whether lastUpdated is set and less than window before now
func IsFreshWithin(lastUpdated, now time.Time, window time.Duration) bool {
	if lastUpdated.IsZero() {
		return false
	}
	return now.Sub(lastUpdated) < window
}
