package crawler

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Sentinel and placeholder values carried by every Listing
const (
	UnknownBrand     = "Unknown"
	SizeNotAvailable = "N/A"
	DefaultCondition = "Used"
	DefaultCategory  = "Various"

	// MaxNameLength caps Listing.Name, counted in runes
	MaxNameLength = 80
)

// Listing represents one product scraped from a search-results page.
//
// Seller, Likes, Condition and Category are not read from the page: seller and
// likes are random draws and the other two are constants. Nothing should rank
// or filter on them.
type Listing struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Brand       string    `json:"brand"`
	Price       int       `json:"price"`
	Size        string    `json:"size"`
	Seller      string    `json:"seller"`
	Image       string    `json:"image"`
	Link        string    `json:"link"`
	Likes       int       `json:"likes"`
	Condition   string    `json:"condition"`
	Category    string    `json:"category"`
	Placeholder bool      `json:"placeholder,omitempty"`
	ScrapedAt   time.Time `json:"scrapedAt"`
}

// Key returns the identity used for deduplication: name and price, case-sensitive
func (l Listing) Key() string {
	return l.Name + "-" + strconv.Itoa(l.Price)
}

// Valid reports whether the listing passes the extraction gate
func (l Listing) Valid() bool {
	return l.Price > 0 && l.Image != "" && len([]rune(l.Name)) > 3
}

// ListingID derives a stable identifier from the detail link and identity key
func ListingID(link, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(link+"#"+key)).String()
}

// RenderOptions controls how long a provider waits for a page
type RenderOptions struct {
	// Timeout bounds the whole render; zero means the caller's context decides
	Timeout time.Duration
	// InitialWait is the pause after navigation before scrolling
	InitialWait time.Duration
	// SettleDelay is the pause after scrolling so lazy images can load
	SettleDelay time.Duration
}

// PageProvider returns the rendered DOM of a URL
type PageProvider interface {
	RenderPage(ctx context.Context, url string, opts RenderOptions) (string, error)

	// GetName returns the provider's name for logging and identification
	GetName() string
}

// ListingExtractor turns a rendered page into listings
type ListingExtractor interface {
	Extract(page string, limit int) []Listing
}
