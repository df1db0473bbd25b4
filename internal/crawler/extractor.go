package crawler

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"sjsage522/grailworker/helpers"
	"sjsage522/grailworker/logger"
)

// ListingAnchorSelector matches anchors pointing at a listing detail page
const ListingAnchorSelector = `a[href*="/listings/"]`

// DefaultBrands is searched in order; the first case-insensitive hit wins
var DefaultBrands = []string{
	"Supreme",
	"Nike",
	"Adidas",
	"Off-White",
	"Stone Island",
	"Carhartt",
	"Patagonia",
	"Vetements",
	"Balenciaga",
	"Gucci",
	"Louis Vuitton",
	"Prada",
	"Dior",
	"Saint Laurent",
	"Yeezy",
}

var (
	priceRegexp   = regexp.MustCompile(`\$[\d,]+`)
	nonDigits     = regexp.MustCompile(`\D`)
	sizeRegexp    = regexp.MustCompile(`(?i)\b(XS|S|M|L|XL|XXL|XXXL|One Size|OS|\d{1,2})\b`)
	nameSeparator = strings.NewReplacer("-", " ", "_", " ")

	errNoContainer = errors.New("no item container")
	errNoLink      = errors.New("anchor has no usable href")
)

// Extractor pulls listings out of a rendered search-results page
type Extractor struct {
	base    *url.URL
	locator ContainerLocator
	brands  []string
	log     *logger.Logger
	now     func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// ExtractorOption customizes an Extractor
type ExtractorOption func(*Extractor)

// WithLocator swaps the item-card detection strategy
func WithLocator(l ContainerLocator) ExtractorOption {
	return func(e *Extractor) { e.locator = l }
}

// WithBrands replaces the ordered brand list
func WithBrands(brands []string) ExtractorOption {
	return func(e *Extractor) { e.brands = brands }
}

// WithRand sets the source for the placeholder seller and likes values
func WithRand(r *rand.Rand) ExtractorOption {
	return func(e *Extractor) { e.rnd = r }
}

// WithClock sets the clock stamped into ScrapedAt
func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) { e.now = now }
}

// WithExtractorLogger sets the logger used for skipped candidates
func WithExtractorLogger(l *logger.Logger) ExtractorOption {
	return func(e *Extractor) { e.log = l }
}

// NewExtractor creates an extractor resolving relative URLs against baseURL
func NewExtractor(baseURL string, opts ...ExtractorOption) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("extractor base URL %q must be absolute", baseURL)
	}

	e := &Extractor{
		base:    base,
		locator: NewClassFragmentLocator(),
		brands:  DefaultBrands,
		now:     time.Now,
		rnd:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.ForCrawler("extractor")
	}
	return e, nil
}

// Extract returns at most limit listings from the first limit candidate anchors.
// Malformed input or candidates never produce an error; they yield fewer listings.
func (e *Extractor) Extract(page string, limit int) []Listing {
	listings := make([]Listing, 0)
	if limit <= 0 {
		return listings
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		e.log.Debug().Err(err).Msg("Unparseable page")
		return listings
	}

	anchors := doc.Find(ListingAnchorSelector)
	anchors.EachWithBreak(func(i int, anchor *goquery.Selection) bool {
		if i >= limit {
			return false
		}
		listing, err := e.processCandidate(i, anchor)
		if err != nil {
			e.log.Debug().Int("candidate", i).Err(err).Msg("Skipping candidate")
			return true
		}
		listings = append(listings, *listing)
		return true
	})

	e.log.Debug().
		Int("anchors", anchors.Length()).
		Int("extracted", len(listings)).
		Msg("Extraction finished")

	return listings
}

// processCandidate builds one listing; any failure, including a panic, only skips this anchor
func (e *Extractor) processCandidate(index int, anchor *goquery.Selection) (listing *Listing, err error) {
	defer func() {
		if r := recover(); r != nil {
			listing, err = nil, fmt.Errorf("candidate %d: %v", index, r)
		}
	}()

	container := e.locator.Locate(anchor)
	if container == nil || container.Length() == 0 {
		return nil, errNoContainer
	}

	href, _ := anchor.Attr("href")
	link := e.resolve(href)
	if link == "" {
		return nil, errNoLink
	}

	text := visibleText(container)
	name := e.nameFor(anchor, link)

	l := Listing{
		Name:      name,
		Brand:     e.brandFor(text),
		Price:     parsePrice(text),
		Size:      sizeFor(text),
		Image:     e.imageFor(container),
		Link:      link,
		Condition: DefaultCondition,
		Category:  DefaultCategory,
		ScrapedAt: e.now(),
	}
	l.Seller, l.Likes = e.placeholders()

	if !l.Valid() {
		return nil, fmt.Errorf("rejected: price=%d image=%t name=%q", l.Price, l.Image != "", l.Name)
	}

	l.ID = ListingID(l.Link, l.Key())
	return &l, nil
}

// nameFor walks title, visible text, aria-label, then the URL slug
func (e *Extractor) nameFor(anchor *goquery.Selection, link string) string {
	name := helpers.CollapseSpaces(anchor.AttrOr("title", ""))
	if name == "" {
		name = visibleText(anchor)
	}
	if name == "" {
		name = helpers.CollapseSpaces(anchor.AttrOr("aria-label", ""))
	}
	if name == "" || utf8.RuneCountInString(name) < 5 {
		name = nameFromLink(link)
	}
	return strings.TrimSpace(helpers.TruncateRunes(name, MaxNameLength))
}

// nameFromLink turns ".../listings/12345-supreme-box-logo" into "supreme box logo"
func nameFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	slug := path.Base(u.Path)
	_, rest, found := strings.Cut(slug, "-")
	if !found {
		return ""
	}
	return helpers.CollapseSpaces(nameSeparator.Replace(rest))
}

func (e *Extractor) imageFor(container *goquery.Selection) string {
	img := container.Find("img").First()
	if img.Length() == 0 {
		return ""
	}

	src := strings.TrimSpace(img.AttrOr("src", ""))
	// Lazy-loaded cards carry an inline data: placeholder in src
	if src == "" || strings.HasPrefix(src, "data:") {
		src = strings.TrimSpace(img.AttrOr("data-src", ""))
	}
	if src == "" {
		return ""
	}
	return e.resolve(src)
}

// resolve makes ref absolute; protocol-relative refs become https
func (e *Extractor) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		ref = "https:" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := e.base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

func (e *Extractor) brandFor(text string) string {
	lower := strings.ToLower(text)
	for _, brand := range e.brands {
		if strings.Contains(lower, strings.ToLower(brand)) {
			return brand
		}
	}
	return UnknownBrand
}

func (e *Extractor) placeholders() (string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("grailed_user_%d", e.rnd.IntN(10000)), e.rnd.IntN(100)
}

// parsePrice reads the first "$1,234" amount in text; 0 when absent or unparseable
func parsePrice(text string) int {
	match := priceRegexp.FindString(text)
	if match == "" {
		return 0
	}
	price, err := strconv.Atoi(nonDigits.ReplaceAllString(match, ""))
	if err != nil {
		return 0
	}
	return price
}

// sizeFor ignores currency amounts so "$15" is not read as size 15
func sizeFor(text string) string {
	m := sizeRegexp.FindStringSubmatch(priceRegexp.ReplaceAllString(text, " "))
	if m == nil {
		return SizeNotAvailable
	}
	return m[1]
}
