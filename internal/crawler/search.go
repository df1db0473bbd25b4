package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// CategoryFilters maps UI category names to the marketplace's category filter value
var CategoryFilters = map[string]string{
	"T-Shirts":    "tops.short_sleeve_shirts",
	"Hoodies":     "tops.sweatshirts_hoodies",
	"Jackets":     "outerwear.light_jackets",
	"Accessories": "accessories.belts,accessories.glasses,accessories.jewelry_watches",
	"Pants":       "bottoms.casual_pants,bottoms.denim,bottoms.shorts",
	"Shoes":       "footwear.hitop_sneakers,footwear.lowtop_sneakers,footwear.boots",
}

// SearchQuery describes one search-results page
type SearchQuery struct {
	Term     string
	Category string
	MinPrice string
	MaxPrice string
}

// BuildSearchURL appends the query parameters to base. Unknown categories and
// "all" are ignored; a price filter is only added when MinPrice is set.
func BuildSearchURL(base string, q SearchQuery) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid search URL %q: %w", base, err)
	}

	params := u.Query()
	if term := strings.TrimSpace(q.Term); term != "" {
		params.Set("query", term)
	}
	if filter, ok := CategoryFilters[q.Category]; ok {
		params.Set("category", filter)
	}
	if q.MinPrice != "" {
		params.Set("price", q.MinPrice+":"+q.MaxPrice)
	}

	u.RawQuery = params.Encode()
	return u.String(), nil
}
