package catalog

import (
	"fmt"
	"math/rand/v2"
	"time"

	"sjsage522/grailworker/internal/crawler"
)

// PlaceholderCount is the size of a generated placeholder catalog
const PlaceholderCount = 50

var placeholderItemTypes = []string{"T-Shirt", "Hoodie", "Jacket", "Pants", "Shoes", "Hat", "Sweatshirt", "Shorts"}

var placeholderSizes = []string{"S", "M", "L", "XL"}

// GeneratePlaceholders builds n synthetic listings flagged Placeholder.
// Prices fall in [50, 850).
func GeneratePlaceholders(n int, rnd *rand.Rand, now time.Time) []crawler.Listing {
	brands := crawler.DefaultBrands[:10]
	listings := make([]crawler.Listing, 0, n)

	for i := 0; i < n; i++ {
		brand := brands[rnd.IntN(len(brands))]
		itemType := placeholderItemTypes[rnd.IntN(len(placeholderItemTypes))]

		l := crawler.Listing{
			Name:        fmt.Sprintf("%s %s %d", brand, itemType, rnd.IntN(1000)+1),
			Brand:       brand,
			Price:       rnd.IntN(800) + 50,
			Size:        placeholderSizes[rnd.IntN(len(placeholderSizes))],
			Seller:      fmt.Sprintf("grailed_user_%d", rnd.IntN(10000)),
			Image:       fmt.Sprintf("https://images.unsplash.com/photo-%d?w=400&h=400&fit=crop", 1441986300917+i),
			Link:        fmt.Sprintf("https://www.grailed.com/listings/placeholder-item-%d", i),
			Likes:       rnd.IntN(100),
			Condition:   crawler.DefaultCondition,
			Category:    crawler.DefaultCategory,
			Placeholder: true,
			ScrapedAt:   now,
		}
		l.ID = crawler.ListingID(l.Link, l.Key())
		listings = append(listings, l)
	}
	return listings
}
