package crawler

import "github.com/PuerkitoBio/goquery"

// DefaultContainerFragments are the class-name fragments that mark an item card,
// most specific first.
var DefaultContainerFragments = []string{"UserItem", "feedItem", "Item"}

// ContainerLocator finds the item card that owns a listing anchor
type ContainerLocator interface {
	Locate(anchor *goquery.Selection) *goquery.Selection
}

// ClassFragmentLocator picks the closest div whose class contains one of
// Fragments, trying them in order, and falls back to the anchor's parent.
type ClassFragmentLocator struct {
	Fragments []string
}

// NewClassFragmentLocator creates a locator with the default fragments
func NewClassFragmentLocator() *ClassFragmentLocator {
	return &ClassFragmentLocator{Fragments: DefaultContainerFragments}
}

// Locate returns the card for anchor; the result is empty only if the anchor has no parent
func (l *ClassFragmentLocator) Locate(anchor *goquery.Selection) *goquery.Selection {
	for _, fragment := range l.Fragments {
		if card := anchor.Closest(`div[class*="` + fragment + `"]`); card.Length() > 0 {
			return card
		}
	}
	return anchor.Parent()
}
