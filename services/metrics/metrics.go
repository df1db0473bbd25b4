// Package metrics holds the Prometheus collectors for the scrape pipeline
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes
const (
	OutcomeSuccess     = "success"
	OutcomeEmpty       = "empty"
	OutcomePlaceholder = "placeholder"
	OutcomeRefused     = "refused"
	OutcomeCancelled   = "cancelled"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grail_scrape_cycles_total",
			Help: "Scrape cycles by outcome.",
		},
		[]string{"outcome"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grail_scrape_cycle_duration_seconds",
			Help:    "Wall time of completed scrape cycles.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)
	TermFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grail_term_failures_total",
			Help: "Search terms whose page could not be rendered, by error type.",
		},
		[]string{"type"},
	)
	ListingsExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grail_listings_extracted_total",
			Help: "Listings accepted by the extractor.",
		},
	)
	ListingsAdded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grail_listings_added_total",
			Help: "Listings that were new to the catalog after deduplication.",
		},
	)
	CatalogSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grail_catalog_items",
			Help: "Number of listings currently served.",
		},
	)
	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grail_persist_failures_total",
			Help: "Failed writes of the catalog file.",
		},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(TermFailures)
	prometheus.MustRegister(ListingsExtracted)
	prometheus.MustRegister(ListingsAdded)
	prometheus.MustRegister(CatalogSize)
	prometheus.MustRegister(PersistFailures)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
