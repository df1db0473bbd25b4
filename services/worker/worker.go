package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"sjsage522/grailworker/config"
	"sjsage522/grailworker/helpers"
	"sjsage522/grailworker/internal/crawler"
	pkgerrors "sjsage522/grailworker/pkg/errors"
	"sjsage522/grailworker/services/catalog"
	"sjsage522/grailworker/services/metrics"
	"sjsage522/grailworker/services/publisher"
)

// StreamField is the stream entry field carrying a base64 JSON listing
const StreamField = "b64_listing"

// RefreshResult tells the caller of TriggerRefresh what happened
type RefreshResult int

const (
	RefreshAccepted RefreshResult = iota
	RefreshAlreadyRunning
	RefreshStopped
)

// Options holds the scrape-cycle settings
type Options struct {
	Terms              []config.SearchTerm
	SearchURL          string
	ItemsPerTerm       int
	PacingDelay        time.Duration
	Interval           time.Duration
	Render             crawler.RenderOptions
	MaxAttempts        int
	RetryBackoff       time.Duration
	PlaceholderOnEmpty bool
}

// OptionsFromConfig copies the worker settings out of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Terms:        cfg.SearchTerms,
		SearchURL:    cfg.SearchURL,
		ItemsPerTerm: cfg.ItemsPerTerm,
		PacingDelay:  cfg.PacingDelay,
		Interval:     cfg.ScrapeInterval,
		Render: crawler.RenderOptions{
			Timeout:     cfg.PageTimeout,
			InitialWait: cfg.InitialWait,
			SettleDelay: cfg.SettleDelay,
		},
		MaxAttempts:        cfg.MaxAttempts,
		RetryBackoff:       cfg.RetryBackoff,
		PlaceholderOnEmpty: cfg.PlaceholderOnEmpty,
	}
}

// Progress describes the term a running cycle is working on
type Progress struct {
	TermIndex int       `json:"termIndex"`
	TermCount int       `json:"termCount"`
	Term      string    `json:"term"`
	StartedAt time.Time `json:"startedAt"`
}

// Status is the snapshot served to the game
type Status struct {
	Count        int        `json:"count"`
	LastUpdated  *time.Time `json:"lastUpdated"`
	IsFresh      bool       `json:"isFresh"`
	IsRunning    bool       `json:"isRunning"`
	Progress     *Progress  `json:"progress,omitempty"`
	PersistError string     `json:"persistError,omitempty"`
}

// Worker handles the scrape, merge and publish cycle
type Worker struct {
	ctx       context.Context
	provider  crawler.PageProvider
	extractor crawler.ListingExtractor
	catalog   *catalog.Catalog
	publisher publisher.Publisher
	logger    helpers.LoggerInterface
	opts      Options
	retry     *helpers.RetryConfig
	rnd       *rand.Rand

	running atomic.Bool

	// renders allows one provider call at a time across cycles and ad-hoc scrapes
	renders *semaphore.Weighted

	// lifeMu orders wg.Add in TriggerRefresh against Wait
	lifeMu  sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	progressMu sync.RWMutex
	progress   *Progress
}

// NewWorker creates a new worker. ctx bounds the scheduler and refresh cycles.
func NewWorker(
	ctx context.Context,
	provider crawler.PageProvider,
	extractor crawler.ListingExtractor,
	cat *catalog.Catalog,
	pub publisher.Publisher,
	logger helpers.LoggerInterface,
	opts Options,
) *Worker {
	if pub == nil {
		pub = publisher.NopPublisher{}
	}
	return &Worker{
		ctx:       ctx,
		provider:  provider,
		extractor: extractor,
		catalog:   cat,
		publisher: pub,
		logger:    logger,
		opts:      opts,
		retry: &helpers.RetryConfig{
			MaxAttempts: opts.MaxAttempts,
			BaseDelay:   opts.RetryBackoff,
			Retryable:   pkgerrors.IsRetryable,
			Logger:      logger,
		},
		rnd:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x2545f4914f6cdd1d)),
		renders: semaphore.NewWeighted(1),
	}
}

// Start runs the startup cycle unless the catalog is fresh, then a cycle every
// Interval until the worker context is cancelled.
func (w *Worker) Start() {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	if w.catalog.IsFresh() {
		w.logger.LogInfo("Catalog is fresh (last updated %s), skipping startup scrape",
			w.catalog.LastUpdated().Format(time.RFC3339))
	} else {
		w.RunCycle(w.ctx)
	}

	for {
		select {
		case <-w.ctx.Done():
			w.logger.LogInfo("Scheduler stopped")
			return
		case <-ticker.C:
			w.RunCycle(w.ctx)
		}
	}
}

// RunCycle runs one scrape cycle in the calling goroutine. It returns false
// without doing anything when another cycle is already running.
func (w *Worker) RunCycle(ctx context.Context) bool {
	if !w.acquire() {
		return false
	}
	defer w.release()

	w.runCycle(ctx)
	return true
}

// TriggerRefresh starts a cycle in the background unless one is running or the
// worker is shutting down
func (w *Worker) TriggerRefresh() RefreshResult {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()

	if w.stopped || w.ctx.Err() != nil {
		return RefreshStopped
	}
	if !w.acquire() {
		return RefreshAlreadyRunning
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.release()
		w.runCycle(w.ctx)
	}()
	return RefreshAccepted
}

// Wait stops accepting refreshes and blocks until background refresh cycles have returned
func (w *Worker) Wait() {
	w.lifeMu.Lock()
	w.stopped = true
	w.lifeMu.Unlock()

	w.wg.Wait()
}

// IsRunning reports whether a cycle is in progress
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// Progress returns the current term of a running cycle
func (w *Worker) Progress() (Progress, bool) {
	w.progressMu.RLock()
	defer w.progressMu.RUnlock()
	if w.progress == nil {
		return Progress{}, false
	}
	return *w.progress, true
}

// Status combines catalog and worker state
func (w *Worker) Status() Status {
	s := Status{
		Count:     w.catalog.Len(),
		IsFresh:   w.catalog.IsFresh(),
		IsRunning: w.IsRunning(),
	}
	if last := w.catalog.LastUpdated(); !last.IsZero() {
		s.LastUpdated = &last
	}
	if p, ok := w.Progress(); ok {
		s.Progress = &p
	}
	if err := w.catalog.PersistError(); err != nil {
		s.PersistError = err.Error()
	}
	return s
}

// Catalog returns the catalog the worker feeds
func (w *Worker) Catalog() *catalog.Catalog {
	return w.catalog
}

// ScrapeOnce renders and extracts a single search without touching the catalog
func (w *Worker) ScrapeOnce(ctx context.Context, q crawler.SearchQuery, limit int) ([]crawler.Listing, error) {
	if limit <= 0 {
		limit = w.opts.ItemsPerTerm
	}
	return w.scrape(ctx, q, limit)
}

func (w *Worker) acquire() bool {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.LogInfo("Scrape cycle already running, request ignored")
		metrics.CyclesTotal.WithLabelValues(metrics.OutcomeRefused).Inc()
		return false
	}
	return true
}

func (w *Worker) release() {
	w.setProgress(nil)
	w.running.Store(false)
}

func (w *Worker) setProgress(p *Progress) {
	w.progressMu.Lock()
	w.progress = p
	w.progressMu.Unlock()
}

func (w *Worker) runCycle(ctx context.Context) {
	start := time.Now()
	terms := w.opts.Terms
	w.logger.LogInfo("Starting scrape cycle over %d terms", len(terms))

	var collected []crawler.Listing
	failed := 0

	for i, term := range terms {
		if ctx.Err() != nil {
			w.cancelled(i, len(terms))
			return
		}

		w.setProgress(&Progress{TermIndex: i + 1, TermCount: len(terms), Term: term.Query, StartedAt: start})

		limit := term.Limit
		if limit <= 0 {
			limit = w.opts.ItemsPerTerm
		}
		listings, err := w.scrape(ctx, crawler.SearchQuery{
			Term:     term.Query,
			Category: term.Category,
			MinPrice: term.MinPrice,
			MaxPrice: term.MaxPrice,
		}, limit)
		if err != nil {
			failed++
			w.logger.LogError(term.Query, err)
			metrics.TermFailures.WithLabelValues(errorType(err)).Inc()
		} else {
			w.logger.LogInfo("Term %q (%d/%d): %d listings", term.Query, i+1, len(terms), len(listings))
			metrics.ListingsExtracted.Add(float64(len(listings)))
			collected = append(collected, listings...)
		}

		if i < len(terms)-1 && w.opts.PacingDelay > 0 {
			select {
			case <-ctx.Done():
				w.cancelled(i+1, len(terms))
				return
			case <-time.After(w.opts.PacingDelay):
			}
		}
	}

	if len(collected) == 0 {
		w.handleEmpty(failed, len(terms))
		return
	}

	added, err := w.catalog.Apply(collected)
	if err != nil {
		w.logger.LogError("catalog", err)
	}
	w.publish(added)

	elapsed := time.Since(start)
	metrics.CyclesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	metrics.CycleDuration.Observe(elapsed.Seconds())
	w.logger.LogInfo("Scrape cycle finished in %s: %d collected, %d new, %d total, %d/%d terms failed",
		elapsed.Round(time.Millisecond), len(collected), len(added), w.catalog.Len(), failed, len(terms))
}

// scrape renders one search page, retrying retryable failures, and extracts it.
// A panic below it becomes an internal error for this search only.
func (w *Worker) scrape(ctx context.Context, q crawler.SearchQuery, limit int) (listings []crawler.Listing, err error) {
	defer func() {
		if r := recover(); r != nil {
			listings = nil
			err = pkgerrors.NewInternal(w.provider.GetName(), fmt.Sprintf("panic while scraping %q: %v", q.Term, r))
		}
	}()

	url, err := crawler.BuildSearchURL(w.opts.SearchURL, q)
	if err != nil {
		return nil, pkgerrors.NewValidation(w.provider.GetName(), err.Error())
	}

	var page string
	err = w.retry.Do(ctx, q.Term, func(ctx context.Context) error {
		p, err := w.render(ctx, url)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return w.extractor.Extract(page, limit), nil
}

// render waits for the provider to be free, then bounds the call by the page timeout
func (w *Worker) render(ctx context.Context, url string) (string, error) {
	if err := w.renders.Acquire(ctx, 1); err != nil {
		return "", pkgerrors.FromContext(w.provider.GetName(), w.opts.Render.Timeout, err)
	}
	defer w.renders.Release(1)

	if timeout := w.opts.Render.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	page, err := w.provider.RenderPage(ctx, url, w.opts.Render)
	if err != nil {
		var se *pkgerrors.ScrapeError
		if !errors.As(err, &se) {
			err = pkgerrors.FromContext(w.provider.GetName(), w.opts.Render.Timeout, err)
		}
		return "", err
	}
	return page, nil
}

func (w *Worker) handleEmpty(failed, total int) {
	w.logger.LogError("cycle", pkgerrors.NewValidation(w.provider.GetName(),
		"no listings collected; catalog left unchanged"))

	if w.opts.PlaceholderOnEmpty {
		placeholders := catalog.GeneratePlaceholders(catalog.PlaceholderCount, w.rnd, time.Now())
		seeded, err := w.catalog.Seed(placeholders)
		if err != nil {
			w.logger.LogError("catalog", err)
		}
		if seeded {
			metrics.CyclesTotal.WithLabelValues(metrics.OutcomePlaceholder).Inc()
			w.logger.LogInfo("Catalog was empty, serving %d placeholder listings", w.catalog.Len())
			return
		}
	}

	metrics.CyclesTotal.WithLabelValues(metrics.OutcomeEmpty).Inc()
	w.logger.LogInfo("Scrape cycle produced nothing (%d/%d terms failed)", failed, total)
}

func (w *Worker) cancelled(done, total int) {
	metrics.CyclesTotal.WithLabelValues(metrics.OutcomeCancelled).Inc()
	w.logger.LogInfo("Scrape cycle cancelled after %d/%d terms; catalog left unchanged", done, total)
}

// publish sends newly added listings to the stream and trims it
func (w *Worker) publish(added []crawler.Listing) {
	for _, l := range added {
		data, err := json.Marshal(l)
		if err != nil {
			w.logger.LogError(l.Name, err)
			continue
		}
		if err := w.publisher.Publish(StreamField, data); err != nil {
			w.logger.LogError("publisher", err)
			return
		}
	}

	if len(added) > 0 {
		if err := w.publisher.TrimStreams(); err != nil {
			w.logger.LogError("StreamTrimming", err)
		}
	}
}

func errorType(err error) string {
	var se *pkgerrors.ScrapeError
	if errors.As(err, &se) {
		return string(se.Type)
	}
	return "unknown"
}
