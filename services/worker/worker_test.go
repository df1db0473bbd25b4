package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/grailworker/config"
	"sjsage522/grailworker/helpers"
	"sjsage522/grailworker/internal/crawler"
	pkgerrors "sjsage522/grailworker/pkg/errors"
	"sjsage522/grailworker/services/catalog"
	"sjsage522/grailworker/services/publisher"
)

// MockProvider renders a page naming the searched term, failing for selected terms
type MockProvider struct {
	mu      sync.Mutex
	failFor  map[string]error
	panicFor map[string]bool
	terms    []string

	// active and peak count concurrent renders; hold keeps each render busy
	active int
	peak   int
	hold   time.Duration

	// When set, RenderPage signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

var _ crawler.PageProvider = (*MockProvider)(nil)

func (m *MockProvider) GetName() string {
	return "mock"
}

func (m *MockProvider) RenderPage(ctx context.Context, rawURL string, opts crawler.RenderOptions) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	term := u.Query().Get("query")

	m.mu.Lock()
	m.terms = append(m.terms, term)
	failErr := m.failFor[term]
	m.active++
	m.peak = max(m.peak, m.active)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if m.panicFor[term] {
		panic("nil pointer dereference in page target")
	}
	if m.hold > 0 {
		time.Sleep(m.hold)
	}

	if m.entered != nil {
		m.entered <- struct{}{}
		select {
		case <-m.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if failErr != nil {
		return "", failErr
	}
	return term, nil
}

func (m *MockProvider) Peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

func (m *MockProvider) Terms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.terms...)
}

// MockExtractor turns the page (the term) into a fixed number of listings
type MockExtractor struct {
	perPage int
}

func (m *MockExtractor) Extract(page string, limit int) []crawler.Listing {
	n := m.perPage
	if n > limit {
		n = limit
	}
	listings := make([]crawler.Listing, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s item %d", page, i)
		link := "https://www.grailed.com/listings/" + strings.ReplaceAll(name, " ", "-")
		l := crawler.Listing{Name: name, Price: 100 + i, Image: "https://img/x.jpg", Link: link}
		l.ID = crawler.ListingID(link, l.Key())
		listings = append(listings, l)
	}
	return listings
}

// MockPublisher implements the publisher.Publisher interface for testing
type MockPublisher struct {
	mu       sync.Mutex
	messages [][]byte
	trims    int
}

var _ publisher.Publisher = (*MockPublisher)(nil)

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(key string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy the message to ensure thread safety
	messageCopy := make([]byte, len(message))
	copy(messageCopy, message)

	m.messages = append(m.messages, messageCopy)
	return nil
}

func (m *MockPublisher) TrimStreams() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trims++
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

func (m *MockPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// MockLogger implements the helpers.LoggerInterface for testing
type MockLogger struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

var _ helpers.LoggerInterface = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{
		errors: make([]string, 0),
		infos:  make([]string, 0),
	}
}

func (m *MockLogger) LogError(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, name+": "+err.Error())
}

func (m *MockLogger) LogInfo(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, fmt.Sprintf(format, args...))
}

func (m *MockLogger) Errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errors...)
}

func terms(queries ...string) []config.SearchTerm {
	out := make([]config.SearchTerm, 0, len(queries))
	for _, q := range queries {
		out = append(out, config.SearchTerm{Query: q})
	}
	return out
}

func testOptions(queries ...string) Options {
	return Options{
		Terms:        terms(queries...),
		SearchURL:    "https://www.grailed.com/shop",
		ItemsPerTerm: 15,
		Interval:     time.Hour,
		Render:       crawler.RenderOptions{Timeout: 5 * time.Second},
		MaxAttempts:  1,
	}
}

func newTestWorker(ctx context.Context, provider crawler.PageProvider, cat *catalog.Catalog, pub publisher.Publisher, opts Options) (*Worker, *MockLogger) {
	mockLogger := NewMockLogger()
	return NewWorker(ctx, provider, &MockExtractor{perPage: 3}, cat, pub, mockLogger, opts), mockLogger
}

func TestRunCycleMergesAndPublishes(t *testing.T) {
	provider := &MockProvider{}
	pub := NewMockPublisher()
	cat := catalog.New(nil)
	w, _ := newTestWorker(context.Background(), provider, cat, pub, testOptions("Supreme", "Nike"))

	assert.True(t, w.RunCycle(context.Background()))

	assert.Equal(t, []string{"Supreme", "Nike"}, provider.Terms())
	assert.Equal(t, 6, cat.Len())
	assert.True(t, cat.IsFresh())
	assert.Equal(t, 6, pub.Count())
	assert.Equal(t, 1, pub.trims)
	assert.False(t, w.IsRunning())

	assert.Contains(t, string(pub.messages[0]), `"name":"Supreme item 0"`)

	// A second identical cycle adds and publishes nothing new
	assert.True(t, w.RunCycle(context.Background()))
	assert.Equal(t, 6, cat.Len())
	assert.Equal(t, 6, pub.Count())
}

func TestRunCycleIsolatesTermFailures(t *testing.T) {
	provider := &MockProvider{failFor: map[string]error{
		"Adidas": pkgerrors.NewNetwork("mock", "page render failed", errors.New("net::ERR_CONNECTION_RESET")),
	}}
	cat := catalog.New(nil)
	w, mockLogger := newTestWorker(context.Background(), provider, cat, NewMockPublisher(),
		testOptions("Supreme", "Adidas", "Nike", "Off-White", "Carhartt"))

	assert.True(t, w.RunCycle(context.Background()))

	assert.Len(t, provider.Terms(), 5, "every term is attempted")
	assert.Equal(t, 12, cat.Len(), "four terms of three listings each")
	for _, l := range cat.Items() {
		assert.False(t, strings.HasPrefix(l.Name, "Adidas"))
	}

	errs := mockLogger.Errors()
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "Adidas: "))
}

func TestRunCycleRecoversProviderPanic(t *testing.T) {
	provider := &MockProvider{panicFor: map[string]bool{"Adidas": true}}
	cat := catalog.New(nil)
	w, mockLogger := newTestWorker(context.Background(), provider, cat, NewMockPublisher(),
		testOptions("Supreme", "Adidas", "Nike", "Off-White", "Carhartt"))

	assert.NotPanics(t, func() {
		assert.True(t, w.RunCycle(context.Background()))
	})

	assert.Equal(t, []string{"Supreme", "Adidas", "Nike", "Off-White", "Carhartt"}, provider.Terms())
	assert.Equal(t, 12, cat.Len())
	assert.False(t, w.IsRunning())

	errs := mockLogger.Errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "[internal]")
	assert.Contains(t, errs[0], "Adidas")
}

func TestScrapeOnceRecoversProviderPanic(t *testing.T) {
	provider := &MockProvider{panicFor: map[string]bool{"Gucci": true}}
	w, _ := newTestWorker(context.Background(), provider, catalog.New(nil), NewMockPublisher(), testOptions("Supreme"))

	listings, err := w.ScrapeOnce(context.Background(), crawler.SearchQuery{Term: "Gucci"}, 5)
	assert.Nil(t, listings)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeInternal))

	// The render slot was released
	_, err = w.ScrapeOnce(context.Background(), crawler.SearchQuery{Term: "Nike"}, 5)
	assert.NoError(t, err)
}

func TestRendersAreSequentialAcrossCycleAndScrapeOnce(t *testing.T) {
	provider := &MockProvider{hold: 5 * time.Millisecond}
	w, _ := newTestWorker(context.Background(), provider, catalog.New(nil), NewMockPublisher(),
		testOptions("Supreme", "Nike", "Adidas"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.RunCycle(context.Background())
	}()
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := w.ScrapeOnce(context.Background(), crawler.SearchQuery{Term: fmt.Sprintf("Gucci %d", i)}, 2)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, provider.Terms(), 23)
	assert.Equal(t, 1, provider.Peak())
}

func TestScrapeOnceGivesUpWaitingForProvider(t *testing.T) {
	provider := &MockProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	w, _ := newTestWorker(context.Background(), provider, catalog.New(nil), NewMockPublisher(), testOptions("Supreme"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.RunCycle(context.Background())
	}()
	<-provider.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := w.ScrapeOnce(ctx, crawler.SearchQuery{Term: "Nike"}, 2)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeTimeout))
	assert.Equal(t, []string{"Supreme"}, provider.Terms(), "the queued scrape never reached the provider")

	close(provider.release)
	<-done
}

func TestRunCycleRetriesRetryableErrors(t *testing.T) {
	timeout := pkgerrors.NewTimeout("mock", time.Second, context.DeadlineExceeded)
	provider := &MockProvider{failFor: map[string]error{"Nike": timeout}}
	opts := testOptions("Nike")
	opts.MaxAttempts = 3
	opts.RetryBackoff = time.Millisecond

	w, _ := newTestWorker(context.Background(), provider, catalog.New(nil), NewMockPublisher(), opts)
	w.RunCycle(context.Background())

	assert.Len(t, provider.Terms(), 3)
}

func TestRunCycleDoesNotRetryRateLimit(t *testing.T) {
	provider := &MockProvider{failFor: map[string]error{"Nike": pkgerrors.NewRateLimit("mock", time.Minute)}}
	opts := testOptions("Nike")
	opts.MaxAttempts = 3
	opts.RetryBackoff = time.Millisecond

	w, _ := newTestWorker(context.Background(), provider, catalog.New(nil), NewMockPublisher(), opts)
	w.RunCycle(context.Background())

	assert.Len(t, provider.Terms(), 1)
}

func TestRunCycleSingleFlight(t *testing.T) {
	provider := &MockProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	cat := catalog.New(nil)
	w, _ := newTestWorker(context.Background(), provider, cat, NewMockPublisher(), testOptions("Supreme"))

	done := make(chan bool)
	go func() {
		done <- w.RunCycle(context.Background())
	}()

	<-provider.entered
	assert.True(t, w.IsRunning())

	progress, ok := w.Progress()
	require.True(t, ok)
	assert.Equal(t, Progress{TermIndex: 1, TermCount: 1, Term: "Supreme", StartedAt: progress.StartedAt}, progress)

	// Overlapping requests are refused, not queued
	assert.False(t, w.RunCycle(context.Background()))
	assert.Equal(t, RefreshAlreadyRunning, w.TriggerRefresh())

	close(provider.release)
	assert.True(t, <-done)

	assert.False(t, w.IsRunning())
	_, ok = w.Progress()
	assert.False(t, ok, "progress is cleared when the cycle ends")
	assert.Len(t, provider.Terms(), 1)
	assert.Equal(t, 3, cat.Len())
}

func TestTriggerRefresh(t *testing.T) {
	provider := &MockProvider{}
	cat := catalog.New(nil)
	w, _ := newTestWorker(context.Background(), provider, cat, NewMockPublisher(), testOptions("Supreme", "Nike"))

	assert.Equal(t, RefreshAccepted, w.TriggerRefresh())
	w.Wait()

	assert.Equal(t, 6, cat.Len())
	assert.False(t, w.IsRunning())
}

func TestTriggerRefreshRefusedAfterShutdown(t *testing.T) {
	provider := &MockProvider{}
	ctx, cancel := context.WithCancel(context.Background())
	w, _ := newTestWorker(ctx, provider, catalog.New(nil), NewMockPublisher(), testOptions("Supreme"))

	cancel()
	assert.Equal(t, RefreshStopped, w.TriggerRefresh())
	assert.False(t, w.IsRunning())

	w2, _ := newTestWorker(context.Background(), provider, catalog.New(nil), NewMockPublisher(), testOptions("Supreme"))
	w2.Wait()
	assert.Equal(t, RefreshStopped, w2.TriggerRefresh())
	assert.Empty(t, provider.Terms())
}

func TestRunCycleZeroResultsLeavesCatalogUntouched(t *testing.T) {
	failure := pkgerrors.NewNetwork("mock", "page render failed", errors.New("boom"))
	provider := &MockProvider{failFor: map[string]error{"Supreme": failure, "Nike": failure}}

	cat := catalog.New(nil)
	_, err := cat.Apply([]crawler.Listing{{Name: "Existing item", Price: 50, Image: "https://img/e.jpg"}})
	require.NoError(t, err)
	before := cat.LastUpdated()

	pub := NewMockPublisher()
	w, _ := newTestWorker(context.Background(), provider, cat, pub, testOptions("Supreme", "Nike"))
	assert.True(t, w.RunCycle(context.Background()))

	assert.Equal(t, 1, cat.Len())
	assert.Equal(t, before, cat.LastUpdated())
	assert.Equal(t, 0, pub.Count())
}

func TestRunCyclePlaceholderPolicy(t *testing.T) {
	failure := pkgerrors.NewNetwork("mock", "page render failed", errors.New("boom"))
	provider := &MockProvider{failFor: map[string]error{"Supreme": failure}}

	opts := testOptions("Supreme")
	opts.PlaceholderOnEmpty = true

	cat := catalog.New(nil)
	w, _ := newTestWorker(context.Background(), provider, cat, NewMockPublisher(), opts)
	w.RunCycle(context.Background())

	require.Equal(t, catalog.PlaceholderCount, cat.Len())
	for _, l := range cat.Items() {
		assert.True(t, l.Placeholder)
	}
	assert.False(t, cat.IsFresh())
}

func TestRunCycleCancelledDuringPacing(t *testing.T) {
	provider := &MockProvider{}
	opts := testOptions("Supreme", "Nike")
	opts.PacingDelay = time.Hour

	cat := catalog.New(nil)
	w, _ := newTestWorker(context.Background(), provider, cat, NewMockPublisher(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	assert.True(t, w.RunCycle(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, []string{"Supreme"}, provider.Terms())
	assert.Equal(t, 0, cat.Len())
	assert.False(t, w.IsRunning())
}

func TestRunCycleBoundsProviderCalls(t *testing.T) {
	provider := &MockProvider{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	opts := testOptions("Supreme")
	opts.Render.Timeout = 50 * time.Millisecond

	w, mockLogger := newTestWorker(context.Background(), provider, catalog.New(nil), NewMockPublisher(), opts)
	assert.True(t, w.RunCycle(context.Background()))

	errs := mockLogger.Errors()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "[timeout]")
}

func TestStartSkipsStartupCycleWhenFresh(t *testing.T) {
	provider := &MockProvider{}
	cat := catalog.New(nil)
	_, err := cat.Apply([]crawler.Listing{{Name: "Existing item", Price: 50, Image: "https://img/e.jpg"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w, _ := newTestWorker(ctx, provider, cat, NewMockPublisher(), testOptions("Supreme"))

	stopped := make(chan struct{})
	go func() {
		w.Start()
		close(stopped)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-stopped

	assert.Empty(t, provider.Terms())
}

func TestStartRunsStartupCycleWhenStale(t *testing.T) {
	provider := &MockProvider{}
	cat := catalog.New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	w, _ := newTestWorker(ctx, provider, cat, NewMockPublisher(), testOptions("Supreme"))

	stopped := make(chan struct{})
	go func() {
		w.Start()
		close(stopped)
	}()

	require.Eventually(t, func() bool { return cat.Len() == 3 }, time.Second, 10*time.Millisecond)
	cancel()
	<-stopped
}

func TestStartTicks(t *testing.T) {
	provider := &MockProvider{}
	cat := catalog.New(nil)
	opts := testOptions("Supreme")
	opts.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, _ := newTestWorker(ctx, provider, cat, NewMockPublisher(), opts)

	go w.Start()

	require.Eventually(t, func() bool { return len(provider.Terms()) >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestStatus(t *testing.T) {
	cat := catalog.New(nil)
	w, _ := newTestWorker(context.Background(), &MockProvider{}, cat, NewMockPublisher(), testOptions("Supreme"))

	s := w.Status()
	assert.Equal(t, 0, s.Count)
	assert.Nil(t, s.LastUpdated)
	assert.False(t, s.IsFresh)
	assert.Nil(t, s.Progress)

	w.RunCycle(context.Background())

	s = w.Status()
	assert.Equal(t, 3, s.Count)
	require.NotNil(t, s.LastUpdated)
	assert.True(t, s.IsFresh)
	assert.False(t, s.IsRunning)
	assert.Empty(t, s.PersistError)
}

func TestScrapeOnceDoesNotTouchCatalog(t *testing.T) {
	provider := &MockProvider{}
	cat := catalog.New(nil)
	w, _ := newTestWorker(context.Background(), provider, cat, NewMockPublisher(), testOptions("Supreme"))

	listings, err := w.ScrapeOnce(context.Background(), crawler.SearchQuery{Term: "Gucci", Category: "Shoes"}, 2)
	require.NoError(t, err)
	assert.Len(t, listings, 2)
	assert.Equal(t, 0, cat.Len())
	assert.Equal(t, []string{"Gucci"}, provider.Terms())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		SearchTerms:  terms("Supreme"),
		SearchURL:    "https://www.grailed.com/shop",
		ItemsPerTerm: 15,
		PageTimeout:  time.Minute,
		InitialWait:  3 * time.Second,
		SettleDelay:  2 * time.Second,
		MaxAttempts:  2,
	}

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, time.Minute, opts.Render.Timeout)
	assert.Equal(t, 3*time.Second, opts.Render.InitialWait)
	assert.Equal(t, 2, opts.MaxAttempts)
	assert.Len(t, opts.Terms, 1)
}
