package crawler

import (
	"context"
	"os/exec"
	"sync"

	"github.com/chromedp/chromedp"

	"sjsage522/grailworker/helpers"
	"sjsage522/grailworker/logger"
	pkgerrors "sjsage522/grailworker/pkg/errors"
)

// ChromeProvider renders pages in a shared headless browser, one tab per render.
// The browser is started on first use and restarted on the next render after
// it failed to start or went away.
type ChromeProvider struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	log         *logger.Logger

	// newBrowser and start are swapped in tests
	newBrowser func(allocCtx context.Context) (context.Context, context.CancelFunc)
	start      func(browserCtx context.Context) error

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
}

// NewChromeProvider launches a local browser, or attaches to remoteAddr
// (a DevTools websocket URL) when it is set. The browser starts lazily.
func NewChromeProvider(chromeBin, remoteAddr string) *ChromeProvider {
	log := logger.ForCrawler("chrome")

	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if remoteAddr != "" {
		log.Info().Str("addr", remoteAddr).Msg("Using remote browser")
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), remoteAddr)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.UserAgent(helpers.RandomUserAgent()),
		)
		if bin := findChromeBinary(chromeBin); bin != "" {
			log.Info().Str("binary", bin).Msg("Using browser binary")
			opts = append(opts, chromedp.ExecPath(bin))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	return &ChromeProvider{
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		log:         log,
		newBrowser: func(allocCtx context.Context) (context.Context, context.CancelFunc) {
			// Suppress chromedp log noise
			return chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
		},
		start: func(browserCtx context.Context) error {
			return chromedp.Run(browserCtx)
		},
	}
}

// browser returns the running browser context, starting a new browser when
// there is none or the previous one is gone.
func (p *ChromeProvider) browser() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browserCtx != nil && p.browserCtx.Err() == nil {
		return p.browserCtx, nil
	}
	if p.cancelBrowser != nil {
		p.log.Warn().Msg("Browser is gone, restarting")
		p.cancelBrowser()
		p.browserCtx, p.cancelBrowser = nil, nil
	}
	if err := p.allocCtx.Err(); err != nil {
		return nil, err
	}

	browserCtx, cancel := p.newBrowser(p.allocCtx)
	if err := p.start(browserCtx); err != nil {
		cancel()
		return nil, err
	}
	p.browserCtx, p.cancelBrowser = browserCtx, cancel
	return browserCtx, nil
}

// GetName returns the provider's name
func (p *ChromeProvider) GetName() string {
	return "chrome"
}

// RenderPage navigates a fresh tab to url, waits, scrolls a third of the page
// to trigger lazy images, waits again and returns the document's outer HTML.
func (p *ChromeProvider) RenderPage(ctx context.Context, url string, opts RenderOptions) (string, error) {
	browserCtx, err := p.browser()
	if err != nil {
		return "", pkgerrors.NewNetwork(p.GetName(), "browser failed to start", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	if opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		tabCtx, cancelTimeout = context.WithTimeout(tabCtx, opts.Timeout)
		defer cancelTimeout()
	}

	var html string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(opts.InitialWait),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 3)`, nil),
		chromedp.Sleep(opts.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", pkgerrors.FromContext(p.GetName(), opts.Timeout, err)
	}

	p.log.Debug().Str("url", url).Int("bytes", len(html)).Msg("Page rendered")
	return html, nil
}

// Close shuts the browser down
func (p *ChromeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelBrowser != nil {
		p.cancelBrowser()
		p.browserCtx, p.cancelBrowser = nil, nil
	}
	p.cancelAlloc()
	return nil
}

// findChromeBinary prefers the configured path, then well-known names on PATH.
// An empty result lets chromedp use its own lookup.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
