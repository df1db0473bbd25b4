package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sjsage522/grailworker/helpers"
	pkgerrors "sjsage522/grailworker/pkg/errors"
)

// HTTPProvider fetches the server-rendered HTML without running scripts.
// It is lighter than ChromeProvider but sees only what the server sends.
type HTTPProvider struct{}

// NewHTTPProvider creates a plain HTTP page provider
func NewHTTPProvider() *HTTPProvider {
	return &HTTPProvider{}
}

// GetName returns the provider's name
func (p *HTTPProvider) GetName() string {
	return "http"
}

// RenderPage fetches url; InitialWait and SettleDelay do not apply
func (p *HTTPProvider) RenderPage(ctx context.Context, url string, opts RenderOptions) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	reader, err := helpers.FetchWithRandomHeaders(ctx, url)
	if err != nil {
		var rl *helpers.RateLimitedError
		if errors.As(err, &rl) {
			return "", pkgerrors.New(pkgerrors.ErrorTypeRateLimit, p.GetName(), "rate limited", err)
		}
		return "", pkgerrors.FromContext(p.GetName(), opts.Timeout, err)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return "", pkgerrors.NewNetwork(p.GetName(), fmt.Sprintf("read %s", url), err)
	}
	return string(body), nil
}
