package crawler

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"sjsage522/grailworker/logger"
	pkgerrors "sjsage522/grailworker/pkg/errors"
	"sjsage522/grailworker/services/cache"
)

const blockKeyPrefix = "grail_rate_limited:"

// RateLimitedProvider stops sending requests to a host for BlockTime after it
// answered with a rate-limit error. The block is kept in the shared cache so
// every worker replica honours it.
type RateLimitedProvider struct {
	Next      PageProvider
	CacheSvc  cache.CacheService
	BlockTime time.Duration
}

// NewRateLimitedProvider wraps next with a cache-backed host block
func NewRateLimitedProvider(next PageProvider, cacheSvc cache.CacheService, blockTime time.Duration) *RateLimitedProvider {
	return &RateLimitedProvider{Next: next, CacheSvc: cacheSvc, BlockTime: blockTime}
}

// GetName returns the wrapped provider's name
func (p *RateLimitedProvider) GetName() string {
	return p.Next.GetName()
}

// RenderPage fails fast while the host is blocked and sets the block on a rate-limit error
func (p *RateLimitedProvider) RenderPage(ctx context.Context, rawURL string, opts RenderOptions) (string, error) {
	key := blockKey(rawURL)

	if p.CacheSvc != nil {
		if _, err := p.CacheSvc.Get(key); err == nil {
			return "", pkgerrors.NewRateLimit(p.GetName(), p.BlockTime)
		}
	}

	page, err := p.Next.RenderPage(ctx, rawURL, opts)
	if err != nil && p.CacheSvc != nil && pkgerrors.IsType(err, pkgerrors.ErrorTypeRateLimit) {
		seconds := strconv.Itoa(int(p.BlockTime / time.Second))
		if setErr := p.CacheSvc.Set(key, []byte(seconds), p.BlockTime); setErr != nil {
			logger.ForCache().LogError(key, setErr)
		} else {
			logger.ForCache().Warn().Str("key", key).Dur("block", p.BlockTime).Msg("Host blocked after rate limit")
		}
	}
	return page, err
}

func blockKey(rawURL string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return blockKeyPrefix + host
}
