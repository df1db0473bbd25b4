package internal

import (
	"io"

	"sjsage522/grailworker/internal/crawler"
	"sjsage522/grailworker/logger"
	"sjsage522/grailworker/services/cache"
	"sjsage522/grailworker/services/publisher"
	"sjsage522/grailworker/services/storage"
)

// Dependencies holds all service dependencies
type Dependencies struct {
	// Cache is nil when no memcache address is configured
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Store     storage.Store
	Provider  crawler.PageProvider
}

// Cleanup releases the publisher connection and the browser
func (d *Dependencies) Cleanup() {
	if d.Publisher != nil {
		if err := d.Publisher.Close(); err != nil {
			logger.ForPublisher().LogError("close", err)
		}
	}
	if closer, ok := d.Provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.ForCrawler(d.Provider.GetName()).LogError("close", err)
		}
	}
}
