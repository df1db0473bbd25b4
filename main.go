package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"sjsage522/grailworker/config"
	"sjsage522/grailworker/internal"
	"sjsage522/grailworker/internal/crawler"
	"sjsage522/grailworker/logger"
	"sjsage522/grailworker/services/api"
	"sjsage522/grailworker/services/cache"
	"sjsage522/grailworker/services/catalog"
	"sjsage522/grailworker/services/publisher"
	"sjsage522/grailworker/services/storage"
	"sjsage522/grailworker/services/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if path := os.Getenv("SEARCH_TERMS_FILE"); path != "" {
		if err := cfg.LoadSearchTerms(path); err != nil {
			log.Fatal().Err(err).Msg("Invalid search terms file")
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("render_mode", cfg.RenderMode).
		Int("terms", len(cfg.SearchTerms)).
		Dur("scrape_interval", cfg.ScrapeInterval).
		Msg("Starting application")

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := initializeServices(ctx, cfg)
	defer deps.Cleanup()

	extractor, err := crawler.NewExtractor(cfg.SearchURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid SEARCH_URL")
	}

	cat := catalog.New(deps.Store, catalog.WithFreshnessWindow(cfg.FreshnessWindow))
	if err := cat.Load(); err != nil {
		log.Warn().Err(err).Msg("Serving an empty catalog until the first scrape")
	}

	g, gctx := errgroup.WithContext(ctx)

	w := worker.NewWorker(gctx, deps.Provider, extractor, cat, deps.Publisher, logger.ForWorker(), worker.OptionsFromConfig(cfg))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewHandler(cat, w).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		log.Info().Msg("Starting scrape worker")
		w.Start()
		w.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Exited with error")
		deps.Cleanup()
		os.Exit(1)
	}

	log.Info().Msg("Shut down gracefully")
}

// initializeServices builds the optional cache and publisher, the page provider and the store
func initializeServices(ctx context.Context, cfg *config.Config) *internal.Dependencies {
	deps := &internal.Dependencies{
		Store: storage.NewFileStore(cfg.DataFile),
	}

	if cfg.MemcacheAddr != "" {
		memcacheService := cache.NewMemcacheService(cfg.MemcacheAddr)
		if err := memcacheService.Ping(); err != nil {
			logger.Warn("Memcache at %s is not answering yet: %v", cfg.MemcacheAddr, err)
		} else {
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
		deps.Cache = memcacheService
	}

	if cfg.RedisAddr != "" {
		redisPublisher := publisher.NewRedisPublisher(
			ctx,
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamMaxLength,
		)
		if err := redisPublisher.Ping(); err != nil {
			logger.Warn("Redis at %s is not answering yet: %v", cfg.RedisAddr, err)
		} else {
			logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
				cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
		}
		deps.Publisher = redisPublisher
	} else {
		deps.Publisher = publisher.NopPublisher{}
	}

	var provider crawler.PageProvider
	switch cfg.RenderMode {
	case config.RenderModeHTTP:
		provider = crawler.NewHTTPProvider()
	default:
		provider = crawler.NewChromeProvider(cfg.ChromeBin, cfg.ChromeAddr)
	}
	if deps.Cache != nil {
		provider = crawler.NewRateLimitedProvider(provider, deps.Cache, cfg.BlockTime)
	}
	deps.Provider = provider

	return deps
}
