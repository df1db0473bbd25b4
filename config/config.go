package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Render modes for the page provider
const (
	RenderModeChrome = "chrome"
	RenderModeHTTP   = "http"
)

// DefaultSearchTerms is the curated brand rotation used when nothing else is configured
var DefaultSearchTerms = []string{
	"Supreme",
	"Nike",
	"Adidas",
	"Off-White",
	"Stone Island",
	"Carhartt",
}

// SearchTerm is one entry of the scrape rotation
type SearchTerm struct {
	Query    string `yaml:"query"`
	Category string `yaml:"category"`
	MinPrice string `yaml:"min_price"`
	MaxPrice string `yaml:"max_price"`
	Limit    int    `yaml:"limit"`
}

// Config represents the application configuration
type Config struct {
	// Redis configuration; an empty address disables publishing
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamMaxLength int

	// Memcache configuration; an empty address disables rate-limit blocking
	MemcacheAddr string
	BlockTime    time.Duration

	// Page rendering
	RenderMode   string
	ChromeBin    string
	ChromeAddr   string
	SearchURL    string
	PageTimeout  time.Duration
	InitialWait  time.Duration
	SettleDelay  time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration

	// Scrape cycle
	SearchTerms        []SearchTerm
	ItemsPerTerm       int
	PacingDelay        time.Duration
	ScrapeInterval     time.Duration
	FreshnessWindow    time.Duration
	PlaceholderOnEmpty bool

	// Storage and serving
	DataFile string
	HTTPAddr string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamMaxLength, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "500"))

	cfg := &Config{
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "listings"),
		RedisStreamMaxLength: streamMaxLength,

		MemcacheAddr: getEnv("MEMCACHE_ADDR", ""),
		BlockTime:    getEnvDuration("BLOCK_TIME", 10*time.Minute),

		RenderMode:   strings.ToLower(getEnv("RENDER_MODE", RenderModeChrome)),
		ChromeBin:    getEnv("CHROME_BIN", ""),
		ChromeAddr:   getEnv("CHROME_ADDR", ""),
		SearchURL:    getEnv("SEARCH_URL", "https://www.grailed.com/shop"),
		PageTimeout:  getEnvDuration("PAGE_TIMEOUT", 60*time.Second),
		InitialWait:  getEnvDuration("INITIAL_WAIT", 3*time.Second),
		SettleDelay:  getEnvDuration("SETTLE_DELAY", 2*time.Second),
		MaxAttempts:  getEnvInt("MAX_ATTEMPTS", 2),
		RetryBackoff: getEnvDuration("RETRY_BACKOFF", 5*time.Second),

		SearchTerms:        termsFromList(getEnvList("SEARCH_TERMS", DefaultSearchTerms)),
		ItemsPerTerm:       getEnvInt("ITEMS_PER_TERM", 15),
		PacingDelay:        getEnvDuration("PACING_DELAY", 2*time.Second),
		ScrapeInterval:     getEnvDuration("SCRAPE_INTERVAL", 30*time.Minute),
		FreshnessWindow:    getEnvDuration("FRESHNESS_WINDOW", 30*time.Minute),
		PlaceholderOnEmpty: getEnvBool("PLACEHOLDER_ON_EMPTY", false),

		DataFile: getEnv("DATA_FILE", "scraped_items.json"),
		HTTPAddr: getEnv("HTTP_ADDR", ":3001"),

		Environment: getEnv("GRAIL_ENVIRONMENT", "development"),
	}

	return cfg
}

// LoadSearchTerms replaces the rotation with the terms listed in a YAML file
func (c *Config) LoadSearchTerms(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read search terms %s: %w", path, err)
	}

	var file struct {
		Terms []SearchTerm `yaml:"terms"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse search terms %s: %w", path, err)
	}

	terms := make([]SearchTerm, 0, len(file.Terms))
	for _, t := range file.Terms {
		t.Query = strings.TrimSpace(t.Query)
		if t.Query == "" {
			continue
		}
		terms = append(terms, t)
	}
	if len(terms) == 0 {
		return fmt.Errorf("search terms %s: no usable terms", path)
	}

	c.SearchTerms = terms
	return nil
}

// Validate rejects configurations the worker cannot run with
func (c *Config) Validate() error {
	var problems []string

	if len(c.SearchTerms) == 0 {
		problems = append(problems, "at least one search term is required")
	}
	if c.ItemsPerTerm <= 0 {
		problems = append(problems, "ITEMS_PER_TERM must be positive")
	}
	if c.ScrapeInterval <= 0 {
		problems = append(problems, "SCRAPE_INTERVAL must be positive")
	}
	if c.PageTimeout <= 0 {
		problems = append(problems, "PAGE_TIMEOUT must be positive")
	}
	if c.PacingDelay < 0 {
		problems = append(problems, "PACING_DELAY must not be negative")
	}
	if c.MaxAttempts < 1 {
		problems = append(problems, "MAX_ATTEMPTS must be at least 1")
	}
	if c.RenderMode != RenderModeChrome && c.RenderMode != RenderModeHTTP {
		problems = append(problems, fmt.Sprintf("RENDER_MODE must be %q or %q", RenderModeChrome, RenderModeHTTP))
	}
	if c.DataFile == "" {
		problems = append(problems, "DATA_FILE is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func termsFromList(queries []string) []SearchTerm {
	terms := make([]SearchTerm, 0, len(queries))
	for _, q := range queries {
		terms = append(terms, SearchTerm{Query: q})
	}
	return terms
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90")
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
