package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. Environment variables are
// read first; an optional YAML file (CONFIG_FILE) then describes markets.
type Config struct {
	// Market-data gateway
	FeedBaseURL    string
	FeedStreamURL  string
	FeedAPIKey     string
	FeedClientCode string
	FeedPassword   string
	FeedTOTPSecret string

	// Time-series store
	StoreDriver  string // "sqlite" or "postgres"
	SQLitePath   string
	PostgresDSN  string
	StoreTimeout time.Duration

	// Fast state cache
	CacheDriver   string // "redis" or "memory"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTimeout  time.Duration

	// HTTP
	HTTPAddr    string
	APIKey      string
	MetricsAddr string

	LogLevel string

	// Tracked securities
	StocksToTrack string
	WatchlistFile string

	// Live pipeline
	QueueSize       int
	PipelineWorkers int
	WindowSize      int

	// Reconciliation
	InitialHistoryDays int
	NameBatchSize      int
	NameBatchDelay     time.Duration
	NamesCron          string
	ConfigFile         string
	Markets            []MarketConfig

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads configuration from environment variables with sensible
// defaults, then overlays the markets file when CONFIG_FILE is set.
func Load() (*Config, error) {
	cfg := &Config{
		FeedBaseURL:    getEnv("FEED_BASE_URL", "http://127.0.0.1:11111"),
		FeedStreamURL:  getEnv("FEED_STREAM_URL", "ws://127.0.0.1:11111/api/v1/stream"),
		FeedAPIKey:     getEnv("FEED_API_KEY", ""),
		FeedClientCode: getEnv("FEED_CLIENT_CODE", ""),
		FeedPassword:   getEnv("FEED_PASSWORD", ""),
		FeedTOTPSecret: getEnv("FEED_TOTP_SECRET", ""),

		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		SQLitePath:   getEnv("SQLITE_PATH", "data/stocks.db"),
		PostgresDSN:  getEnv("POSTGRES_DSN", ""),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),

		CacheDriver:   strings.ToLower(getEnv("CACHE_DRIVER", "redis")),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CacheTimeout:  getEnvDuration("CACHE_TIMEOUT", 2*time.Second),

		HTTPAddr:    getEnv("HTTP_ADDR", ":5000"),
		APIKey:      getEnv("API_KEY", ""),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		StocksToTrack: getEnv("STOCKS_TO_TRACK", "US.AAPL,US.MSFT,HK.00700"),
		WatchlistFile: getEnv("WATCHLIST_FILE", "data/watchlist.yaml"),

		QueueSize:       getEnvInt("QUEUE_SIZE", 4096),
		PipelineWorkers: getEnvInt("PIPELINE_WORKERS", 8),
		WindowSize:      getEnvInt("WINDOW_SIZE", 120),

		InitialHistoryDays: getEnvInt("INITIAL_HISTORY_DAYS", 30),
		NameBatchSize:      getEnvInt("NAME_BATCH_SIZE", 50),
		NameBatchDelay:     getEnvDuration("NAME_BATCH_DELAY", 3*time.Second),
		NamesCron:          getEnv("NAMES_CRON", "CRON_TZ=Asia/Hong_Kong 0 30 9 * * 1-5"),
		ConfigFile:         getEnv("CONFIG_FILE", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}

	markets, err := LoadMarkets(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.Markets = markets
	return cfg, nil
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want sqlite or postgres)", c.StoreDriver)
	}
	switch c.CacheDriver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown CACHE_DRIVER %q (want redis or memory)", c.CacheDriver)
	}
	if c.FeedBaseURL == "" {
		return fmt.Errorf("FEED_BASE_URL is required")
	}
	if c.PipelineWorkers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive")
	}
	if c.WindowSize < 60 {
		return fmt.Errorf("WINDOW_SIZE must be at least 60 (the longest moving average)")
	}
	if c.NameBatchSize <= 0 {
		return fmt.Errorf("NAME_BATCH_SIZE must be positive")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("no markets configured")
	}
	return nil
}

// SeedCodes parses STOCKS_TO_TRACK into trimmed, non-empty codes.
func (c *Config) SeedCodes() []string {
	return splitCodes(c.StocksToTrack)
}

func splitCodes(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, strings.ToUpper(p))
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
