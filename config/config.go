package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"marketscope/internal/model"
)

// Config holds all application configuration. Values come from an optional
// YAML file, then environment variables, then defaults.
type Config struct {
	// Listeners
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	// Infrastructure; an empty RedisAddr or SQLitePath disables that store.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path"`

	// Market data provider
	YahooProxy   string        `yaml:"yahoo_proxy"`
	YahooTimeout time.Duration `yaml:"yahoo_timeout"`

	// Analysis
	Indicators string        `yaml:"indicators"` // comma-separated families or "all"
	CacheTTL   time.Duration `yaml:"cache_ttl"`

	// WebSocket push
	WSInterval  time.Duration `yaml:"ws_interval"`
	WSTimeframe string        `yaml:"ws_timeframe"`

	// Cache warmer and alerts
	Watchlist       string `yaml:"watchlist"`        // comma-separated symbols
	WatchTimeframes string `yaml:"watch_timeframes"` // comma-separated timeframes
	WarmCron        string `yaml:"warm_cron"`        // robfig/cron spec with seconds
	WebhookURL      string `yaml:"webhook_url"`
	WebhookToken    string `yaml:"webhook_token"`

	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// Load reads the YAML file named by CONFIG_FILE (if set), then applies
// environment overrides and defaults.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// DefaultSQLitePath is used when neither the file nor the environment sets
// sqlite_path. An explicit empty value disables the bar store.
const DefaultSQLitePath = "data/bars.db"

// LoadFile is Load with an explicit path. An empty path or a missing file
// is not an error.
func LoadFile(path string) (*Config, error) {
	// Store switches are seeded before the file so an explicit "" survives.
	cfg := &Config{SQLitePath: DefaultSQLitePath}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr, ":8000")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr, ":9090")
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel, "info")

	cfg.RedisAddr = lookupEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword, "")
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.SQLitePath = lookupEnv("SQLITE_PATH", cfg.SQLitePath)

	cfg.YahooProxy = getEnv("YAHOO_PROXY", cfg.YahooProxy, "")
	cfg.YahooTimeout = getEnvDuration("YAHOO_TIMEOUT", cfg.YahooTimeout, 15*time.Second)

	cfg.Indicators = getEnv("INDICATORS", cfg.Indicators, "all")
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.CacheTTL, 5*time.Minute)

	cfg.WSInterval = getEnvDuration("WS_INTERVAL", cfg.WSInterval, 60*time.Second)
	cfg.WSTimeframe = getEnv("WS_TIMEFRAME", cfg.WSTimeframe, "1h")

	cfg.Watchlist = getEnv("WATCHLIST", cfg.Watchlist, "")
	cfg.WatchTimeframes = getEnv("WATCH_TIMEFRAMES", cfg.WatchTimeframes, "15m,1h,4h,1d")
	cfg.WarmCron = getEnv("WARM_CRON", cfg.WarmCron, "0 */5 * * * *")
	cfg.WebhookURL = getEnv("WEBHOOK_URL", cfg.WebhookURL, "")
	cfg.WebhookToken = getEnv("WEBHOOK_TOKEN", cfg.WebhookToken, "")
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken, "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", cfg.TelegramChatID, "")

	return cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if _, err := model.ParseTimeframe(c.WSTimeframe); err != nil {
		return fmt.Errorf("ws_timeframe: %w", err)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	if c.WSInterval <= 0 {
		return fmt.Errorf("ws_interval must be positive")
	}
	return nil
}

// Symbols parses Watchlist into a list of symbols.
func (c *Config) Symbols() []string {
	return splitList(c.Watchlist)
}

// ParseTimeframes parses WatchTimeframes, skipping unknown values.
func (c *Config) ParseTimeframes() []model.Timeframe {
	var tfs []model.Timeframe
	for _, p := range splitList(c.WatchTimeframes) {
		tf, err := model.ParseTimeframe(p)
		if err != nil {
			log.Printf("[config] skipping invalid timeframe: %q", p)
			continue
		}
		tfs = append(tfs, tf)
	}
	return model.UniqueTimeframes(tfs)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns the env value for key, else current, else fallback.
func getEnv(key, current, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if current != "" {
		return current
	}
	return fallback
}

// lookupEnv returns the env value for key when it is set, even if empty,
// else current.
func lookupEnv(key, current string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return current
}

func getEnvInt(key string, current int) int {
	v := os.Getenv(key)
	if v == "" {
		return current
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return current
	}
	return n
}

func getEnvDuration(key string, current, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
		log.Printf("[config] ignoring invalid %s=%q", key, v)
	}
	if current != 0 {
		return current
	}
	return fallback
}
