package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Pinboard
	PinboardBaseURL string        // ex: https://api.pinboard.in/v1
	PinboardTimeout time.Duration // per-request timeout for the upstream API
	SnapshotMaxAge  time.Duration // oldest snapshot served while offline (default: 24h)

	// Local state
	DataDir   string // directory holding the SQLite database and the state file
	DBPath    string // SQLite file for cache, snapshots and offline queue
	StateFile string // YAML file with credential, UI prefs and folder mapping

	// Cache & offline queue
	CacheMaxAge        time.Duration // fresh band (default: 5m)
	CacheStaleWindow   time.Duration // stale-but-usable band (default: 30m)
	QueueMaxRetries    int           // drop a queued action after this many failed retries (default: 3)
	QueueDrainInterval time.Duration // periodic drain of the offline queue
	ProbeInterval      time.Duration // connectivity probe period
	ProbeTimeout       time.Duration // timeout of a single connectivity probe
	GCInterval         time.Duration // interval to purge expired cache entries (default: 1h)

	// Telegram
	TelegramBotToken      string        // optional, empty = chat bridge disabled
	TelegramBotUsername   string        // used to build t.me deep links
	TelegramWebhookSecret string        // optional shared secret checked on every webhook call
	TelegramWebhookURL    string        // optional, registered with setWebhook on startup
	TelegramAPIURL        string        // ex: https://api.telegram.org
	TelegramTimeout       time.Duration // timeout for outbound Telegram calls
	WebhookTimeout        time.Duration // budget for processing a single update
	TitleFetchTimeout     time.Duration // page title fetch timeout (default: 4s)

	// Redis (optional, empty addr => in-memory linking store)
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts

	// Rate limiting (per client IP)
	RateLimitBurst  int
	RateLimitPerMin int

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict health endpoints to specific IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
}

// RedisEnabled reports whether an external key-value service is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// TelegramEnabled reports whether the chat bridge should be mounted.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

func Load() *Config {
	// .env is optional; real environment variables always win.
	_ = godotenv.Load()

	dataDir := getenv("PINBOOK_DATA_DIR", "./data")

	cfg := &Config{
		// Server settings
		ListenPort:      getenv("PINBOOK_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("PINBOOK_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("PINBOOK_LOG_LEVEL", "info"),
		PrettyLog: mustBool("PINBOOK_PRETTY_LOG", true),

		// Pinboard
		PinboardBaseURL: strings.TrimRight(getenv("PINBOOK_PINBOARD_BASE_URL", "https://api.pinboard.in/v1"), "/"),
		PinboardTimeout: mustDuration("PINBOOK_PINBOARD_TIMEOUT", 15*time.Second),
		SnapshotMaxAge:  mustDuration("PINBOOK_SNAPSHOT_MAX_AGE", 24*time.Hour),

		// Local state
		DataDir:   dataDir,
		DBPath:    getenv("PINBOOK_DB_PATH", filepath.Join(dataDir, "pinbook.db")),
		StateFile: getenv("PINBOOK_STATE_FILE", filepath.Join(dataDir, "state.yaml")),

		// Cache & offline queue
		CacheMaxAge:        mustDuration("PINBOOK_CACHE_MAX_AGE", 5*time.Minute),
		CacheStaleWindow:   mustDuration("PINBOOK_CACHE_STALE_WINDOW", 30*time.Minute),
		QueueMaxRetries:    getenvInt("PINBOOK_QUEUE_MAX_RETRIES", 3),
		QueueDrainInterval: mustDuration("PINBOOK_QUEUE_DRAIN_INTERVAL", time.Minute),
		ProbeInterval:      mustDuration("PINBOOK_PROBE_INTERVAL", 30*time.Second),
		ProbeTimeout:       mustDuration("PINBOOK_PROBE_TIMEOUT", 3*time.Second),
		GCInterval:         mustDuration("PINBOOK_GC_INTERVAL", time.Hour),

		// Telegram
		TelegramBotToken:      getenv("PINBOOK_TELEGRAM_BOT_TOKEN", ""),
		TelegramBotUsername:   strings.TrimPrefix(getenv("PINBOOK_TELEGRAM_BOT_USERNAME", ""), "@"),
		TelegramWebhookSecret: getenv("PINBOOK_TELEGRAM_WEBHOOK_SECRET", ""),
		TelegramWebhookURL:    getenv("PINBOOK_TELEGRAM_WEBHOOK_URL", ""),
		TelegramAPIURL:        strings.TrimRight(getenv("PINBOOK_TELEGRAM_API_URL", "https://api.telegram.org"), "/"),
		TelegramTimeout:       mustDuration("PINBOOK_TELEGRAM_TIMEOUT", 10*time.Second),
		WebhookTimeout:        mustDuration("PINBOOK_WEBHOOK_TIMEOUT", 20*time.Second),
		TitleFetchTimeout:     mustDuration("PINBOOK_TITLE_FETCH_TIMEOUT", 4*time.Second),

		// Redis settings
		RedisAddr:           getenv("PINBOOK_REDIS_ADDR", ""),
		RedisUser:           getenv("PINBOOK_REDIS_USERNAME", ""),
		RedisPassword:       getenv("PINBOOK_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("PINBOOK_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Rate limiting
		RateLimitBurst:  getenvInt("PINBOOK_RATE_LIMIT_BURST", 30),
		RateLimitPerMin: getenvInt("PINBOOK_RATE_LIMIT_PER_MIN", 120),

		// Access restrictions
		AllowedHosts: parseList(getenv("PINBOOK_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseList(getenv("PINBOOK_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("PINBOOK_TRUST_PROXY", false),
	}

	// The stale window must enclose the fresh band, otherwise nothing is ever served stale.
	if cfg.CacheStaleWindow < cfg.CacheMaxAge {
		panic(fmt.Sprintf("❌ FATAL: PINBOOK_CACHE_STALE_WINDOW (%s) must be >= PINBOOK_CACHE_MAX_AGE (%s)",
			cfg.CacheStaleWindow, cfg.CacheMaxAge))
	}

	if cfg.TelegramEnabled() {
		cfg.TelegramBotUsername = requireEnv("PINBOOK_TELEGRAM_BOT_USERNAME")
		cfg.TelegramBotUsername = strings.TrimPrefix(cfg.TelegramBotUsername, "@")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = redact(cfg.RedisPassword)
		cfgCopy.TelegramBotToken = redact(cfg.TelegramBotToken)
		cfgCopy.TelegramWebhookSecret = redact(cfg.TelegramWebhookSecret)
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func redact(v string) string {
	if v == "" {
		return ""
	}
	return "***REDACTED***"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
