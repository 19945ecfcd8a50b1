package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BROKERGW_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BROKERGW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.URL, "BROKERGW_VENUE_URL")
	setStr(&cfg.Venue.Account, "BROKERGW_VENUE_ACCOUNT")
	setStr(&cfg.Venue.APIKey, "BROKERGW_VENUE_API_KEY")
	setStr(&cfg.Venue.APISecret, "BROKERGW_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedSecretPath, "BROKERGW_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "BROKERGW_VENUE_SECRET_PASSWORD")
	setDuration(&cfg.Venue.HandshakeTimeout, "BROKERGW_VENUE_HANDSHAKE_TIMEOUT")
	setStr(&cfg.Venue.BaseCurrency, "BROKERGW_VENUE_BASE_CURRENCY")

	// ── Session ──
	setDuration(&cfg.Session.ConnectTimeout, "BROKERGW_SESSION_CONNECT_TIMEOUT")
	setDuration(&cfg.Session.BaseDelay, "BROKERGW_SESSION_BASE_DELAY")
	setDuration(&cfg.Session.MaxDelay, "BROKERGW_SESSION_MAX_DELAY")
	setInt(&cfg.Session.MaxAttempts, "BROKERGW_SESSION_MAX_ATTEMPTS")

	// ── Identity ──
	setDuration(&cfg.Identity.Retention, "BROKERGW_IDENTITY_RETENTION")

	// ── Pacing ──
	setBool(&cfg.Pacing.Enabled, "BROKERGW_PACING_ENABLED")
	setInt(&cfg.Pacing.Limit, "BROKERGW_PACING_LIMIT")
	setDuration(&cfg.Pacing.Window, "BROKERGW_PACING_WINDOW")

	// ── Paper ──
	setStr(&cfg.Paper.Currency, "BROKERGW_PAPER_CURRENCY")
	setInt64(&cfg.Paper.FirstOrderID, "BROKERGW_PAPER_FIRST_ORDER_ID")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BROKERGW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BROKERGW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BROKERGW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BROKERGW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BROKERGW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BROKERGW_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "BROKERGW_REDIS_PREFIX")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BROKERGW_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BROKERGW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BROKERGW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BROKERGW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BROKERGW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BROKERGW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BROKERGW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BROKERGW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BROKERGW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BROKERGW_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BROKERGW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BROKERGW_S3_REGION")
	setStr(&cfg.S3.Bucket, "BROKERGW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BROKERGW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BROKERGW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BROKERGW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BROKERGW_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "BROKERGW_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BROKERGW_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BROKERGW_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BROKERGW_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BROKERGW_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BROKERGW_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BROKERGW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BROKERGW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BROKERGW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BROKERGW_NOTIFY_EVENTS")

	// ── Shutdown ──
	setBool(&cfg.Shutdown.CancelOpenOrders, "BROKERGW_SHUTDOWN_CANCEL_OPEN_ORDERS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BROKERGW_MODE")
	setStr(&cfg.LogLevel, "BROKERGW_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
