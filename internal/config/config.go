// Package config defines the top-level configuration for the brokerage
// gateway and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BROKERGW_* environment variables.
type Config struct {
	Venue    VenueConfig    `toml:"venue"`
	Session  SessionConfig  `toml:"session"`
	Identity IdentityConfig `toml:"identity"`
	Pacing   PacingConfig   `toml:"pacing"`
	Paper    PaperConfig    `toml:"paper"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Relay    RelayConfig    `toml:"relay"`
	Shutdown ShutdownConfig `toml:"shutdown"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig holds the live venue endpoint and account credentials. The API
// secret is given either in clear (api_secret) or as a file produced by
// `brokergw -encrypt-secret` together with its password.
type VenueConfig struct {
	URL                 string   `toml:"url"`
	Account             string   `toml:"account"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	HandshakeTimeout    duration `toml:"handshake_timeout"`
	BaseCurrency        string   `toml:"base_currency"`
}

// SessionConfig bounds connection attempts and the reconnect backoff.
type SessionConfig struct {
	ConnectTimeout duration `toml:"connect_timeout"`
	BaseDelay      duration `toml:"base_delay"`
	MaxDelay       duration `toml:"max_delay"`
	MaxAttempts    int      `toml:"max_attempts"`
}

// IdentityConfig controls how long superseded venue ids stay resolvable.
type IdentityConfig struct {
	Retention       duration `toml:"retention"`
	CleanupInterval duration `toml:"cleanup_interval"`
}

// PacingConfig caps outbound order commands. It requires redis.
type PacingConfig struct {
	Enabled bool     `toml:"enabled"`
	Limit   int      `toml:"limit"`
	Window  duration `toml:"window"`
}

// PaperConfig seeds the simulated venue used in paper mode.
type PaperConfig struct {
	Currency     string                     `toml:"currency"`
	StartingCash decimal.Decimal            `toml:"starting_cash"`
	Quotes       map[string]decimal.Decimal `toml:"quotes"`
	Commission   decimal.Decimal            `toml:"commission"`
	PartialFills int                        `toml:"partial_fills"`
	FirstOrderID int64                      `toml:"first_order_id"`
}

// RedisConfig holds Redis connection parameters. An empty addr disables the
// signal relay, pacing and the account lock.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	Prefix     string   `toml:"prefix"`
	LockTTL    duration `toml:"lock_ttl"`
}

// Enabled reports whether a redis server is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

// PostgresConfig holds PostgreSQL connection parameters. Leaving both dsn and
// host empty disables the audit and execution journal.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || strings.TrimSpace(p.Host) != ""
}

// S3Config holds S3-compatible object storage parameters. An empty bucket
// disables the shutdown archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// Enabled reports whether a bucket is configured.
func (s S3Config) Enabled() bool { return strings.TrimSpace(s.Bucket) != "" }

// ServerConfig controls the HTTP API and websocket stream.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is the per-client request budget per RateWindow; 0 disables
	// it. Enforced only when redis is configured.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// RelayConfig tunes the per-sink event queues.
type RelayConfig struct {
	Buffer  int      `toml:"buffer"`
	Timeout duration `toml:"timeout"`
	Drain   duration `toml:"drain"`
}

// ShutdownConfig controls the teardown sequence.
type ShutdownConfig struct {
	CancelOpenOrders bool     `toml:"cancel_open_orders"`
	Timeout          duration `toml:"timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults. Values loaded
// from a TOML file will override these.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			HandshakeTimeout: duration{15 * time.Second},
			BaseCurrency:     "USD",
		},
		Session: SessionConfig{
			ConnectTimeout: duration{15 * time.Second},
			BaseDelay:      duration{2 * time.Second},
			MaxDelay:       duration{60 * time.Second},
			MaxAttempts:    8,
		},
		Identity: IdentityConfig{
			Retention:       duration{10 * time.Minute},
			CleanupInterval: duration{30 * time.Second},
		},
		Pacing: PacingConfig{
			Enabled: false,
			Limit:   50,
			Window:  duration{time.Second},
		},
		Paper: PaperConfig{
			Currency:     "USD",
			StartingCash: decimal.NewFromInt(1_000_000),
			Quotes:       map[string]decimal.Decimal{},
			PartialFills: 1,
			FirstOrderID: 1,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			Prefix:     "brokergw:",
			LockTTL:    duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Port:           5432,
			SSLMode:        "disable",
			PoolMaxConns:   5,
			PoolMinConns:   1,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"order_filled", "order_rejected", "connection_failed"},
		},
		Relay: RelayConfig{
			Buffer:  1024,
			Timeout: duration{5 * time.Second},
			Drain:   duration{5 * time.Second},
		},
		Shutdown: ShutdownConfig{
			CancelOpenOrders: true,
			Timeout:          duration{30 * time.Second},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":  true,
	"paper": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue credentials are only needed against a live gateway.
	if strings.EqualFold(c.Mode, "live") {
		if c.Venue.URL == "" {
			errs = append(errs, "venue: url must not be empty for mode live")
		} else if !strings.HasPrefix(c.Venue.URL, "ws://") && !strings.HasPrefix(c.Venue.URL, "wss://") {
			errs = append(errs, fmt.Sprintf("venue: url must use ws:// or wss://, got %q", c.Venue.URL))
		}
		if c.Venue.Account == "" {
			errs = append(errs, "venue: account must not be empty for mode live")
		}
		if c.Venue.APIKey != "" && c.Venue.APISecret == "" && c.Venue.EncryptedSecretPath == "" {
			errs = append(errs, "venue: api_secret or encrypted_secret_path is required when api_key is set")
		}
		if c.Venue.EncryptedSecretPath != "" && c.Venue.SecretPassword == "" {
			errs = append(errs, "venue: secret_password is required when encrypted_secret_path is set")
		}
	}

	// Session
	if c.Session.ConnectTimeout.Duration <= 0 {
		errs = append(errs, "session: connect_timeout must be > 0")
	}
	if c.Session.BaseDelay.Duration <= 0 {
		errs = append(errs, "session: base_delay must be > 0")
	}
	if c.Session.MaxDelay.Duration < c.Session.BaseDelay.Duration {
		errs = append(errs, "session: max_delay must not be below base_delay")
	}
	if c.Session.MaxAttempts < 1 {
		errs = append(errs, "session: max_attempts must be >= 1")
	}

	if c.Identity.Retention.Duration < 0 {
		errs = append(errs, "identity: retention must not be negative")
	}

	// Pacing
	if c.Pacing.Enabled {
		if !c.Redis.Enabled() {
			errs = append(errs, "pacing: redis.addr is required when pacing is enabled")
		}
		if c.Pacing.Limit < 1 {
			errs = append(errs, "pacing: limit must be >= 1")
		}
		if c.Pacing.Window.Duration <= 0 {
			errs = append(errs, "pacing: window must be > 0")
		}
	}

	// Paper
	if strings.EqualFold(c.Mode, "paper") {
		if c.Paper.Currency == "" {
			errs = append(errs, "paper: currency must not be empty")
		}
		if c.Paper.StartingCash.IsNegative() {
			errs = append(errs, "paper: starting_cash must not be negative")
		}
		for sym, px := range c.Paper.Quotes {
			if !px.IsPositive() {
				errs = append(errs, fmt.Sprintf("paper: quote for %s must be > 0", sym))
			}
		}
		if c.Paper.PartialFills < 1 {
			errs = append(errs, "paper: partial_fills must be >= 1")
		}
	}

	// Redis
	if c.Redis.Enabled() {
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be at least 1s")
		}
	}

	// Postgres
	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify: token and chat id travel together.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Relay.Buffer < 1 {
		errs = append(errs, "relay: buffer must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
