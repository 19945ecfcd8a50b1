package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brokergw.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v, want nil", err)
	}
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "live"
log_level = "debug"

[venue]
url = "wss://gateway.example/v1/session"
account = "DU123"
api_key = "key"
api_secret = "c2VjcmV0"

[session]
max_delay = "2m"

[paper]
starting_cash = 250000
[paper.quotes]
USDJPY = "151.25"
EURUSD = 1.085
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	if cfg.Mode != "live" || cfg.Venue.Account != "DU123" {
		t.Errorf("mode/account = %q/%q", cfg.Mode, cfg.Venue.Account)
	}
	if cfg.Session.MaxDelay.Duration != 2*time.Minute {
		t.Errorf("max_delay = %v, want 2m", cfg.Session.MaxDelay.Duration)
	}
	if cfg.Session.BaseDelay.Duration != 2*time.Second {
		t.Errorf("base_delay = %v, want default 2s", cfg.Session.BaseDelay.Duration)
	}
	if !cfg.Paper.StartingCash.Equal(decimal.NewFromInt(250000)) {
		t.Errorf("starting_cash = %s", cfg.Paper.StartingCash)
	}
	if got := cfg.Paper.Quotes["USDJPY"]; !got.Equal(decimal.RequireFromString("151.25")) {
		t.Errorf("USDJPY quote = %s", got)
	}
	if got := cfg.Paper.Quotes["EURUSD"]; !got.Equal(decimal.RequireFromString("1.085")) {
		t.Errorf("EURUSD quote = %s", got)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, "[venue]\nurll = \"wss://x\"\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "venue.urll") {
		t.Errorf("Load() error = %v, want unknown key venue.urll", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BROKERGW_MODE", "live")
	t.Setenv("BROKERGW_VENUE_URL", "ws://localhost:4002/session")
	t.Setenv("BROKERGW_VENUE_ACCOUNT", "DU999")
	t.Setenv("BROKERGW_SESSION_MAX_ATTEMPTS", "3")
	t.Setenv("BROKERGW_SERVER_CORS_ORIGINS", " http://a , ,http://b")
	t.Setenv("BROKERGW_PACING_WINDOW", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "live" || cfg.Venue.Account != "DU999" || cfg.Session.MaxAttempts != 3 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "http://a|http://b" {
		t.Errorf("cors origins = %q", got)
	}
	if cfg.Pacing.Window.Duration != 250*time.Millisecond {
		t.Errorf("pacing window = %v", cfg.Pacing.Window.Duration)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "backtest" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "unknown log_level"},
		{"live needs url", func(c *Config) { c.Mode = "live"; c.Venue.Account = "DU1" }, "venue: url"},
		{"live needs ws scheme", func(c *Config) {
			c.Mode = "live"
			c.Venue.Account = "DU1"
			c.Venue.URL = "https://gateway"
		}, "ws:// or wss://"},
		{"encrypted secret needs password", func(c *Config) {
			c.Mode = "live"
			c.Venue.URL = "wss://gateway"
			c.Venue.Account = "DU1"
			c.Venue.APIKey = "k"
			c.Venue.EncryptedSecretPath = "/etc/brokergw/secret.json"
		}, "secret_password"},
		{"backoff ceiling below base", func(c *Config) { c.Session.MaxDelay.Duration = time.Second }, "max_delay"},
		{"pacing needs redis", func(c *Config) { c.Pacing.Enabled = true }, "redis.addr is required"},
		{"paper quote must be positive", func(c *Config) {
			c.Paper.Quotes = map[string]decimal.Decimal{"USDJPY": decimal.Zero}
		}, "quote for USDJPY"},
		{"postgres pool bounds", func(c *Config) {
			c.Postgres.DSN = "postgres://localhost/brokergw"
			c.Postgres.PoolMinConns = 9
		}, "pool_min_conns"},
		{"telegram pair", func(c *Config) { c.Notify.TelegramToken = "t" }, "telegram_chat_id"},
		{"server port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "x"
	cfg.LogLevel = "y"
	cfg.Relay.Buffer = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	if n := strings.Count(err.Error(), "\n  - "); n != 3 {
		t.Errorf("Validate() reported %d problems, want 3:\n%v", n, err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Venue.APISecret = "s3cret"
	cfg.Server.APIKey = "key"
	cfg.Notify.Events = []string{"order_filled"}

	out := RedactedConfig(&cfg)
	if out.Venue.APISecret != redacted || out.Server.APIKey != redacted {
		t.Errorf("secrets not redacted: %+v", out.Venue)
	}
	if out.S3.SecretKey != "" {
		t.Errorf("empty secret became %q", out.S3.SecretKey)
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] != "order_filled" {
		t.Error("redacted copy shares the events slice")
	}
	if cfg.Venue.APISecret != "s3cret" {
		t.Error("original config was modified")
	}
}
