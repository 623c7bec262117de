package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}

	dev := Defaults()
	dev.Mode = "dev"
	dev.Postgres = PostgresConfig{}
	dev.Redis = RedisConfig{}
	if err := dev.Validate(); err != nil {
		t.Errorf("dev mode requires no postgres or redis, got: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "cluster" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }, "unknown log_level"},
		{"encrypted key without password", func(c *Config) {
			c.Operator.EncryptedKeyPath = "/etc/ledger/key.json"
		}, "key_password is required"},
		{"both key sources", func(c *Config) {
			c.Operator.PrivateKey = "ab"
			c.Operator.EncryptedKeyPath = "/etc/ledger/key.json"
			c.Operator.KeyPassword = "pw"
		}, "mutually exclusive"},
		{"missing postgres host", func(c *Config) { c.Postgres.Host = "" }, "postgres: host"},
		{"bad postgres port", func(c *Config) { c.Postgres.Port = 0 }, "postgres: port"},
		{"pool min over max", func(c *Config) {
			c.Postgres.PoolMinConns = 20
			c.Postgres.PoolMaxConns = 10
		}, "pool_min_conns"},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis: addr"},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket"},
		{"archive with zero interval", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Interval = duration{}
		}, "archive: interval"},
		{"too few options", func(c *Config) { c.Ledger.MaxOptions = 1 }, "max_options"},
		{"zero question length", func(c *Config) { c.Ledger.MaxQuestionLen = 0 }, "max_question_len"},
		{"zero rate limit", func(c *Config) { c.Ledger.BetRateLimit = 0 }, "bet_rate_limit"},
		{"negative seed balance", func(c *Config) { c.Ledger.SeedBalance = -1 }, "seed_balance"},
		{"bad server port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://ledger@db:5432/marketledger"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("a DSN should satisfy the postgres checks, got: %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "dev"
log_level = "debug"

[ledger]
max_options = 4
bet_rate_window = "30s"

[server]
port = 9100
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "dev" || cfg.LogLevel != "debug" {
		t.Errorf("mode/log_level = %q/%q, want dev/debug", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Ledger.MaxOptions != 4 {
		t.Errorf("max_options = %d, want 4", cfg.Ledger.MaxOptions)
	}
	if cfg.Ledger.BetRateWindow.Duration != 30*time.Second {
		t.Errorf("bet_rate_window = %v, want 30s", cfg.Ledger.BetRateWindow.Duration)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("server port = %d, want 9100", cfg.Server.Port)
	}

	// Untouched fields keep their defaults.
	if cfg.Ledger.MaxQuestionLen != 500 {
		t.Errorf("max_question_len = %d, want the default 500", cfg.Ledger.MaxQuestionLen)
	}
	if cfg.Postgres.Database != "marketledger" {
		t.Errorf("postgres database = %q, want the default", cfg.Postgres.Database)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_MODE", "full")
	t.Setenv("LEDGER_DATABASE_URL", "postgres://ledger@db:5432/marketledger")
	t.Setenv("LEDGER_REDIS_ADDR", "redis:6380")
	t.Setenv("LEDGER_MAX_OPTIONS", "8")
	t.Setenv("LEDGER_SEED_BALANCE", "250000")
	t.Setenv("LEDGER_BET_RATE_WINDOW", "10s")
	t.Setenv("LEDGER_ARCHIVE_ENABLED", "true")
	t.Setenv("LEDGER_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "full" {
		t.Errorf("mode = %q, want full", cfg.Mode)
	}
	if cfg.Postgres.DSN != "postgres://ledger@db:5432/marketledger" {
		t.Errorf("dsn = %q, want the LEDGER_DATABASE_URL value", cfg.Postgres.DSN)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("redis addr = %q, want redis:6380", cfg.Redis.Addr)
	}
	if cfg.Ledger.MaxOptions != 8 {
		t.Errorf("max_options = %d, want 8", cfg.Ledger.MaxOptions)
	}
	if cfg.Ledger.SeedBalance != 250000 {
		t.Errorf("seed_balance = %d, want 250000", cfg.Ledger.SeedBalance)
	}
	if cfg.Ledger.BetRateWindow.Duration != 10*time.Second {
		t.Errorf("bet_rate_window = %v, want 10s", cfg.Ledger.BetRateWindow.Duration)
	}
	if !cfg.Archive.Enabled {
		t.Error("archive.enabled = false, want true")
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Errorf("cors origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Operator.PrivateKey = "supersecret"
	cfg.Postgres.Password = "dbpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.AuthToken = "token"

	red := RedactedConfig(&cfg)
	for name, got := range map[string]string{
		"operator private key": red.Operator.PrivateKey,
		"postgres password":    red.Postgres.Password,
		"redis password":       red.Redis.Password,
		"s3 secret key":        red.S3.SecretKey,
		"server auth token":    red.Server.AuthToken,
	} {
		if got != "***" {
			t.Errorf("%s not redacted: %q", name, got)
		}
	}

	// The original config is untouched.
	if cfg.Postgres.Password != "dbpass" {
		t.Errorf("RedactedConfig mutated the source config")
	}
}
