// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// load binds a fresh flag set the way the server command does, parses
// args and loads the config.
func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("votequest", pflag.ContinueOnError)
	f := Bind(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	return f.Load()
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://test")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("IP_HASH_SALT", "test-salt")
}

func TestLoad_EnvVars(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("RATE_LIMIT_CHAT_PER_MIN", "3")
	t.Setenv("SESSION_TTL", "2h")

	cfg, err := load(t, "--env-file", "")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.DatabaseType != "postgres" {
		t.Errorf("expected postgres type to be inferred, got %q", cfg.DatabaseType)
	}
	if cfg.RateLimit.ChatPerMin != 3 {
		t.Errorf("expected chat limit 3, got %d", cfg.RateLimit.ChatPerMin)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("expected session ttl 2h, got %s", cfg.SessionTTL)
	}
	// Untouched defaults survive env parsing
	if cfg.RateLimit.GlobalBurst != 40 {
		t.Errorf("expected default burst 40, got %d", cfg.RateLimit.GlobalBurst)
	}
}

func TestLoad_CLIOverridesEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9000")

	cfg, err := load(t, "--env-file", "", "-p", "8080", "-d", "file:test.db", "--jwt-secret", "cli-secret-cli-secret", "--ip-salt", "s2")
	if err != nil {
		t.Fatal(err)
	}

	// CLI should override env
	if cfg.Port != 8080 {
		t.Errorf("CLI should override env: expected 8080, got %d", cfg.Port)
	}
	if cfg.DatabaseType != "sqlite" {
		t.Errorf("expected sqlite for file URL, got %q", cfg.DatabaseType)
	}
	if cfg.JWTSecret != "cli-secret-cli-secret" {
		t.Errorf("expected CLI jwt secret, got %q", cfg.JWTSecret)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "votequest.yaml")
	data := []byte("port: 7000\nlog:\n  format: json\nchain:\n  rpc_url: http://localhost:8545\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(t, "--env-file", "", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 7000 {
		t.Errorf("expected port from file, got %d", cfg.Port)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json log format, got %q", cfg.Log.Format)
	}
	if cfg.Chain.RPCURL != "http://localhost:8545" {
		t.Errorf("expected rpc url from file, got %q", cfg.Chain.RPCURL)
	}
}

func TestLoad_MissingSecrets(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no database", map[string]string{"JWT_SECRET": "0123456789abcdef", "IP_HASH_SALT": "x"}},
		{"short jwt secret", map[string]string{"DATABASE_URL": "file:x.db", "JWT_SECRET": "short", "IP_HASH_SALT": "x"}},
		{"no ip salt", map[string]string{"DATABASE_URL": "file:x.db", "JWT_SECRET": "0123456789abcdef"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"DATABASE_URL", "JWT_SECRET", "IP_HASH_SALT"} {
				t.Setenv(k, "")
				os.Unsetenv(k)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := load(t, "--env-file", ""); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDatabaseTypeFor(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/db":   "postgres",
		"postgresql://u:p@localhost/db": "postgres",
		"file:votequest.db":             "sqlite",
		"votequest.db":                  "sqlite",
	}
	for url, want := range tests {
		if got := DatabaseTypeFor(url); got != want {
			t.Errorf("DatabaseTypeFor(%q) = %q, want %q", url, got, want)
		}
	}
}
