package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load consults so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "ZAPPAI_API_URL", "ZAPPAI_TOKEN_BACKEND", "ZAPPAI_REDIS_URL", "MEMCACHED_ADDRS"} {
		t.Setenv(k, "")
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "http://localhost:8000" {
		t.Errorf("APIURL = %q, want default", cfg.APIURL)
	}
	if cfg.APITimeout != 10*time.Second {
		t.Errorf("APITimeout = %v, want 10s", cfg.APITimeout)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.PendingHold != 60*time.Second {
		t.Errorf("PendingHold = %v, want 2x poll interval", cfg.PendingHold)
	}
	if cfg.Reconcile != ReconcileReplace {
		t.Errorf("Reconcile = %q, want replace", cfg.Reconcile)
	}
	if cfg.TokenBackend != TokenBackendFile {
		t.Errorf("TokenBackend = %q, want file", cfg.TokenBackend)
	}
	if !strings.HasSuffix(cfg.TokenPath, filepath.Join("zappai", "session.yaml")) {
		t.Errorf("TokenPath = %q, want .../zappai/session.yaml", cfg.TokenPath)
	}
	if cfg.TokenKey != "zappaiAccessToken" {
		t.Errorf("TokenKey = %q", cfg.TokenKey)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryBaseDelay != 100*time.Millisecond || cfg.RetryMaxDelay != 2*time.Second {
		t.Errorf("retry = %d/%v/%v, want 3/100ms/2s", cfg.RetryAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}
	if cfg.RateLimitRPS != 0 {
		t.Errorf("RateLimitRPS = %d, want 0 (disabled)", cfg.RateLimitRPS)
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = true, want false by default")
	}
	if cfg.StatusAddr != "" {
		t.Errorf("StatusAddr = %q, want empty (disabled)", cfg.StatusAddr)
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", fullEnvYAML)
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "https://zappai.example.com" {
		t.Errorf("APIURL = %q, want trailing slash trimmed", cfg.APIURL)
	}
	if cfg.APITimeout != 3*time.Second {
		t.Errorf("APITimeout = %v, want 3s", cfg.APITimeout)
	}
	if cfg.TokenBackend != TokenBackendRedis || cfg.RedisURL != "redis://cache:6379/2" {
		t.Errorf("token store = %q %q", cfg.TokenBackend, cfg.RedisURL)
	}
	if cfg.PollInterval != 5*time.Second || cfg.Reconcile != ReconcileMerge || cfg.PendingHold != 45*time.Second {
		t.Errorf("locations = %v %q %v", cfg.PollInterval, cfg.Reconcile, cfg.PendingHold)
	}
	if !cfg.CircuitBreakerEnabled || cfg.CircuitBreakerFailureThreshold != 4 {
		t.Errorf("circuit breaker = %v %d", cfg.CircuitBreakerEnabled, cfg.CircuitBreakerFailureThreshold)
	}
	if cfg.RateLimitRPS != 2 || cfg.RateLimitBurst != 4 {
		t.Errorf("rate limit = %d/%d, want 2/4", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.StatusAddr != "127.0.0.1:9464" || cfg.StatusErrorPct != 30 {
		t.Errorf("status = %q %d", cfg.StatusAddr, cfg.StatusErrorPct)
	}
}

func TestLoad_EnvNameSelectsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "prod", "api:\n  url: \"https://prod.example.com\"\n")
	chdir(t, dir)
	t.Setenv("ENV_NAME", "prod")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "https://prod.example.com" {
		t.Errorf("APIURL = %q, want prod URL", cfg.APIURL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", fullEnvYAML)
	chdir(t, dir)
	t.Setenv("ZAPPAI_API_URL", "http://override:9000/")
	t.Setenv("ZAPPAI_TOKEN_BACKEND", "Memcached")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "http://override:9000" {
		t.Errorf("APIURL = %q, want env override", cfg.APIURL)
	}
	if cfg.TokenBackend != TokenBackendMemcached {
		t.Errorf("TokenBackend = %q, want memcached", cfg.TokenBackend)
	}
	if cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
}

func TestLoadFile_NotFound(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("LoadFile() expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Fatalf("LoadFile() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("LoadFile() error = %v, want message about config file not found", err)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", "locations:\n  poll_interval: \"soon\"\napi:\n  timeout: \"\"\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want default 30s", cfg.PollInterval)
	}
	if cfg.APITimeout != 10*time.Second {
		t.Errorf("APITimeout = %v, want default 10s", cfg.APITimeout)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"zero api timeout", "api:\n  timeout: \"0s\"\n", "api.timeout"},
		{"bad url scheme", "api:\n  url: \"ftp://example.com\"\n", "api.url"},
		{"unknown backend", "token_store:\n  backend: \"sqlite\"\n", "token_store.backend"},
		{"unknown reconcile", "locations:\n  reconcile: \"latest\"\n", "locations.reconcile"},
		{"error pct over 100", "status:\n  error_pct: 150\n", "status.error_pct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeEnvFile(t, dir, "dev", tt.yaml)
			chdir(t, dir)

			cfg, err := Load()
			if err == nil {
				t.Fatalf("Load() expected error, got config %+v", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %v, want message containing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_RetryMaxDelayRaisedToBase(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", "reliability:\n  retry_base_delay: \"3s\"\n  retry_max_delay: \"1s\"\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RetryMaxDelay != 3*time.Second {
		t.Errorf("RetryMaxDelay = %v, want raised to 3s", cfg.RetryMaxDelay)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "dev", "api: [unterminated\n")
	chdir(t, dir)

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse config file error", err)
	}
}

const fullEnvYAML = `
api:
  url: "https://zappai.example.com/"
  timeout: "3s"
reliability:
  retry_max_attempts: 2
  retry_base_delay: "50ms"
  retry_max_delay: "500ms"
  rate_limit_rps: 2
  rate_limit_burst: 4
circuit_breaker:
  enabled: true
  failure_threshold: 4
token_store:
  backend: "redis"
  redis:
    url: "redis://cache:6379/2"
locations:
  poll_interval: "5s"
  reconcile: "merge"
  pending_hold: "45s"
status:
  addr: "127.0.0.1:9464"
  error_pct: 30
`

func writeEnvFile(t *testing.T, dir, env, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, env+".yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

// TestCoverageGaps_IntentionallyUntested documents paths we reviewed but chose not to test.
// Run with -v to see skip reasons.
func TestCoverageGaps_IntentionallyUntested(t *testing.T) {
	t.Run("Load_read_config_error", func(t *testing.T) {
		t.Skip("ReadFile error path (permission denied, etc.) requires injecting failure; not worth portability cost")
	})
	t.Run("defaultTokenPath_no_config_dir", func(t *testing.T) {
		t.Skip("UserConfigDir failure needs HOME and XDG_CONFIG_HOME unset together; platform dependent")
	})
}
