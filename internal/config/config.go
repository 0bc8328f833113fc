package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Token store backends.
const (
	TokenBackendFile      = "file"
	TokenBackendMemory    = "memory"
	TokenBackendMemcached = "memcached"
	TokenBackendRedis     = "redis"
)

// Reconciliation policies for the polled location collection.
const (
	ReconcileReplace = "replace"
	ReconcileMerge   = "merge"
)

// Config holds client configuration loaded from YAML and env.
type Config struct {
	APIURL     string
	APITimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	TokenBackend     string // "file", "memory", "memcached" or "redis"
	TokenPath        string
	TokenKey         string
	MemcachedAddrs   string
	MemcachedTimeout time.Duration
	RedisURL         string

	PollInterval time.Duration
	Reconcile    string // "replace" or "merge"
	PendingHold  time.Duration

	StatusAddr        string
	StatusErrorWindow time.Duration
	StatusErrorPct    int
}

type fileConfig struct {
	API struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	CircuitBreaker struct {
		Enabled          *bool  `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	TokenStore struct {
		Backend   string `yaml:"backend"`
		Path      string `yaml:"path"`
		Key       string `yaml:"key"`
		Memcached struct {
			Addrs   string `yaml:"addrs"`
			Timeout string `yaml:"timeout"`
		} `yaml:"memcached"`
		Redis struct {
			URL string `yaml:"url"`
		} `yaml:"redis"`
	} `yaml:"token_store"`

	Locations struct {
		PollInterval string `yaml:"poll_interval"`
		Reconcile    string `yaml:"reconcile"`
		PendingHold  string `yaml:"pending_hold"`
	} `yaml:"locations"`

	Status struct {
		Addr        string `yaml:"addr"`
		ErrorWindow string `yaml:"error_window"`
		ErrorPct    int    `yaml:"error_pct"`
	} `yaml:"status"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) relative to the
// working directory. A missing file is not an error: the client runs on defaults.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		data = nil
	}
	return parse(data)
}

// LoadFile reads configuration from an explicit path. The file must exist.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var fc fileConfig
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{}

	cfg.APIURL = strings.TrimSpace(os.Getenv("ZAPPAI_API_URL"))
	if cfg.APIURL == "" {
		cfg.APIURL = strings.TrimSpace(fc.API.URL)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8000"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.APITimeout = parseDurationOrZero(fc.API.Timeout, 10*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS < 0 {
		cfg.RateLimitRPS = 0
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}

	cfg.CircuitBreakerEnabled = false
	if fc.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.CircuitBreaker.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.TokenBackend = strings.TrimSpace(strings.ToLower(os.Getenv("ZAPPAI_TOKEN_BACKEND")))
	if cfg.TokenBackend == "" {
		cfg.TokenBackend = strings.TrimSpace(strings.ToLower(fc.TokenStore.Backend))
	}
	if cfg.TokenBackend == "" {
		cfg.TokenBackend = TokenBackendFile
	}
	cfg.TokenPath = strings.TrimSpace(fc.TokenStore.Path)
	if cfg.TokenPath == "" {
		cfg.TokenPath = defaultTokenPath()
	}
	cfg.TokenKey = strings.TrimSpace(fc.TokenStore.Key)
	if cfg.TokenKey == "" {
		cfg.TokenKey = "zappaiAccessToken"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.TokenStore.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.TokenStore.Memcached.Timeout, 500*time.Millisecond)
	cfg.RedisURL = strings.TrimSpace(os.Getenv("ZAPPAI_REDIS_URL"))
	if cfg.RedisURL == "" {
		cfg.RedisURL = strings.TrimSpace(fc.TokenStore.Redis.URL)
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}

	cfg.PollInterval = parseDuration(fc.Locations.PollInterval, 30*time.Second)
	cfg.Reconcile = strings.TrimSpace(strings.ToLower(fc.Locations.Reconcile))
	if cfg.Reconcile == "" {
		cfg.Reconcile = ReconcileReplace
	}
	cfg.PendingHold = parseDuration(fc.Locations.PendingHold, 2*cfg.PollInterval)

	cfg.StatusAddr = strings.TrimSpace(fc.Status.Addr)
	cfg.StatusErrorWindow = parseDuration(fc.Status.ErrorWindow, 5*time.Minute)
	cfg.StatusErrorPct = fc.Status.ErrorPct
	if cfg.StatusErrorPct <= 0 {
		cfg.StatusErrorPct = 50
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultTokenPath is the per-user location of the persisted session token.
func defaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "zappai", "session.yaml")
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Ensures the API URL is http(s), APITimeout is positive, enums are known and
// RetryMaxDelay is not below RetryBaseDelay (raised to it if needed).
func validate(cfg *Config) error {
	u, err := url.Parse(cfg.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.url must be an http(s) URL, got %q", cfg.APIURL)
	}
	if cfg.APITimeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	switch cfg.TokenBackend {
	case TokenBackendFile, TokenBackendMemory, TokenBackendMemcached, TokenBackendRedis:
		// valid
	default:
		return fmt.Errorf("token_store.backend must be file, memory, memcached or redis, got %q", cfg.TokenBackend)
	}
	switch cfg.Reconcile {
	case ReconcileReplace, ReconcileMerge:
		// valid
	default:
		return fmt.Errorf("locations.reconcile must be replace or merge, got %q", cfg.Reconcile)
	}
	if cfg.StatusErrorPct > 100 {
		return fmt.Errorf("status.error_pct must be at most 100, got %d", cfg.StatusErrorPct)
	}
	return nil
}
