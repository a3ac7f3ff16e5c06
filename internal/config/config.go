package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/drive-side-service/internal/store"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration

	RemoteURL      string
	RemoteTimeout  time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	StoreBackend          string // "in_memory", "sqlite" or "memcached"
	SQLitePath            string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CoalesceEnabled bool
	CoalesceTimeout time.Duration
	WarmOnStart     bool
	RefreshInterval time.Duration // 0 disables periodic refresh

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout       time.Duration
	InFlightTimeout       time.Duration
	InFlightCheckInterval time.Duration

	NameMaxLength int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Remote struct {
		URL              string `yaml:"url"`
		Timeout          string `yaml:"timeout"`
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
	} `yaml:"remote"`

	CircuitBreaker struct {
		Enabled          *bool  `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Store struct {
		Backend string `yaml:"backend"`
		SQLite  struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"store"`

	Repository struct {
		CoalesceEnabled *bool  `yaml:"coalesce_enabled"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		WarmOnStart     *bool  `yaml:"warm_on_start"`
		RefreshInterval string `yaml:"refresh_interval"`
	} `yaml:"repository"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Validation struct {
		NameMaxLength int `yaml:"name_max_length"`
	} `yaml:"validation"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) relative to
// the working directory. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "config", env+".yaml"))
}

// LoadFile reads configuration from path, applies env overrides and defaults,
// and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)

	cfg.RemoteURL = envOr("REMOTE_URL", strings.TrimSpace(fc.Remote.URL))
	if cfg.RemoteURL == "" {
		cfg.RemoteURL = "https://restcountries.com/v3.1/all?fields=name,car"
	}
	cfg.RemoteTimeout = parseDurationOrZero(fc.Remote.Timeout, 3*time.Second)
	cfg.RetryAttempts = fc.Remote.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Remote.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Remote.RetryMaxDelay, 2*time.Second)

	cfg.CircuitBreakerEnabled = boolOr(fc.CircuitBreaker.Enabled, true)
	cfg.CircuitBreakerFailureThreshold = intOr(fc.CircuitBreaker.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = intOr(fc.CircuitBreaker.SuccessThreshold, 2)
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.StoreBackend = strings.ToLower(envOr("STORE_BACKEND", strings.TrimSpace(fc.Store.Backend)))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = store.BackendInMemory
	}
	cfg.SQLitePath = envOr("SQLITE_PATH", strings.TrimSpace(fc.Store.SQLite.Path))
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "data/countries.db"
	}
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", strings.TrimSpace(fc.Store.Memcached.Addrs))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Store.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = intOr(fc.Store.Memcached.MaxIdleConns, 2)

	cfg.CoalesceEnabled = boolOr(fc.Repository.CoalesceEnabled, true)
	cfg.CoalesceTimeout = parseDuration(fc.Repository.CoalesceTimeout, 5*time.Second)
	cfg.WarmOnStart = boolOr(fc.Repository.WarmOnStart, false)
	cfg.RefreshInterval = parseDurationOrZero(fc.Repository.RefreshInterval, 0)
	if cfg.RefreshInterval < 0 {
		cfg.RefreshInterval = 0
	}

	cfg.RateLimitRPS = intOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = intOr(fc.Reliability.RateLimitBurst, 250)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.InFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.NameMaxLength = intOr(fc.Validation.NameMaxLength, 100)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intOr(v, defaultVal int) int {
	if v <= 0 {
		return defaultVal
	}
	return v
}

func boolOr(v *bool, defaultVal bool) bool {
	if v == nil {
		return defaultVal
	}
	return *v
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is.
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

// validate checks the store backend and timeouts. RequestTimeout is raised above
// RemoteTimeout when needed so a remote fetch can finish inside a request.
func validate(cfg *Config) error {
	if cfg.RemoteTimeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.RemoteTimeout {
		cfg.RequestTimeout = cfg.RemoteTimeout + time.Second
	}
	switch cfg.StoreBackend {
	case store.BackendInMemory, store.BackendSQLite, store.BackendMemcached:
	default:
		return fmt.Errorf("store.backend must be in_memory, sqlite or memcached, got %q", cfg.StoreBackend)
	}
	return nil
}
