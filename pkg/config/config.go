// Package config loads rt-gateway settings from the environment.
//
// An optional .env file in the working directory is read first; variables
// already present in the environment win over the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/rt-gateway/pkg/client"
	"github.com/Sternrassler/rt-gateway/pkg/logging"
	"github.com/joho/godotenv"
)

const (
	// DefaultBasePath is the RT REST2 mount point appended to RT_URL.
	DefaultBasePath = "/REST/2.0"

	// MaxPageSize is the largest per_page RT accepts.
	MaxPageSize = client.MaxPageSize
)

// Config holds every externally supplied setting. It is loaded once and
// treated as immutable; pass it by value.
type Config struct {
	// RT connection
	URL       string
	BasePath  string
	Token     string
	User      string
	Password  string
	VerifyTLS bool
	Timeout   time.Duration
	UserAgent string

	// Gateway behaviour
	PageSize         int
	BulkConcurrency  int
	MaxSearchResults int

	// Reference data cache (optional)
	RedisURL   string
	RefDataTTL time.Duration

	// Process
	Host      string
	Port      int
	LogLevel  logging.LogLevel
	LogPretty bool
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		BasePath:         DefaultBasePath,
		VerifyTLS:        true,
		Timeout:          30 * time.Second,
		UserAgent:        "rt-gateway/0.1.0",
		PageSize:         20,
		BulkConcurrency:  5,
		MaxSearchResults: 1000,
		RefDataTTL:       5 * time.Minute,
		Host:             "127.0.0.1",
		Port:             8000,
		LogLevel:         logging.LevelInfo,
	}
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function. Load uses os.Getenv; tests
// pass a map.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	e := envReader{get: getenv}

	cfg.URL = e.str("RT_URL", "")
	cfg.BasePath = e.str("RT_BASE_PATH", cfg.BasePath)
	cfg.Token = e.str("RT_TOKEN", "")
	cfg.User = e.str("RT_USER", "")
	cfg.Password = e.str("RT_PASSWORD", "")
	cfg.VerifyTLS = e.boolean("RT_VERIFY_SSL", cfg.VerifyTLS)
	cfg.Timeout = time.Duration(e.integer("RT_TIMEOUT", int(cfg.Timeout/time.Second))) * time.Second
	cfg.UserAgent = e.str("RT_USER_AGENT", cfg.UserAgent)
	cfg.PageSize = e.integer("RT_PAGE_SIZE", cfg.PageSize)
	cfg.BulkConcurrency = e.integer("RT_BULK_CONCURRENCY", cfg.BulkConcurrency)
	cfg.MaxSearchResults = e.integer("RT_MAX_SEARCH_RESULTS", cfg.MaxSearchResults)
	cfg.RedisURL = e.str("REDIS_URL", "")
	cfg.RefDataTTL = e.duration("RT_REFDATA_TTL", cfg.RefDataTTL)
	cfg.Host = e.str("HOST", cfg.Host)
	cfg.Port = e.integer("PORT", cfg.Port)
	cfg.LogLevel = logging.LogLevel(e.str("LOG_LEVEL", string(cfg.LogLevel)))
	cfg.LogPretty = e.boolean("LOG_PRETTY", cfg.LogPretty)

	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("RT_URL is required")
	}

	parsed, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid RT_URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("RT_URL must use http or https scheme, got: %q", parsed.Scheme)
	}

	if c.Token == "" && (c.User == "" || c.Password == "") {
		return fmt.Errorf("either RT_TOKEN or both RT_USER and RT_PASSWORD must be set")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("RT_TIMEOUT must be positive, got: %v", c.Timeout)
	}
	if c.PageSize < 1 || c.PageSize > MaxPageSize {
		return fmt.Errorf("RT_PAGE_SIZE must be between 1 and %d, got: %d", MaxPageSize, c.PageSize)
	}
	if c.BulkConcurrency < 1 {
		return fmt.Errorf("RT_BULK_CONCURRENCY must be >= 1, got: %d", c.BulkConcurrency)
	}
	if c.MaxSearchResults < 1 {
		return fmt.Errorf("RT_MAX_SEARCH_RESULTS must be >= 1, got: %d", c.MaxSearchResults)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}

	return nil
}

// APIURL is RT_URL with the REST2 base path appended unless it already ends
// with it.
func (c Config) APIURL() string {
	base := strings.TrimRight(c.URL, "/")
	path := "/" + strings.Trim(c.BasePath, "/")
	if path == "/" || strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}

// AuthMode names the credential kind for startup logging.
func (c Config) AuthMode() string {
	if c.Token != "" {
		return "token"
	}
	return "basic"
}

// ListenAddr is the host:port the process serves on.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Session converts the settings the transport needs.
func (c Config) Session() client.SessionConfig {
	return client.SessionConfig{
		BaseURL:         c.APIURL(),
		Token:           c.Token,
		User:            c.User,
		Password:        c.Password,
		VerifyTLS:       c.VerifyTLS,
		Timeout:         c.Timeout,
		UserAgent:       c.UserAgent,
		MaxConnsPerHost: c.BulkConcurrency + 2,
	}
}

// Logging converts the log settings.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Pretty = c.LogPretty
	return cfg
}

type envReader struct {
	get func(string) string
	err error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (e *envReader) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
