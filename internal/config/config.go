// Package config loads server configuration from the environment and
// optional .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/addfeaturesnow/prodesk/supabase/deferred"
)

// Store backends.
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the server configuration.
type Config struct {
	// Supabase project. The VITE_ names are shared with the web client.
	SupabaseURL    string `env:"VITE_SUPABASE_URL"`
	SupabaseKey    string `env:"VITE_SUPABASE_PUBLISHABLE_KEY"`
	SupabaseURLAlt string `env:"SUPABASE_URL"`
	SupabaseKeyAlt string `env:"SUPABASE_PUBLISHABLE_KEY"`

	// LoaderPolicy is retry-always or cache-failures.
	LoaderPolicy string `env:"SUPABASE_LOADER_POLICY,default=retry-always"`
	SessionFile  string `env:"SUPABASE_SESSION_FILE"`
	RedisURL     string `env:"REDIS_URL"`
	HTTPRetries  int    `env:"SUPABASE_HTTP_RETRIES,default=3"`

	Port        int    `env:"PORT,default=3001"`
	Store       string `env:"STORE,default=supabase"`
	DatabaseURL string `env:"DATABASE_URL"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	// CORSOrigins is a comma separated list; empty allows all origins.
	CORSOrigins string  `env:"CORS_ORIGINS"`
	RateLimit   float64 `env:"RATE_LIMIT_RPS,default=20"`
	RateBurst   int     `env:"RATE_LIMIT_BURST,default=40"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads the given .env files (missing files are skipped), then decodes
// the environment. Variables already set win over .env values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.SupabaseURL == "" {
		c.SupabaseURL = c.SupabaseURLAlt
	}
	if c.SupabaseKey == "" {
		c.SupabaseKey = c.SupabaseKeyAlt
	}
	c.SupabaseURL = strings.TrimSpace(c.SupabaseURL)
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = StoreSupabase
	}
}

// Validate checks enumerated and dependent fields.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreSupabase, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
	default:
		return fmt.Errorf("invalid STORE %q: want supabase, postgres or memory", c.Store)
	}
	if _, err := deferred.ParseFailurePolicy(c.LoaderPolicy); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("invalid RATE_LIMIT_RPS %v", c.RateLimit)
	}
	return nil
}

// Supabase returns the loader configuration. An empty URL makes every
// Supabase operation fail with deferred.ErrConfigurationMissing.
func (c *Config) Supabase() deferred.Config {
	return deferred.Config{URL: c.SupabaseURL, APIKey: c.SupabaseKey}
}

// FailurePolicy returns the parsed loader policy.
func (c *Config) FailurePolicy() deferred.FailurePolicy {
	p, _ := deferred.ParseFailurePolicy(c.LoaderPolicy)
	return p
}

// Origins splits CORSOrigins.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
