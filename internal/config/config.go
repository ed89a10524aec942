// Package config loads server and client settings from an optional YAML
// file, then applies DEPOT_* environment overrides on top of the defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by LoadServer and LoadClient.
// DEPOT_ADMIN_PASSWORD seeds the admin account at startup; without it the
// admin login stays disabled.
const (
	EnvConfig        = "DEPOT_CONFIG"
	EnvListen        = "DEPOT_LISTEN"
	EnvDataDir       = "DEPOT_DATA_DIR"
	EnvSecret        = "DEPOT_SECRET"
	EnvAdmin         = "DEPOT_ADMIN"
	EnvAdminPassword = "DEPOT_ADMIN_PASSWORD"
	EnvServer        = "DEPOT_SERVER"
)

// RateLimit bounds datagrams per sender address.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Server is the depot-server configuration.
type Server struct {
	Listen          string        `yaml:"listen"`
	DataDir         string        `yaml:"data_dir"`
	Secret          string        `yaml:"secret"`
	Admin           string        `yaml:"admin"`
	AdminPassword   string        `yaml:"admin_password"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	Workers         int           `yaml:"workers"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StatsInterval   time.Duration `yaml:"stats_interval"`
	LimiterIdle     time.Duration `yaml:"limiter_idle"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
}

// DefaultServer returns the built-in server defaults. Secret has none.
func DefaultServer() Server {
	return Server{
		Listen:          "127.0.0.1:7070",
		DataDir:         "data",
		Admin:           "admin",
		QueueCapacity:   10,
		Workers:         32,
		TokenTTL:        5 * time.Minute,
		ShutdownTimeout: 5 * time.Second,
		StatsInterval:   time.Minute,
		LimiterIdle:     3 * time.Minute,
		RateLimit:       RateLimit{RPS: 50, Burst: 100},
	}
}

// DBPath is the SQLite file inside DataDir.
func (c *Server) DBPath() string {
	return filepath.Join(c.DataDir, "depot.db")
}

// Validate rejects settings the server cannot run with.
func (c *Server) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Secret == "" {
		errs = append(errs, fmt.Errorf("secret is required (set %s)", EnvSecret))
	}
	if strings.TrimSpace(c.Admin) == "" {
		errs = append(errs, errors.New("admin username must not be blank"))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue_capacity must be at least 1, got %d", c.QueueCapacity))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	return errors.Join(errs...)
}

// LoadServer reads path (if not empty), applies environment overrides
// through getenv and validates the result.
func LoadServer(path string, getenv func(string) string) (*Server, error) {
	cfg := DefaultServer()
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}
	override(&cfg.Listen, getenv(EnvListen))
	override(&cfg.DataDir, getenv(EnvDataDir))
	override(&cfg.Secret, getenv(EnvSecret))
	override(&cfg.Admin, getenv(EnvAdmin))
	override(&cfg.AdminPassword, getenv(EnvAdminPassword))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return &cfg, nil
}

// Client is the depot client configuration.
type Client struct {
	Server           string        `yaml:"server"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// DefaultClient returns the built-in client defaults.
func DefaultClient() Client {
	return Client{
		Server:           "127.0.0.1:7070",
		Timeout:          5 * time.Second,
		BreakerThreshold: 3,
		BreakerCooldown:  20 * time.Second,
	}
}

// Validate rejects settings the client cannot run with.
func (c *Client) Validate() error {
	var errs []error
	if c.Server == "" {
		errs = append(errs, errors.New("server address is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.BreakerThreshold < 1 {
		errs = append(errs, errors.New("breaker_threshold must be at least 1"))
	}
	if c.BreakerCooldown <= 0 {
		errs = append(errs, errors.New("breaker_cooldown must be positive"))
	}
	return errors.Join(errs...)
}

// LoadClient reads path (if not empty), applies DEPOT_SERVER and validates.
func LoadClient(path string, getenv func(string) string) (*Client, error) {
	cfg := DefaultClient()
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}
	override(&cfg.Server, getenv(EnvServer))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	return &cfg, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// decodeFile strictly decodes the YAML file at path into out. Unknown keys
// are errors; an empty path is a no-op.
func decodeFile(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
