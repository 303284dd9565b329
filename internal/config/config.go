// Package config assembles the process Config from flags and environment
// variables (C11), in the reference codebase's own Config.Validate()
// convention (telemetry/flow-ingest/internal/server.Config), with defaults
// filled in by Validate rather than scattered across callers.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 8080
	defaultDBPath           = "versionmanager.db"
	defaultPollWorkers      = 10
	defaultPollInterval     = 60 * time.Second
	defaultMetricsAddr      = "0.0.0.0:9090"
	defaultSessionCookieTTL = 24 * time.Hour
)

// Config holds every flag/env-derived setting for the process. Zero-value
// fields are filled with defaults, and the struct is validated, by Validate.
type Config struct {
	Host string
	Port int

	DBPath string

	PollWorkers  int
	PollInterval time.Duration

	RegistrationToken  string
	DefaultClusterID   int64
	DefaultClusterName string

	WebhookURL string

	APIToken     string
	CookieSecure bool

	MetricsAddr string

	DiscoveryPingPrefilter bool

	AnthropicAPIKey string

	SeedFile string
}

// Load reads .env (if present), parses flags, and validates the result.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("versionmanager", flag.ContinueOnError)
	cfg := &Config{}

	fs.StringVar(&cfg.Host, "host", envOr("VM_HOST", defaultHost), "listen host")
	fs.IntVar(&cfg.Port, "port", envIntOr("VM_PORT", defaultPort), "listen port")
	fs.StringVar(&cfg.DBPath, "db", envOr("VM_DB", defaultDBPath), "embedded database file path")
	fs.IntVar(&cfg.PollWorkers, "poll-workers", envIntOr("VM_POLL_WORKERS", defaultPollWorkers), "reconcile fan-out concurrency")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", envDurationOr("VM_POLL_INTERVAL", defaultPollInterval), "periodic poll interval; 0 disables the periodic scheduler")
	fs.StringVar(&cfg.RegistrationToken, "registration-token", os.Getenv("VM_REGISTRATION_TOKEN"), "shared token gating device self-registration; empty requires an admin session instead")
	fs.Int64Var(&cfg.DefaultClusterID, "default-cluster-id", int64(envIntOr("VM_DEFAULT_CLUSTER_ID", 0)), "default cluster id; parsed and validated but not read by register or discover, which keep the cluster_id they are given")
	fs.StringVar(&cfg.DefaultClusterName, "default-cluster-name", envOr("VM_DEFAULT_CLUSTER_NAME", "default"), "default cluster name; parsed but no cluster is created from it")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", os.Getenv("VM_WEBHOOK_URL"), "webhook endpoint for event delivery; empty disables delivery")
	fs.StringVar(&cfg.APIToken, "api-token", os.Getenv("VM_API_TOKEN"), "admin API token for X-Api-Token auth")
	fs.BoolVar(&cfg.CookieSecure, "cookie-secure", os.Getenv("VM_COOKIE_SECURE") == "true", "mark the session cookie Secure (requires TLS)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", envOr("VM_METRICS_ADDR", defaultMetricsAddr), "address for the separate /metrics listener")
	fs.BoolVar(&cfg.DiscoveryPingPrefilter, "discovery-ping-prefilter", os.Getenv("VM_DISCOVERY_PING_PREFILTER") == "true", "enable the optional ICMP reachability pre-filter during discovery")
	fs.StringVar(&cfg.AnthropicAPIKey, "anthropic-api-key", os.Getenv("ANTHROPIC_API_KEY"), "API key for the optional LLM status-summary adjunct")
	fs.StringVar(&cfg.SeedFile, "seed-file", os.Getenv("VM_SEED_FILE"), "optional YAML file seeding clusters/baselines/rules on a fresh database")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills remaining defaults and rejects an unusable configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.PollWorkers <= 0 {
		c.PollWorkers = defaultPollWorkers
	}
	if c.PollInterval < 0 {
		return errors.New("poll interval must be >= 0")
	}
	if c.DefaultClusterName == "" {
		c.DefaultClusterName = "default"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = defaultMetricsAddr
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
