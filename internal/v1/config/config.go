// Package config loads and validates the YAML configuration file, the
// generalized replacement for the teacher's flat env-var ValidateEnv
// (spec §6: agent identity, authn/authz, upload bucket routing, cache
// TTLs, orphan threshold, Janus backend groups).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/store"
	"gopkg.in/yaml.v3"
)

// IssuerConfig is one entry of the authn map: the JWKS endpoint (or
// static key set) conferenced trusts for tokens asserting this issuer.
type IssuerConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSURL  string `yaml:"jwks_url"`
	Key      string `yaml:"key"`
	Algorithm string `yaml:"algorithm"`
}

// AuthzConfig selects the authorization backend. conferenced only ever
// runs in "local" mode (no external authz service in scope); the field
// exists so the config shape matches what operators already write for
// the rest of the fleet.
type AuthzConfig struct {
	Type string `yaml:"type"`
}

// BucketRoute is the (backend group, bucket) pair an audience's
// recordings upload into, keyed by room.rtc_sharing_policy.
type BucketRoute struct {
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`
}

// UploadConfig splits bucket routing by sharing policy, each keyed by
// audience. Mirrors the teacher's split upload config shape.
type UploadConfig struct {
	Shared map[string]BucketRoute `yaml:"shared"`
	Owned  map[string]BucketRoute `yaml:"owned"`
}

// CacheConfig configures one of the bounded entity caches in
// internal/v1/cache.
type CacheConfig struct {
	Kind     string        `yaml:"kind"` // RoomById, RoomByRtcId, RtcById
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// MetricsConfig configures the Prometheus HTTP exporter.
type MetricsConfig struct {
	HTTP struct {
		BindAddress string `yaml:"bind_address"`
	} `yaml:"http"`
}

// SentryConfig configures error reporting via getsentry/sentry-go.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Config is the top-level YAML document, loaded once at startup.
type Config struct {
	AgentLabel string `yaml:"agent_label"`
	ID         string `yaml:"id"`
	BrokerID   string `yaml:"broker_id"`

	Authn []IssuerConfig `yaml:"authn"`
	Authz AuthzConfig    `yaml:"authz"`

	IDToken struct {
		Algorithm string `yaml:"algorithm"`
		Key       string `yaml:"key"`
	} `yaml:"id_token"`

	Sentry SentryConfig `yaml:"sentry"`

	Upload UploadConfig `yaml:"upload"`

	CacheConfigs []CacheConfig `yaml:"cache_configs"`

	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// JanusGroups lists the accepted Janus backend group tags. It is
	// required to be non-empty and is logged at startup; placement does
	// not read it.
	JanusGroups []string `yaml:"janus_groups"`

	Metrics MetricsConfig `yaml:"metrics"`

	Kruonis struct {
		ID string `yaml:"id"`
	} `yaml:"kruonis"`

	Backend struct {
		ID string `yaml:"id"`
	} `yaml:"backend"`

	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`
	HTTPBind    string `yaml:"http_bind"`

	// RateLimits maps a rate class name (e.g. "global", "signaling",
	// "room_mutation") to a ulule/limiter formatted rate string
	// (e.g. "1000-M"). internal/v1/ratelimit falls back to built-in
	// defaults for any class left unset.
	RateLimits map[string]string `yaml:"rate_limits"`
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyDefaults().validate(); err != nil {
		return nil, err
	}

	logValidatedConfig(&cfg)
	return &cfg, nil
}

func (c *Config) applyDefaults() *Config {
	if c.OrphanThreshold == 0 {
		c.OrphanThreshold = 10 * time.Minute
	}
	if c.Metrics.HTTP.BindAddress == "" {
		c.Metrics.HTTP.BindAddress = "0.0.0.0:9090"
	}
	if c.HTTPBind == "" {
		c.HTTPBind = "0.0.0.0:8080"
	}
	if c.Authz.Type == "" {
		c.Authz.Type = "local"
	}
	return c
}

// validate enforces the required fields and returns every violation
// found at once, in the teacher's ValidateEnv style.
func (c *Config) validate() error {
	var errs []string

	if c.AgentLabel == "" {
		errs = append(errs, "agent_label is required")
	}
	if c.ID == "" {
		errs = append(errs, "id is required")
	}
	if c.BrokerID == "" {
		errs = append(errs, "broker_id is required")
	}
	if len(c.Authn) == 0 {
		errs = append(errs, "authn must list at least one issuer")
	}
	for i, iss := range c.Authn {
		if iss.Issuer == "" {
			errs = append(errs, fmt.Sprintf("authn[%d].issuer is required", i))
		}
		if iss.JWKSURL == "" && iss.Key == "" {
			errs = append(errs, fmt.Sprintf("authn[%d] must set jwks_url or key", i))
		}
	}
	if len(c.JanusGroups) == 0 {
		errs = append(errs, "janus_groups must list at least one group")
	}
	if c.OrphanThreshold < 0 {
		errs = append(errs, "orphan_threshold must not be negative")
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "database_url is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func logValidatedConfig(c *Config) {
	slog.Info("configuration validated",
		"agent_label", c.AgentLabel,
		"id", c.ID,
		"broker_id", c.BrokerID,
		"authn_issuers", len(c.Authn),
		"janus_groups", c.JanusGroups,
		"orphan_threshold", c.OrphanThreshold,
		"metrics_bind_address", c.Metrics.HTTP.BindAddress,
	)
}

// CacheTTL returns the configured TTL for the named cache kind
// ("RoomById", "RoomByRtcId", "RtcById"), or 0 if unconfigured, letting
// internal/v1/cache.New fall back to its own default.
func (c *Config) CacheTTL(kind string) time.Duration {
	for _, cc := range c.CacheConfigs {
		if cc.Kind == kind {
			return cc.TTL
		}
	}
	return 0
}

// ResolveBucket implements vacuum.BucketResolver: it looks up the
// (backend, bucket) pair configured for policy+audience and returns
// just the bucket, since the backend group is resolved separately by
// the placement model.
func (c *Config) ResolveBucket(policy store.SharingPolicy, audience string) (string, bool) {
	var table map[string]BucketRoute
	switch policy {
	case store.SharingPolicyShared:
		table = c.Upload.Shared
	case store.SharingPolicyOwned:
		table = c.Upload.Owned
	default:
		return "", false
	}
	route, ok := table[audience]
	if !ok || route.Bucket == "" {
		return "", false
	}
	return route.Bucket, true
}
