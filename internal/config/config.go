// Package config provides YAML configuration loading with validation,
// ${VAR} substitution and environment overrides for the gateway.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/dskow/prefix-fallback/internal/prefixretry"
)

// EnvPrefix is the prefix of environment variables that override file
// settings. Nested keys are separated by a double underscore, e.g.
// PREFIX_FALLBACK_RETRY__PREFIX=api sets retry.prefix.
const EnvPrefix = "PREFIX_FALLBACK_"

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Routes    []RouteConfig   `yaml:"routes" json:"routes"`

	// Warnings lists problems that do not stop the config from loading.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
}

// LoggingConfig holds log level and output settings.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`               // "debug", "info", "warn", "error"; default: "info"
	Output     string `yaml:"output" json:"output"`             // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`   // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`   // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// RetryConfig holds the prefix fallback settings.
type RetryConfig struct {
	Prefix  string `yaml:"prefix" json:"prefix"`
	Enabled *bool  `yaml:"enabled" json:"enabled"` // default: true
	Log     *bool  `yaml:"log" json:"log"`         // log retry attempts and failures; default: true
}

// IsEnabled returns whether the fallback is installed (defaults to true).
func (r RetryConfig) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// LogEnabled returns whether retries are logged (defaults to true).
func (r RetryConfig) LogEnabled() bool {
	if r.Log == nil {
		return true
	}
	return *r.Log
}

// RateLimitConfig holds the per-client rate limiter settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AuthConfig holds JWT authentication settings.
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	JWTSecret string   `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer    string   `yaml:"issuer" json:"issuer"`
	Audience  string   `yaml:"audience" json:"audience"`
	Scopes    []string `yaml:"scopes" json:"scopes"`
}

// RouteConfig defines a single proxy route.
type RouteConfig struct {
	PathPrefix   string            `yaml:"path_prefix" json:"path_prefix"`
	Backend      string            `yaml:"backend" json:"backend"`
	StripPrefix  bool              `yaml:"strip_prefix" json:"strip_prefix"`
	Methods      []string          `yaml:"methods" json:"methods"`
	AuthRequired bool              `yaml:"auth_required" json:"auth_required"`
	TimeoutMs    int               `yaml:"timeout_ms" json:"timeout_ms"`
	Headers      map[string]string `yaml:"headers" json:"headers,omitempty"`
	RateOverride *RateLimitConfig  `yaml:"rate_override" json:"rate_override,omitempty"`
}

// Timeout returns the route timeout as a time.Duration.
func (r RouteConfig) Timeout() time.Duration {
	if r.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// PrefixRetry returns the middleware settings derived from the retry section.
// The logger is attached by the caller.
func (c *Config) PrefixRetry() prefixretry.Config {
	return prefixretry.Config{
		Prefix:  c.Retry.Prefix,
		Enabled: c.Retry.IsEnabled(),
	}
}

var validLogLevels = map[string]bool{
	"":      true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution and overrides, sets defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

// applyEnvOverrides merges PREFIX_FALLBACK_* variables over the parsed file.
func applyEnvOverrides(cfg *Config) error {
	k := koanf.New(".")
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return err
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"})
}

func applyDefaults(cfg *Config) {
	orDefault(&cfg.Server.Port, 8080)
	orDefault(&cfg.Server.ReadTimeout, 15*time.Second)
	orDefault(&cfg.Server.WriteTimeout, 15*time.Second)
	orDefault(&cfg.Server.ShutdownTimeout, 10*time.Second)

	orDefault(&cfg.Logging.Output, "stdout")
	orDefault(&cfg.Logging.MaxSizeMB, 100)
	orDefault(&cfg.Logging.MaxBackups, 3)
	orDefault(&cfg.Logging.MaxAgeDays, 30)

	orDefault(&cfg.Metrics.Path, "/metrics")
	orDefault(&cfg.Tracing.ServiceName, "prefix-fallback")

	orDefault(&cfg.RateLimit.RequestsPerSecond, 100)
	orDefault(&cfg.RateLimit.BurstSize, 50)

	for i := range cfg.Routes {
		orDefault(&cfg.Routes[i].TimeoutMs, 30000)
	}
}

// orDefault sets *v to def when *v is the zero value.
func orDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

func validate(cfg *Config) error {
	for _, check := range []func() error{
		cfg.Server.validate,
		cfg.Logging.validate,
		func() error {
			if !strings.HasPrefix(cfg.Metrics.Path, "/") {
				return fmt.Errorf("metrics.path must start with /")
			}
			return nil
		},
		func() error {
			if strings.ContainsAny(cfg.Retry.Prefix, "?#") {
				return fmt.Errorf("retry.prefix must be a path, got %q", cfg.Retry.Prefix)
			}
			return nil
		},
		func() error { return validateRate("rate_limit", cfg.RateLimit) },
		cfg.Auth.validate,
	} {
		if err := check(); err != nil {
			return err
		}
	}

	if len(cfg.Routes) == 0 {
		return fmt.Errorf("at least one route must be configured")
	}
	seen := make(map[string]bool, len(cfg.Routes))
	for i, r := range cfg.Routes {
		if err := r.validate(); err != nil {
			return fmt.Errorf("routes[%d].%w", i, err)
		}
		if seen[r.PathPrefix] {
			return fmt.Errorf("duplicate route path_prefix: %s", r.PathPrefix)
		}
		seen[r.PathPrefix] = true
	}
	return nil
}

func (s ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port)
	}
	for i, cidr := range s.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("server.trusted_proxies[%d]: invalid CIDR %q: %w", i, cidr, err)
		}
	}
	return nil
}

func (l LoggingConfig) validate() error {
	if !validLogLevels[strings.ToLower(l.Level)] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", l.Level)
	}
	if l.Output != "stdout" && l.Output != "stderr" && l.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be positive for file output %q", l.Output)
	}
	return nil
}

func (a AuthConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	switch {
	case a.JWTSecret == "":
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	case a.Issuer == "":
		return fmt.Errorf("auth.issuer is required when auth is enabled")
	case a.Audience == "":
		return fmt.Errorf("auth.audience is required when auth is enabled")
	}
	return nil
}

// validate checks a single route. Errors name the field relative to the
// route so the caller can qualify them with its index.
func (r RouteConfig) validate() error {
	switch {
	case r.PathPrefix == "":
		return fmt.Errorf("path_prefix is required")
	case !strings.HasPrefix(r.PathPrefix, "/"):
		return fmt.Errorf("path_prefix must start with /, got %q", r.PathPrefix)
	case r.Backend == "":
		return fmt.Errorf("backend is required")
	case r.TimeoutMs < 0:
		return fmt.Errorf("timeout_ms must be non-negative, got %d", r.TimeoutMs)
	}

	u, err := url.Parse(r.Backend)
	if err != nil {
		return fmt.Errorf("backend: invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("backend: host is required")
	}
	if r.RateOverride != nil {
		return validateRate("rate_override", *r.RateOverride)
	}
	return nil
}

func validateRate(field string, rl RateLimitConfig) error {
	if rl.RequestsPerSecond <= 0 {
		return fmt.Errorf("%s.requests_per_second must be positive", field)
	}
	if rl.BurstSize <= 0 {
		return fmt.Errorf("%s.burst_size must be positive", field)
	}
	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Auth.Enabled && strings.Contains(cfg.Auth.JWTSecret, "${") {
		warnings = append(warnings, "auth.jwt_secret contains unresolved environment variable")
	}
	if cfg.Retry.IsEnabled() {
		// PrefixPath with an empty path yields the normalized prefix plus "/".
		prefix := strings.TrimSuffix(prefixretry.PrefixPath(cfg.Retry.Prefix, ""), "/")
		if prefix == "" {
			warnings = append(warnings, "retry is enabled with an empty prefix; retries re-dispatch the unchanged path")
		} else if !anyRouteUnder(cfg.Routes, prefix) {
			warnings = append(warnings, fmt.Sprintf("retry.prefix %q is not covered by any route; retries will always fail", prefix))
		}
	}
	return warnings
}

// anyRouteUnder reports whether some route can match a path starting with
// prefix.
func anyRouteUnder(routes []RouteConfig, prefix string) bool {
	for _, r := range routes {
		rp := strings.TrimSuffix(r.PathPrefix, "/")
		if rp == "" || rp == prefix ||
			strings.HasPrefix(prefix, rp+"/") ||
			strings.HasPrefix(rp, prefix+"/") {
			return true
		}
	}
	return false
}
