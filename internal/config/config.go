// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultHTTPTimeout = 15 * time.Second

// Config holds application configuration loaded from the environment.
type Config struct {
	// APIBaseURL is the root of the directory service (e.g. http://localhost:8082).
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	// AuthPath is the prefix of the login and verify-otp endpoints under APIBaseURL.
	AuthPath string `mapstructure:"AUTH_PATH"`
	// OTPPath is the prefix of request-otp under APIBaseURL. The directory service mounts it apart from AuthPath.
	OTPPath string `mapstructure:"OTP_PATH"`
	// UsersPath is the users resource under APIBaseURL.
	UsersPath string `mapstructure:"USERS_PATH"`
	// HTTPTimeout is the per-request timeout (e.g. "15s").
	HTTPTimeout string `mapstructure:"HTTP_TIMEOUT"`

	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint is the OTLP gRPC collector address; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// GatePolicyPath is a Rego file or directory evaluated before mutations; empty uses the phase check only.
	GatePolicyPath string `mapstructure:"GATE_POLICY_PATH"`

	// LegacyPlaceholderUserID, when non-zero, is used as the challenge user id when a login response omits
	// userId. The challenge is flagged suspect. Must be 0 when Env is production.
	LegacyPlaceholderUserID int64 `mapstructure:"LEGACY_PLACEHOLDER_USER_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "http://localhost:8082")
	v.SetDefault("AUTH_PATH", "/api/auth")
	v.SetDefault("OTP_PATH", "/auth")
	v.SetDefault("USERS_PATH", "/users")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "userdesk-console")
	v.SetDefault("GATE_POLICY_PATH", "")
	v.SetDefault("LEGACY_PLACEHOLDER_USER_ID", 0)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("config: API_BASE_URL must be an absolute http(s) URL")
	}

	if cfg.LegacyPlaceholderUserID < 0 {
		return nil, errors.New("config: LEGACY_PLACEHOLDER_USER_ID must not be negative")
	}
	if cfg.LegacyPlaceholderUserID != 0 && cfg.Env == "production" {
		return nil, errors.New("config: LEGACY_PLACEHOLDER_USER_ID must be 0 when APP_ENV=production")
	}

	return &cfg, nil
}

// HTTPTimeoutDuration parses HTTPTimeout as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) HTTPTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil || d <= 0 {
		return defaultHTTPTimeout
	}
	return d
}

// AuthURL is the base of the authentication endpoints (e.g. http://localhost:8082/api/auth).
func (c *Config) AuthURL() string {
	return joinURL(c.APIBaseURL, c.AuthPath)
}

// OTPRequestURL is the base of request-otp (e.g. http://localhost:8082/auth).
func (c *Config) OTPRequestURL() string {
	return joinURL(c.APIBaseURL, c.OTPPath)
}

// UsersURL is the users resource (e.g. http://localhost:8082/users).
func (c *Config) UsersURL() string {
	return joinURL(c.APIBaseURL, c.UsersPath)
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = strings.Trim(path, "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}
