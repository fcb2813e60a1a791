// Package config loads the gateway configuration.
//
// Values come from three layers, later layers winning:
//   - built-in defaults (Default),
//   - an optional YAML file named by --config or GATEWAY_CONFIG,
//   - environment variables for secrets and deployment knobs.
//
// Secrets (client secret, tokens) are expected from the environment; the YAML
// file may carry them for local development only.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable consulted when no --config flag is given.
const EnvConfigPath = "GATEWAY_CONFIG"

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Customers CustomersConfig `yaml:"customers"`
	Pending   PendingConfig   `yaml:"pending"`
}

type ServiceConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	// Timeout applies to every upstream call; must be within 5s..15s.
	Timeout       time.Duration `yaml:"timeout"`
	StoreID       string        `yaml:"store_id"`
	PaymentTypeID string        `yaml:"payment_type_id"`
	PageSize      int           `yaml:"page_size"`
}

type OAuthConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	AuthURL      string        `yaml:"auth_url"`
	TokenURL     string        `yaml:"token_url"`
	RedirectURL  string        `yaml:"redirect_url"`
	Scopes       []string      `yaml:"scopes"`
	AccessToken  string        `yaml:"access_token"`
	RefreshToken string        `yaml:"refresh_token"`
	Skew         time.Duration `yaml:"skew"`
}

type CatalogConfig struct {
	TTL time.Duration `yaml:"ttl"`
	// Aliases maps an item name to known mis-transcriptions of it.
	Aliases map[string][]string `yaml:"aliases"`
}

type CustomersConfig struct {
	// Sentinels are phone values treated as "no phone".
	Sentinels []string `yaml:"sentinels"`
}

type PendingConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// DefaultAliases are the transcription errors observed for the two items
// callers most often mispronounce.
func DefaultAliases() map[string][]string {
	return map[string][]string{
		"Pepper Steak": {"pepper steak", "paper space", "peper estic", "peper steak", "bistec pepper", "carne pepper"},
		"Pollo Pepper": {"pollo pepper", "pollo pimiento", "peper pollo"},
	}
}

// DefaultSentinels lists phone values that mean the caller id was not provided.
func DefaultSentinels() []string {
	return []string{"", "null", "NULL", "None", "undefined", "{{phone}}", "{{caller_phone}}", "{{system__caller_id}}"}
}

func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "loyverse-gateway",
			Env:             "dev",
			Addr:            ":10000",
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL:  "https://api.loyverse.com/v1.0",
			Timeout:  10 * time.Second,
			PageSize: 250,
		},
		OAuth: OAuthConfig{
			AuthURL:  "https://api.loyverse.com/oauth/authorize",
			TokenURL: "https://api.loyverse.com/oauth/token",
			Skew:     60 * time.Second,
		},
		Catalog: CatalogConfig{
			TTL:     15 * time.Minute,
			Aliases: DefaultAliases(),
		},
		Customers: CustomersConfig{
			Sentinels: DefaultSentinels(),
		},
		Pending: PendingConfig{
			MaxAttempts: 8,
			Interval:    30 * time.Second,
			BackoffBase: 30 * time.Second,
			BackoffMax:  30 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if any,
// falling back to $GATEWAY_CONFIG) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("SERVICE_NAME", &cfg.Service.Name)
	str("ENV", &cfg.Service.Env)
	str("LOG_LEVEL", &cfg.Service.LogLevel)
	str("LOG_FILE", &cfg.Service.LogFile)
	if v, ok := lookup("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("config: PORT %q is not a number", v)
		}
		cfg.Service.Addr = ":" + v
	}

	str("LOYVERSE_BASE_URL", &cfg.Upstream.BaseURL)
	str("LOYVERSE_STORE_ID", &cfg.Upstream.StoreID)
	str("LOYVERSE_PAYMENT_TYPE_ID", &cfg.Upstream.PaymentTypeID)
	if v, ok := lookup("LOYVERSE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: LOYVERSE_TIMEOUT: %w", err)
		}
		cfg.Upstream.Timeout = d
	}

	str("LOYVERSE_CLIENT_ID", &cfg.OAuth.ClientID)
	str("LOYVERSE_CLIENT_SECRET", &cfg.OAuth.ClientSecret)
	str("LOYVERSE_REDIRECT_URL", &cfg.OAuth.RedirectURL)
	str("LOYVERSE_TOKEN", &cfg.OAuth.AccessToken)
	str("LOYVERSE_REFRESH_TOKEN", &cfg.OAuth.RefreshToken)
	return nil
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}
	if c.Upstream.Timeout < 5*time.Second || c.Upstream.Timeout > 15*time.Second {
		errs = append(errs, fmt.Errorf("upstream.timeout must be between 5s and 15s, got %s", c.Upstream.Timeout))
	}
	if c.Upstream.PageSize <= 0 || c.Upstream.PageSize > 250 {
		errs = append(errs, fmt.Errorf("upstream.page_size must be in 1..250, got %d", c.Upstream.PageSize))
	}
	if c.OAuth.Skew < 0 {
		errs = append(errs, errors.New("oauth.skew must not be negative"))
	}
	if c.OAuth.RefreshToken != "" && c.OAuth.TokenURL == "" {
		errs = append(errs, errors.New("oauth.token_url is required with a refresh token"))
	}
	if c.Catalog.TTL <= 0 {
		errs = append(errs, errors.New("catalog.ttl must be positive"))
	}
	if c.Pending.MaxAttempts <= 0 {
		errs = append(errs, errors.New("pending.max_attempts must be positive"))
	}
	if c.Pending.Interval <= 0 {
		errs = append(errs, errors.New("pending.interval must be positive"))
	}
	if c.Pending.BackoffBase <= 0 || c.Pending.BackoffMax < c.Pending.BackoffBase {
		errs = append(errs, errors.New("pending.backoff_base must be positive and not above pending.backoff_max"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
