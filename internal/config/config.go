// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds the resolved configuration.
type Config struct {
	// Identity provider settings
	Authority string `json:"authority" env:"GRAPHCTL_AUTHORITY"`
	TenantID  string `json:"tenant_id" env:"GRAPHCTL_TENANT_ID"`
	ClientID  string `json:"client_id" env:"GRAPHCTL_CLIENT_ID"`
	Scopes    string `json:"scopes" env:"GRAPHCTL_SCOPES"`

	// Credential material. Secrets are accepted from the environment only,
	// never from config files.
	ClientSecret    string `json:"-" env:"GRAPHCTL_CLIENT_SECRET"`
	CertificatePath string `json:"certificate_path" env:"GRAPHCTL_CERTIFICATE_PATH"`

	// Target API settings
	BaseURL    string `json:"base_url" env:"GRAPHCTL_BASE_URL"`
	APIVersion string `json:"api_version" env:"GRAPHCTL_API_VERSION"`

	// Output settings
	Format string `json:"format" env:"GRAPHCTL_FORMAT"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-" env:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceGlobal  Source = "global"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	Authority  string
	TenantID   string
	ClientID   string
	Scopes     string
	BaseURL    string
	APIVersion string
	Format     string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Authority:  "https://login.microsoftonline.com",
		TenantID:   "organizations",
		Scopes:     "https://graph.microsoft.com/.default",
		BaseURL:    "https://graph.microsoft.com",
		APIVersion: "v1.0",
		Format:     "json",
		Sources:    make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > global file > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, globalConfigPath())

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	ApplyOverrides(cfg, overrides)

	cfg.Authority = NormalizeBaseURL(cfg.Authority)
	cfg.BaseURL = NormalizeBaseURL(cfg.BaseURL)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	set := func(key string, dst *string) {
		if v, ok := fileCfg[key].(string); ok && v != "" {
			*dst = v
			cfg.Sources[key] = string(SourceGlobal)
		}
	}

	set("authority", &cfg.Authority)
	set("tenant_id", &cfg.TenantID)
	set("client_id", &cfg.ClientID)
	set("scopes", &cfg.Scopes)
	set("certificate_path", &cfg.CertificatePath)
	set("base_url", &cfg.BaseURL)
	set("api_version", &cfg.APIVersion)
	set("format", &cfg.Format)
}

// loadFromEnv overlays GRAPHCTL_* environment variables onto cfg.
func loadFromEnv(cfg *Config) error {
	before := *cfg
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	record := func(key, prev, now string) {
		if now != prev && now != "" {
			cfg.Sources[key] = string(SourceEnv)
		}
	}
	record("authority", before.Authority, cfg.Authority)
	record("tenant_id", before.TenantID, cfg.TenantID)
	record("client_id", before.ClientID, cfg.ClientID)
	record("scopes", before.Scopes, cfg.Scopes)
	record("certificate_path", before.CertificatePath, cfg.CertificatePath)
	record("base_url", before.BaseURL, cfg.BaseURL)
	record("api_version", before.APIVersion, cfg.APIVersion)
	record("format", before.Format, cfg.Format)
	return nil
}

// ApplyOverrides applies command-line flag values with highest precedence.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	apply := func(key, v string, dst *string) {
		if v != "" {
			*dst = v
			cfg.Sources[key] = string(SourceFlag)
		}
	}
	apply("authority", o.Authority, &cfg.Authority)
	apply("tenant_id", o.TenantID, &cfg.TenantID)
	apply("client_id", o.ClientID, &cfg.ClientID)
	apply("scopes", o.Scopes, &cfg.Scopes)
	apply("base_url", o.BaseURL, &cfg.BaseURL)
	apply("api_version", o.APIVersion, &cfg.APIVersion)
	apply("format", o.Format, &cfg.Format)
}

// TokenEndpoint returns the v2.0 token endpoint for the configured tenant.
func (cfg *Config) TokenEndpoint() string {
	return cfg.Authority + "/" + cfg.TenantID + "/oauth2/v2.0/token"
}

// AuthorizeEndpoint returns the v2.0 authorize endpoint for the configured tenant.
func (cfg *Config) AuthorizeEndpoint() string {
	return cfg.Authority + "/" + cfg.TenantID + "/oauth2/v2.0/authorize"
}

// DeviceCodeEndpoint returns the v2.0 device authorization endpoint.
func (cfg *Config) DeviceCodeEndpoint() string {
	return cfg.Authority + "/" + cfg.TenantID + "/oauth2/v2.0/devicecode"
}

func globalConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "graphctl", "config.json")
}

// GlobalConfigDir returns the directory holding the global config file.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "graphctl")
}

// NormalizeBaseURL ensures consistent URL format (no trailing slash).
func NormalizeBaseURL(url string) string {
	return strings.TrimSuffix(url, "/")
}
