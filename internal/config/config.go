// Package config handles loading and validation of storefront configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"storefront/internal/kv"
	"storefront/internal/transport"
)

// Config holds all storefront configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	SecretName string

	// APIBase is the backend root. Empty means the backend is served from
	// PublicURL (same origin).
	APIBase string

	// PublicURL is the storefront's own absolute origin. Payment return
	// pages live under it.
	PublicURL string

	Transport transport.Kind

	Store StoreConfig

	// Secrets are loaded from Secret Manager in production.
	Secrets Secrets
}

// StoreConfig selects the device store.
type StoreConfig struct {
	Kind      string `json:"kind"` // memory, sqlite or redis
	Path      string `json:"path,omitempty"`
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// Secrets holds credentials that must not live in plain env vars in
// production.
type Secrets struct {
	// SessionCookie seeds the gateway's cookie jar ("SESSION=...").
	SessionCookie string `json:"session_cookie,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are invalid.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretName:  envOrDefault("STOREFRONT_SECRET", "storefront"),
		APIBase:     os.Getenv("STOREFRONT_API_BASE"),
		PublicURL:   os.Getenv("STOREFRONT_PUBLIC_URL"),
		Transport:   transport.Kind(envOrDefault("STOREFRONT_TRANSPORT", string(transport.Standard))),
		Store: StoreConfig{
			Kind:      envOrDefault("STOREFRONT_STORE", "sqlite"),
			Path:      os.Getenv("STOREFRONT_STATE_PATH"),
			RedisAddr: os.Getenv("REDIS_ADDR"),
			Namespace: os.Getenv("STOREFRONT_NAMESPACE"),
		},
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB must be an integer: %w", err)
		}
		cfg.Store.RedisDB = n
	}

	// Load secrets based on environment
	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading secrets: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port        string      `json:"port"`
		Environment string      `json:"environment"`
		LogLevel    string      `json:"log_level"`
		APIBase     string      `json:"api_base"`
		PublicURL   string      `json:"public_url"`
		Transport   string      `json:"transport"`
		Store       StoreConfig `json:"store"`
		Secrets     Secrets     `json:"secrets"`
	}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:        withDefault(fileConfig.Port, "8080"),
		Environment: withDefault(fileConfig.Environment, "development"),
		LogLevel:    withDefault(fileConfig.LogLevel, "info"),
		APIBase:     fileConfig.APIBase,
		PublicURL:   fileConfig.PublicURL,
		Transport:   transport.Kind(withDefault(fileConfig.Transport, string(transport.Standard))),
		Store:       fileConfig.Store,
		Secrets:     fileConfig.Secrets,
	}
	cfg.Store.Kind = withDefault(cfg.Store.Kind, "sqlite")

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches the secret settings from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretName)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Secrets); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	return nil
}

// loadFromEnv reads the secret settings from environment variables.
// Used in development mode for local testing.
func (c *Config) loadFromEnv() {
	c.Secrets = Secrets{
		SessionCookie: os.Getenv("STOREFRONT_SESSION_COOKIE"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}
}

// finish fills derived defaults and validates.
func (c *Config) finish() error {
	if c.PublicURL == "" {
		c.PublicURL = fmt.Sprintf("http://localhost:%s", c.Port)
	}
	c.PublicURL = strings.TrimSuffix(c.PublicURL, "/")
	c.APIBase = strings.TrimSuffix(c.APIBase, "/")

	if c.Store.Kind == "sqlite" && c.Store.Path == "" {
		c.Store.Path = DefaultStatePath()
	}
	return c.validate()
}

// validate checks that all configuration fields are well-formed.
func (c *Config) validate() error {
	if err := validateAbsolute("public_url", c.PublicURL); err != nil {
		return err
	}
	if c.APIBase != "" {
		if err := validateAbsolute("api_base", c.APIBase); err != nil {
			return err
		}
	}

	switch c.Transport {
	case transport.Standard, transport.Chrome:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", transport.Standard, transport.Chrome, c.Transport)
	}

	switch c.Store.Kind {
	case "memory", "sqlite":
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("store must be memory, sqlite or redis, got %q", c.Store.Kind)
	}
	return nil
}

func validateAbsolute(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", field, raw)
	}
	return nil
}

// StoreOptions converts the store settings for kv.Open.
func (c *Config) StoreOptions() kv.Options {
	return kv.Options{
		Kind: c.Store.Kind,
		Path: c.Store.Path,
		Redis: kv.RedisOptions{
			Addr:      c.Store.RedisAddr,
			Password:  c.Secrets.RedisPassword,
			DB:        c.Store.RedisDB,
			Namespace: c.Store.Namespace,
		},
	}
}

// DefaultStatePath is where the sqlite device store lives when no path is
// configured: storefront/state.db under the user's config directory.
func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "storefront", "state.db")
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
