package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/ip-broker/services/providers"
	"github.com/upb/ip-broker/utils"
)

// Dispatch modes
const (
	DispatchSimulated = "simulated"
	DispatchHTTP      = "http"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Routing       RoutingConfig
	Dispatch      DispatchConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string

	// ProvidersFile is the YAML file the provider set was loaded from, empty
	// when the built-in set is used.
	ProvidersFile string
	Providers     []providers.Descriptor
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// RoutingConfig holds provider selection settings
type RoutingConfig struct {
	AdmissionMode string // reserve or advisory
}

// DispatchConfig controls how selected providers are called
type DispatchConfig struct {
	Mode      string // simulated or http
	Timeout   time.Duration
	Seed      uint64
	UserAgent string
}

// AuthConfig holds API authentication settings. Authentication is disabled
// when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Routing: RoutingConfig{
			AdmissionMode: getEnv("ADMISSION_MODE", "reserve"),
		},
		Dispatch: DispatchConfig{
			Mode:      getEnv("DISPATCH_MODE", DispatchSimulated),
			Timeout:   getEnvAsDuration("DISPATCH_TIMEOUT", 10*time.Second),
			Seed:      uint64(getEnvAsInt("DISPATCH_SEED", int(time.Now().UnixNano()&0x7fffffff))),
			UserAgent: getEnv("DISPATCH_USER_AGENT", "ip-broker/1.0"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", "ip-broker"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		ProvidersFile: getEnv("PROVIDERS_FILE", ""),
	}

	if cfg.ProvidersFile != "" {
		descs, err := LoadProviders(cfg.ProvidersFile)
		if err != nil {
			return nil, err
		}
		cfg.Providers = descs
	} else {
		cfg.Providers = DefaultProviders()
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, desc := range c.Providers {
		if err := desc.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", desc.Name, err)
		}
		if seen[desc.Name] {
			return fmt.Errorf("provider %q is configured twice", desc.Name)
		}
		seen[desc.Name] = true
	}

	if err := utils.ValidateOneOf(c.Routing.AdmissionMode, "admission mode", []string{"reserve", "advisory"}); err != nil {
		return err
	}

	if err := utils.ValidateOneOf(c.Dispatch.Mode, "dispatch mode", []string{DispatchSimulated, DispatchHTTP}); err != nil {
		return err
	}

	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive")
	}

	// Authentication is required in production
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// AuthEnabled reports whether API requests must carry a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
