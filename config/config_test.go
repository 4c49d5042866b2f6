package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/ip-broker/services/providers"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
				assert.Equal(t, "reserve", cfg.Routing.AdmissionMode)
				assert.Equal(t, DispatchSimulated, cfg.Dispatch.Mode)
				assert.Equal(t, 10*time.Second, cfg.Dispatch.Timeout)
				assert.False(t, cfg.AuthEnabled())
				assert.Empty(t, cfg.ProvidersFile)
				require.Len(t, cfg.Providers, 5)
				assert.Equal(t, "IpInfo", cfg.Providers[0].Name)
			},
		},
		{
			name: "production configuration",
			envVars: map[string]string{
				"ENVIRONMENT":     "production",
				"SERVER_PORT":     "9000",
				"AUTH_JWT_SECRET": "s3cret",
				"DISPATCH_MODE":   "http",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.False(t, cfg.IsDevelopment())
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.True(t, cfg.AuthEnabled())
				assert.Equal(t, "ip-broker", cfg.Auth.Issuer)
				assert.Equal(t, DispatchHTTP, cfg.Dispatch.Mode)
			},
		},
		{
			name: "custom timeouts",
			envVars: map[string]string{
				"SERVER_READ_TIMEOUT":  "60s",
				"SERVER_WRITE_TIMEOUT": "90s",
				"DISPATCH_TIMEOUT":     "2s",
				"DISPATCH_SEED":        "7",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
				assert.Equal(t, 2*time.Second, cfg.Dispatch.Timeout)
				assert.Equal(t, uint64(7), cfg.Dispatch.Seed)
			},
		},
		{
			name: "observability configuration",
			envVars: map[string]string{
				"LOG_LEVEL":       "debug",
				"LOG_FORMAT":      "console",
				"METRICS_ENABLED": "false",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Observability.LogLevel)
				assert.Equal(t, "console", cfg.Observability.LogFormat)
				assert.False(t, cfg.Observability.MetricsEnabled)
			},
		},
		{
			name: "advisory admission",
			envVars: map[string]string{
				"ADMISSION_MODE": "advisory",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "advisory", cfg.Routing.AdmissionMode)
			},
		},
		{
			name: "CORS origins list",
			envVars: map[string]string{
				"CORS_ALLOWED_ORIGINS": "https://a.example.com, https://b.example.com,",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
			},
		},
		{
			name: "PORT env var takes precedence over SERVER_PORT",
			envVars: map[string]string{
				"PORT":        "9443",
				"SERVER_PORT": "9000",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
			},
		},
		{
			name: "unknown admission mode",
			envVars: map[string]string{
				"ADMISSION_MODE": "greedy",
			},
			wantErr: true,
		},
		{
			name: "unknown dispatch mode",
			envVars: map[string]string{
				"DISPATCH_MODE": "grpc",
			},
			wantErr: true,
		},
		{
			name: "production without auth secret",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
			},
			wantErr: true,
		},
		{
			name: "missing providers file",
			envVars: map[string]string{
				"PROVIDERS_FILE": "/does/not/exist.yaml",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestNew_ProvidersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: IpInfo
    base_url: https://ipinfo.io
    endpoint_format: "{ip}/json"
    max_requests_per_minute: 45
  - name: IpApi
    base_url: http://ip-api.com
    endpoint_format: json/{ip}
    max_requests_per_minute: 40
    artificial_delay: 150ms
    simulate_error_rate: 10
`), 0o600))

	os.Clearenv()
	os.Setenv("PROVIDERS_FILE", path)

	cfg, err := New(context.Background())
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ProvidersFile)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, 45, cfg.Providers[0].MaxRequestsPerMinute)
	assert.Equal(t, 150*time.Millisecond, cfg.Providers[1].ArtificialDelay)
	assert.Equal(t, 10, cfg.Providers[1].SimulateErrorRate)
}

func TestParseProviders(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
		wantLen int
	}{
		{
			name: "valid",
			data: `
providers:
  - name: GeoPlugin
    base_url: http://www.geoplugin.net
    endpoint_format: json.gp?ip={0}
    max_requests_per_minute: 3
`,
			wantLen: 1,
		},
		{name: "empty document", data: "", wantErr: "empty"},
		{name: "no providers", data: "providers: []\n", wantErr: "no providers"},
		{
			name: "unknown key",
			data: `
providers:
  - name: GeoPlugin
    base_url: http://www.geoplugin.net
    max_rpm: 3
`,
			wantErr: "parse providers file",
		},
		{name: "not yaml", data: "providers: [", wantErr: "parse providers file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			descs, err := ParseProviders([]byte(tt.data))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, descs, tt.wantLen)
		})
	}
}

func TestDefaultProviders(t *testing.T) {
	descs := DefaultProviders()

	names := make([]string, 0, len(descs))
	for _, d := range descs {
		require.NoError(t, d.Validate())
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"IpInfo", "IpApi", "IpData", "IpStack", "GeoPlugin"}, names)
	assert.Equal(t, "http://www.geoplugin.net/json.gp?ip=8.8.8.8", descs[4].URL("8.8.8.8"))
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment:   "development",
			Routing:       RoutingConfig{AdmissionMode: "reserve"},
			Dispatch:      DispatchConfig{Mode: DispatchSimulated, Timeout: time.Second},
			Observability: ObservabilityConfig{LogLevel: "info"},
			Providers:     DefaultProviders(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid development config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "no providers",
			mutate:  func(c *Config) { c.Providers = nil },
			wantErr: true,
			errMsg:  "at least one provider",
		},
		{
			name: "non-positive limit",
			mutate: func(c *Config) {
				c.Providers[1].MaxRequestsPerMinute = 0
			},
			wantErr: true,
			errMsg:  `provider "IpApi"`,
		},
		{
			name: "duplicate provider",
			mutate: func(c *Config) {
				c.Providers = append(c.Providers, providers.Descriptor{
					Name:                 "IpInfo",
					BaseURL:              "https://ipinfo.io",
					MaxRequestsPerMinute: 1,
				})
			},
			wantErr: true,
			errMsg:  "configured twice",
		},
		{
			name:    "unknown admission mode",
			mutate:  func(c *Config) { c.Routing.AdmissionMode = "greedy" },
			wantErr: true,
			errMsg:  "admission mode must be one of",
		},
		{
			name:    "unknown dispatch mode",
			mutate:  func(c *Config) { c.Dispatch.Mode = "grpc" },
			wantErr: true,
			errMsg:  "dispatch mode must be one of",
		},
		{
			name:    "zero dispatch timeout",
			mutate:  func(c *Config) { c.Dispatch.Timeout = 0 },
			wantErr: true,
			errMsg:  "dispatch timeout",
		},
		{
			name:    "missing log level",
			mutate:  func(c *Config) { c.Observability.LogLevel = "" },
			wantErr: true,
			errMsg:  "log level is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"dev", "dev", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue int
		want         int
	}{
		{"valid int", "TEST_INT", "42", 10, 42},
		{"empty value", "TEST_INT", "", 10, 10},
		{"invalid int", "TEST_INT", "not-a-number", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsInt(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", "TEST_BOOL", "true", false, true},
		{"false", "TEST_BOOL", "false", true, false},
		{"empty value", "TEST_BOOL", "", true, true},
		{"invalid bool", "TEST_BOOL", "not-a-bool", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
			}
			got := getEnvAsBool(tt.key, tt.defaultValue)
			assert.Equal(t, tt.want, got)
		})
	}
}
