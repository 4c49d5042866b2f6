package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/upb/ip-broker/services/providers"
	"gopkg.in/yaml.v3"
)

// providersFile is the on-disk layout of PROVIDERS_FILE:
//
//	providers:
//	  - name: IpInfo
//	    base_url: https://ipinfo.io
//	    endpoint_format: "{ip}/json"
//	    max_requests_per_minute: 2
//	    artificial_delay: 100ms
//	    simulate_error_rate: 0
type providersFile struct {
	Providers []providers.Descriptor `yaml:"providers"`
}

// DefaultProviders returns the built-in demo provider set, in ranking
// tie-break order.
func DefaultProviders() []providers.Descriptor {
	return []providers.Descriptor{
		{
			Name:                 "IpInfo",
			BaseURL:              "https://ipinfo.io",
			EndpointFormat:       "{ip}/json",
			MaxRequestsPerMinute: 2,
			ArtificialDelay:      100 * time.Millisecond,
			SimulateErrorRate:    0,
		},
		{
			Name:                 "IpApi",
			BaseURL:              "http://ip-api.com",
			EndpointFormat:       "json/{ip}",
			MaxRequestsPerMinute: 3,
			ArtificialDelay:      150 * time.Millisecond,
			SimulateErrorRate:    50,
		},
		{
			Name:                 "IpData",
			BaseURL:              "https://api.ipdata.co",
			EndpointFormat:       "{ip}",
			MaxRequestsPerMinute: 2,
			ArtificialDelay:      200 * time.Millisecond,
			SimulateErrorRate:    0,
		},
		{
			Name:                 "IpStack",
			BaseURL:              "http://api.ipstack.com",
			EndpointFormat:       "{ip}",
			MaxRequestsPerMinute: 2,
			ArtificialDelay:      300 * time.Millisecond,
			SimulateErrorRate:    80,
		},
		{
			Name:                 "GeoPlugin",
			BaseURL:              "http://www.geoplugin.net",
			EndpointFormat:       "json.gp?ip={ip}",
			MaxRequestsPerMinute: 3,
			ArtificialDelay:      250 * time.Millisecond,
			SimulateErrorRate:    20,
		},
	}
}

// LoadProviders reads a provider set from a YAML file. Unknown keys are
// rejected so that typos do not silently fall back to zero values.
func LoadProviders(path string) ([]providers.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseProviders(data)
}

// ParseProviders decodes a YAML provider set.
func ParseProviders(data []byte) ([]providers.Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file providersFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("providers file is empty")
		}
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("providers file lists no providers")
	}
	return file.Providers, nil
}
