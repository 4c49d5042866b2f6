package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/upb/ip-broker/services"
	"github.com/upb/ip-broker/utils"
)

// Descriptor is the static description of a geolocation provider. It is set
// once at startup and never changes.
type Descriptor struct {
	// Name uniquely identifies the provider (e.g., "IpInfo")
	Name string `yaml:"name" json:"name" validate:"required"`

	// BaseURL is the provider's API root
	BaseURL string `yaml:"base_url" json:"base_url" validate:"required,url"`

	// EndpointFormat is the path template appended to BaseURL. The lookup key
	// replaces "{ip}", "{0}" or "%s".
	EndpointFormat string `yaml:"endpoint_format" json:"endpoint_format"`

	// MaxRequestsPerMinute is the provider's admission ceiling
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute" json:"max_requests_per_minute" validate:"gt=0"`

	// ArtificialDelay is added before every simulated call
	ArtificialDelay time.Duration `yaml:"artificial_delay" json:"artificial_delay"`

	// SimulateErrorRate is the percentage (0-100) of simulated calls that fail
	SimulateErrorRate int `yaml:"simulate_error_rate" json:"simulate_error_rate" validate:"gte=0,lte=100"`
}

// Validate checks the descriptor against its struct constraints.
func (d Descriptor) Validate() error {
	if err := utils.ValidateStruct(d); err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidProviderConfig.Message, err).
			WithDetail(services.DetailProvider, d.Name).
			WithDetail("fields", utils.GetValidationFields(err))
	}
	return nil
}

// URL renders the provider endpoint for a lookup key.
func (d Descriptor) URL(key string) string {
	endpoint := strings.NewReplacer("{ip}", key, "{0}", key, "%s", key).Replace(d.EndpointFormat)
	if endpoint == "" {
		return strings.TrimRight(d.BaseURL, "/")
	}
	return strings.TrimRight(d.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// Dispatcher performs the actual lookup against a provider. It is invoked
// exactly once per selected request and must be safe for concurrent use.
// A non-empty payload must be a JSON document; anything else is recorded as a
// failed call.
type Dispatcher interface {
	Dispatch(ctx context.Context, desc Descriptor, key string) ([]byte, error)
}

// DispatchFunc adapts an ordinary function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, desc Descriptor, key string) ([]byte, error)

// Dispatch calls f(ctx, desc, key).
func (f DispatchFunc) Dispatch(ctx context.Context, desc Descriptor, key string) ([]byte, error) {
	return f(ctx, desc, key)
}

// CallError represents a failed call to a provider
type CallError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *CallError) Unwrap() error {
	return e.Cause
}

// NewCallError creates a new provider call error
func NewCallError(provider, code, message string, statusCode int, cause error) *CallError {
	return &CallError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// Clock supplies the current time to the metrics store.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}
