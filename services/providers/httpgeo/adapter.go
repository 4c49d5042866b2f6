// Package httpgeo dispatches lookups to real geolocation HTTP APIs.
package httpgeo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/ip-broker/services/providers"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 1 << 20
	defaultUserAgent    = "ip-broker/1.0"
)

// Config holds HTTP client settings shared by every provider.
type Config struct {
	// Timeout bounds a single request, including reading the body
	Timeout time.Duration

	// MaxBodyBytes caps how much of a response body is read
	MaxBodyBytes int64

	// UserAgent is sent with every request
	UserAgent string

	// Headers are added to every request
	Headers map[string]string
}

// Adapter implements providers.Dispatcher with a GET against Descriptor.URL.
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// NewAdapter creates a new HTTP adapter
func NewAdapter(config Config) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Dispatch fetches the provider's geolocation document for key. Any transport
// error or non-2xx status is reported as a *providers.CallError.
func (a *Adapter) Dispatch(ctx context.Context, desc providers.Descriptor, key string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL(key), nil)
	if err != nil {
		return nil, providers.NewCallError(desc.Name, "REQUEST_ERROR", "Failed to create request", 0, err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", a.config.UserAgent)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewCallError(desc.Name, "HTTP_ERROR", "HTTP request failed", 0, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, a.config.MaxBodyBytes))
	if err != nil {
		return nil, providers.NewCallError(desc.Name, "READ_ERROR", "Failed to read response", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, handleErrorResponse(desc.Name, httpResp.StatusCode, body)
	}

	if !json.Valid(body) {
		return nil, providers.NewCallError(desc.Name, "INVALID_RESPONSE", "Response is not valid JSON", httpResp.StatusCode, nil)
	}

	return body, nil
}

// errorBody covers the error shapes the common geolocation APIs return.
type errorBody struct {
	Message string `json:"message"`
	Error   any    `json:"error"`
	Reason  string `json:"reason"`
}

func handleErrorResponse(provider string, statusCode int, body []byte) error {
	message := http.StatusText(statusCode)

	var errResp errorBody
	if err := json.Unmarshal(body, &errResp); err == nil {
		switch {
		case errResp.Message != "":
			message = errResp.Message
		case errResp.Reason != "":
			message = errResp.Reason
		}
	}

	return providers.NewCallError(
		provider,
		"HTTP_STATUS",
		message,
		statusCode,
		fmt.Errorf("unexpected status %d", statusCode),
	)
}
