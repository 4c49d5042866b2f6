package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code. The body is
// encoded before the header is sent, so an encoding failure is answered with
// a 500 instead of a truncated response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")

	if data == nil {
		w.WriteHeader(status)
		return nil
	}

	body, err := json.Marshal(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal_error","message":"failed to encode response"}` + "\n"))
		return fmt.Errorf("encode response: %w", err)
	}

	w.WriteHeader(status)
	_, err = w.Write(append(body, '\n'))
	return err
}

// WriteOK writes a 200 OK response with optional data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Authentication required"
	}
	return WriteError(w, http.StatusUnauthorized, message, nil)
}

// WriteServiceUnavailable writes a 503 Service Unavailable response
func WriteServiceUnavailable(w http.ResponseWriter, message string, details map[string]interface{}) error {
	if message == "" {
		message = "Service unavailable"
	}
	return WriteError(w, http.StatusServiceUnavailable, message, details)
}

// WriteBadGateway writes a 502 Bad Gateway response
func WriteBadGateway(w http.ResponseWriter, message string, details map[string]interface{}) error {
	if message == "" {
		message = "Upstream provider failed"
	}
	return WriteError(w, http.StatusBadGateway, message, details)
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteError(w, http.StatusInternalServerError, message, nil)
}

// WriteError writes an error response based on the status code
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	var errorType string
	switch status {
	case http.StatusBadRequest:
		errorType = "bad_request"
	case http.StatusUnauthorized:
		errorType = "unauthorized"
	case http.StatusNotFound:
		errorType = "not_found"
	case http.StatusConflict:
		errorType = "conflict"
	case http.StatusBadGateway:
		errorType = "bad_gateway"
	case http.StatusServiceUnavailable:
		errorType = "service_unavailable"
	default:
		errorType = "internal_error"
	}

	return WriteJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: message,
		Details: details,
	})
}
