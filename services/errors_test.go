package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "provider not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "provider not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeExternal,
				Message: "provider call failed",
				Err:     errors.New("connection refused"),
			},
			wantMsg: "external: provider call failed (connection refused)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeUnavailable,
				Message: "no available provider at the moment",
			},
			wantMsg: "unavailable: no available provider at the moment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same type and message",
			err:    NewDomainError(ErrorTypeNotFound, "provider not found", nil),
			target: ErrProviderNotFound,
			want:   true,
		},
		{
			name:   "same type, different message",
			err:    NewDomainError(ErrorTypeValidation, "invalid lookup key", nil),
			target: ErrInvalidProviderConfig,
			want:   false,
		},
		{
			name:   "target without message matches on type",
			err:    ErrInvalidLookupKey,
			target: &DomainError{Type: ErrorTypeValidation},
			want:   true,
		},
		{
			name:   "different type",
			err:    NewDomainError(ErrorTypeValidation, "provider not found", nil),
			target: ErrProviderNotFound,
			want:   false,
		},
		{
			name:   "provider error matches sentinel",
			err:    NewProviderError("IpApi", errors.New("simulated error")),
			target: ErrProviderError,
			want:   true,
		},
		{
			name:   "wrapped domain error",
			err:    fmt.Errorf("lookup: %w", ErrNoProviderAvailable),
			target: ErrNoProviderAvailable,
			want:   true,
		},
		{
			name:   "non-domain target",
			err:    ErrInternal,
			target: errors.New("internal server error"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := &DomainError{Type: ErrorTypeConflict, Message: "duplicate"}
	err.WithDetail(DetailProvider, "IpInfo").WithDetail("limit", 2)

	require.NotNil(t, err.Details)
	assert.Equal(t, "IpInfo", err.Details[DetailProvider])
	assert.Equal(t, 2, err.Details["limit"])
}

func TestNewProviderError(t *testing.T) {
	cause := errors.New("HTTP 500")
	err := NewProviderError("IpStack", cause)

	assert.True(t, IsExternalError(err))
	assert.Equal(t, "IpStack", ProviderName(err))
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, ErrProviderError.Details, "sentinel must not be mutated")
}

func TestErrorTypeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{name: "not found", err: ErrProviderNotFound, check: IsNotFoundError, want: true},
		{name: "validation", err: ErrInvalidLookupKey, check: IsValidationError, want: true},
		{name: "unauthorized", err: ErrUnauthorized, check: IsUnauthorizedError, want: true},
		{name: "unavailable", err: ErrNoProviderAvailable, check: IsUnavailableError, want: true},
		{name: "conflict", err: ErrDuplicateProvider, check: IsConflictError, want: true},
		{name: "internal", err: ErrInternal, check: IsInternalError, want: true},
		{name: "external", err: ErrProviderError, check: IsExternalError, want: true},
		{name: "unavailable is not external", err: ErrNoProviderAvailable, check: IsExternalError, want: false},
		{name: "plain error", err: errors.New("boom"), check: IsInternalError, want: false},
		{name: "nil", err: nil, check: IsNotFoundError, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeUnavailable, GetErrorType(ErrNoProviderAvailable))
	assert.Equal(t, ErrorTypeExternal, GetErrorType(fmt.Errorf("wrapped: %w", NewProviderError("IpApi", nil))))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("regular error")))
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeValidation, "invalid", nil).WithDetail("field", "ip")
	assert.Equal(t, "ip", GetErrorDetails(err)["field"])
	assert.Nil(t, GetErrorDetails(errors.New("regular error")))
	assert.Empty(t, ProviderName(errors.New("regular error")))
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("base")

	wrapped := WrapError(ErrorTypeExternal, "dispatch failed", base)
	assert.True(t, IsExternalError(wrapped))
	assert.ErrorIs(t, wrapped, base)

	assert.True(t, IsValidationError(WrapValidation("bad descriptor", base)))
	assert.True(t, IsInternalError(WrapInternal("unexpected", base)))
}
