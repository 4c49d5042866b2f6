package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/ip-broker/services"
	"github.com/upb/ip-broker/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteError(w, http.StatusNotFound, err.Error(), details)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, err.Error())

	case services.IsUnavailableError(err):
		// every provider is at its per-minute limit
		writeErr = utils.WriteServiceUnavailable(w, err.Error(), details)

	case services.IsConflictError(err):
		writeErr = utils.WriteError(w, http.StatusConflict, err.Error(), details)

	case services.IsExternalError(err):
		writeErr = utils.WriteBadGateway(w, err.Error(), details)

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}

	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		logger.Debug("handled service error",
			zap.String("type", string(domainErr.Type)),
			zap.String("message", domainErr.Message),
			zap.Any("details", domainErr.Details))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
