package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/upb/ip-broker/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CapacityReporter reports how many providers could take a request right now.
type CapacityReporter interface {
	Available() int
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	capacity CapacityReporter
	total    int
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler for a set of total providers.
func NewHealthHandler(capacity CapacityReporter, total int, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		capacity: capacity,
		total:    total,
		logger:   logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Ready while at least one provider is under its per-minute limit
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	available := h.capacity.Available()

	status := "healthy"
	httpStatus := http.StatusOK
	if available == 0 {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		h.logger.Warn("no provider has capacity", zap.Int("providers", h.total))
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks: map[string]string{
			"providers": fmt.Sprintf("%d/%d available", available, h.total),
		},
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
