package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/ip-broker/services/providers"
	"github.com/upb/ip-broker/services/routing"
	"github.com/upb/ip-broker/utils"
	"go.uber.org/zap"
)

// LookupService is the part of the routing service the lookup endpoints use.
type LookupService interface {
	HandleRequest(ctx context.Context, key string) (*routing.LookupResult, error)
	Stats() []providers.Snapshot
}

// lookupRequest is the validated form of GET /api/v1/lookup/{ip}
type lookupRequest struct {
	IP string `validate:"required,ip"`
}

// ProvidersResponse lists the current provider statistics.
type ProvidersResponse struct {
	Providers []providers.Snapshot `json:"providers"`
}

// LookupHandler handles geolocation lookups and provider statistics
type LookupHandler struct {
	service LookupService
	logger  *zap.Logger
}

// NewLookupHandler creates a new LookupHandler
func NewLookupHandler(service LookupService, logger *zap.Logger) *LookupHandler {
	return &LookupHandler{
		service: service,
		logger:  logger,
	}
}

// HandleLookup handles GET /api/v1/lookup/{ip}
func (h *LookupHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	req := lookupRequest{IP: chi.URLParam(r, "ip")}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.HandleRequest(r.Context(), req.IP)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write lookup response", zap.Error(err))
	}
}

// HandleProviders handles GET /api/v1/providers
func (h *LookupHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, ProvidersResponse{Providers: h.service.Stats()}); err != nil {
		h.logger.Error("failed to write providers response", zap.Error(err))
	}
}
