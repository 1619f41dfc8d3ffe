package handlers

import (
	"context"

	"github.com/neizzzy/garage/internal/server/dto"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	info BuildInfo
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(info BuildInfo) *HealthHandler {
	return &HealthHandler{info: info}
}

// Health handles health check requests.
func (h *HealthHandler) Health(_ context.Context, _ *dto.HealthRequest) (*dto.HealthResponse, error) {
	return &dto.HealthResponse{
		Status:    "ok",
		Version:   h.info.Version,
		GoVersion: h.info.GoVersion,
		Revision:  h.info.Revision,
		Dirty:     h.info.Dirty,
	}, nil
}
