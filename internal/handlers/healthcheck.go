package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streetintel/streetintel-backend/internal/services"
)

type HealthHandler struct {
	ai services.DetectionClient
}

func NewHealthHandler(ai services.DetectionClient) *HealthHandler {
	return &HealthHandler{ai: ai}
}

// GET /healthcheck
// Detector reachability is reported but never fails the check; ingestion
// works with the detector down.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	detector := "ok"
	if h.ai != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ai.Health(ctx); err != nil {
			detector = "unreachable"
		}
	} else {
		detector = "unconfigured"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "detector": detector})
}
