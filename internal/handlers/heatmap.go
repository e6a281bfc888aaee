package handlers

import (
  "net/http"
  "strconv"

  "github.com/gin-gonic/gin"

  "github.com/streetintel/streetintel-backend/internal/logger"
  "github.com/streetintel/streetintel-backend/internal/services"
  "github.com/streetintel/streetintel-backend/internal/types"
)

type HeatmapHandler struct {
  log            *logger.Logger
  heatmapService services.HeatmapService
}

func NewHeatmapHandler(log *logger.Logger, hsvc services.HeatmapService) *HeatmapHandler {
  return &HeatmapHandler{
    log:            log.With("handler", "HeatmapHandler"),
    heatmapService: hsvc,
  }
}

// GET /api/heatmap?grid_size=&min_reports=&status=&danger=
func (h *HeatmapHandler) GetHeatmap(c *gin.Context) {
  query := services.HeatmapQuery{}

  if raw := c.Query("grid_size"); raw != "" {
    v, err := strconv.ParseFloat(raw, 64)
    if err != nil || v <= 0 {
      RespondError(c, http.StatusBadRequest, "bad_grid_size", errInvalidQuery("grid_size", raw))
      return
    }
    query.GridSize = v
  }
  if raw := c.Query("min_reports"); raw != "" {
    v, err := strconv.Atoi(raw)
    if err != nil || v < 1 {
      RespondError(c, http.StatusBadRequest, "bad_min_reports", errInvalidQuery("min_reports", raw))
      return
    }
    query.MinReports = v
  }
  if raw := c.Query("status"); raw != "" {
    status := types.ReportStatus(raw)
    if !status.Valid() {
      RespondError(c, http.StatusBadRequest, "bad_status", errInvalidQuery("status", raw))
      return
    }
    query.Status = &status
  }
  if raw := c.Query("danger"); raw != "" {
    danger := types.DangerLevel(raw)
    query.Danger = &danger
  }

  resp, err := h.heatmapService.Build(c.Request.Context(), query)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, resp)
}
