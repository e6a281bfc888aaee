package handlers

import (
  "github.com/gin-gonic/gin"

  "github.com/streetintel/streetintel-backend/internal/logger"
  "github.com/streetintel/streetintel-backend/internal/sse"
)

type StreamHandler struct {
  log    *logger.Logger
  sseHub *sse.SSEHub
}

func NewStreamHandler(log *logger.Logger, hub *sse.SSEHub) *StreamHandler {
  return &StreamHandler{
    log:    log.With("handler", "StreamHandler"),
    sseHub: hub,
  }
}

// GET /api/stream
// Long-lived SSE stream of report lifecycle events.
func (h *StreamHandler) Stream(c *gin.Context) {
  client := h.sseHub.NewSSEClient()
  h.sseHub.AddChannel(client, sse.ChannelReports)
  defer h.sseHub.CloseClient(client)

  h.sseHub.ServeHTTP(c.Writer, c.Request, client)
}
