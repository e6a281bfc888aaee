package middleware

import (
  "time"

  "github.com/gin-gonic/gin"

  "github.com/streetintel/streetintel-backend/internal/logger"
)

type RequestLogger struct {
  log *logger.Logger
}

func NewRequestLogger(log *logger.Logger) *RequestLogger {
  return &RequestLogger{log: log.With("middleware", "RequestLogger")}
}

// Handler logs one structured line per request. The SSE stream endpoint is
// skipped; those connections stay open for minutes and would log nonsense
// latencies.
func (rl *RequestLogger) Handler() gin.HandlerFunc {
  return func(c *gin.Context) {
    if c.FullPath() == "/api/stream" {
      c.Next()
      return
    }

    start := time.Now()
    c.Next()

    rl.log.Info("request",
      "method", c.Request.Method,
      "path", c.Request.URL.Path,
      "status", c.Writer.Status(),
      "duration_ms", time.Since(start).Milliseconds(),
      "client_ip", c.ClientIP(),
    )
  }
}
