package server

import (
  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"
  "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

  "github.com/streetintel/streetintel-backend/internal/handlers"
  "github.com/streetintel/streetintel-backend/internal/middleware"
)

type RouterConfig struct {
  HealthHandler  *handlers.HealthHandler
  ReportHandler  *handlers.ReportHandler
  HeatmapHandler *handlers.HeatmapHandler
  StreamHandler  *handlers.StreamHandler
  RequestLogger  *middleware.RequestLogger

  UploadDir string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.New()
  router.Use(gin.Recovery())
  router.Use(otelgin.Middleware("streetintel-backend"))
  if cfg.RequestLogger != nil {
    router.Use(cfg.RequestLogger.Handler())
  }

  // Cors
  router.Use(cors.New(cors.Config{
    AllowOrigins:     []string{"*"},
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: false,
  }))

  router.GET("/healthcheck", cfg.HealthHandler.HealthCheck)

  // Stored report photos are served straight off disk, same paths the rows
  // carry in image_url.
  if cfg.UploadDir != "" {
    router.Static("/uploads", cfg.UploadDir)
  }

  api := router.Group("/api")
  {
    api.POST("/reports", cfg.ReportHandler.CreateReport)
    api.GET("/reports", cfg.ReportHandler.ListReports)
    api.GET("/reports/stats", cfg.ReportHandler.ReportStats)
    api.POST("/reports/reanalyze-stuck", cfg.ReportHandler.ReanalyzeStuck)
    api.GET("/reports/:id", cfg.ReportHandler.GetReport)
    api.PATCH("/reports/:id/description", cfg.ReportHandler.UpdateDescription)
    api.POST("/reports/:id/assign", cfg.ReportHandler.AssignReport)
    api.POST("/reports/:id/complete", cfg.ReportHandler.CompleteReport)
    api.POST("/reports/:id/pause", cfg.ReportHandler.PauseReport)
    api.POST("/reports/:id/resume", cfg.ReportHandler.ResumeReport)
    api.POST("/reports/:id/reanalyze", cfg.ReportHandler.ReanalyzeReport)

    api.GET("/heatmap", cfg.HeatmapHandler.GetHeatmap)
    api.GET("/stream", cfg.StreamHandler.Stream)
  }

  return router
}
