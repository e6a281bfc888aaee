package main

import (
  "context"
  "fmt"
  "os"

  "github.com/streetintel/streetintel-backend/internal/clients/redis"
  "github.com/streetintel/streetintel-backend/internal/db"
  "github.com/streetintel/streetintel-backend/internal/handlers"
  "github.com/streetintel/streetintel-backend/internal/logger"
  "github.com/streetintel/streetintel-backend/internal/middleware"
  "github.com/streetintel/streetintel-backend/internal/observability"
  "github.com/streetintel/streetintel-backend/internal/repos"
  "github.com/streetintel/streetintel-backend/internal/server"
  "github.com/streetintel/streetintel-backend/internal/services"
  "github.com/streetintel/streetintel-backend/internal/sse"
  "github.com/streetintel/streetintel-backend/internal/utils"
)

func main() {
  // Logger
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    fmt.Printf("Failed to init logger: %v\n", err)
    os.Exit(1)
  }
  defer log.Sync()

  // Tracing (no-op unless OTEL_ENABLED)
  shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
    ServiceName: "streetintel-backend",
    Environment: utils.GetEnv("APP_ENV", "development", log),
    Version:     utils.GetEnv("APP_VERSION", "dev", log),
  })
  if shutdownOTel != nil {
    defer func() { _ = shutdownOTel(context.Background()) }()
  }

  // Report store
  dbService, err := db.NewDBService(log)
  if err != nil {
    log.Error("Report store init failed", "error", err)
    os.Exit(1)
  }
  defer dbService.Close()
  if err := dbService.AutoMigrateAll(); err != nil {
    log.Error("Report store migration failed", "error", err)
    os.Exit(1)
  }
  theDB := dbService.DB()

  // Repos
  log.Info("Setting up repos from main...")
  reportRepo := repos.NewReportRepo(theDB, log)

  // SSE
  log.Info("Setting up SSE hub now...")
  sseHub := sse.NewSSEHub(log)

  // Optional heatmap cache
  cache, err := redis.NewCache(log)
  if err != nil {
    log.Warn("Heatmap cache disabled", "error", err)
    cache = nil
  } else {
    defer cache.Close()
  }

  // Services
  log.Info("Setting up services from main...")
  imageStore, err := services.NewLocalImageStore(log)
  if err != nil {
    log.Error("Could not init image store", "error", err)
    os.Exit(1)
  }
  detectionClient := services.NewDetectionClient(log)
  reportService := services.NewReportService(theDB, log, reportRepo, imageStore, detectionClient, sseHub, cache)
  heatmapService := services.NewHeatmapService(theDB, log, reportRepo, cache)

  // Handlers
  log.Info("Setting up handlers from main...")
  healthHandler := handlers.NewHealthHandler(detectionClient)
  reportHandler := handlers.NewReportHandler(log, reportService)
  heatmapHandler := handlers.NewHeatmapHandler(log, heatmapService)
  streamHandler := handlers.NewStreamHandler(log, sseHub)

  // Router
  log.Info("Setting up router from main...")
  router := server.NewRouter(server.RouterConfig{
    HealthHandler:  healthHandler,
    ReportHandler:  reportHandler,
    HeatmapHandler: heatmapHandler,
    StreamHandler:  streamHandler,
    RequestLogger:  middleware.NewRequestLogger(log),
    UploadDir:      utils.GetEnv("UPLOAD_DIR", "uploads", log),
  })

  port := utils.GetEnv("PORT", "8080", log)
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Error("Server failed", "error", err)
  }
}
