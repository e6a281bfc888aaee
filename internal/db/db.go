package db

import (
  "fmt"
  "os"
  "path/filepath"
  "strings"

  "gorm.io/driver/postgres"
  "gorm.io/driver/sqlite"
  "gorm.io/gorm"

  "github.com/streetintel/streetintel-backend/internal/logger"
  "github.com/streetintel/streetintel-backend/internal/types"
  "github.com/streetintel/streetintel-backend/internal/utils"
)

type DBService struct {
  db  *gorm.DB
  log *logger.Logger
}

// NewDBService opens the report store. DB_DRIVER selects sqlite (default,
// file-backed like the original deployment) or postgres.
func NewDBService(log *logger.Logger) (*DBService, error) {
  serviceLog := log.With("service", "DBService")

  driver := strings.ToLower(utils.GetEnv("DB_DRIVER", "sqlite", log))

  var (
    gdb *gorm.DB
    err error
  )
  switch driver {
  case "postgres":
    host := utils.GetEnv("POSTGRES_HOST", "localhost", log)
    port := utils.GetEnv("POSTGRES_PORT", "5432", log)
    user := utils.GetEnv("POSTGRES_USER", "postgres", log)
    password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
    name := utils.GetEnv("POSTGRES_NAME", "streetintel", log)
    dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
    serviceLog.Info("Connecting to Postgres...")
    gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
  case "sqlite":
    path := utils.GetEnv("DB_PATH", "data/streetintel.db", log)
    if dir := filepath.Dir(path); dir != "." {
      if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
        return nil, fmt.Errorf("create sqlite dir: %w", mkErr)
      }
    }
    serviceLog.Info("Opening SQLite store...", "path", path)
    gdb, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
  default:
    return nil, fmt.Errorf("unknown DB_DRIVER %q (want sqlite or postgres)", driver)
  }
  if err != nil {
    serviceLog.Error("Failed to open report store", "driver", driver, "error", err)
    return nil, fmt.Errorf("open report store: %w", err)
  }

  return &DBService{db: gdb, log: serviceLog}, nil
}

func (s *DBService) AutoMigrateAll() error {
  s.log.Info("Auto migrating report tables...")
  if err := s.db.AutoMigrate(&types.Report{}); err != nil {
    s.log.Error("Auto migration failed", "error", err)
    return err
  }
  return nil
}

func (s *DBService) DB() *gorm.DB {
  return s.db
}

func (s *DBService) Close() error {
  sqlDB, err := s.db.DB()
  if err != nil {
    return err
  }
  return sqlDB.Close()
}
