package services

import (
  "context"
  "fmt"
  "os"
  "path/filepath"
  "strings"

  "github.com/google/uuid"

  "github.com/streetintel/streetintel-backend/internal/logger"
  "github.com/streetintel/streetintel-backend/internal/utils"
)

// ImageStore persists uploaded report photos and hands back stored bytes for
// re-analysis. The local-disk implementation matches the original deployment,
// which served images straight from an uploads directory.
type ImageStore interface {
  Save(ctx context.Context, data []byte, originalName string) (key string, err error)
  Load(ctx context.Context, key string) ([]byte, error)
  PublicURL(key string) string
}

type localImageStore struct {
  log *logger.Logger
  dir string
}

func NewLocalImageStore(log *logger.Logger) (ImageStore, error) {
  storeLog := log.With("service", "LocalImageStore")
  dir := utils.GetEnv("UPLOAD_DIR", "uploads", log)
  if err := os.MkdirAll(dir, 0o755); err != nil {
    return nil, fmt.Errorf("create upload dir: %w", err)
  }
  return &localImageStore{log: storeLog, dir: dir}, nil
}

func (s *localImageStore) Save(ctx context.Context, data []byte, originalName string) (string, error) {
  if len(data) == 0 {
    return "", fmt.Errorf("empty image data")
  }
  ext := strings.ToLower(filepath.Ext(originalName))
  switch ext {
  case ".jpg", ".jpeg", ".png", ".webp":
  default:
    ext = ".jpg"
  }
  key := uuid.New().String() + ext
  path := filepath.Join(s.dir, key)
  if err := os.WriteFile(path, data, 0o644); err != nil {
    return "", fmt.Errorf("write image %s: %w", key, err)
  }
  s.log.Debug("Stored report image", "key", key, "bytes", len(data))
  return key, nil
}

func (s *localImageStore) Load(ctx context.Context, key string) ([]byte, error) {
  // Keys are uuid-generated; reject anything path-like.
  if key == "" || key != filepath.Base(key) {
    return nil, fmt.Errorf("invalid image key %q", key)
  }
  data, err := os.ReadFile(filepath.Join(s.dir, key))
  if err != nil {
    return nil, fmt.Errorf("read image %s: %w", key, err)
  }
  return data, nil
}

func (s *localImageStore) PublicURL(key string) string {
  return "/uploads/" + key
}
