package services

import (
  "bytes"
  "context"
  "encoding/json"
  "errors"
  "fmt"
  "io"
  "mime/multipart"
  "net/http"
  "strings"
  "time"

  "github.com/streetintel/streetintel-backend/internal/logger"
  "github.com/streetintel/streetintel-backend/internal/types"
  "github.com/streetintel/streetintel-backend/internal/utils"
)

// ErrDetectorUnavailable wraps transport-level failures reaching the detector
// service (connection refused, DNS, timeout).
var ErrDetectorUnavailable = errors.New("detector unavailable")

type DetectorHTTPError struct {
  StatusCode int
  Body       string
}

func (e *DetectorHTTPError) Error() string {
  return fmt.Sprintf("detector http %d: %s", e.StatusCode, e.Body)
}

type DetectionClient interface {
  // Detect runs one image through the detector and returns the normalized
  // result. Below-threshold and defect-absent responses come back as a
  // no-defect result, not an error.
  Detect(ctx context.Context, image []byte, filename string) (*types.DetectionResult, error)
  Health(ctx context.Context) error
}

type detectionClient struct {
  log        *logger.Logger
  baseURL    string
  threshold  float64
  httpClient *http.Client
}

// NewDetectionClient reads AI_SERVICE_URL, AI_TIMEOUT_SECONDS and
// AI_CONFIDENCE_THRESHOLD. The timeout default is generous because the
// detector may cold-start its model on the first request.
func NewDetectionClient(log *logger.Logger) DetectionClient {
  clientLog := log.With("service", "DetectionClient")

  baseURL := strings.TrimRight(utils.GetEnv("AI_SERVICE_URL", "http://localhost:8000", log), "/")
  timeoutSec := utils.GetEnvAsInt("AI_TIMEOUT_SECONDS", 60, log)
  threshold := utils.GetEnvAsFloat("AI_CONFIDENCE_THRESHOLD", 0.35, log)

  return &detectionClient{
    log:        clientLog,
    baseURL:    baseURL,
    threshold:  threshold,
    httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
  }
}

func (c *detectionClient) Detect(ctx context.Context, image []byte, filename string) (*types.DetectionResult, error) {
  if len(image) == 0 {
    return nil, errors.New("empty image")
  }
  if filename == "" {
    filename = "image.jpg"
  }

  var buf bytes.Buffer
  mw := multipart.NewWriter(&buf)
  part, err := mw.CreateFormFile("file", filename)
  if err != nil {
    return nil, err
  }
  if _, err := part.Write(image); err != nil {
    return nil, err
  }
  if err := mw.Close(); err != nil {
    return nil, err
  }

  req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", &buf)
  if err != nil {
    return nil, err
  }
  req.Header.Set("Content-Type", mw.FormDataContentType())

  resp, err := c.httpClient.Do(req)
  if err != nil {
    return nil, fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
  }
  raw, readErr := io.ReadAll(resp.Body)
  _ = resp.Body.Close()
  if readErr != nil {
    return nil, fmt.Errorf("%w: read response: %v", ErrDetectorUnavailable, readErr)
  }

  if resp.StatusCode < 200 || resp.StatusCode >= 300 {
    return nil, &DetectorHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
  }

  var result types.DetectionResult
  if err := json.Unmarshal(raw, &result); err != nil {
    return nil, fmt.Errorf("detector decode error: %w; raw=%s", err, string(raw))
  }

  return c.normalize(&result), nil
}

// normalize collapses invalid and below-threshold detections into "no defect
// found" so callers never branch on detector internals.
func (c *detectionClient) normalize(result *types.DetectionResult) *types.DetectionResult {
  if !result.DefectFound() {
    return &types.DetectionResult{Confidence: result.Confidence}
  }
  if !result.IsValid || result.Confidence < c.threshold {
    c.log.Debug("Detection below validity threshold, treating as clean",
      "confidence", result.Confidence,
      "threshold", c.threshold,
    )
    return &types.DetectionResult{Confidence: result.Confidence}
  }
  return result
}

func (c *detectionClient) Health(ctx context.Context) error {
  req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
  if err != nil {
    return err
  }
  resp, err := c.httpClient.Do(req)
  if err != nil {
    return fmt.Errorf("%w: %v", ErrDetectorUnavailable, err)
  }
  _ = resp.Body.Close()
  if resp.StatusCode != http.StatusOK {
    return &DetectorHTTPError{StatusCode: resp.StatusCode}
  }
  return nil
}
