package services

import (
  "context"
  "encoding/json"
  "errors"
  "fmt"
  "sync"
  "time"

  "golang.org/x/sync/errgroup"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  rediscache "github.com/streetintel/streetintel-backend/internal/clients/redis"
  "github.com/streetintel/streetintel-backend/internal/logger"
  "github.com/streetintel/streetintel-backend/internal/repos"
  "github.com/streetintel/streetintel-backend/internal/sse"
  "github.com/streetintel/streetintel-backend/internal/types"
  "github.com/streetintel/streetintel-backend/internal/utils"
)

var (
  // ErrValidation marks caller mistakes (missing capture fields); handlers
  // map it to 400.
  ErrValidation = errors.New("validation failed")

  // ErrInvalidTransition marks workflow moves the lifecycle does not allow;
  // handlers map it to 409.
  ErrInvalidTransition = errors.New("invalid status transition")
)

type CreateReportInput struct {
  Image     []byte
  Filename  string
  Latitude  *float64
  Longitude *float64

  GPSAccuracy     *float64
  CapturedAt      *time.Time
  Description     string
  ReporterName    string
  ReporterContact string
}

type CompleteReportInput struct {
  Image    []byte
  Filename string
  Notes    string
}

type ReenrichSummary struct {
  Scanned      int `json:"scanned"`
  Enriched     int `json:"enriched"`
  Failed       int `json:"failed"`
  MissingImage int `json:"missing_image"`
}

type ReportStats struct {
  Total            int64                          `json:"total"`
  ByStatus         map[types.ReportStatus]int64   `json:"by_status"`
  PendingDetection int64                          `json:"pending_detection"`
}

type ReportService interface {
  // Create is the synchronous ingestion phase: it validates, stores the
  // image, persists the pending row and returns. Enrichment is dispatched
  // as a detached task and is never awaited.
  Create(ctx context.Context, input CreateReportInput) (*types.Report, error)

  Get(ctx context.Context, id uint) (*types.Report, error)
  List(ctx context.Context, filter repos.ReportListFilter) ([]*types.Report, int64, error)
  UpdateDescription(ctx context.Context, id uint, description string) (*types.Report, error)

  Assign(ctx context.Context, id uint, assignee string) (*types.Report, error)
  Complete(ctx context.Context, id uint, input CompleteReportInput) (*types.Report, error)
  Pause(ctx context.Context, id uint) (*types.Report, error)
  Resume(ctx context.Context, id uint) (*types.Report, error)

  // Reenrich re-runs the enrichment phase for one report from its stored
  // image. Safe to call repeatedly; the latest run wins.
  Reenrich(ctx context.Context, id uint) error

  // ReenrichStuck sweeps reports whose enrichment never completed and
  // re-runs them with bounded parallelism.
  ReenrichStuck(ctx context.Context, limit int) (*ReenrichSummary, error)

  Stats(ctx context.Context) (*ReportStats, error)
}

type reportService struct {
  db  *gorm.DB
  log *logger.Logger

  reportRepo repos.ReportRepo
  images     ImageStore
  ai         DetectionClient
  sseHub     *sse.SSEHub
  cache      rediscache.Cache

  sweepParallelism int
}

func NewReportService(
  db *gorm.DB,
  baseLog *logger.Logger,
  reportRepo repos.ReportRepo,
  images ImageStore,
  ai DetectionClient,
  sseHub *sse.SSEHub,
  cache rediscache.Cache,
) ReportService {
  return &reportService{
    db:               db,
    log:              baseLog.With("service", "ReportService"),
    reportRepo:       reportRepo,
    images:           images,
    ai:               ai,
    sseHub:           sseHub,
    cache:            cache,
    sweepParallelism: utils.GetEnvAsInt("REENRICH_PARALLELISM", 4, baseLog),
  }
}

func (rs *reportService) Create(ctx context.Context, input CreateReportInput) (*types.Report, error) {
  if len(input.Image) == 0 {
    return nil, fmt.Errorf("%w: image is required", ErrValidation)
  }
  if input.Latitude == nil || input.Longitude == nil {
    return nil, fmt.Errorf("%w: latitude and longitude are required", ErrValidation)
  }
  if *input.Latitude < -90 || *input.Latitude > 90 {
    return nil, fmt.Errorf("%w: latitude out of range", ErrValidation)
  }
  if *input.Longitude < -180 || *input.Longitude > 180 {
    return nil, fmt.Errorf("%w: longitude out of range", ErrValidation)
  }

  key, err := rs.images.Save(ctx, input.Image, input.Filename)
  if err != nil {
    return nil, fmt.Errorf("store image: %w", err)
  }

  now := time.Now()
  report := &types.Report{
    ImageURL:        rs.images.PublicURL(key),
    StorageKey:      key,
    Latitude:        *input.Latitude,
    Longitude:       *input.Longitude,
    GPSAccuracy:     input.GPSAccuracy,
    CapturedAt:      input.CapturedAt,
    Description:     input.Description,
    ReporterName:    input.ReporterName,
    ReporterContact: input.ReporterContact,
    Status:          types.StatusUnassigned,
    CreatedAt:       now,
    UpdatedAt:       now,
  }
  if _, err := rs.reportRepo.Create(ctx, nil, report); err != nil {
    return nil, fmt.Errorf("create report: %w", err)
  }

  rs.broadcast(sse.SSEEventReportCreated, report)

  // Phase B: detached, at-most-once, no retry. The caller's context must
  // not cancel it, so it runs on a fresh background context. A failed run
  // leaves the report pending until someone calls Reenrich.
  image := input.Image
  go rs.enrich(context.Background(), report.ReportID, image, input.Filename, input.GPSAccuracy)

  return report, nil
}

// enrich runs detection and writes the whole detection column set in one
// update. Concurrent runs for the same report are last-write-wins; the result
// is convergent because detection is deterministic for a given image.
func (rs *reportService) enrich(ctx context.Context, reportID uint, image []byte, filename string, gpsAccuracy *float64) {
  log := rs.log.With("report_id", reportID)

  det, err := rs.ai.Detect(ctx, image, filename)
  if err != nil {
    log.Warn("Enrichment failed, report stays pending", "error", err)
    return
  }

  score := ComputeQualityScore(det, gpsAccuracy)
  updates := detectionUpdates(det, score)

  if err := rs.reportRepo.UpdateFields(ctx, nil, reportID, updates); err != nil {
    log.Error("Failed to write detection results", "error", err)
    return
  }
  log.Info("Report enriched",
    "defect_found", det.DefectFound(),
    "confidence", det.Confidence,
    "quality_score", score,
  )

  if rs.cache != nil {
    rs.cache.InvalidateHeatmap(ctx)
  }

  if fresh, err := rs.reportRepo.GetByID(ctx, nil, reportID); err == nil {
    rs.broadcast(sse.SSEEventReportEnriched, fresh)
  }
}

// detectionUpdates builds the single-statement column set for one enrichment
// run. An analyzed-clean report keeps NULL defect fields but gets the perfect
// quality score, which is how "analyzed, nothing found" is distinguished from
// "pending".
func detectionUpdates(det *types.DetectionResult, score float64) map[string]interface{} {
  now := time.Now()
  updates := map[string]interface{}{
    "defect_type":     nil,
    "raw_class":       nil,
    "ai_confidence":   det.Confidence,
    "danger_level":    nil,
    "danger_label":    nil,
    "danger_priority": nil,
    "severity":        nil,
    "bbox":            nil,
    "quality_score":   score,
    "updated_at":      now,
  }
  if !det.DefectFound() {
    return updates
  }

  tier := types.DangerLevel("")
  if det.DangerLevel != nil {
    tier = *det.DangerLevel
  }
  if tier == "" {
    tier = ClassifyDanger(det.Confidence, det.BBox)
  }
  label, priority, severity := dangerMeta(tier)
  if det.DangerLabel != nil && *det.DangerLabel != "" {
    label = *det.DangerLabel
  }
  if det.DangerPriority != nil {
    priority = *det.DangerPriority
  }
  if det.Severity != nil && *det.Severity != "" {
    severity = *det.Severity
  }

  updates["defect_type"] = *det.DefectType
  updates["raw_class"] = det.RawClass
  updates["danger_level"] = string(tier)
  updates["danger_label"] = label
  updates["danger_priority"] = priority
  updates["severity"] = severity
  if len(det.BBox) == 4 {
    if raw, err := json.Marshal(det.BBox); err == nil {
      updates["bbox"] = datatypes.JSON(raw)
    }
  }
  return updates
}

// dangerMeta carries the detector's human-readable tier metadata for runs
// where the tier had to be derived locally.
func dangerMeta(tier types.DangerLevel) (label string, priority int, severity string) {
  switch tier {
  case types.DangerCritical:
    return "Critical — Immediate Danger", 1, "high"
  case types.DangerModerate:
    return "Moderate — Needs Attention", 2, "medium"
  default:
    return "Minor — Monitor", 3, "low"
  }
}

func (rs *reportService) Reenrich(ctx context.Context, id uint) error {
  report, err := rs.reportRepo.GetByID(ctx, nil, id)
  if err != nil {
    return err
  }
  if report.StorageKey == "" {
    return fmt.Errorf("report %d has no stored image", id)
  }
  image, err := rs.images.Load(ctx, report.StorageKey)
  if err != nil {
    return fmt.Errorf("load stored image: %w", err)
  }

  go rs.enrich(context.Background(), report.ReportID, image, report.StorageKey, report.GPSAccuracy)
  return nil
}

func (rs *reportService) ReenrichStuck(ctx context.Context, limit int) (*ReenrichSummary, error) {
  pending, err := rs.reportRepo.ListPendingDetection(ctx, nil, limit)
  if err != nil {
    return nil, fmt.Errorf("list pending reports: %w", err)
  }

  summary := &ReenrichSummary{Scanned: len(pending)}
  var mu sync.Mutex

  g, gctx := errgroup.WithContext(ctx)
  g.SetLimit(rs.sweepParallelism)
  for _, report := range pending {
    report := report
    g.Go(func() error {
      image, loadErr := rs.images.Load(gctx, report.StorageKey)
      if loadErr != nil {
        rs.log.Warn("Stuck report image missing", "report_id", report.ReportID, "error", loadErr)
        mu.Lock()
        summary.MissingImage++
        mu.Unlock()
        return nil
      }

      det, detErr := rs.ai.Detect(gctx, image, report.StorageKey)
      if detErr != nil {
        rs.log.Warn("Stuck report detection failed", "report_id", report.ReportID, "error", detErr)
        mu.Lock()
        summary.Failed++
        mu.Unlock()
        return nil
      }

      score := ComputeQualityScore(det, report.GPSAccuracy)
      if upErr := rs.reportRepo.UpdateFields(gctx, nil, report.ReportID, detectionUpdates(det, score)); upErr != nil {
        rs.log.Error("Stuck report update failed", "report_id", report.ReportID, "error", upErr)
        mu.Lock()
        summary.Failed++
        mu.Unlock()
        return nil
      }

      mu.Lock()
      summary.Enriched++
      mu.Unlock()
      return nil
    })
  }
  if err := g.Wait(); err != nil {
    return summary, err
  }

  if summary.Enriched > 0 && rs.cache != nil {
    rs.cache.InvalidateHeatmap(ctx)
  }
  rs.log.Info("Stuck report sweep finished",
    "scanned", summary.Scanned,
    "enriched", summary.Enriched,
    "failed", summary.Failed,
    "missing_image", summary.MissingImage,
  )
  return summary, nil
}

func (rs *reportService) Get(ctx context.Context, id uint) (*types.Report, error) {
  return rs.reportRepo.GetByID(ctx, nil, id)
}

func (rs *reportService) List(ctx context.Context, filter repos.ReportListFilter) ([]*types.Report, int64, error) {
  return rs.reportRepo.List(ctx, nil, filter)
}

func (rs *reportService) UpdateDescription(ctx context.Context, id uint, description string) (*types.Report, error) {
  if err := rs.reportRepo.UpdateFields(ctx, nil, id, map[string]interface{}{
    "description": description,
    "updated_at":  time.Now(),
  }); err != nil {
    return nil, err
  }
  return rs.reportRepo.GetByID(ctx, nil, id)
}

func (rs *reportService) Assign(ctx context.Context, id uint, assignee string) (*types.Report, error) {
  if assignee == "" {
    return nil, fmt.Errorf("%w: assignee is required", ErrValidation)
  }
  report, err := rs.reportRepo.GetByID(ctx, nil, id)
  if err != nil {
    return nil, err
  }
  switch report.Status {
  case types.StatusUnassigned, types.StatusAssigned:
  default:
    return nil, fmt.Errorf("%w: cannot assign a %s report", ErrInvalidTransition, report.Status)
  }

  now := time.Now()
  return rs.applyTransition(ctx, id, map[string]interface{}{
    "status":      types.StatusAssigned,
    "assigned_to": assignee,
    "assigned_at": now,
    "updated_at":  now,
  })
}

func (rs *reportService) Complete(ctx context.Context, id uint, input CompleteReportInput) (*types.Report, error) {
  report, err := rs.reportRepo.GetByID(ctx, nil, id)
  if err != nil {
    return nil, err
  }
  if report.Status != types.StatusAssigned {
    return nil, fmt.Errorf("%w: only assigned reports can be completed", ErrInvalidTransition)
  }

  now := time.Now()
  updates := map[string]interface{}{
    "status":           types.StatusCompleted,
    "completion_notes": input.Notes,
    "completed_at":     now,
    "updated_at":       now,
  }
  if len(input.Image) > 0 {
    key, saveErr := rs.images.Save(ctx, input.Image, input.Filename)
    if saveErr != nil {
      return nil, fmt.Errorf("store completion image: %w", saveErr)
    }
    updates["completion_image_url"] = rs.images.PublicURL(key)
  }
  return rs.applyTransition(ctx, id, updates)
}

func (rs *reportService) Pause(ctx context.Context, id uint) (*types.Report, error) {
  report, err := rs.reportRepo.GetByID(ctx, nil, id)
  if err != nil {
    return nil, err
  }
  switch report.Status {
  case types.StatusUnassigned, types.StatusAssigned:
  default:
    return nil, fmt.Errorf("%w: cannot pause a %s report", ErrInvalidTransition, report.Status)
  }

  return rs.applyTransition(ctx, id, map[string]interface{}{
    "status":      types.StatusPaused,
    "paused_from": report.Status,
    "updated_at":  time.Now(),
  })
}

func (rs *reportService) Resume(ctx context.Context, id uint) (*types.Report, error) {
  report, err := rs.reportRepo.GetByID(ctx, nil, id)
  if err != nil {
    return nil, err
  }
  if report.Status != types.StatusPaused {
    return nil, fmt.Errorf("%w: only paused reports can be resumed", ErrInvalidTransition)
  }

  restored := types.StatusUnassigned
  if report.PausedFrom != nil && report.PausedFrom.Valid() {
    restored = *report.PausedFrom
  }
  return rs.applyTransition(ctx, id, map[string]interface{}{
    "status":      restored,
    "paused_from": nil,
    "updated_at":  time.Now(),
  })
}

func (rs *reportService) applyTransition(ctx context.Context, id uint, updates map[string]interface{}) (*types.Report, error) {
  if err := rs.reportRepo.UpdateFields(ctx, nil, id, updates); err != nil {
    return nil, err
  }
  fresh, err := rs.reportRepo.GetByID(ctx, nil, id)
  if err != nil {
    return nil, err
  }
  rs.broadcast(sse.SSEEventReportStatusChanged, fresh)
  return fresh, nil
}

func (rs *reportService) Stats(ctx context.Context) (*ReportStats, error) {
  byStatus, err := rs.reportRepo.CountByStatus(ctx, nil)
  if err != nil {
    return nil, err
  }
  pending, err := rs.reportRepo.CountPendingDetection(ctx, nil)
  if err != nil {
    return nil, err
  }
  var total int64
  for _, n := range byStatus {
    total += n
  }
  return &ReportStats{
    Total:            total,
    ByStatus:         byStatus,
    PendingDetection: pending,
  }, nil
}

func (rs *reportService) broadcast(event sse.SSEEvent, report *types.Report) {
  if rs.sseHub == nil {
    return
  }
  rs.sseHub.Broadcast(sse.SSEMessage{
    Channel: sse.ChannelReports,
    Event:   event,
    Data:    map[string]any{"report": report},
  })
}
