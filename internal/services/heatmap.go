package services

import (
  "context"
  "encoding/json"
  "fmt"
  "math"
  "sort"
  "time"

  "gorm.io/gorm"

  rediscache "github.com/streetintel/streetintel-backend/internal/clients/redis"
  "github.com/streetintel/streetintel-backend/internal/logger"
  "github.com/streetintel/streetintel-backend/internal/repos"
  "github.com/streetintel/streetintel-backend/internal/types"
  "github.com/streetintel/streetintel-backend/internal/utils"
)

const (
  defaultGridSize = 0.005
  minGridSize     = 0.0001
  maxGridSize     = 1.0

  // Rough meters per decimal degree at the equator, for display metadata.
  metersPerDegree = 111320.0
)

type HeatmapQuery struct {
  GridSize   float64
  MinReports int
  Status     *types.ReportStatus
  Danger     *types.DangerLevel
}

type HeatmapService interface {
  // Build bins every scored report into fixed-size grid cells and
  // summarizes each cell. Cells are returned worst-first.
  Build(ctx context.Context, query HeatmapQuery) (*types.HeatmapResponse, error)
}

type heatmapService struct {
  db  *gorm.DB
  log *logger.Logger

  reportRepo repos.ReportRepo
  cache      rediscache.Cache
  cacheTTL   time.Duration
}

func NewHeatmapService(db *gorm.DB, baseLog *logger.Logger, reportRepo repos.ReportRepo, cache rediscache.Cache) HeatmapService {
  ttlSec := utils.GetEnvAsInt("HEATMAP_CACHE_TTL_SECONDS", 30, baseLog)
  return &heatmapService{
    db:         db,
    log:        baseLog.With("service", "HeatmapService"),
    reportRepo: reportRepo,
    cache:      cache,
    cacheTTL:   time.Duration(ttlSec) * time.Second,
  }
}

func (hs *heatmapService) Build(ctx context.Context, query HeatmapQuery) (*types.HeatmapResponse, error) {
  gridSize := query.GridSize
  if gridSize == 0 {
    gridSize = defaultGridSize
  }
  if gridSize < minGridSize {
    gridSize = minGridSize
  }
  if gridSize > maxGridSize {
    gridSize = maxGridSize
  }
  minReports := query.MinReports
  if minReports < 1 {
    minReports = 1
  }

  cacheKey := heatmapCacheKey(gridSize, minReports, query.Status, query.Danger)
  if hs.cache != nil {
    if raw, ok := hs.cache.GetHeatmap(ctx, cacheKey); ok {
      var cached types.HeatmapResponse
      if err := json.Unmarshal(raw, &cached); err == nil {
        return &cached, nil
      }
    }
  }

  reports, err := hs.reportRepo.ListScored(ctx, nil, query.Status, query.Danger)
  if err != nil {
    return nil, fmt.Errorf("load scored reports: %w", err)
  }

  type bucket struct {
    latIdx, lngIdx int64
    scores         []float64
    bestPriority   int
  }
  type cellKey struct{ latIdx, lngIdx int64 }

  buckets := make(map[cellKey]*bucket)
  for _, r := range reports {
    if r == nil || r.QualityScore == nil {
      continue
    }
    // Floor-based binning assigns boundary coordinates to exactly one cell.
    latIdx := int64(math.Floor(r.Latitude / gridSize))
    lngIdx := int64(math.Floor(r.Longitude / gridSize))
    key := cellKey{latIdx, lngIdx}
    b, ok := buckets[key]
    if !ok {
      b = &bucket{latIdx: latIdx, lngIdx: lngIdx, bestPriority: types.DangerNone.Priority()}
      buckets[key] = b
    }
    b.scores = append(b.scores, *r.QualityScore)

    tier := types.DangerNone
    if r.DangerLevel != nil {
      tier = *r.DangerLevel
    }
    if p := tier.Priority(); p < b.bestPriority {
      b.bestPriority = p
    }
  }

  cells := make([]types.HeatmapCell, 0, len(buckets))
  for _, b := range buckets {
    if len(b.scores) < minReports {
      continue
    }
    sum := 0.0
    minScore := b.scores[0]
    for _, s := range b.scores {
      sum += s
      if s < minScore {
        minScore = s
      }
    }
    avg := round2(sum / float64(len(b.scores)))

    cells = append(cells, types.HeatmapCell{
      CellLat:        float64(b.latIdx)*gridSize + gridSize/2,
      CellLng:        float64(b.lngIdx)*gridSize + gridSize/2,
      ReportCount:    len(b.scores),
      AvgQuality:     avg,
      MinQuality:     minScore,
      DominantDanger: dangerForPriority(b.bestPriority),
      HeatIntensity:  heatIntensity(avg),
    })
  }

  // Worst cells first; coordinates break ties so output is stable.
  sort.Slice(cells, func(i, j int) bool {
    if cells[i].HeatIntensity != cells[j].HeatIntensity {
      return cells[i].HeatIntensity > cells[j].HeatIntensity
    }
    if cells[i].CellLat != cells[j].CellLat {
      return cells[i].CellLat < cells[j].CellLat
    }
    return cells[i].CellLng < cells[j].CellLng
  })

  resp := &types.HeatmapResponse{
    Cells:          cells,
    CellCount:      len(cells),
    SourceReports:  len(reports),
    GridSize:       gridSize,
    GridSizeMeters: math.Round(gridSize * metersPerDegree),
    GeneratedAt:    time.Now().UTC(),
  }

  if hs.cache != nil {
    if raw, err := json.Marshal(resp); err == nil {
      hs.cache.SetHeatmap(ctx, cacheKey, raw, hs.cacheTTL)
    }
  }
  return resp, nil
}

func heatIntensity(avgQuality float64) float64 {
  v := (10 - avgQuality) / 10
  if v < 0 {
    v = 0
  }
  if v > 1 {
    v = 1
  }
  return math.Round(v*1000) / 1000
}

func dangerForPriority(priority int) types.DangerLevel {
  switch priority {
  case 1:
    return types.DangerCritical
  case 2:
    return types.DangerModerate
  case 3:
    return types.DangerMinor
  }
  return types.DangerNone
}

func heatmapCacheKey(gridSize float64, minReports int, status *types.ReportStatus, danger *types.DangerLevel) string {
  s, d := "", ""
  if status != nil {
    s = string(*status)
  }
  if danger != nil {
    d = string(*danger)
  }
  return fmt.Sprintf("gs=%.6f:min=%d:status=%s:danger=%s", gridSize, minReports, s, d)
}
