package services

import (
  "math"

  "github.com/streetintel/streetintel-backend/internal/types"
)

// Road quality scoring. ComputeQualityScore and ClassifyDanger are pure and
// deterministic; identical inputs always produce identical output.
//
// The bounding-box size penalty and the danger score both divide by a fixed
// 640x640 reference frame rather than the true uploaded resolution. That is a
// known approximation carried over from the original scoring tables; changing
// it would shift every historical score, so it stays.

const (
  refImageWidth  = 640.0
  refImageHeight = 640.0

  // Effective-confidence floor: even a barely-confident detection must
  // meaningfully dent the score, since a missed defect costs more than an
  // over-penalized uncertain one.
  confidenceFloor = 0.2

  // Any detected defect must stay visually distinguishable from a clean
  // road, so near-perfect results are pushed down to this ceiling.
  defectScoreCeiling   = 9.45
  defectScoreThreshold = 9.5
)

var dangerPenalties = map[types.DangerLevel]float64{
  types.DangerCritical: 6.0,
  types.DangerModerate: 3.5,
  types.DangerMinor:    1.5,
}

// ComputeQualityScore converts one detection result plus optional GPS accuracy
// (meters) into a quality score in [0, 10]. 10 means pristine road.
func ComputeQualityScore(det *types.DetectionResult, gpsAccuracy *float64) float64 {
  if det == nil || !det.DefectFound() {
    return 10.0
  }

  tier := types.DangerMinor
  if det.DangerLevel != nil && *det.DangerLevel != "" {
    tier = *det.DangerLevel
  } else {
    tier = ClassifyDanger(det.Confidence, det.BBox)
  }

  score := 10.0
  score -= dangerPenalties[tier] * math.Max(confidenceFloor, det.Confidence)
  score -= sizePenalty(bboxAreaRatio(det.BBox))
  score -= gpsPenalty(gpsAccuracy)

  if score < 0 {
    score = 0
  }
  if score > 10 {
    score = 10
  }
  if score > defectScoreThreshold {
    score = defectScoreCeiling
  }
  return round2(score)
}

// ClassifyDanger derives the three-level danger tier from confidence and
// relative defect size, matching the detector's own classification: the danger
// score blends confidence (0.7) with the capped area ratio (0.3), and each
// tier triggers on confidence OR danger score so ties resolve severe.
func ClassifyDanger(confidence float64, bbox []float64) types.DangerLevel {
  areaRatio := bboxAreaRatio(bbox)
  dangerScore := confidence*0.7 + math.Min(areaRatio/0.15, 1.0)*0.3

  switch {
  case confidence >= 0.75 || dangerScore >= 0.70:
    return types.DangerCritical
  case confidence >= 0.50 || dangerScore >= 0.40:
    return types.DangerModerate
  default:
    return types.DangerMinor
  }
}

// bboxAreaRatio returns bbox area over the fixed reference frame. Malformed
// or negative boxes count as zero area.
func bboxAreaRatio(bbox []float64) float64 {
  if len(bbox) < 4 {
    return 0
  }
  w := bbox[2] - bbox[0]
  h := bbox[3] - bbox[1]
  if w <= 0 || h <= 0 {
    return 0
  }
  return (w * h) / (refImageWidth * refImageHeight)
}

func sizePenalty(areaRatio float64) float64 {
  switch {
  case areaRatio > 0.08:
    return 1.5
  case areaRatio > 0.03:
    return 0.8
  case areaRatio > 0:
    return 0.3
  default:
    return 0
  }
}

func gpsPenalty(accuracy *float64) float64 {
  if accuracy == nil {
    return 0
  }
  switch {
  case *accuracy > 25:
    return 0.5
  case *accuracy > 10:
    return 0.2
  default:
    return 0
  }
}

func round2(v float64) float64 {
  return math.Round(v*100) / 100
}
