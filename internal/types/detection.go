package types

type DangerLevel string

const (
	DangerCritical DangerLevel = "critical"
	DangerModerate DangerLevel = "moderate"
	DangerMinor    DangerLevel = "minor"
	DangerNone     DangerLevel = "none"
)

// Priority returns the severity rank, 1 being most dangerous. Unknown levels
// rank after everything real.
func (d DangerLevel) Priority() int {
	switch d {
	case DangerCritical:
		return 1
	case DangerModerate:
		return 2
	case DangerMinor:
		return 3
	}
	return 4
}

type SingleDetection struct {
	DefectType     string      `json:"defect_type"`
	RawClass       string      `json:"raw_class"`
	Confidence     float64     `json:"confidence"`
	DangerLevel    DangerLevel `json:"danger_level"`
	DangerLabel    string      `json:"danger_label"`
	DangerPriority int         `json:"danger_priority"`
	Severity       string      `json:"severity"`
	BBox           []float64   `json:"bbox"`
}

// DetectionResult mirrors the detector service response for one image. The
// primary fields describe the most dangerous detection; AllDetections carries
// every box above the detector's own threshold.
type DetectionResult struct {
	DefectType     *string           `json:"defect_type"`
	RawClass       *string           `json:"raw_class"`
	Confidence     float64           `json:"confidence"`
	DangerLevel    *DangerLevel      `json:"danger_level"`
	DangerLabel    *string           `json:"danger_label"`
	DangerPriority *int              `json:"danger_priority"`
	Severity       *string           `json:"severity"`
	BBox           []float64         `json:"bbox"`
	IsValid        bool              `json:"is_valid"`
	AllDetections  []SingleDetection `json:"all_detections"`
}

func (d *DetectionResult) DefectFound() bool {
	return d != nil && d.DefectType != nil && *d.DefectType != ""
}
