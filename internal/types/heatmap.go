package types

import "time"

// HeatmapCell is an ephemeral aggregate, computed per query and never stored.
type HeatmapCell struct {
	CellLat        float64     `json:"cell_lat"`
	CellLng        float64     `json:"cell_lng"`
	ReportCount    int         `json:"report_count"`
	AvgQuality     float64     `json:"avg_quality"`
	MinQuality     float64     `json:"min_quality"`
	DominantDanger DangerLevel `json:"dominant_danger"`
	HeatIntensity  float64     `json:"heat_intensity"`
}

type HeatmapResponse struct {
	Cells          []HeatmapCell `json:"cells"`
	CellCount      int           `json:"cell_count"`
	SourceReports  int           `json:"source_reports"`
	GridSize       float64       `json:"grid_size"`
	GridSizeMeters float64       `json:"grid_size_meters"`
	GeneratedAt    time.Time     `json:"generated_at"`
}
