package types

import (
	"time"

	"gorm.io/datatypes"
)

type ReportStatus string

const (
	StatusUnassigned ReportStatus = "unassigned"
	StatusAssigned   ReportStatus = "assigned"
	StatusCompleted  ReportStatus = "completed"
	StatusPaused     ReportStatus = "paused"
)

func (s ReportStatus) Valid() bool {
	switch s {
	case StatusUnassigned, StatusAssigned, StatusCompleted, StatusPaused:
		return true
	}
	return false
}

// Report is one citizen submission. Capture fields are immutable after
// creation (only Description may be edited); detection fields stay NULL until
// the enrichment pass writes them all in a single update.
type Report struct {
	ReportID uint `gorm:"column:report_id;primaryKey;autoIncrement" json:"report_id"`

	ImageURL        string     `gorm:"column:image_url;not null" json:"image_url"`
	StorageKey      string     `gorm:"column:storage_key;not null" json:"-"`
	Latitude        float64    `gorm:"column:latitude;not null" json:"latitude"`
	Longitude       float64    `gorm:"column:longitude;not null" json:"longitude"`
	GPSAccuracy     *float64   `gorm:"column:gps_accuracy" json:"gps_accuracy,omitempty"`
	CapturedAt      *time.Time `gorm:"column:captured_at" json:"captured_at,omitempty"`
	Description     string     `gorm:"column:description" json:"description,omitempty"`
	ReporterName    string     `gorm:"column:reporter_name" json:"reporter_name,omitempty"`
	ReporterContact string     `gorm:"column:reporter_contact" json:"reporter_contact,omitempty"`

	DefectType     *string        `gorm:"column:defect_type" json:"defect_type"`
	RawClass       *string        `gorm:"column:raw_class" json:"raw_class,omitempty"`
	AIConfidence   *float64       `gorm:"column:ai_confidence" json:"ai_confidence"`
	DangerLevel    *DangerLevel   `gorm:"column:danger_level" json:"danger_level"`
	DangerLabel    *string        `gorm:"column:danger_label" json:"danger_label,omitempty"`
	DangerPriority *int           `gorm:"column:danger_priority" json:"danger_priority,omitempty"`
	Severity       *string        `gorm:"column:severity" json:"severity,omitempty"`
	BBox           datatypes.JSON `gorm:"column:bbox" json:"bbox,omitempty"`
	QualityScore   *float64       `gorm:"column:quality_score" json:"quality_score"`

	Status             ReportStatus  `gorm:"column:status;not null;default:'unassigned';index" json:"status"`
	AssignedTo         *string       `gorm:"column:assigned_to" json:"assigned_to,omitempty"`
	AssignedAt         *time.Time    `gorm:"column:assigned_at" json:"assigned_at,omitempty"`
	PausedFrom         *ReportStatus `gorm:"column:paused_from" json:"-"`
	CompletionImageURL *string       `gorm:"column:completion_image_url" json:"completion_image_url,omitempty"`
	CompletionNotes    *string       `gorm:"column:completion_notes" json:"completion_notes,omitempty"`
	CompletedAt        *time.Time    `gorm:"column:completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Report) TableName() string { return "reports" }

// Analyzed reports carry the full detection column set together; a pending
// report has none of it.
func (r *Report) Analyzed() bool { return r.QualityScore != nil }
