package labs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LabUpload is one ingested lab report. Rows are created on ingestion and
// mutated only by a recompute of the same upload.
type LabUpload struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_lab_upload_user_date;column:user_id" json:"user_id"`
	TestDate      time.Time      `gorm:"not null;index:idx_lab_upload_user_date;column:test_date" json:"test_date"`
	Source        string         `gorm:"not null;column:source" json:"source"`
	LabName       string         `gorm:"column:lab_name" json:"lab_name"`
	RawText       string         `gorm:"type:text;column:raw_text" json:"-"`
	Confidence    float64        `gorm:"not null;default:0;column:confidence" json:"confidence"`
	ParseWarnings datatypes.JSON `gorm:"type:jsonb;not null;default:'[]';column:parse_warnings" json:"parse_warnings"`

	Biomarkers []LabBiomarker `gorm:"foreignKey:LabUploadID" json:"biomarkers,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (LabUpload) TableName() string { return "lab_upload" }

// LabBiomarker is a single observation scoped to its upload. Key is empty for
// markers the registry could not match; those stay stored but unscored.
type LabBiomarker struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabUploadID uuid.UUID `gorm:"type:uuid;not null;index;column:lab_upload_id" json:"lab_upload_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index:idx_lab_biomarker_user_key;column:user_id" json:"user_id"`

	Key     string  `gorm:"index:idx_lab_biomarker_user_key;column:key" json:"key"`
	RawName string  `gorm:"not null;column:raw_name" json:"raw_name"`
	Value   float64 `gorm:"not null;column:value" json:"value"`
	Unit    string  `gorm:"column:unit" json:"unit"`

	// Pre-conversion value/unit, set only when a unit conversion applied.
	OriginalValue *float64 `gorm:"column:original_value" json:"original_value,omitempty"`
	OriginalUnit  string   `gorm:"column:original_unit" json:"original_unit,omitempty"`

	// Reference range snapshot from the source document (or registry fallback).
	RefLow  *float64 `gorm:"column:ref_low" json:"ref_low,omitempty"`
	RefHigh *float64 `gorm:"column:ref_high" json:"ref_high,omitempty"`

	Flag       string  `gorm:"column:flag" json:"flag"`
	Confidence float64 `gorm:"not null;default:0;column:confidence" json:"confidence"`
	Category   string  `gorm:"column:category" json:"category"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (LabBiomarker) TableName() string { return "lab_biomarker" }

// PreDrawContext carries externally supplied confound metadata for one upload.
// Severity strings: "" | "mild" | "moderate" | "severe".
type PreDrawContext struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabUploadID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex;column:lab_upload_id" json:"lab_upload_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`

	FastingHours *float64   `gorm:"column:fasting_hours" json:"fasting_hours,omitempty"`
	Illness      string     `gorm:"column:illness" json:"illness"`
	Exercise     string     `gorm:"column:exercise" json:"exercise"`
	Stress       string     `gorm:"column:stress" json:"stress"`
	DrawTime     *time.Time `gorm:"column:draw_time" json:"draw_time,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (PreDrawContext) TableName() string { return "pre_draw_context" }
