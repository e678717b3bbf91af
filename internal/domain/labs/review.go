package labs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LabEventReview is the derived analysis for one upload. At most one live row
// per upload (upsert keyed by lab_upload_id); fully recomputable by replaying
// the user's uploads oldest-first.
type LabEventReview struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabUploadID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex;column:lab_upload_id" json:"lab_upload_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	TestDate    time.Time `gorm:"not null;column:test_date" json:"test_date"`

	VerdictHeadline   string  `gorm:"column:verdict_headline" json:"verdict_headline"`
	VerdictConfidence float64 `gorm:"not null;default:0;column:verdict_confidence" json:"verdict_confidence"`

	DomainSummaries datatypes.JSON `gorm:"type:jsonb;not null;default:'[]';column:domain_summaries" json:"domain_summaries"`
	MarkerDeltas    datatypes.JSON `gorm:"type:jsonb;not null;default:'[]';column:marker_deltas" json:"marker_deltas"`
	Predictions     datatypes.JSON `gorm:"type:jsonb;not null;default:'[]';column:predictions" json:"predictions"`
	ProtocolScores  datatypes.JSON `gorm:"type:jsonb;not null;default:'[]';column:protocol_scores" json:"protocol_scores"`
	EvidenceLedger  datatypes.JSON `gorm:"type:jsonb;not null;default:'[]';column:evidence_ledger" json:"evidence_ledger"`

	ComputedAt time.Time      `gorm:"not null;column:computed_at" json:"computed_at"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (LabEventReview) TableName() string { return "lab_event_review" }

// BayesianChangepoint records a detected regime shift for a (user, metric,
// protocol) triple. Later detections supersede earlier rows rather than merge.
type BayesianChangepoint struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index:idx_changepoint_scope;column:user_id" json:"user_id"`
	Metric     string    `gorm:"not null;index:idx_changepoint_scope;column:metric" json:"metric"`
	ProtocolID uuid.UUID `gorm:"type:uuid;not null;index:idx_changepoint_scope;column:protocol_id" json:"protocol_id"`

	DetectedDate    time.Time `gorm:"not null;column:detected_date" json:"detected_date"`
	PosteriorProb   float64   `gorm:"not null;column:posterior_prob" json:"posterior_prob"`
	EffectSize      float64   `gorm:"not null;column:effect_size" json:"effect_size"`
	PreMean         float64   `gorm:"not null;column:pre_mean" json:"pre_mean"`
	PostMean        float64   `gorm:"not null;column:post_mean" json:"post_mean"`
	ConfidenceLevel string    `gorm:"column:confidence_level" json:"confidence_level"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (BayesianChangepoint) TableName() string { return "bayesian_changepoint" }

// HealthPrediction caches a per-(user, biomarker) forecast with a freshness
// TTL; stale rows are recomputed, never invalidated by writes.
type HealthPrediction struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index:idx_prediction_scope;column:user_id" json:"user_id"`
	BiomarkerKey string    `gorm:"not null;index:idx_prediction_scope;column:biomarker_key" json:"biomarker_key"`

	ForecastValue float64        `gorm:"not null;column:forecast_value" json:"forecast_value"`
	ForecastLow   float64        `gorm:"not null;column:forecast_low" json:"forecast_low"`
	ForecastHigh  float64        `gorm:"not null;column:forecast_high" json:"forecast_high"`
	HorizonDays   int            `gorm:"not null;column:horizon_days" json:"horizon_days"`
	ProtocolTerms datatypes.JSON `gorm:"type:jsonb;not null;default:'[]';column:protocol_terms" json:"protocol_terms"`

	ComputedAt time.Time `gorm:"not null;column:computed_at" json:"computed_at"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (HealthPrediction) TableName() string { return "health_prediction" }
