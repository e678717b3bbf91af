package protocols

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Protocol is one row of the user's protocol history (supplement or peptide
// course). Dose logging itself is an external collaborator; the pipeline only
// needs identity, dates and intended effects.
type Protocol struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`

	PeptideName string     `gorm:"not null;column:peptide_name" json:"peptide_name"`
	Dose        string     `gorm:"column:dose" json:"dose"`
	StartDate   time.Time  `gorm:"not null;column:start_date" json:"start_date"`
	EndDate     *time.Time `gorm:"column:end_date" json:"end_date,omitempty"`

	// IntendedEffects: [{"metric": "ldl", "direction": "decrease"}, ...]
	IntendedEffects datatypes.JSON `gorm:"type:jsonb;not null;default:'[]';column:intended_effects" json:"intended_effects"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Protocol) TableName() string { return "protocol" }

type IntendedEffect struct {
	Metric    string `json:"metric"`
	Direction string `json:"direction"` // increase | decrease
}

// DecodeIntendedEffects never errors; malformed rows read as no stated intent.
func (p *Protocol) DecodeIntendedEffects() []IntendedEffect {
	if p == nil || len(p.IntendedEffects) == 0 || string(p.IntendedEffects) == "null" {
		return []IntendedEffect{}
	}
	var out []IntendedEffect
	if err := json.Unmarshal(p.IntendedEffects, &out); err != nil {
		return []IntendedEffect{}
	}
	return out
}

// ActiveOn reports whether the protocol was running on the given day.
func (p *Protocol) ActiveOn(day time.Time) bool {
	if p == nil || day.Before(p.StartDate) {
		return false
	}
	return p.EndDate == nil || !day.After(*p.EndDate)
}
