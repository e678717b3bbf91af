package labs

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Review blob shapes. These are stored as jsonb on LabEventReview and decoded
// defensively on read: schema drift or corrupt rows yield empty collections,
// never an error.

type DomainSummary struct {
	Category        string  `json:"category"`
	MarkerCount     int     `json:"marker_count"`
	OptimalCount    int     `json:"optimal_count"`
	NormalCount     int     `json:"normal_count"`
	OutOfRangeCount int     `json:"out_of_range_count"`
	PercentOptimal  float64 `json:"percent_optimal"`
	Trajectory      string  `json:"trajectory"`
}

type MarkerDelta struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name"`
	Value       float64  `json:"value"`
	Unit        string   `json:"unit"`
	PriorValue  *float64 `json:"prior_value,omitempty"`
	Delta       *float64 `json:"delta,omitempty"`
	DeltaPct    *float64 `json:"delta_pct,omitempty"`
	Flag        string   `json:"flag"`
	PriorFlag   string   `json:"prior_flag,omitempty"`
	// Direction is polarity-adjusted: improving|declining|stable|new.
	Direction string `json:"direction"`
}

type EffectRecord struct {
	Metric    string  `json:"metric"`
	ChangePct float64 `json:"change_pct"`
	CILow     float64 `json:"ci_low"`
	CIHigh    float64 `json:"ci_high"`
	PValue    float64 `json:"p_value"`
	Direction string  `json:"direction"`
}

type MechanismGroup struct {
	Name       string   `json:"name"`
	Metrics    []string `json:"metrics"`
	Confidence string   `json:"confidence"`
}

type ProtocolScore struct {
	ProtocolID     uuid.UUID        `json:"protocol_id"`
	PeptideName    string           `json:"peptide_name"`
	Verdict        string           `json:"verdict"`
	Confidence     float64          `json:"confidence"`
	Score          float64          `json:"score"`
	DaysOnProtocol int              `json:"days_on_protocol"`
	WindowDays     int              `json:"window_days"`
	ConfoundedDays int              `json:"confounded_days"`
	Primary        []EffectRecord   `json:"primary,omitempty"`
	Secondary      []EffectRecord   `json:"secondary,omitempty"`
	Adverse        []EffectRecord   `json:"adverse,omitempty"`
	Mechanisms     []MechanismGroup `json:"mechanisms,omitempty"`
	RobustVerdict  bool             `json:"robust_verdict"`
}

type LedgerPrediction struct {
	Marker    string   `json:"marker"`
	Direction string   `json:"direction"`
	RangeLow  *float64 `json:"range_low,omitempty"`
	RangeHigh *float64 `json:"range_high,omitempty"`
	// Baseline anchors direction claims; the value at claim time.
	Baseline    *float64 `json:"baseline,omitempty"`
	Basis       string   `json:"basis"`
	HorizonDays int      `json:"horizon_days"`
}

type EvidenceLedgerEntry struct {
	ID         string            `json:"id"`
	Claim      string            `json:"claim"`
	ClaimType  string            `json:"claim_type"`
	Confidence float64           `json:"confidence"`
	Markers    []string          `json:"markers,omitempty"`
	Prediction *LedgerPrediction `json:"prediction,omitempty"`

	// Outcome is pending until a later upload observes the target marker.
	Outcome            string     `json:"outcome"`
	MadeAtUploadID     uuid.UUID  `json:"made_at_upload_id"`
	ResolvedAtUploadID *uuid.UUID `json:"resolved_at_upload_id,omitempty"`
	ObservedValue      *float64   `json:"observed_value,omitempty"`
}

type ReviewPrediction struct {
	Marker        string   `json:"marker"`
	DisplayName   string   `json:"display_name"`
	ExpectedValue float64  `json:"expected_value"`
	RangeLow      float64  `json:"range_low"`
	RangeHigh     float64  `json:"range_high"`
	HorizonDays   int      `json:"horizon_days"`
	ProtocolTerms []string `json:"protocol_terms,omitempty"`
}

type ProtocolTerm struct {
	ProtocolID  uuid.UUID `json:"protocol_id"`
	PeptideName string    `json:"peptide_name"`
	Shift       float64   `json:"shift"`
}

const (
	OutcomePending   = "pending"
	OutcomeConfirmed = "confirmed"
	OutcomeFalsified = "falsified"
)

func DecodeDomainSummaries(raw datatypes.JSON) []DomainSummary {
	return decodeSlice[DomainSummary](raw)
}

func DecodeMarkerDeltas(raw datatypes.JSON) []MarkerDelta {
	return decodeSlice[MarkerDelta](raw)
}

func DecodeProtocolScores(raw datatypes.JSON) []ProtocolScore {
	return decodeSlice[ProtocolScore](raw)
}

func DecodeLedgerEntries(raw datatypes.JSON) []EvidenceLedgerEntry {
	return decodeSlice[EvidenceLedgerEntry](raw)
}

func DecodeReviewPredictions(raw datatypes.JSON) []ReviewPrediction {
	return decodeSlice[ReviewPrediction](raw)
}

func DecodeProtocolTerms(raw datatypes.JSON) []ProtocolTerm {
	return decodeSlice[ProtocolTerm](raw)
}

func DecodeWarnings(raw datatypes.JSON) []string {
	return decodeSlice[string](raw)
}

func decodeSlice[T any](raw datatypes.JSON) []T {
	if len(raw) == 0 || string(raw) == "null" {
		return []T{}
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return []T{}
	}
	return out
}

// EncodeJSON marshals a blob value; a failed marshal degrades to an empty
// array so a review row is always writable.
func EncodeJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(b)
}
