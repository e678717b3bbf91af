package steps

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

const (
	ClaimTypeProtocolEffect = "protocol_effect"
	ClaimTypeForecast       = "forecast"

	// directionTolerancePct is the dead band for direction claims: a move
	// smaller than this resolves neither way and the claim stays pending.
	directionTolerancePct = 2.0
)

type LedgerDeps struct {
	Log *logger.Logger
}

type EmitClaimsInput struct {
	UploadID uuid.UUID
	// Scores are the evidence results computed at this upload.
	Scores []types.ProtocolScore
	// Forecasts are the per-marker projections computed at this upload.
	Forecasts []ForecastOutput
	// Latest carries the current value per marker, used as the baseline
	// for direction claims.
	Latest map[string]float64
}

// EmitClaims converts this upload's evidence and forecasts into pending
// ledger entries. Entry IDs are derived from (upload, type, subject) so a
// replay over unchanged history reproduces the ledger byte for byte.
func EmitClaims(deps LedgerDeps, in EmitClaimsInput) []types.EvidenceLedgerEntry {
	var out []types.EvidenceLedgerEntry

	for _, score := range in.Scores {
		if !positiveVerdict(score.Verdict) || len(score.Primary) == 0 {
			continue
		}
		eff := score.Primary[0]
		direction := "decrease"
		if eff.ChangePct > 0 {
			direction = "increase"
		}
		pred := &types.LedgerPrediction{
			Marker:      eff.Metric,
			Direction:   direction,
			Basis:       ClaimTypeProtocolEffect,
			HorizonDays: score.WindowDays,
		}
		if v, ok := in.Latest[eff.Metric]; ok {
			baseline := v
			pred.Baseline = &baseline
		}
		markers := make([]string, 0, len(score.Primary))
		for _, e := range score.Primary {
			markers = append(markers, e.Metric)
		}
		sort.Strings(markers)
		out = append(out, types.EvidenceLedgerEntry{
			ID: fmt.Sprintf("%s:%s:%s", in.UploadID, ClaimTypeProtocolEffect, score.ProtocolID),
			Claim: fmt.Sprintf("%s should keep moving %s %s",
				score.PeptideName, eff.Metric, directionAdverb(direction)),
			ClaimType:      ClaimTypeProtocolEffect,
			Confidence:     score.Confidence,
			Markers:        markers,
			Prediction:     pred,
			Outcome:        types.OutcomePending,
			MadeAtUploadID: in.UploadID,
		})
	}

	for _, fc := range in.Forecasts {
		if fc.Insufficient {
			continue
		}
		low, high := fc.ForecastLow, fc.ForecastHigh
		out = append(out, types.EvidenceLedgerEntry{
			ID: fmt.Sprintf("%s:%s:%s", in.UploadID, ClaimTypeForecast, fc.BiomarkerKey),
			Claim: fmt.Sprintf("%s should read between %.1f and %.1f at the next draw",
				fc.BiomarkerKey, low, high),
			ClaimType:  ClaimTypeForecast,
			Confidence: 0.95,
			Markers:    []string{fc.BiomarkerKey},
			Prediction: &types.LedgerPrediction{
				Marker:      fc.BiomarkerKey,
				RangeLow:    &low,
				RangeHigh:   &high,
				Basis:       ClaimTypeForecast,
				HorizonDays: fc.HorizonDays,
			},
			Outcome:        types.OutcomePending,
			MadeAtUploadID: in.UploadID,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func positiveVerdict(v string) bool {
	switch v {
	case VerdictStrongPositive, VerdictLikelyPositive, VerdictWeakPositive:
		return true
	default:
		return false
	}
}

func directionAdverb(direction string) string {
	if direction == "increase" {
		return "up"
	}
	return "down"
}

type ReconcileInput struct {
	// Entries is the full prior ledger state, oldest first.
	Entries []types.EvidenceLedgerEntry
	// UploadID identifies the upload whose observations resolve claims.
	UploadID uuid.UUID
	// Observations maps marker key to the newly observed value.
	Observations map[string]float64
}

// ReconcileLedger resolves pending claims against a new upload's
// observations. Range claims confirm inside the predicted band and falsify
// outside it; direction claims confirm on a move past the dead band in the
// predicted direction, falsify on a move past it the other way, and stay
// pending otherwise. Resolved entries are never revisited.
func ReconcileLedger(deps LedgerDeps, in ReconcileInput) []types.EvidenceLedgerEntry {
	out := make([]types.EvidenceLedgerEntry, len(in.Entries))
	copy(out, in.Entries)

	for i := range out {
		entry := &out[i]
		if entry.Outcome != types.OutcomePending || entry.Prediction == nil {
			continue
		}
		value, observed := in.Observations[entry.Prediction.Marker]
		if !observed {
			continue
		}
		outcome := resolveClaim(entry.Prediction, value)
		if outcome == types.OutcomePending {
			continue
		}
		entry.Outcome = outcome
		uploadID := in.UploadID
		entry.ResolvedAtUploadID = &uploadID
		v := value
		entry.ObservedValue = &v
	}
	return out
}

func resolveClaim(pred *types.LedgerPrediction, value float64) string {
	if pred.RangeLow != nil && pred.RangeHigh != nil {
		if value >= *pred.RangeLow && value <= *pred.RangeHigh {
			return types.OutcomeConfirmed
		}
		return types.OutcomeFalsified
	}
	if pred.Baseline == nil || *pred.Baseline == 0 {
		return types.OutcomePending
	}
	changePct := (value - *pred.Baseline) / math.Abs(*pred.Baseline) * 100
	switch pred.Direction {
	case "increase":
		if changePct > directionTolerancePct {
			return types.OutcomeConfirmed
		}
		if changePct < -directionTolerancePct {
			return types.OutcomeFalsified
		}
	case "decrease":
		if changePct < -directionTolerancePct {
			return types.OutcomeConfirmed
		}
		if changePct > directionTolerancePct {
			return types.OutcomeFalsified
		}
	}
	return types.OutcomePending
}

type LedgerStats struct {
	Confirmed int     `json:"confirmed"`
	Falsified int     `json:"falsified"`
	Pending   int     `json:"pending"`
	Accuracy  float64 `json:"accuracy"`
}

// LedgerAccuracy tallies outcomes; pending claims are excluded from the
// accuracy denominator.
func LedgerAccuracy(entries []types.EvidenceLedgerEntry) LedgerStats {
	var stats LedgerStats
	for _, e := range entries {
		switch e.Outcome {
		case types.OutcomeConfirmed:
			stats.Confirmed++
		case types.OutcomeFalsified:
			stats.Falsified++
		default:
			stats.Pending++
		}
	}
	if resolved := stats.Confirmed + stats.Falsified; resolved > 0 {
		stats.Accuracy = float64(stats.Confirmed) / float64(resolved)
	}
	return stats
}
