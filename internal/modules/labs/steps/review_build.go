package steps

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/domain/labs"
)

type ReviewBuildDeps struct {
	Registry *biomarkers.Registry
}

type ReviewBuildInput struct {
	UploadID uuid.UUID
	UserID   uuid.UUID
	TestDate time.Time

	Markers     []types.LabBiomarker
	Deltas      []types.MarkerDelta
	Scores      []types.ProtocolScore
	Predictions []types.ReviewPrediction
	Ledger      []types.EvidenceLedgerEntry

	ComputedAt time.Time
}

// BuildReview assembles the persisted review row. Assembly is deterministic:
// every collection is sorted before encoding, so replaying an unchanged
// history produces byte-identical blobs.
func BuildReview(deps ReviewBuildDeps, in ReviewBuildInput) types.LabEventReview {
	summaries := buildDomainSummaries(deps.Registry, in.Markers, in.Deltas)
	headline, confidence := buildHeadline(summaries, in.Markers, in.Scores)

	scores := make([]types.ProtocolScore, len(in.Scores))
	copy(scores, in.Scores)
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].PeptideName != scores[j].PeptideName {
			return scores[i].PeptideName < scores[j].PeptideName
		}
		return scores[i].ProtocolID.String() < scores[j].ProtocolID.String()
	})

	predictions := make([]types.ReviewPrediction, len(in.Predictions))
	copy(predictions, in.Predictions)
	sort.Slice(predictions, func(i, j int) bool { return predictions[i].Marker < predictions[j].Marker })

	ledger := make([]types.EvidenceLedgerEntry, len(in.Ledger))
	copy(ledger, in.Ledger)
	sort.Slice(ledger, func(i, j int) bool { return ledger[i].ID < ledger[j].ID })

	return types.LabEventReview{
		LabUploadID:       in.UploadID,
		UserID:            in.UserID,
		TestDate:          in.TestDate,
		VerdictHeadline:   headline,
		VerdictConfidence: confidence,
		DomainSummaries:   labs.EncodeJSON(summaries),
		MarkerDeltas:      labs.EncodeJSON(in.Deltas),
		Predictions:       labs.EncodeJSON(predictions),
		ProtocolScores:    labs.EncodeJSON(scores),
		EvidenceLedger:    labs.EncodeJSON(ledger),
		ComputedAt:        in.ComputedAt,
	}
}

func buildDomainSummaries(reg *biomarkers.Registry, markers []types.LabBiomarker, deltas []types.MarkerDelta) []types.DomainSummary {
	directionByKey := map[string]string{}
	for _, d := range deltas {
		directionByKey[d.Key] = d.Direction
	}

	type bucket struct {
		summary    types.DomainSummary
		scoreSum   float64
		scored     int
		improving  int
		declining  int
		comparable int
	}
	buckets := map[string]*bucket{}

	for _, m := range markers {
		if m.Key == "" {
			continue
		}
		def := reg.Get(m.Key)
		category := m.Category
		if def != nil && def.Category != "" {
			category = def.Category
		}
		if category == "" {
			category = "other"
		}
		b := buckets[category]
		if b == nil {
			b = &bucket{summary: types.DomainSummary{Category: category}}
			buckets[category] = b
		}
		b.summary.MarkerCount++
		switch m.Flag {
		case biomarkers.FlagOptimal:
			b.summary.OptimalCount++
		case biomarkers.FlagNormal:
			b.summary.NormalCount++
		case biomarkers.FlagHigh, biomarkers.FlagLow:
			b.summary.OutOfRangeCount++
		}
		if def != nil {
			b.scoreSum += reg.OptimalScore(m.Key, m.Value)
			b.scored++
		}
		switch directionByKey[m.Key] {
		case DeltaImproving:
			b.improving++
			b.comparable++
		case DeltaDeclining:
			b.declining++
			b.comparable++
		case DeltaStable:
			b.comparable++
		}
	}

	out := make([]types.DomainSummary, 0, len(buckets))
	for _, b := range buckets {
		if b.scored > 0 {
			b.summary.PercentOptimal = math.Round(b.scoreSum/float64(b.scored)*1000) / 10
		}
		switch {
		case b.comparable == 0:
			b.summary.Trajectory = TrajectoryInsufficient
		case b.improving > b.declining:
			b.summary.Trajectory = TrajectoryImproving
		case b.declining > b.improving:
			b.summary.Trajectory = TrajectoryDeclining
		default:
			b.summary.Trajectory = TrajectoryStable
		}
		out = append(out, b.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// buildHeadline picks the single most newsworthy finding: a working protocol
// beats an adverse signal beats the overall optimal ratio.
func buildHeadline(summaries []types.DomainSummary, markers []types.LabBiomarker, scores []types.ProtocolScore) (string, float64) {
	var best, worst *types.ProtocolScore
	for i := range scores {
		s := &scores[i]
		if positiveVerdict(s.Verdict) && (best == nil || s.Confidence > best.Confidence) {
			best = s
		}
		if s.Verdict == VerdictPossibleNegative && (worst == nil || s.Confidence > worst.Confidence) {
			worst = s
		}
	}

	if best != nil && len(best.Primary) > 0 {
		eff := best.Primary[0]
		return fmt.Sprintf("%s is moving %s (%+.1f%%, p=%.3f)",
			best.PeptideName, eff.Metric, eff.ChangePct, eff.PValue), best.Confidence
	}
	if worst != nil && len(worst.Adverse) > 0 {
		eff := worst.Adverse[0]
		return fmt.Sprintf("Possible adverse shift in %s on %s (%+.1f%%)",
			eff.Metric, worst.PeptideName, eff.ChangePct), worst.Confidence
	}

	total, optimal := 0, 0
	for _, m := range markers {
		if m.Key == "" {
			continue
		}
		total++
		if m.Flag == biomarkers.FlagOptimal {
			optimal++
		}
	}
	if total == 0 {
		return "No recognized biomarkers in this draw", 0
	}
	confidence := float64(optimal) / float64(total)
	return fmt.Sprintf("%d of %d markers in the optimal range", optimal, total), confidence
}
