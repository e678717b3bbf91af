package steps

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/domain/labs"
)

func TestBuildReviewHeadlinePrefersWorkingProtocol(t *testing.T) {
	deps := ReviewBuildDeps{Registry: evidenceDeps(t).Registry}
	in := ReviewBuildInput{
		UploadID: uuid.New(),
		UserID:   uuid.New(),
		TestDate: day(60),
		Markers:  []types.LabBiomarker{marker("ldl", 100, "high")},
		Scores: []types.ProtocolScore{
			{
				PeptideName: "Berberine",
				Verdict:     VerdictLikelyPositive,
				Confidence:  0.75,
				Primary: []types.EffectRecord{
					{Metric: "ldl", ChangePct: -22.7, PValue: 0.002},
				},
			},
		},
		ComputedAt: day(60),
	}

	review := BuildReview(deps, in)
	if !strings.Contains(review.VerdictHeadline, "Berberine") || !strings.Contains(review.VerdictHeadline, "ldl") {
		t.Fatalf("headline = %q, want the working protocol named", review.VerdictHeadline)
	}
	if review.VerdictConfidence != 0.75 {
		t.Fatalf("confidence = %v, want 0.75", review.VerdictConfidence)
	}
}

func TestBuildReviewHeadlineFallsBackToOptimalRatio(t *testing.T) {
	deps := ReviewBuildDeps{Registry: evidenceDeps(t).Registry}
	in := ReviewBuildInput{
		UploadID: uuid.New(),
		Markers: []types.LabBiomarker{
			marker("ldl", 65, "optimal"),
			marker("hdl", 60, "optimal"),
			marker("glucose", 99, "normal"),
		},
	}

	review := BuildReview(deps, in)
	if !strings.Contains(review.VerdictHeadline, "2 of 3") {
		t.Fatalf("headline = %q, want the optimal ratio", review.VerdictHeadline)
	}
}

func TestBuildReviewDomainSummaries(t *testing.T) {
	deps := ReviewBuildDeps{Registry: evidenceDeps(t).Registry}
	markers := []types.LabBiomarker{
		marker("ldl", 65, "optimal"),
		marker("hdl", 38, "low"),
		marker("glucose", 85, "optimal"),
	}
	deltas := ComputeDeltas(deps.Registry, markers, []types.LabBiomarker{
		marker("ldl", 80, "normal"),
		marker("hdl", 45, "normal"),
	})

	review := BuildReview(deps, ReviewBuildInput{Markers: markers, Deltas: deltas})
	summaries := labs.DecodeDomainSummaries(review.DomainSummaries)
	if len(summaries) != 2 {
		t.Fatalf("summaries = %+v, want lipids and metabolic", summaries)
	}
	// Sorted by category: lipids before metabolic.
	lipids, metabolic := summaries[0], summaries[1]
	if lipids.Category != "lipids" || metabolic.Category != "metabolic" {
		t.Fatalf("categories = %q, %q", lipids.Category, metabolic.Category)
	}
	if lipids.MarkerCount != 2 || lipids.OptimalCount != 1 || lipids.OutOfRangeCount != 1 {
		t.Fatalf("lipids summary = %+v", lipids)
	}
	// One lipid improved (ldl down), one declined (hdl down): stable overall.
	if lipids.Trajectory != TrajectoryStable {
		t.Fatalf("lipids trajectory = %q, want stable", lipids.Trajectory)
	}
	if metabolic.Trajectory != TrajectoryInsufficient {
		t.Fatalf("metabolic trajectory = %q, want insufficient_data (no prior)", metabolic.Trajectory)
	}
	if metabolic.PercentOptimal < 99 {
		t.Fatalf("glucose at the optimal point should score near 100%%, got %v", metabolic.PercentOptimal)
	}
}

func TestBuildReviewDeterministic(t *testing.T) {
	deps := ReviewBuildDeps{Registry: evidenceDeps(t).Registry}
	uploadID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	protoA := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	protoB := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	computed := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	scoreA := types.ProtocolScore{ProtocolID: protoA, PeptideName: "Alpha", Verdict: VerdictNoDetectableEffect}
	scoreB := types.ProtocolScore{ProtocolID: protoB, PeptideName: "Beta", Verdict: VerdictNoDetectableEffect}
	ledgerA := types.EvidenceLedgerEntry{ID: "a", Outcome: types.OutcomePending}
	ledgerB := types.EvidenceLedgerEntry{ID: "b", Outcome: types.OutcomePending}

	first := BuildReview(deps, ReviewBuildInput{
		UploadID: uploadID, ComputedAt: computed,
		Markers: []types.LabBiomarker{marker("ldl", 100, "high")},
		Scores:  []types.ProtocolScore{scoreA, scoreB},
		Ledger:  []types.EvidenceLedgerEntry{ledgerA, ledgerB},
	})
	second := BuildReview(deps, ReviewBuildInput{
		UploadID: uploadID, ComputedAt: computed,
		Markers: []types.LabBiomarker{marker("ldl", 100, "high")},
		Scores:  []types.ProtocolScore{scoreB, scoreA},
		Ledger:  []types.EvidenceLedgerEntry{ledgerB, ledgerA},
	})

	if !bytes.Equal(first.ProtocolScores, second.ProtocolScores) {
		t.Fatalf("protocol score blob depends on input order")
	}
	if !bytes.Equal(first.EvidenceLedger, second.EvidenceLedger) {
		t.Fatalf("ledger blob depends on input order")
	}
	if !bytes.Equal(first.DomainSummaries, second.DomainSummaries) {
		t.Fatalf("domain summary blob not reproducible")
	}
}
