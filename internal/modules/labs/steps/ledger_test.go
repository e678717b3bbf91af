package steps

import (
	"testing"

	"github.com/google/uuid"

	types "github.com/yungbote/labintel-backend/internal/domain"
)

func ptr(v float64) *float64 { return &v }

func TestEmitClaimsFromEvidenceAndForecast(t *testing.T) {
	uploadID := uuid.New()
	protoID := uuid.New()
	in := EmitClaimsInput{
		UploadID: uploadID,
		Scores: []types.ProtocolScore{
			{
				ProtocolID:  protoID,
				PeptideName: "Berberine",
				Verdict:     VerdictLikelyPositive,
				Confidence:  0.75,
				WindowDays:  90,
				Primary: []types.EffectRecord{
					{Metric: "ldl", ChangePct: -22.7, PValue: 0.002, Direction: "beneficial"},
				},
			},
			{PeptideName: "NoEffect", Verdict: VerdictNoDetectableEffect},
		},
		Forecasts: []ForecastOutput{
			{BiomarkerKey: "glucose", ForecastValue: 95, ForecastLow: 88, ForecastHigh: 102, HorizonDays: 30},
			{BiomarkerKey: "hdl", Insufficient: true},
		},
		Latest: map[string]float64{"ldl": 100},
	}

	entries := EmitClaims(LedgerDeps{}, in)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (one effect claim, one forecast claim)", len(entries))
	}
	for _, e := range entries {
		if e.Outcome != types.OutcomePending {
			t.Fatalf("new claim outcome = %q, want pending", e.Outcome)
		}
		if e.MadeAtUploadID != uploadID {
			t.Fatalf("claim not stamped with the emitting upload")
		}
	}

	var effect, forecast *types.EvidenceLedgerEntry
	for i := range entries {
		switch entries[i].ClaimType {
		case ClaimTypeProtocolEffect:
			effect = &entries[i]
		case ClaimTypeForecast:
			forecast = &entries[i]
		}
	}
	if effect == nil || forecast == nil {
		t.Fatalf("missing claim types in %+v", entries)
	}
	if effect.Prediction.Direction != "decrease" || *effect.Prediction.Baseline != 100 {
		t.Fatalf("effect prediction = %+v, want decrease from baseline 100", effect.Prediction)
	}
	if *forecast.Prediction.RangeLow != 88 || *forecast.Prediction.RangeHigh != 102 {
		t.Fatalf("forecast prediction = %+v", forecast.Prediction)
	}
}

func TestEmitClaimsDeterministicIDs(t *testing.T) {
	in := EmitClaimsInput{
		UploadID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Forecasts: []ForecastOutput{
			{BiomarkerKey: "glucose", ForecastLow: 88, ForecastHigh: 102, HorizonDays: 30},
		},
	}
	a := EmitClaims(LedgerDeps{}, in)
	b := EmitClaims(LedgerDeps{}, in)
	if len(a) != 1 || len(b) != 1 || a[0].ID != b[0].ID {
		t.Fatalf("claim ids must be reproducible, got %q vs %q", a[0].ID, b[0].ID)
	}
}

func TestReconcileRangeClaims(t *testing.T) {
	resolver := uuid.New()
	entries := []types.EvidenceLedgerEntry{
		{
			ID: "a", ClaimType: ClaimTypeForecast, Outcome: types.OutcomePending,
			Prediction: &types.LedgerPrediction{Marker: "glucose", RangeLow: ptr(88), RangeHigh: ptr(102)},
		},
		{
			ID: "b", ClaimType: ClaimTypeForecast, Outcome: types.OutcomePending,
			Prediction: &types.LedgerPrediction{Marker: "ldl", RangeLow: ptr(90), RangeHigh: ptr(110)},
		},
		{
			ID: "c", ClaimType: ClaimTypeForecast, Outcome: types.OutcomePending,
			Prediction: &types.LedgerPrediction{Marker: "hdl", RangeLow: ptr(50), RangeHigh: ptr(70)},
		},
	}

	out := ReconcileLedger(LedgerDeps{}, ReconcileInput{
		Entries:  entries,
		UploadID: resolver,
		// hdl is not observed this draw.
		Observations: map[string]float64{"glucose": 95, "ldl": 130},
	})

	if out[0].Outcome != types.OutcomeConfirmed {
		t.Fatalf("in-range observation should confirm, got %q", out[0].Outcome)
	}
	if out[1].Outcome != types.OutcomeFalsified {
		t.Fatalf("out-of-range observation should falsify, got %q", out[1].Outcome)
	}
	if out[2].Outcome != types.OutcomePending {
		t.Fatalf("unobserved marker should stay pending, got %q", out[2].Outcome)
	}
	if out[0].ResolvedAtUploadID == nil || *out[0].ResolvedAtUploadID != resolver {
		t.Fatalf("resolved claim must record the resolving upload")
	}
	if out[0].ObservedValue == nil || *out[0].ObservedValue != 95 {
		t.Fatalf("resolved claim must record the observed value")
	}
	// Prior state is not mutated.
	if entries[0].Outcome != types.OutcomePending {
		t.Fatalf("reconcile must not mutate its input")
	}
}

func TestReconcileDirectionClaims(t *testing.T) {
	mk := func(id, direction string, baseline float64) types.EvidenceLedgerEntry {
		return types.EvidenceLedgerEntry{
			ID: id, ClaimType: ClaimTypeProtocolEffect, Outcome: types.OutcomePending,
			Prediction: &types.LedgerPrediction{Marker: "ldl", Direction: direction, Baseline: ptr(baseline)},
		}
	}
	cases := []struct {
		name     string
		entry    types.EvidenceLedgerEntry
		observed float64
		want     string
	}{
		{"decrease confirmed", mk("a", "decrease", 100), 90, types.OutcomeConfirmed},
		{"decrease falsified", mk("b", "decrease", 100), 112, types.OutcomeFalsified},
		{"dead band stays pending", mk("c", "decrease", 100), 101, types.OutcomePending},
		{"increase confirmed", mk("d", "increase", 100), 108, types.OutcomeConfirmed},
	}
	for _, tc := range cases {
		out := ReconcileLedger(LedgerDeps{}, ReconcileInput{
			Entries:      []types.EvidenceLedgerEntry{tc.entry},
			UploadID:     uuid.New(),
			Observations: map[string]float64{"ldl": tc.observed},
		})
		if out[0].Outcome != tc.want {
			t.Fatalf("%s: outcome = %q, want %q", tc.name, out[0].Outcome, tc.want)
		}
	}
}

func TestReconcileSkipsResolvedEntries(t *testing.T) {
	prior := uuid.New()
	entries := []types.EvidenceLedgerEntry{{
		ID: "a", Outcome: types.OutcomeConfirmed, ResolvedAtUploadID: &prior,
		ObservedValue: ptr(95),
		Prediction:    &types.LedgerPrediction{Marker: "glucose", RangeLow: ptr(88), RangeHigh: ptr(102)},
	}}
	out := ReconcileLedger(LedgerDeps{}, ReconcileInput{
		Entries:      entries,
		UploadID:     uuid.New(),
		Observations: map[string]float64{"glucose": 300},
	})
	if out[0].Outcome != types.OutcomeConfirmed || *out[0].ResolvedAtUploadID != prior {
		t.Fatalf("resolved entries must never be revisited, got %+v", out[0])
	}
}

func TestLedgerAccuracy(t *testing.T) {
	entries := []types.EvidenceLedgerEntry{
		{Outcome: types.OutcomeConfirmed},
		{Outcome: types.OutcomeConfirmed},
		{Outcome: types.OutcomeConfirmed},
		{Outcome: types.OutcomeFalsified},
		{Outcome: types.OutcomePending},
		{Outcome: types.OutcomePending},
	}
	stats := LedgerAccuracy(entries)
	if stats.Confirmed != 3 || stats.Falsified != 1 || stats.Pending != 2 {
		t.Fatalf("tally = %+v", stats)
	}
	if stats.Accuracy != 0.75 {
		t.Fatalf("accuracy = %v, want 0.75 (pending excluded)", stats.Accuracy)
	}
}

func TestLedgerAccuracyNoResolved(t *testing.T) {
	stats := LedgerAccuracy([]types.EvidenceLedgerEntry{{Outcome: types.OutcomePending}})
	if stats.Accuracy != 0 {
		t.Fatalf("accuracy with no resolved claims = %v, want 0", stats.Accuracy)
	}
}
