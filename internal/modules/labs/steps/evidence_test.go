package steps

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
	types "github.com/yungbote/labintel-backend/internal/domain"
)

var evidenceOrigin = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return evidenceOrigin.AddDate(0, 0, n) }

func testProtocol(t *testing.T, peptide string, startDay int, intents string) *types.Protocol {
	t.Helper()
	p := &types.Protocol{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		PeptideName: peptide,
		StartDate:   day(startDay),
	}
	if intents != "" {
		p.IntendedEffects = datatypes.JSON(intents)
	}
	return p
}

func seriesAt(days []int, values []float64) []MetricPoint {
	pts := make([]MetricPoint, len(days))
	for i := range days {
		pts[i] = MetricPoint{Date: day(days[i]), Value: values[i], UploadID: uuid.New()}
	}
	return pts
}

func evidenceDeps(t *testing.T) EvidenceDeps {
	t.Helper()
	reg, err := biomarkers.Load()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return EvidenceDeps{Registry: reg}
}

func TestComputeEvidenceStrongIntendedEffect(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Berberine", 0, `[{"metric":"ldl","direction":"decrease"}]`)
	in := EvidenceInput{
		Protocol: proto,
		Series: map[string][]MetricPoint{
			"ldl": seriesAt(
				[]int{-60, -45, -30, -15, 10, 25, 40, 55},
				[]float64{130, 128, 132, 129, 100, 98, 102, 101},
			),
		},
		Now:        day(60),
		Robustness: true,
	}

	out := ComputeEvidence(deps, in)
	if out.Verdict != VerdictStrongPositive {
		t.Fatalf("verdict = %q, want %q", out.Verdict, VerdictStrongPositive)
	}
	if out.WindowDays != 90 {
		t.Fatalf("window = %d, want 90 (auto from %d days on protocol)", out.WindowDays, out.DaysOnProtocol)
	}
	if len(out.Primary) != 1 || out.Primary[0].Metric != "ldl" {
		t.Fatalf("primary effects = %+v, want one ldl record", out.Primary)
	}
	eff := out.Primary[0]
	if eff.PValue >= 0.01 {
		t.Fatalf("p-value = %v, want < 0.01", eff.PValue)
	}
	if eff.ChangePct > -20 || eff.ChangePct < -25 {
		t.Fatalf("change pct = %v, want near -22.7", eff.ChangePct)
	}
	if eff.Direction != "beneficial" {
		t.Fatalf("direction = %q, want beneficial", eff.Direction)
	}
	if !out.RobustVerdict {
		t.Fatalf("verdict should survive window shifts")
	}
	if out.Score < 80 {
		t.Fatalf("score = %v, want >= 80 for a strong verdict", out.Score)
	}
}

func TestComputeEvidenceTwoPreSamplesIsTooEarly(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Berberine", 0, `[{"metric":"ldl","direction":"decrease"}]`)
	in := EvidenceInput{
		Protocol: proto,
		Series: map[string][]MetricPoint{
			"ldl": seriesAt(
				[]int{-40, -20, 10, 25, 40, 55},
				[]float64{130, 128, 100, 98, 102, 101},
			),
		},
		Now: day(60),
	}

	out := ComputeEvidence(deps, in)
	if out.Verdict != VerdictTooEarly {
		t.Fatalf("verdict = %q, want %q with only two baseline samples", out.Verdict, VerdictTooEarly)
	}
	if len(out.Primary)+len(out.Secondary)+len(out.Adverse) != 0 {
		t.Fatalf("no effect records should be emitted without statistics")
	}
}

func TestComputeEvidenceShortPostPeriodAccumulates(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Berberine", 0, "")
	in := EvidenceInput{
		Protocol: proto,
		Series: map[string][]MetricPoint{
			"ldl": seriesAt(
				[]int{-60, -40, -20, 10, 25},
				[]float64{130, 128, 132, 100, 98},
			),
		},
		Now: day(30),
	}

	out := ComputeEvidence(deps, in)
	if out.Verdict != VerdictAccumulating {
		t.Fatalf("verdict = %q, want %q", out.Verdict, VerdictAccumulating)
	}
}

func TestComputeEvidenceConfoundMajorityOverrides(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Berberine", 0, `[{"metric":"ldl","direction":"decrease"}]`)
	pts := seriesAt(
		[]int{-60, -40, -20, 10, 25, 40},
		[]float64{130, 128, 132, 100, 98, 102},
	)
	preDraw := map[uuid.UUID]*types.PreDrawContext{
		pts[3].UploadID: {Illness: "severe"},
		pts[4].UploadID: {Illness: "severe"},
	}
	in := EvidenceInput{
		Protocol: proto,
		Series:   map[string][]MetricPoint{"ldl": pts},
		PreDraw:  preDraw,
		Now:      day(60),
	}

	out := ComputeEvidence(deps, in)
	if out.Verdict != VerdictConfounded {
		t.Fatalf("verdict = %q, want %q when most post draws are confounded", out.Verdict, VerdictConfounded)
	}
	if out.ConfoundedDays != 2 || out.PostDays != 3 {
		t.Fatalf("confounded/post = %d/%d, want 2/3", out.ConfoundedDays, out.PostDays)
	}
}

func TestComputeEvidenceRobustnessClampsShortWindow(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Berberine", 0, `[{"metric":"ldl","direction":"decrease"}]`)
	in := EvidenceInput{
		Protocol: proto,
		Series: map[string][]MetricPoint{
			"ldl": seriesAt(
				[]int{-30, -20, -10, 1, 3, 5},
				[]float64{130, 128, 132, 100, 98, 102},
			),
		},
		Now:        day(7),
		WindowDays: 7,
		Robustness: true,
	}

	out := ComputeEvidence(deps, in)
	if !statisticalVerdict(out.Verdict) {
		t.Fatalf("verdict = %q, want a statistical verdict", out.Verdict)
	}
	// Widening shifts keep every post draw in the window, and narrowing
	// shifts clamp to the shortest window instead of emptying it.
	if !out.RobustVerdict {
		t.Fatalf("stable seven day window flagged unstable")
	}
}

func TestComputeEvidenceAfternoonDrawDiscounted(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Berberine", 0, `[{"metric":"ldl","direction":"decrease"}]`)
	pts := seriesAt(
		[]int{-60, -40, -20, 10, 25, 40},
		[]float64{130, 128, 132, 100, 98, 102},
	)
	afternoon := day(10).Add(15 * time.Hour)
	morning := day(25).Add(8 * time.Hour)
	// Two moderately stressed draws sit just above the confound line; only
	// the afternoon one should be pushed under it.
	preDraw := map[uuid.UUID]*types.PreDrawContext{
		pts[3].UploadID: {Exercise: "moderate", Stress: "moderate", DrawTime: &afternoon},
		pts[4].UploadID: {Exercise: "moderate", Stress: "moderate", DrawTime: &morning},
	}
	in := EvidenceInput{
		Protocol: proto,
		Series:   map[string][]MetricPoint{"ldl": pts},
		PreDraw:  preDraw,
		Now:      day(60),
	}

	out := ComputeEvidence(deps, in)
	if out.ConfoundedDays != 1 {
		t.Fatalf("confounded days = %d, want 1", out.ConfoundedDays)
	}
}

func TestComputeEvidenceConfoundsCountDistinctDraws(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Berberine", 0, `[{"metric":"ldl","direction":"decrease"}]`)
	ldl := seriesAt(
		[]int{-60, -40, -20, 10, 25, 40},
		[]float64{130, 128, 132, 100, 98, 102},
	)
	hdl := seriesAt(
		[]int{-55, -35, -15, 12, 27, 42},
		[]float64{45, 46, 44, 52, 54, 53},
	)
	// One confounded draw per metric, on different uploads.
	preDraw := map[uuid.UUID]*types.PreDrawContext{
		ldl[3].UploadID: {Illness: "severe"},
		hdl[4].UploadID: {Illness: "severe"},
	}
	in := EvidenceInput{
		Protocol: proto,
		Series:   map[string][]MetricPoint{"ldl": ldl, "hdl": hdl},
		PreDraw:  preDraw,
		Now:      day(60),
	}

	out := ComputeEvidence(deps, in)
	if out.ConfoundedDays != 2 {
		t.Fatalf("confounded days = %d, want 2 distinct draws", out.ConfoundedDays)
	}
	if out.PostDays != 6 {
		t.Fatalf("post days = %d, want 6 distinct draws", out.PostDays)
	}
}

func TestComputeEvidenceAdverseMove(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Anavar", 0, "")
	in := EvidenceInput{
		Protocol: proto,
		Series: map[string][]MetricPoint{
			"hdl": seriesAt(
				[]int{-60, -45, -30, -15, 10, 25, 40, 55},
				[]float64{60, 61, 59, 60, 48, 47, 49, 48},
			),
		},
		Now: day(60),
	}

	out := ComputeEvidence(deps, in)
	if out.Verdict != VerdictPossibleNegative {
		t.Fatalf("verdict = %q, want %q", out.Verdict, VerdictPossibleNegative)
	}
	if len(out.Adverse) != 1 || out.Adverse[0].Metric != "hdl" {
		t.Fatalf("adverse effects = %+v, want one hdl record", out.Adverse)
	}
	if out.Adverse[0].Direction != "adverse" {
		t.Fatalf("direction = %q, want adverse", out.Adverse[0].Direction)
	}
}

func TestComputeEvidenceMechanismGrouping(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Berberine", 0, `[{"metric":"ldl","direction":"decrease"}]`)
	in := EvidenceInput{
		Protocol: proto,
		Series: map[string][]MetricPoint{
			"ldl": seriesAt(
				[]int{-60, -45, -30, -15, 10, 25, 40, 55},
				[]float64{130, 128, 132, 129, 100, 98, 102, 101},
			),
			"triglycerides": seriesAt(
				[]int{-60, -45, -30, -15, 10, 25, 40, 55},
				[]float64{160, 158, 162, 159, 110, 108, 112, 111},
			),
		},
		Now: day(60),
	}

	out := ComputeEvidence(deps, in)
	var lipids *types.MechanismGroup
	for i := range out.Mechanisms {
		if out.Mechanisms[i].Name == "lipid_metabolism" {
			lipids = &out.Mechanisms[i]
		}
	}
	if lipids == nil {
		t.Fatalf("mechanisms = %+v, want lipid_metabolism group", out.Mechanisms)
	}
	if lipids.Confidence != "high" {
		t.Fatalf("lipid mechanism confidence = %q, want high (two co-moving metrics)", lipids.Confidence)
	}
	if len(lipids.Metrics) != 2 {
		t.Fatalf("lipid mechanism metrics = %v, want ldl and triglycerides", lipids.Metrics)
	}
}

func TestComputeEvidenceRobustnessDowngrade(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Berberine", 0, `[{"metric":"ldl","direction":"decrease"}]`)
	// All post draws sit in the last week of the window, so shifting the
	// boundary earlier drops them and flips the verdict.
	in := EvidenceInput{
		Protocol: proto,
		Series: map[string][]MetricPoint{
			"ldl": seriesAt(
				[]int{-60, -45, -30, -15, 85, 87, 89},
				[]float64{130, 128, 132, 129, 100, 98, 102},
			),
		},
		Now:        day(91),
		Robustness: true,
	}

	out := ComputeEvidence(deps, in)
	if out.RobustVerdict {
		t.Fatalf("verdict should be flagged unstable when the window shift changes it")
	}
	if out.Confidence >= 0.9 {
		t.Fatalf("confidence = %v, want downgraded below the base tier", out.Confidence)
	}
}

func TestComputeEvidenceNilProtocol(t *testing.T) {
	deps := evidenceDeps(t)
	out := ComputeEvidence(deps, EvidenceInput{})
	if out.ProtocolID != uuid.Nil || out.Verdict != "" {
		t.Fatalf("nil protocol should yield an empty result, got %+v", out)
	}
}

func TestAutoWindowSelection(t *testing.T) {
	cases := []struct{ daysOn, want int }{
		{0, 7}, {5, 7}, {10, 14}, {14, 14}, {30, 30}, {45, 90}, {200, 90},
	}
	for _, tc := range cases {
		if got := autoWindow(tc.daysOn); got != tc.want {
			t.Fatalf("autoWindow(%d) = %d, want %d", tc.daysOn, got, tc.want)
		}
	}
}

func TestComputeEvidenceOverlappingProtocolConfound(t *testing.T) {
	deps := evidenceDeps(t)
	proto := testProtocol(t, "Berberine", 0, `[{"metric":"ldl","direction":"decrease"}]`)
	other := testProtocol(t, "Metformin", 5, "")
	in := EvidenceInput{
		Protocol:     proto,
		AllProtocols: []*types.Protocol{proto, other},
		Series: map[string][]MetricPoint{
			"ldl": seriesAt(
				[]int{-60, -40, -20, 10, 20, 30},
				[]float64{130, 128, 132, 100, 98, 102},
			),
		},
		Now: day(60),
	}

	out := ComputeEvidence(deps, in)
	// Every post draw lands within 30 days of the second protocol's start.
	if out.ConfoundedDays == 0 {
		t.Fatalf("post draws under a freshly started second protocol should count as confounded")
	}
	if out.Verdict != VerdictConfounded {
		t.Fatalf("verdict = %q, want %q", out.Verdict, VerdictConfounded)
	}
}
