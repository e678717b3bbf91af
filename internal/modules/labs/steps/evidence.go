package steps

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

const (
	VerdictStrongPositive     = "strong_positive"
	VerdictLikelyPositive     = "likely_positive"
	VerdictWeakPositive       = "weak_positive"
	VerdictPossibleNegative   = "possible_negative"
	VerdictConfounded         = "confounded"
	VerdictTooEarly           = "too_early"
	VerdictAccumulating       = "accumulating"
	VerdictNoDetectableEffect = "no_detectable_effect"
)

// Allowed analysis windows in days; auto-selection picks the smallest one
// covering days-on-protocol, capped at the largest.
var analysisWindows = []int{7, 14, 30, 90}

// MetricPoint is one dated observation of a metric.
type MetricPoint struct {
	Date     time.Time
	Value    float64
	UploadID uuid.UUID
}

type EvidenceDeps struct {
	Log      *logger.Logger
	Registry *biomarkers.Registry
}

type EvidenceInput struct {
	UserID   uuid.UUID
	Protocol *types.Protocol
	// Other protocols of the user, for overlap confounding.
	AllProtocols []*types.Protocol
	// Chronological (oldest-first) series per metric key.
	Series map[string][]MetricPoint
	// PreDraw confound metadata keyed by upload id.
	PreDraw map[uuid.UUID]*types.PreDrawContext
	// WindowDays 0 auto-selects from days-on-protocol.
	WindowDays int
	// Now anchors day counting; normally the latest upload's test date.
	Now time.Time
	// Robustness re-runs the analysis at shifted window boundaries and
	// downgrades confidence when the verdict is unstable.
	Robustness bool
}

type EvidenceOutput struct {
	ProtocolID     uuid.UUID              `json:"protocol_id"`
	PeptideName    string                 `json:"peptide_name"`
	Verdict        string                 `json:"verdict"`
	Confidence     float64                `json:"confidence"`
	Score          float64                `json:"score"`
	WindowDays     int                    `json:"window_days"`
	DaysOnProtocol int                    `json:"days_on_protocol"`
	// ConfoundedDays and PostDays count distinct draws inside the post
	// window, not per-metric observations.
	ConfoundedDays int                    `json:"confounded_days"`
	PostDays       int                    `json:"post_days"`
	Primary        []types.EffectRecord   `json:"primary,omitempty"`
	Secondary      []types.EffectRecord   `json:"secondary,omitempty"`
	Adverse        []types.EffectRecord   `json:"adverse,omitempty"`
	Mechanisms     []types.MechanismGroup `json:"mechanisms,omitempty"`
	RobustVerdict  bool                   `json:"robust_verdict"`
}

// ComputeEvidence scores one protocol against the user's metric history.
// A nil protocol yields an empty result, never an error; fewer than three
// pre- or post-period samples resolve to too_early/accumulating without any
// statistical computation.
func ComputeEvidence(deps EvidenceDeps, in EvidenceInput) EvidenceOutput {
	out := EvidenceOutput{RobustVerdict: true}
	if in.Protocol == nil {
		return out
	}
	out.ProtocolID = in.Protocol.ID
	out.PeptideName = in.Protocol.PeptideName

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	daysOn := int(now.Sub(in.Protocol.StartDate).Hours() / 24)
	if daysOn < 0 {
		daysOn = 0
	}
	out.DaysOnProtocol = daysOn

	window := in.WindowDays
	if !validWindow(window) {
		window = autoWindow(daysOn)
	}
	out.WindowDays = window

	result := analyzeWindow(deps, in, window, daysOn)
	out.Verdict = result.verdict
	out.Confidence = result.confidence
	out.ConfoundedDays = result.confoundedDays
	out.PostDays = result.postDays
	out.Primary = result.primary
	out.Secondary = result.secondary
	out.Adverse = result.adverse
	out.Mechanisms = result.mechanisms
	out.Score = result.score

	if in.Robustness && statisticalVerdict(out.Verdict) {
		for _, shift := range []int{-7, -3, 3, 7} {
			// A negative shift on a short window must not collapse it to
			// nothing; instability below the shortest window is meaningless.
			w := window + shift
			if w < analysisWindows[0] {
				w = analysisWindows[0]
			}
			if w == window {
				continue
			}
			shifted := analyzeWindow(deps, in, w, daysOn)
			if shifted.verdict != out.Verdict {
				out.RobustVerdict = false
				out.Confidence = downgradeTier(out.Confidence)
				break
			}
		}
	}
	return out
}

func validWindow(w int) bool {
	for _, allowed := range analysisWindows {
		if w == allowed {
			return true
		}
	}
	return false
}

func autoWindow(daysOn int) int {
	for _, w := range analysisWindows {
		if daysOn <= w {
			return w
		}
	}
	return analysisWindows[len(analysisWindows)-1]
}

func statisticalVerdict(v string) bool {
	switch v {
	case VerdictTooEarly, VerdictAccumulating, VerdictConfounded:
		return false
	default:
		return true
	}
}

type windowResult struct {
	verdict        string
	confidence     float64
	score          float64
	confoundedDays int
	postDays       int
	primary        []types.EffectRecord
	secondary      []types.EffectRecord
	adverse        []types.EffectRecord
	mechanisms     []types.MechanismGroup
}

type metricEffect struct {
	metric    string
	record    types.EffectRecord
	d         float64
	p         float64
	favorable int // +1 beneficial, -1 harmful, 0 neutral
	intended  bool
}

func analyzeWindow(deps EvidenceDeps, in EvidenceInput, windowDays, daysOn int) windowResult {
	res := windowResult{verdict: VerdictNoDetectableEffect, confidence: 0.4}

	start := in.Protocol.StartDate
	windowEnd := start.AddDate(0, 0, windowDays)

	intents := map[string]string{}
	for _, ie := range in.Protocol.DecodeIntendedEffects() {
		intents[ie.Metric] = ie.Direction
	}

	metrics := make([]string, 0, len(in.Series))
	for k := range in.Series {
		metrics = append(metrics, k)
	}
	sort.Strings(metrics)

	var effects []metricEffect
	minPre, minPost := math.MaxInt32, math.MaxInt32
	sawSeries := false
	// Confounds attach to the draw, not the metric, so counting is by
	// distinct upload across every series in the window.
	postDraws := map[uuid.UUID]struct{}{}
	confoundedDraws := map[uuid.UUID]struct{}{}

	for _, metric := range metrics {
		points := in.Series[metric]
		var preVals, preWts, postVals, postWts []float64
		for _, pt := range points {
			w, heavilyConfounded := confoundWeight(in, pt)
			if pt.Date.Before(start) {
				preVals = append(preVals, pt.Value)
				preWts = append(preWts, w)
				continue
			}
			if pt.Date.After(windowEnd) {
				continue
			}
			postVals = append(postVals, pt.Value)
			postWts = append(postWts, w)
			postDraws[pt.UploadID] = struct{}{}
			if heavilyConfounded {
				confoundedDraws[pt.UploadID] = struct{}{}
			}
		}
		if len(preVals) == 0 && len(postVals) == 0 {
			continue
		}
		sawSeries = true
		if len(preVals) < minPre {
			minPre = len(preVals)
		}
		if len(postVals) < minPost {
			minPost = len(postVals)
		}
		if len(preVals) < 3 || len(postVals) < 3 {
			continue
		}

		preMean, _ := weightedMean(preVals, preWts)
		preVar, preNeff := weightedVariance(preVals, preWts)
		postMean, _ := weightedMean(postVals, postWts)
		postVar, postNeff := weightedVariance(postVals, postWts)
		if preNeff < 2 || postNeff < 2 {
			continue
		}

		welch := welchTTest(preMean, preVar, preNeff, postMean, postVar, postNeff)
		d := cohenD(preMean, preVar, preNeff, postMean, postVar, postNeff)

		changePct := 0.0
		if preMean != 0 {
			changePct = (postMean - preMean) / math.Abs(preMean) * 100
		}
		ciLowPct, ciHighPct := changePct, changePct
		if preMean != 0 {
			ciLowPct = welch.CILow / math.Abs(preMean) * 100
			ciHighPct = welch.CIHigh / math.Abs(preMean) * 100
		}

		fav, intended := classifyDirection(deps.Registry, intents, metric, preMean, postMean)
		effects = append(effects, metricEffect{
			metric: metric,
			record: types.EffectRecord{
				Metric:    metric,
				ChangePct: changePct,
				CILow:     ciLowPct,
				CIHigh:    ciHighPct,
				PValue:    welch.P,
				Direction: favorabilityLabel(fav),
			},
			d: d, p: welch.P, favorable: fav, intended: intended,
		})
	}

	totalConfounded := len(confoundedDraws)
	totalPost := len(postDraws)
	res.confoundedDays = totalConfounded
	res.postDays = totalPost

	if !sawSeries {
		res.verdict = VerdictTooEarly
		res.confidence = 0.2
		return res
	}

	// Confound override: a majority-confounded window forces the verdict
	// regardless of any computed p-value.
	if totalPost > 0 && totalConfounded*2 > totalPost {
		res.verdict = VerdictConfounded
		res.confidence = 0.3
		return res
	}

	if len(effects) == 0 {
		// Every series was too short for statistics. A missing baseline or
		// an empty post period means the protocol is simply too young; a
		// short post period on a solid baseline is merely accumulating.
		if minPre < 3 || minPost == 0 {
			res.verdict = VerdictTooEarly
			res.confidence = 0.2
		} else if minPost < 3 {
			res.verdict = VerdictAccumulating
			res.confidence = 0.25
		}
		return res
	}

	sortEffects(effects)
	for _, e := range effects {
		switch {
		case e.favorable > 0 && e.intended && e.p < 0.10:
			res.primary = append(res.primary, e.record)
		case e.favorable > 0 && e.p < 0.10:
			res.secondary = append(res.secondary, e.record)
		case e.favorable < 0 && e.p < 0.10:
			res.adverse = append(res.adverse, e.record)
		}
	}
	res.mechanisms = detectMechanisms(deps.Registry, effects)

	res.verdict, res.confidence = classifyVerdict(effects)
	res.score = effectScore(res.verdict, effects, totalConfounded, totalPost)
	return res
}

// classifyVerdict walks the ordered rules; first match wins.
func classifyVerdict(effects []metricEffect) (string, float64) {
	var best *metricEffect
	var worst *metricEffect
	for i := range effects {
		e := &effects[i]
		if e.favorable > 0 && (best == nil || betterEvidence(e, best)) {
			best = e
		}
		if e.favorable < 0 && (worst == nil || betterEvidence(e, worst)) {
			worst = e
		}
	}

	switch {
	case best != nil && math.Abs(best.d) >= 0.8 && best.p < 0.01:
		return VerdictStrongPositive, 0.9
	case best != nil && math.Abs(best.d) >= 0.5 && best.p < 0.05:
		return VerdictLikelyPositive, 0.75
	case best != nil && math.Abs(best.d) >= 0.2 && best.p < 0.10:
		return VerdictWeakPositive, 0.55
	case worst != nil && worst.p < 0.05:
		return VerdictPossibleNegative, 0.6
	default:
		return VerdictNoDetectableEffect, 0.4
	}
}

func betterEvidence(a, b *metricEffect) bool {
	if a.p != b.p {
		return a.p < b.p
	}
	return math.Abs(a.d) > math.Abs(b.d)
}

func sortEffects(effects []metricEffect) {
	sort.Slice(effects, func(i, j int) bool {
		if effects[i].p != effects[j].p {
			return effects[i].p < effects[j].p
		}
		return effects[i].metric < effects[j].metric
	})
}

// classifyDirection decides whether a metric's move is beneficial. A stated
// protocol intent wins; otherwise the registry polarity decides.
func classifyDirection(reg *biomarkers.Registry, intents map[string]string, metric string, preMean, postMean float64) (int, bool) {
	rising := postMean > preMean
	if want, ok := intents[metric]; ok {
		switch {
		case want == "increase" && rising, want == "decrease" && !rising:
			return 1, true
		default:
			return -1, true
		}
	}
	def := reg.Get(metric)
	if def == nil {
		return 0, false
	}
	switch def.Polarity {
	case biomarkers.PolarityHigherIsBetter:
		if rising {
			return 1, false
		}
		return -1, false
	case biomarkers.PolarityLowerIsBetter:
		if rising {
			return -1, false
		}
		return 1, false
	case biomarkers.PolarityTargetRange:
		anchor, ok := anchorOf(def)
		if !ok {
			return 0, false
		}
		if math.Abs(postMean-anchor) < math.Abs(preMean-anchor) {
			return 1, false
		}
		return -1, false
	default:
		return 0, false
	}
}

func favorabilityLabel(fav int) string {
	switch {
	case fav > 0:
		return "beneficial"
	case fav < 0:
		return "adverse"
	default:
		return "neutral"
	}
}

// detectMechanisms groups significant co-moving metrics by their known
// physiological linkage. high requires two members below p=0.05.
func detectMechanisms(reg *biomarkers.Registry, effects []metricEffect) []types.MechanismGroup {
	byMetric := map[string]*metricEffect{}
	for i := range effects {
		byMetric[effects[i].metric] = &effects[i]
	}

	var out []types.MechanismGroup
	for _, mech := range reg.Mechanisms() {
		var strict, loose []string
		for _, metric := range mech.Metrics {
			e, ok := byMetric[metric]
			if !ok {
				continue
			}
			if e.p < 0.05 {
				strict = append(strict, metric)
			}
			if e.p < 0.10 {
				loose = append(loose, metric)
			}
		}
		switch {
		case len(strict) >= 2:
			out = append(out, types.MechanismGroup{Name: mech.Name, Metrics: strict, Confidence: "high"})
		case len(loose) >= 2:
			out = append(out, types.MechanismGroup{Name: mech.Name, Metrics: loose, Confidence: "moderate"})
		case len(strict) == 1:
			out = append(out, types.MechanismGroup{Name: mech.Name, Metrics: strict, Confidence: "low"})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// confoundWeight scores one draw day in [0,1]. Zero weight removes the day
// from both segments; weights under 0.5 count as confounded days.
func confoundWeight(in EvidenceInput, pt MetricPoint) (float64, bool) {
	w := 1.0
	if ctx := in.PreDraw[pt.UploadID]; ctx != nil {
		w *= severityWeight(ctx.Illness, 0.6, 0.3, 0.0)
		w *= severityWeight(ctx.Exercise, 0.9, 0.7, 0.5)
		w *= severityWeight(ctx.Stress, 0.9, 0.75, 0.5)
		if ctx.FastingHours != nil && *ctx.FastingHours < 8 {
			w *= 0.8
		}
		// Reference ranges assume a morning draw; afternoon and evening
		// draws are mildly discounted.
		if ctx.DrawTime != nil && ctx.DrawTime.Hour() >= 12 {
			w *= 0.9
		}
	}
	for _, other := range in.AllProtocols {
		if other == nil || other.ID == in.Protocol.ID {
			continue
		}
		// Another protocol starting shortly before this draw muddies
		// attribution of any change.
		daysSince := pt.Date.Sub(other.StartDate).Hours() / 24
		if daysSince >= 0 && daysSince <= 30 && other.ActiveOn(pt.Date) {
			w *= 0.4
		}
	}
	return w, w < 0.5
}

func severityWeight(severity string, mild, moderate, severe float64) float64 {
	switch severity {
	case "mild":
		return mild
	case "moderate":
		return moderate
	case "severe":
		return severe
	default:
		return 1.0
	}
}

func downgradeTier(confidence float64) float64 {
	c := confidence - 0.15
	if c < 0.1 {
		return 0.1
	}
	return c
}

// effectScore is the 0-100 effectiveness rollup used for protocol scorecards.
func effectScore(verdict string, effects []metricEffect, confounded, postDays int) float64 {
	base := map[string]float64{
		VerdictStrongPositive:     85,
		VerdictLikelyPositive:     70,
		VerdictWeakPositive:       55,
		VerdictNoDetectableEffect: 40,
		VerdictPossibleNegative:   20,
	}[verdict]
	if base == 0 {
		return 0
	}
	bonus := 0.0
	for _, e := range effects {
		if e.favorable > 0 && e.p < 0.05 {
			bonus += 3
		}
		if e.favorable < 0 && e.p < 0.05 {
			bonus -= 5
		}
	}
	if bonus > 15 {
		bonus = 15
	}
	if postDays > 0 {
		base -= 10 * float64(confounded) / float64(postDays)
	}
	score := base + bonus
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
