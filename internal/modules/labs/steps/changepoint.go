package steps

import (
	"math"
	"time"

	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

const (
	// defaultSearchDays bounds the candidate window around protocol start.
	defaultSearchDays = 21
	// changepointThreshold suppresses weak detections entirely; callers get
	// nil, not a low-confidence row.
	changepointThreshold = 0.6
	// varianceFloor keeps degenerate (constant) segments from producing
	// infinite likelihoods.
	varianceFloor = 1e-6
)

type ChangepointDeps struct {
	Log *logger.Logger
}

type ChangepointInput struct {
	Metric string
	// Chronological (oldest-first) observations of the metric.
	Series []MetricPoint
	// ProtocolStart anchors the candidate search window.
	ProtocolStart time.Time
	// SearchDays widens or narrows the window; <=0 uses the default.
	SearchDays int
}

type ChangepointResult struct {
	Metric          string
	DetectedDate    time.Time
	PosteriorProb   float64
	EffectSize      float64
	PreMean         float64
	PostMean        float64
	ConfidenceLevel string
}

// DetectChangepoint fits a two-segment normal model at every eligible
// observation date and compares the splits against a single-segment null via
// BIC-penalized marginal likelihoods. The softmax over model scores gives a
// posterior over change locations; a detection requires the mass inside the
// protocol-start window to clear the threshold, so a shift that actually
// happened elsewhere in the series is never attributed to the protocol.
// Returns nil when nothing clears the threshold.
func DetectChangepoint(deps ChangepointDeps, in ChangepointInput) *ChangepointResult {
	if len(in.Series) < 6 {
		return nil
	}
	search := in.SearchDays
	if search <= 0 {
		search = defaultSearchDays
	}
	windowLow := in.ProtocolStart.AddDate(0, 0, -search)
	windowHigh := in.ProtocolStart.AddDate(0, 0, search)

	values := make([]float64, len(in.Series))
	for i, pt := range in.Series {
		values[i] = pt.Value
	}
	n := float64(len(values))

	type candidate struct {
		date     time.Time
		score    float64
		inWindow bool
		preMean  float64
		postMean float64
		preVar   float64
		postVar  float64
		preN     int
		postN    int
	}

	nullScore := segmentLogLikelihood(values)
	scores := []float64{nullScore}
	var candidates []candidate

	for i, pt := range in.Series {
		pre, post := values[:i], values[i:]
		if len(pre) < 3 || len(post) < 3 {
			continue
		}
		// Extra mean+variance pair costs one BIC penalty term.
		score := segmentLogLikelihood(pre) + segmentLogLikelihood(post) - math.Log(n)
		candidates = append(candidates, candidate{
			date:     pt.Date,
			score:    score,
			inWindow: !pt.Date.Before(windowLow) && !pt.Date.After(windowHigh),
			preMean:  mean(pre), postMean: mean(post),
			preVar: sampleVariance(pre), postVar: sampleVariance(post),
			preN: len(pre), postN: len(post),
		})
		scores = append(scores, score)
	}
	if len(candidates) == 0 {
		return nil
	}

	posteriors := softmax(scores)
	changeProb := 0.0
	var best *candidate
	for i := range candidates {
		c := &candidates[i]
		if !c.inWindow {
			continue
		}
		changeProb += posteriors[i+1]
		if best == nil || c.score > best.score {
			best = c
		}
	}
	if best == nil || changeProb < changepointThreshold {
		return nil
	}

	res := &ChangepointResult{
		Metric:        in.Metric,
		DetectedDate:  best.date,
		PosteriorProb: changeProb,
		EffectSize: cohenD(best.preMean, best.preVar, float64(best.preN),
			best.postMean, best.postVar, float64(best.postN)),
		PreMean:  best.preMean,
		PostMean: best.postMean,
	}
	switch {
	case changeProb >= 0.9:
		res.ConfidenceLevel = "high"
	case changeProb >= 0.75:
		res.ConfidenceLevel = "moderate"
	default:
		res.ConfidenceLevel = "low"
	}
	return res
}

// segmentLogLikelihood is the profile log-likelihood of a normal segment with
// its MLE mean and variance plugged in.
func segmentLogLikelihood(xs []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	variance := ss / n
	if variance < varianceFloor {
		variance = varianceFloor
	}
	return -0.5 * n * (math.Log(2*math.Pi*variance) + 1)
}

func softmax(scores []float64) []float64 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
