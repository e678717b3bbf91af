package steps

import (
	"math"
	"sort"

	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

const (
	defaultHorizonDays = 90
	minHorizonDays     = 7
	maxHorizonDays     = 180
	minBandwidthDays   = 21
)

type ForecastDeps struct {
	Log *logger.Logger
}

type ForecastInput struct {
	BiomarkerKey string
	// Chronological (oldest-first) observations.
	Series []MetricPoint
	// Protocols contribute step-shift covariates while active.
	Protocols []*types.Protocol
	// HorizonDays 0 derives the horizon from the median inter-draw gap.
	HorizonDays int
}

type ForecastOutput struct {
	BiomarkerKey  string               `json:"biomarker_key"`
	Insufficient  bool                 `json:"insufficient"`
	ForecastValue float64              `json:"forecast_value"`
	ForecastLow   float64              `json:"forecast_low"`
	ForecastHigh  float64              `json:"forecast_high"`
	HorizonDays   int                  `json:"horizon_days"`
	ProtocolTerms []types.ProtocolTerm `json:"protocol_terms,omitempty"`
}

// Forecast projects the metric to the expected next draw. The underlying
// trend is a Gaussian-kernel local-linear regression over elapsed days; each
// protocol with observations on both sides of its start contributes a mean
// step shift that is removed before smoothing and added back only while the
// protocol remains active at the forecast date. The interval is the residual
// SD of the fit, widened with horizon length.
func Forecast(deps ForecastDeps, in ForecastInput) ForecastOutput {
	out := ForecastOutput{BiomarkerKey: in.BiomarkerKey}
	if len(in.Series) < 3 {
		out.Insufficient = true
		return out
	}

	origin := in.Series[0].Date
	last := in.Series[len(in.Series)-1].Date
	xs := make([]float64, len(in.Series))
	ys := make([]float64, len(in.Series))
	for i, pt := range in.Series {
		xs[i] = pt.Date.Sub(origin).Hours() / 24
		ys[i] = pt.Value
	}

	horizon := in.HorizonDays
	if horizon <= 0 {
		horizon = medianGapDays(xs)
	}
	if horizon < minHorizonDays {
		horizon = minHorizonDays
	}
	if horizon > maxHorizonDays {
		horizon = maxHorizonDays
	}
	out.HorizonDays = horizon
	target := last.AddDate(0, 0, horizon)
	targetX := target.Sub(origin).Hours() / 24

	// Remove protocol step shifts so the smoother sees one regime.
	detrended := make([]float64, len(ys))
	copy(detrended, ys)
	shifts := estimateShifts(in.Series, detrended, in.Protocols)

	bandwidth := float64(medianGapDays(xs)) * 1.5
	if bandwidth < minBandwidthDays {
		bandwidth = minBandwidthDays
	}

	base, ok := localLinear(xs, detrended, targetX, bandwidth)
	if !ok {
		out.Insufficient = true
		return out
	}

	// Add back the shift of every protocol still running at the forecast
	// date; a course that ends before then reverts to baseline.
	value := base
	for _, term := range shifts {
		if term.protocol.ActiveOn(target) {
			value += term.shift
			out.ProtocolTerms = append(out.ProtocolTerms, types.ProtocolTerm{
				ProtocolID:  term.protocol.ID,
				PeptideName: term.protocol.PeptideName,
				Shift:       term.shift,
			})
		}
	}
	out.ForecastValue = value

	residSD := fitResidualSD(xs, detrended, bandwidth)
	floor := 0.01 * math.Abs(value)
	if residSD < floor {
		residSD = floor
	}
	widen := 1 + float64(horizon)/180.0
	margin := 1.96 * residSD * widen
	out.ForecastLow = value - margin
	out.ForecastHigh = value + margin
	return out
}

type shiftTerm struct {
	protocol *types.Protocol
	shift    float64
}

// estimateShifts measures each protocol's mean level step around its start
// and subtracts it in place from the post-start observations. Protocols
// without at least two observations on each side contribute nothing.
func estimateShifts(series []MetricPoint, values []float64, protocols []*types.Protocol) []shiftTerm {
	sorted := make([]*types.Protocol, 0, len(protocols))
	for _, p := range protocols {
		if p != nil {
			sorted = append(sorted, p)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartDate.Before(sorted[j].StartDate) })

	var terms []shiftTerm
	for _, p := range sorted {
		var pre, post []float64
		var postIdx []int
		for i, pt := range series {
			if pt.Date.Before(p.StartDate) {
				pre = append(pre, values[i])
			} else {
				post = append(post, values[i])
				postIdx = append(postIdx, i)
			}
		}
		if len(pre) < 2 || len(post) < 2 {
			continue
		}
		shift := mean(post) - mean(pre)
		for _, i := range postIdx {
			values[i] -= shift
		}
		terms = append(terms, shiftTerm{protocol: p, shift: shift})
	}
	return terms
}

// localLinear is a Gaussian-kernel weighted least-squares line evaluated at
// x0. Falls back to the weighted mean when the design is degenerate.
func localLinear(xs, ys []float64, x0, bandwidth float64) (float64, bool) {
	var sw, swx, swy, swxx, swxy float64
	for i := range xs {
		u := (xs[i] - x0) / bandwidth
		w := math.Exp(-0.5 * u * u)
		sw += w
		swx += w * xs[i]
		swy += w * ys[i]
		swxx += w * xs[i] * xs[i]
		swxy += w * xs[i] * ys[i]
	}
	if sw == 0 {
		return 0, false
	}
	denom := sw*swxx - swx*swx
	if math.Abs(denom) < 1e-12 {
		return swy / sw, true
	}
	slope := (sw*swxy - swx*swy) / denom
	intercept := (swy - slope*swx) / sw
	return intercept + slope*x0, true
}

func fitResidualSD(xs, ys []float64, bandwidth float64) float64 {
	var ss float64
	n := 0
	for i := range xs {
		fit, ok := localLinear(xs, ys, xs[i], bandwidth)
		if !ok {
			continue
		}
		d := ys[i] - fit
		ss += d * d
		n++
	}
	if n < 2 {
		return 0
	}
	return math.Sqrt(ss / float64(n-1))
}

func medianGapDays(xs []float64) int {
	if len(xs) < 2 {
		return defaultHorizonDays
	}
	gaps := make([]float64, 0, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		if g := xs[i] - xs[i-1]; g > 0 {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) == 0 {
		return defaultHorizonDays
	}
	sort.Float64s(gaps)
	mid := len(gaps) / 2
	g := gaps[mid]
	if len(gaps)%2 == 0 {
		g = (gaps[mid-1] + gaps[mid]) / 2
	}
	return int(math.Round(g))
}
