package steps

import (
	"time"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
)

const (
	TrajectoryImproving    = "improving"
	TrajectoryDeclining    = "declining"
	TrajectoryStable       = "stable"
	TrajectoryInsufficient = "insufficient_data"
)

type TrendPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

type TrendResult struct {
	Key        string       `json:"key"`
	Points     []TrendPoint `json:"points"`
	// Velocity is the least-squares slope expressed per 30 days.
	Velocity   float64 `json:"velocity"`
	ChangePct  float64 `json:"change_pct"`
	Trajectory string  `json:"trajectory"`
	LatestFlag string  `json:"latest_flag"`
}

// stableVelocityPct: slope magnitudes under this share of the series mean
// (per 30 days) read as noise.
const stableVelocityPct = 0.02

// ComputeTrend fits a slope over an ordered series of one biomarker's values
// and labels the trajectory adjusted for the marker's polarity: for a
// lower_is_better marker a falling series is improving.
func ComputeTrend(key string, points []TrendPoint, def *biomarkers.Definition) TrendResult {
	out := TrendResult{Key: key, Points: points, Trajectory: TrajectoryInsufficient}
	if len(points) < 2 {
		return out
	}

	origin := points[0].Date
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.Date.Sub(origin).Hours() / 24
		ys[i] = p.Value
	}
	slope, _, ok := linearFit(xs, ys)
	if !ok {
		return out
	}
	out.Velocity = slope * 30

	first, last := points[0].Value, points[len(points)-1].Value
	if first != 0 {
		out.ChangePct = (last - first) / first * 100
	}

	m := mean(ys)
	threshold := stableVelocityPct * absFloat(m)
	switch {
	case absFloat(out.Velocity) <= threshold:
		out.Trajectory = TrajectoryStable
	default:
		out.Trajectory = trajectoryFor(def, first, last, out.Velocity > 0)
	}

	if def != nil {
		out.LatestFlag = flagWithin(def, last)
	}
	return out
}

// trajectoryFor maps a series direction onto improving/declining given the
// marker's polarity. target_range markers improve when the latest value moved
// toward the optimal anchor relative to the first.
func trajectoryFor(def *biomarkers.Definition, first, last float64, rising bool) string {
	polarity := ""
	if def != nil {
		polarity = def.Polarity
	}
	switch polarity {
	case biomarkers.PolarityLowerIsBetter:
		if rising {
			return TrajectoryDeclining
		}
		return TrajectoryImproving
	case biomarkers.PolarityHigherIsBetter:
		if rising {
			return TrajectoryImproving
		}
		return TrajectoryDeclining
	case biomarkers.PolarityTargetRange:
		anchor, ok := anchorOf(def)
		if !ok {
			return TrajectoryStable
		}
		distFirst := absFloat(first - anchor)
		distLast := absFloat(last - anchor)
		switch {
		case distLast < distFirst:
			return TrajectoryImproving
		case distLast > distFirst:
			return TrajectoryDeclining
		default:
			return TrajectoryStable
		}
	default:
		return TrajectoryStable
	}
}

func anchorOf(def *biomarkers.Definition) (float64, bool) {
	switch {
	case def == nil:
		return 0, false
	case def.OptimalPoint != nil:
		return *def.OptimalPoint, true
	case def.OptimalLow != nil && def.OptimalHigh != nil:
		return (*def.OptimalLow + *def.OptimalHigh) / 2, true
	default:
		return 0, false
	}
}

func flagWithin(def *biomarkers.Definition, value float64) string {
	if def.OptimalLow != nil && def.OptimalHigh != nil &&
		value >= *def.OptimalLow && value <= *def.OptimalHigh {
		return biomarkers.FlagOptimal
	}
	if def.RefLow != nil && value < *def.RefLow {
		return biomarkers.FlagLow
	}
	if def.RefHigh != nil && value > *def.RefHigh {
		return biomarkers.FlagHigh
	}
	if def.RefLow == nil && def.RefHigh == nil {
		return ""
	}
	return biomarkers.FlagNormal
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
