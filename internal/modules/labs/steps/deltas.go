package steps

import (
	"math"
	"sort"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
	types "github.com/yungbote/labintel-backend/internal/domain"
)

const (
	DeltaImproving = "improving"
	DeltaDeclining = "declining"
	DeltaStable    = "stable"
	DeltaNew       = "new"

	// stableDeltaPct is the dead band below which a change reads as noise.
	stableDeltaPct = 2.0
)

// ComputeDeltas compares the current upload's markers against the immediately
// preceding upload. A marker with no prior observation is "new"; direction is
// polarity-adjusted so a falling LDL improves while a falling HDL declines.
// Output is sorted by key for reproducible review rows.
func ComputeDeltas(reg *biomarkers.Registry, current, prior []types.LabBiomarker) []types.MarkerDelta {
	priorByKey := map[string]types.LabBiomarker{}
	for _, m := range prior {
		if m.Key != "" {
			priorByKey[m.Key] = m
		}
	}

	var out []types.MarkerDelta
	for _, m := range current {
		if m.Key == "" {
			continue
		}
		def := reg.Get(m.Key)
		delta := types.MarkerDelta{
			Key:   m.Key,
			Value: m.Value,
			Unit:  m.Unit,
			Flag:  m.Flag,
		}
		if def != nil {
			delta.DisplayName = def.DisplayName
		} else {
			delta.DisplayName = m.RawName
		}

		prev, ok := priorByKey[m.Key]
		if !ok {
			delta.Direction = DeltaNew
			out = append(out, delta)
			continue
		}

		pv := prev.Value
		d := m.Value - pv
		delta.PriorValue = &pv
		delta.Delta = &d
		delta.PriorFlag = prev.Flag
		if pv != 0 {
			pct := d / math.Abs(pv) * 100
			delta.DeltaPct = &pct
		}
		delta.Direction = deltaDirection(def, pv, m.Value)
		out = append(out, delta)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func deltaDirection(def *biomarkers.Definition, prior, current float64) string {
	if prior != 0 && math.Abs(current-prior)/math.Abs(prior)*100 < stableDeltaPct {
		return DeltaStable
	}
	if def == nil {
		return DeltaStable
	}
	rising := current > prior
	switch def.Polarity {
	case biomarkers.PolarityHigherIsBetter:
		if rising {
			return DeltaImproving
		}
		return DeltaDeclining
	case biomarkers.PolarityLowerIsBetter:
		if rising {
			return DeltaDeclining
		}
		return DeltaImproving
	case biomarkers.PolarityTargetRange:
		anchor, ok := anchorOf(def)
		if !ok {
			return DeltaStable
		}
		if math.Abs(current-anchor) < math.Abs(prior-anchor) {
			return DeltaImproving
		}
		return DeltaDeclining
	default:
		return DeltaStable
	}
}
