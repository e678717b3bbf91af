package biomarkers

const (
	FlagOptimal = "optimal"
	FlagNormal  = "normal"
	FlagHigh    = "high"
	FlagLow     = "low"
)

// ComputeFlag classifies a value against the key's optimal and reference
// ranges. Inside the optimal band wins over inside the reference band; out of
// reference resolves to high/low by the violated bound. Unknown keys or keys
// without any range return "".
func (r *Registry) ComputeFlag(key string, value float64) string {
	def := r.defs[key]
	if def == nil {
		return ""
	}
	if def.OptimalLow != nil && def.OptimalHigh != nil &&
		value >= *def.OptimalLow && value <= *def.OptimalHigh {
		return FlagOptimal
	}
	if def.RefLow != nil && value < *def.RefLow {
		return FlagLow
	}
	if def.RefHigh != nil && value > *def.RefHigh {
		return FlagHigh
	}
	if def.RefLow == nil && def.RefHigh == nil {
		return ""
	}
	return FlagNormal
}

// OptimalScore maps a value to [0,1]: 1.0 at the optimal point, decaying
// linearly to 0 at the reference-range boundary on that side, clamped at 0
// outside the reference range. Used for cross-marker percent-optimal rollups.
func (r *Registry) OptimalScore(key string, value float64) float64 {
	def := r.defs[key]
	if def == nil {
		return 0
	}
	point, ok := def.optimalAnchor()
	if !ok {
		return 0
	}
	if value == point {
		return 1
	}
	var bound *float64
	if value > point {
		bound = def.RefHigh
	} else {
		bound = def.RefLow
	}
	if bound == nil {
		// Open-ended side: inside the optimal band still counts as fully
		// optimal, anything else is unscorable on this side.
		if def.OptimalLow != nil && def.OptimalHigh != nil &&
			value >= *def.OptimalLow && value <= *def.OptimalHigh {
			return 1
		}
		return 0
	}
	span := *bound - point
	if span == 0 {
		return 0
	}
	score := 1 - (value-point)/span
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (d *Definition) optimalAnchor() (float64, bool) {
	switch {
	case d.OptimalPoint != nil:
		return *d.OptimalPoint, true
	case d.OptimalLow != nil && d.OptimalHigh != nil:
		return (*d.OptimalLow + *d.OptimalHigh) / 2, true
	case d.RefLow != nil && d.RefHigh != nil:
		return (*d.RefLow + *d.RefHigh) / 2, true
	default:
		return 0, false
	}
}

// MatchConfidence scores how the raw name resolved: exact or alias hits are
// certain, token-level matches slightly less so.
func (r *Registry) MatchConfidence(rawName, key string) float64 {
	if key == "" {
		return 0.3
	}
	name := normalizeName(rawName)
	if name == key {
		return 1.0
	}
	if k, ok := r.aliasIndex[name]; ok && k == key {
		return 1.0
	}
	return 0.85
}
