package labparse

import (
	"github.com/yungbote/labintel-backend/internal/biomarkers"
)

// NormalizedMarker is a registry-resolved observation ready for persistence.
// Key is empty when the registry had no match; the marker is still stored but
// excluded from registry-based scoring.
type NormalizedMarker struct {
	Key           string
	RawName       string
	Value         float64
	Unit          string
	OriginalValue *float64
	OriginalUnit  string
	RefLow        *float64
	RefHigh       *float64
	Flag          string
	Confidence    float64
	Category      string
}

// NormalizeReport maps parsed tests onto the registry: alias resolution, unit
// conversion into canonical units, reference-range snapshotting (document
// range preferred, registry fallback), flag and confidence computation.
func NormalizeReport(reg *biomarkers.Registry, report *ParsedReport) []NormalizedMarker {
	if report == nil {
		return nil
	}
	var out []NormalizedMarker
	for pi := range report.Panels {
		panel := &report.Panels[pi]
		for ti := range panel.Tests {
			test := &panel.Tests[ti]
			if !test.HasValue {
				continue
			}
			out = append(out, normalizeTest(reg, test))
		}
	}
	return out
}

func normalizeTest(reg *biomarkers.Registry, test *ParsedTest) NormalizedMarker {
	m := NormalizedMarker{
		RawName: test.Name,
		Value:   test.Value,
		Unit:    test.Unit,
		RefLow:  test.RefLow,
		RefHigh: test.RefHigh,
	}

	key, matched := reg.Normalize(test.Name)
	confidence := reg.MatchConfidence(test.Name, key)

	if !matched {
		// Unregistered marker: keep the raw observation, flag from the
		// document range when one exists.
		m.Flag = flagFromDocumentRange(test)
		m.Confidence = applyPenalties(confidence, test.LowConfidence, false)
		return m
	}

	def := reg.Get(key)
	m.Key = key
	m.Category = def.Category

	converted := false
	if v, unit, didConvert := reg.ConvertUnit(key, test.Value, test.Unit); didConvert {
		orig := test.Value
		m.OriginalValue = &orig
		m.OriginalUnit = test.Unit
		m.Value = v
		m.Unit = unit
		converted = true
		// Document ranges travel with the document's units.
		if factor := v / orig; orig != 0 && test.RefLow != nil {
			low := *test.RefLow * factor
			m.RefLow = &low
		}
		if factor := m.Value / orig; orig != 0 && test.RefHigh != nil {
			high := *test.RefHigh * factor
			m.RefHigh = &high
		}
	} else if m.Unit == "" {
		m.Unit = def.Unit
	}

	// Registry fallback when the document carried no range.
	if m.RefLow == nil && m.RefHigh == nil {
		m.RefLow = def.RefLow
		m.RefHigh = def.RefHigh
	}

	m.Flag = reg.ComputeFlag(key, m.Value)
	m.Confidence = applyPenalties(confidence, test.LowConfidence, converted)
	return m
}

func flagFromDocumentRange(test *ParsedTest) string {
	if test.RefLow != nil && test.Value < *test.RefLow {
		return biomarkers.FlagLow
	}
	if test.RefHigh != nil && test.Value > *test.RefHigh {
		return biomarkers.FlagHigh
	}
	if test.RefLow == nil && test.RefHigh == nil {
		return ""
	}
	return biomarkers.FlagNormal
}

func applyPenalties(confidence float64, lowConfidence, converted bool) float64 {
	if lowConfidence {
		confidence *= 0.8
	}
	if converted {
		confidence *= 0.95
	}
	return confidence
}
