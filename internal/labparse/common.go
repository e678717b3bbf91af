package labparse

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParsedTest is one extracted result row. RefLow/RefHigh stay nil when the
// document carries no range; callers must not substitute defaults.
type ParsedTest struct {
	Name      string
	ResultRaw string
	Value     float64
	HasValue  bool
	Unit      string
	RefLow    *float64
	RefHigh   *float64

	// LowConfidence marks rows kept despite ambiguity (conflicting duplicates,
	// qualifier-stripped values).
	LowConfidence bool
}

type ParsedPanel struct {
	Name         string
	SpecimenID   string
	SpecimenType string
	Tests        []ParsedTest
}

type ParsedReport struct {
	TestDate *time.Time
	LabName  string
	Panels   []ParsedPanel
	Warnings []string
}

func (r *ParsedReport) warnf(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// TestCount reports extracted rows across panels.
func (r *ParsedReport) TestCount() int {
	n := 0
	for i := range r.Panels {
		n += len(r.Panels[i].Tests)
	}
	return n
}

// OverallConfidence combines detection confidence with parse warnings:
// each warning shaves the score multiplicatively.
func OverallConfidence(detection float64, warnings []string) float64 {
	c := detection
	for range warnings {
		c *= 0.9
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

var numberPattern = regexp.MustCompile(`^[<>]?\s*-?\d[\d,]*\.?\d*$`)

// parseResultValue reads a numeric result, tolerating "<5", ">1500" qualifiers
// and comma separators. Qualitative results return ok=false.
func parseResultValue(raw string) (value float64, qualified bool, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" || !numberPattern.MatchString(s) {
		return 0, false, false
	}
	if s[0] == '<' || s[0] == '>' {
		qualified = true
		s = strings.TrimSpace(s[1:])
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, false
	}
	return v, qualified, true
}

var (
	rangePattern     = regexp.MustCompile(`^(-?\d[\d,]*\.?\d*)\s*-\s*(-?\d[\d,]*\.?\d*)$`)
	rangeGEPattern   = regexp.MustCompile(`^>\s*(?:OR\s*=\s*|=\s*)?(-?\d[\d,]*\.?\d*)$`)
	rangeLEPattern   = regexp.MustCompile(`^<\s*(?:OR\s*=\s*|=\s*)?(-?\d[\d,]*\.?\d*)$`)
	rangeNotDetected = regexp.MustCompile(`(?i)^(not detected|negative|none detected)$`)
)

// parseReferenceRange reads "100-199", "> OR = 40", "<130" shapes. Missing or
// qualitative ranges yield nil bounds.
func parseReferenceRange(raw string) (low, high *float64, ok bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || rangeNotDetected.MatchString(s) {
		return nil, nil, false
	}
	if m := rangePattern.FindStringSubmatch(s); m != nil {
		l, err1 := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		h, err2 := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err1 != nil || err2 != nil {
			return nil, nil, false
		}
		return &l, &h, true
	}
	if m := rangeGEPattern.FindStringSubmatch(s); m != nil {
		l, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			return nil, nil, false
		}
		return &l, nil, true
	}
	if m := rangeLEPattern.FindStringSubmatch(s); m != nil {
		h, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			return nil, nil, false
		}
		return nil, &h, true
	}
	return nil, nil, false
}

var dateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"02-Jan-2006",
}

func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// columnSplit breaks a fixed-ish width report line on runs of two or more
// spaces or tabs.
var columnSep = regexp.MustCompile(`\t+|\s{2,}`)

func columnSplit(line string) []string {
	parts := columnSep.Split(strings.TrimSpace(line), -1)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// dedupeTests applies the duplicate-name rule inside one panel: when the same
// test name repeats and the values agree within a 0.5% formatting tolerance
// the last occurrence wins; conflicting values are both kept and marked low
// confidence.
func dedupeTests(tests []ParsedTest, report *ParsedReport) []ParsedTest {
	byName := map[string][]int{}
	for i := range tests {
		name := strings.ToLower(strings.TrimSpace(tests[i].Name))
		byName[name] = append(byName[name], i)
	}

	drop := map[int]bool{}
	for name, idxs := range byName {
		if len(idxs) < 2 {
			continue
		}
		conflicting := false
		for j := 1; j < len(idxs); j++ {
			a, b := tests[idxs[j-1]], tests[idxs[j]]
			if !a.HasValue || !b.HasValue || !withinTolerance(a.Value, b.Value, 0.005) {
				conflicting = true
				break
			}
		}
		if conflicting {
			for _, i := range idxs {
				tests[i].LowConfidence = true
			}
			report.warnf("conflicting duplicate results for " + name)
			continue
		}
		// Agreeing duplicates: keep only the last occurrence.
		for _, i := range idxs[:len(idxs)-1] {
			drop[i] = true
		}
	}

	if len(drop) == 0 {
		return tests
	}
	out := make([]ParsedTest, 0, len(tests)-len(drop))
	for i := range tests {
		if !drop[i] {
			out = append(out, tests[i])
		}
	}
	return out
}

func withinTolerance(a, b, tol float64) bool {
	if a == b {
		return true
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return true
	}
	return math.Abs(a-b)/denom <= tol
}

var (
	flagToken       = regexp.MustCompile(`(?i)^(high|low|h|l|critical|abnormal|\*+)$`)
	multiValueSplit = regexp.MustCompile(`^(\d[\d,]*\.?\d*)/(\d[\d,]*\.?\d*)$`)
	letterPattern   = regexp.MustCompile(`[A-Za-z]`)
)

// testsFromColumns interprets a columnar report row: first column is the test
// name, the first numeric-looking column the result, the remainder classified
// as flag, reference range, or unit. Differential rows like "62/30" split into
// per-component tests when the name carries a matching separator.
func testsFromColumns(cols []string, report *ParsedReport) ([]ParsedTest, bool) {
	if len(cols) < 2 {
		return nil, false
	}
	name := strings.TrimSpace(cols[0])
	if name == "" || !letterPattern.MatchString(name) {
		return nil, false
	}

	// Multi-value results: "Neutrophils/Lymphs   62/30   %".
	if m := multiValueSplit.FindStringSubmatch(strings.TrimSpace(cols[1])); m != nil && strings.Contains(name, "/") {
		parts := strings.SplitN(name, "/", 2)
		proto, ok := buildTest(parts[0], m[1], cols[2:])
		if !ok {
			return nil, false
		}
		second := proto
		second.Name = strings.TrimSpace(parts[1])
		second.ResultRaw = m[2]
		if v, _, ok := parseResultValue(m[2]); ok {
			second.Value = v
		}
		// A shared range column cannot describe both components.
		if proto.RefLow != nil || proto.RefHigh != nil {
			proto.RefLow, proto.RefHigh = nil, nil
			second.RefLow, second.RefHigh = nil, nil
			report.warnf("dropped shared reference range on multi-value result " + name)
		}
		return []ParsedTest{proto, second}, true
	}

	t, ok := buildTest(name, cols[1], cols[2:])
	if !ok {
		return nil, false
	}
	return []ParsedTest{t}, true
}

func buildTest(name, result string, rest []string) (ParsedTest, bool) {
	value, qualified, ok := parseResultValue(result)
	if !ok {
		return ParsedTest{}, false
	}
	t := ParsedTest{
		Name:          strings.TrimSpace(name),
		ResultRaw:     strings.TrimSpace(result),
		Value:         value,
		HasValue:      true,
		LowConfidence: qualified,
	}
	for _, col := range rest {
		col = strings.TrimSpace(col)
		switch {
		case col == "" || flagToken.MatchString(col):
			// Vendor flag column; recomputed downstream from the registry.
		case t.RefLow == nil && t.RefHigh == nil && isRangeShaped(col):
			low, high, ok := parseReferenceRange(col)
			if ok {
				t.RefLow, t.RefHigh = low, high
			}
		case t.Unit == "":
			t.Unit = col
		}
	}
	return t, true
}

func isRangeShaped(col string) bool {
	if _, _, ok := parseReferenceRange(col); ok {
		return true
	}
	return false
}

// fingerprint is one structural marker of a vendor layout. Weight expresses
// specificity; detection confidence is the sum of matched weights clamped to 1.
type fingerprint struct {
	pattern *regexp.Regexp
	weight  float64
}

func scoreFingerprints(raw string, prints []fingerprint) float64 {
	score := 0.0
	for _, fp := range prints {
		if fp.pattern.MatchString(raw) {
			score += fp.weight
		}
	}
	if score > 1 {
		return 1
	}
	return score
}
