package labparse

import (
	"regexp"
	"strings"
)

// Function Health exports: block-per-biomarker layout under category headers,
// "Biomarker:"/"Result:"/"Range:" labeled lines.
type functionHealthParser struct {
	prints []fingerprint
}

func NewFunctionHealthParser() Parser {
	return &functionHealthParser{
		prints: []fingerprint{
			{regexp.MustCompile(`(?i)function\s+health`), 0.5},
			{regexp.MustCompile(`(?i)functionhealth\.com`), 0.2},
			{regexp.MustCompile(`(?im)^\s*biomarker:`), 0.2},
			{regexp.MustCompile(`(?im)^\s*category:`), 0.1},
		},
	}
}

func (p *functionHealthParser) Vendor() string { return SourceFunctionHealth }

func (p *functionHealthParser) Detect(raw string) float64 {
	return scoreFingerprints(raw, p.prints)
}

var (
	fhTestDate  = regexp.MustCompile(`(?im)^\s*test date:\s*(.+)$`)
	fhCategory  = regexp.MustCompile(`(?im)^\s*category:\s*(.+)$`)
	fhBiomarker = regexp.MustCompile(`(?i)^\s*biomarker:\s*(.+)$`)
	fhResult    = regexp.MustCompile(`(?i)^\s*result:\s*([<>]?[\d.,]+)\s*(\S+)?\s*$`)
	fhRange     = regexp.MustCompile(`(?i)^\s*range:\s*([^\s]+(?:\s*-\s*[^\s]+)?)`)
)

func (p *functionHealthParser) Parse(raw string) (*ParsedReport, error) {
	report := &ParsedReport{LabName: "Function Health"}

	if m := fhTestDate.FindStringSubmatch(raw); m != nil {
		if t, ok := parseDate(m[1]); ok {
			report.TestDate = &t
		} else {
			report.warnf("unparseable test date: " + strings.TrimSpace(m[1]))
		}
	} else {
		report.warnf("missing test date")
	}

	current := ParsedPanel{Name: "General"}
	var pending *ParsedTest
	commit := func() {
		if pending != nil && pending.HasValue {
			current.Tests = append(current.Tests, *pending)
		} else if pending != nil {
			report.warnf("biomarker block without numeric result: " + pending.Name)
		}
		pending = nil
	}
	flush := func() {
		commit()
		if len(current.Tests) > 0 {
			current.Tests = dedupeTests(current.Tests, report)
			report.Panels = append(report.Panels, current)
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		if m := fhCategory.FindStringSubmatch(line); m != nil {
			flush()
			current = ParsedPanel{Name: strings.TrimSpace(m[1])}
			continue
		}
		if m := fhBiomarker.FindStringSubmatch(line); m != nil {
			commit()
			pending = &ParsedTest{Name: strings.TrimSpace(m[1])}
			continue
		}
		if pending == nil {
			continue
		}
		if m := fhResult.FindStringSubmatch(line); m != nil {
			if v, qualified, ok := parseResultValue(m[1]); ok {
				pending.ResultRaw = m[1]
				pending.Value = v
				pending.HasValue = true
				pending.LowConfidence = qualified
				if len(m) > 2 {
					pending.Unit = strings.TrimSpace(m[2])
				}
			}
			continue
		}
		if m := fhRange.FindStringSubmatch(line); m != nil {
			if low, high, ok := parseReferenceRange(m[1]); ok {
				pending.RefLow, pending.RefHigh = low, high
			}
			continue
		}
	}
	flush()

	if len(report.Panels) == 0 {
		report.warnf("no biomarker blocks recognized")
	}
	return report, nil
}
