package labparse

import (
	"regexp"
	"strings"
)

// Generic fallback: line-oriented "name  value  unit  range" scanner for
// documents no vendor fingerprint claims. Always parses to a partial result;
// detection confidence is intentionally low so any vendor match outranks it.
type genericParser struct{}

func NewGenericParser() Parser { return &genericParser{} }

func (p *genericParser) Vendor() string { return SourceGeneric }

var genericRow = regexp.MustCompile(`(?m)^\s*[A-Za-z][A-Za-z0-9 ,()\-/%]*?(\t+|\s{2,})[<>]?\d`)

func (p *genericParser) Detect(raw string) float64 {
	// Some test-shaped rows present: claim the document, weakly.
	if len(genericRow.FindAllString(raw, 3)) >= 3 {
		return 0.3
	}
	if genericRow.MatchString(raw) {
		return 0.15
	}
	return 0
}

var genericDateLine = regexp.MustCompile(`(?im)^\s*(?:test date|date collected|collected|collection date|date)[:\s]\s*([0-9][0-9/\-]+)`)

func (p *genericParser) Parse(raw string) (*ParsedReport, error) {
	report := &ParsedReport{}
	report.warnf("unrecognized vendor layout, generic extraction")

	if m := genericDateLine.FindStringSubmatch(raw); m != nil {
		if t, ok := parseDate(m[1]); ok {
			report.TestDate = &t
		}
	}
	if report.TestDate == nil {
		report.warnf("missing test date")
	}

	panel := ParsedPanel{Name: "General"}
	for _, line := range strings.Split(raw, "\n") {
		cols := columnSplit(line)
		if len(cols) < 2 {
			continue
		}
		if tests, ok := testsFromColumns(cols, report); ok {
			panel.Tests = append(panel.Tests, tests...)
		}
	}
	if len(panel.Tests) > 0 {
		panel.Tests = dedupeTests(panel.Tests, report)
		report.Panels = append(report.Panels, panel)
	} else {
		report.warnf("no test rows recognized")
	}
	return report, nil
}
