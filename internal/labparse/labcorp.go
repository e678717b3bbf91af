package labparse

import (
	"regexp"
	"strings"
)

// LabCorp patient reports: columnar test rows under panel headings, document-
// level specimen id, "Date Collected" header field.
type labCorpParser struct {
	prints []fingerprint
}

func NewLabCorpParser() Parser {
	return &labCorpParser{
		prints: []fingerprint{
			{regexp.MustCompile(`(?im)^\s*labcorp\b`), 0.5},
			{regexp.MustCompile(`(?i)laboratory corporation of america`), 0.3},
			{regexp.MustCompile(`(?i)specimen id:`), 0.15},
			{regexp.MustCompile(`(?i)date collected:`), 0.15},
		},
	}
}

func (p *labCorpParser) Vendor() string { return SourceLabCorp }

func (p *labCorpParser) Detect(raw string) float64 {
	return scoreFingerprints(raw, p.prints)
}

var (
	labCorpSpecimenID   = regexp.MustCompile(`(?i)specimen id:\s*(\S+)`)
	labCorpSpecimenType = regexp.MustCompile(`(?i)specimen type:\s*([A-Za-z ]+)`)
	labCorpCollected    = regexp.MustCompile(`(?i)date collected:\s*([0-9/\-]+)`)
)

func (p *labCorpParser) Parse(raw string) (*ParsedReport, error) {
	report := &ParsedReport{LabName: "LabCorp"}

	if m := labCorpCollected.FindStringSubmatch(raw); m != nil {
		if t, ok := parseDate(m[1]); ok {
			report.TestDate = &t
		} else {
			report.warnf("unparseable collection date: " + m[1])
		}
	} else {
		report.warnf("missing collection date")
	}

	specimenID := ""
	if m := labCorpSpecimenID.FindStringSubmatch(raw); m != nil {
		specimenID = m[1]
	}
	specimenType := ""
	if m := labCorpSpecimenType.FindStringSubmatch(raw); m != nil {
		specimenType = strings.TrimSpace(m[1])
	}

	current := ParsedPanel{Name: "General", SpecimenID: specimenID, SpecimenType: specimenType}
	flush := func() {
		if len(current.Tests) > 0 {
			current.Tests = dedupeTests(current.Tests, report)
			report.Panels = append(report.Panels, current)
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || labCorpHeaderNoise(trimmed) {
			continue
		}
		cols := columnSplit(line)
		if len(cols) >= 2 {
			if tests, ok := testsFromColumns(cols, report); ok {
				current.Tests = append(current.Tests, tests...)
				continue
			}
		}
		if isPanelHeading(trimmed) {
			flush()
			current = ParsedPanel{Name: trimmed, SpecimenID: specimenID, SpecimenType: specimenType}
		}
	}
	flush()

	if len(report.Panels) == 0 {
		report.warnf("no test rows recognized")
	}
	return report, nil
}

var labCorpNoise = regexp.MustCompile(`(?i)^(patient report|labcorp|laboratory corporation|specimen id:|specimen type:|date collected:|date received:|date reported:|acct|ordering physician|page \d+|dob:|patient:|\-{3,})`)

func labCorpHeaderNoise(line string) bool {
	return labCorpNoise.MatchString(line)
}

var panelHeading = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 ,()\-/]+$`)

func isPanelHeading(line string) bool {
	if len(line) > 60 {
		return false
	}
	return panelHeading.MatchString(line)
}
