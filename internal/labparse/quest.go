package labparse

import (
	"regexp"
	"strings"
)

// Quest Diagnostics reports: in-range/out-of-range column layout, all-caps
// panel headings, "COLLECTED:" date field.
type questParser struct {
	prints []fingerprint
}

func NewQuestParser() Parser {
	return &questParser{
		prints: []fingerprint{
			{regexp.MustCompile(`(?i)quest\s+diagnostics`), 0.55},
			{regexp.MustCompile(`(?im)^\s*collected:`), 0.15},
			{regexp.MustCompile(`(?i)in range\s+out of range`), 0.25},
			{regexp.MustCompile(`(?i)client service:`), 0.1},
		},
	}
}

func (p *questParser) Vendor() string { return SourceQuest }

func (p *questParser) Detect(raw string) float64 {
	return scoreFingerprints(raw, p.prints)
}

var (
	questCollected = regexp.MustCompile(`(?im)^\s*collected:\s*([0-9/\-]+)`)
	questSpecimen  = regexp.MustCompile(`(?im)^\s*specimen:\s*(\S+)`)
	questNoise     = regexp.MustCompile(`(?i)^(quest diagnostics|client service|collected:|received:|reported:|requisition|patient information|test name|in range|page \d+|dob:|\-{3,})`)
	questAllCaps   = regexp.MustCompile(`^[A-Z][A-Z0-9 ,()\-/]+$`)
)

func (p *questParser) Parse(raw string) (*ParsedReport, error) {
	report := &ParsedReport{LabName: "Quest Diagnostics"}

	if m := questCollected.FindStringSubmatch(raw); m != nil {
		if t, ok := parseDate(m[1]); ok {
			report.TestDate = &t
		} else {
			report.warnf("unparseable collection date: " + m[1])
		}
	} else {
		report.warnf("missing collection date")
	}

	specimenID := ""
	if m := questSpecimen.FindStringSubmatch(raw); m != nil {
		specimenID = m[1]
	}

	current := ParsedPanel{Name: "General", SpecimenID: specimenID}
	flush := func() {
		if len(current.Tests) > 0 {
			current.Tests = dedupeTests(current.Tests, report)
			report.Panels = append(report.Panels, current)
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || questNoise.MatchString(trimmed) {
			continue
		}
		cols := columnSplit(line)
		if len(cols) >= 2 {
			if tests, ok := testsFromColumns(cols, report); ok {
				current.Tests = append(current.Tests, tests...)
				continue
			}
		}
		// Quest panel headings are all-caps single-column lines.
		if len(cols) == 1 && len(trimmed) <= 50 && questAllCaps.MatchString(trimmed) {
			flush()
			current = ParsedPanel{Name: titleCase(trimmed), SpecimenID: specimenID}
		}
	}
	flush()

	if len(report.Panels) == 0 {
		report.warnf("no test rows recognized")
	}
	return report, nil
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
