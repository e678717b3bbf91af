package labparse

import (
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

// Parser is one vendor layout implementation. Detect returns a confidence in
// [0,1]; Parse must degrade to a partial report with warnings rather than
// fail on a garbled document.
type Parser interface {
	Vendor() string
	Detect(raw string) float64
	Parse(raw string) (*ParsedReport, error)
}

type Detection struct {
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// Router holds the explicit parser registry. Parsers are registered at
// construction, most specific first: on a detection-score tie the earlier
// registration wins.
type Router struct {
	parsers []Parser
	log     *logger.Logger
}

func NewRouter(log *logger.Logger, parsers ...Parser) *Router {
	return &Router{parsers: parsers, log: log.With("service", "LabParseRouter")}
}

// DefaultRouter wires the known vendor parsers plus the generic fallback.
func DefaultRouter(log *logger.Logger) *Router {
	return NewRouter(log,
		NewLabCorpParser(),
		NewQuestParser(),
		NewFunctionHealthParser(),
		NewGenericParser(),
	)
}

// Detect scans all registered parsers and returns the best vendor match.
func (r *Router) Detect(raw string) Detection {
	best := Detection{Source: SourceUnknown}
	for _, p := range r.parsers {
		score := p.Detect(raw)
		if score > best.Confidence {
			best = Detection{Source: p.Vendor(), Confidence: score}
		}
	}
	return best
}

// Route picks the parser for a document. An unrecognized document routes to
// the generic parser with zero detection confidence rather than failing.
func (r *Router) Route(raw string) (Parser, Detection) {
	det := r.Detect(raw)
	for _, p := range r.parsers {
		if p.Vendor() == det.Source {
			return p, det
		}
	}
	r.log.Warn("no parser matched document, using generic fallback")
	for _, p := range r.parsers {
		if p.Vendor() == SourceGeneric {
			return p, Detection{Source: SourceGeneric, Confidence: 0}
		}
	}
	return nil, det
}

const (
	SourceLabCorp        = "labcorp"
	SourceQuest          = "quest"
	SourceFunctionHealth = "function_health"
	SourceGeneric        = "generic"
	SourceUnknown        = "unknown"
)
