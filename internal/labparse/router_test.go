package labparse

import (
	"testing"

	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestRouterDetect(t *testing.T) {
	router := DefaultRouter(testLogger(t))

	cases := []struct {
		doc        string
		wantSource string
	}{
		{labCorpDoc, SourceLabCorp},
		{questDoc, SourceQuest},
		{functionHealthDoc, SourceFunctionHealth},
	}
	for _, tc := range cases {
		det := router.Detect(tc.doc)
		if det.Source != tc.wantSource {
			t.Fatalf("Detect routed %q, want %q (confidence %v)", det.Source, tc.wantSource, det.Confidence)
		}
		if det.Confidence <= 0 || det.Confidence > 1 {
			t.Fatalf("confidence out of range: %v", det.Confidence)
		}
	}
}

func TestRouterUnknownFallsBackToGeneric(t *testing.T) {
	router := DefaultRouter(testLogger(t))
	doc := "Totally Unstructured Clinic\nGlucose    92    mg/dL    65-99\nHDL Cholesterol   55   mg/dL\nFerritin   120   ng/mL\n"

	parser, det := router.Route(doc)
	if parser == nil || parser.Vendor() != SourceGeneric {
		t.Fatalf("expected generic fallback, got %v", det)
	}
	report, err := parser.Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if report.TestCount() != 3 {
		t.Fatalf("expected 3 rows from generic parse, got %d", report.TestCount())
	}
}

func TestRouterTieFavorsMoreSpecificParser(t *testing.T) {
	// A document with enough test rows scores on the generic parser too;
	// any vendor fingerprint must win the route.
	doc := "LabCorp\nLaboratory Corporation of America\nDate Collected: 01/02/2026\nGlucose    92    mg/dL    65-99\nHDL Cholesterol   55   mg/dL   > OR = 40\nFerritin   120   ng/mL   30-400\n"
	router := DefaultRouter(testLogger(t))
	parser, det := router.Route(doc)
	if parser.Vendor() != SourceLabCorp {
		t.Fatalf("routed to %q (confidence %v), want labcorp", det.Source, det.Confidence)
	}
}
