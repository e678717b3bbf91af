package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
	"github.com/yungbote/labintel-backend/internal/data/repos"
	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/domain/labs"
	"github.com/yungbote/labintel-backend/internal/labparse"
	"github.com/yungbote/labintel-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
	"github.com/yungbote/labintel-backend/internal/platform/envutil"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

type LabIngest interface {
	// IngestText parses raw lab text, persists the upload with its matched
	// and unmatched markers, and dispatches the compute pipeline.
	IngestText(ctx context.Context, userID uuid.UUID, rawText string, testDateHint *time.Time) (*IngestResult, error)
	// AttachPreDrawContext upserts confound metadata for a draw and
	// recomputes, since weights feed the evidence engine.
	AttachPreDrawContext(ctx context.Context, userID uuid.UUID, row *types.PreDrawContext) error
}

type IngestResult struct {
	Upload       *types.LabUpload `json:"upload"`
	MarkerCount  int              `json:"marker_count"`
	MatchedCount int              `json:"matched_count"`
	Source       string           `json:"source"`
	Async        bool             `json:"async"`
	// PriorTestDate is the date of the most recent earlier draw, nil on
	// the user's first upload.
	PriorTestDate *time.Time `json:"prior_test_date,omitempty"`
}

type labIngest struct {
	log      *logger.Logger
	repos    *repos.Repos
	registry *biomarkers.Registry
	router   *labparse.Router
	pipeline ComputePipeline
	tracer   trace.Tracer
	async    bool
}

func NewLabIngest(log *logger.Logger, r *repos.Repos, registry *biomarkers.Registry, pipeline ComputePipeline) LabIngest {
	return &labIngest{
		log:      log.With("service", "LabIngest"),
		repos:    r,
		registry: registry,
		router:   labparse.DefaultRouter(log),
		pipeline: pipeline,
		tracer:   otel.Tracer("lab_ingest"),
		async:    envutil.Bool("INGEST_ASYNC", false),
	}
}

func (s *labIngest) IngestText(ctx context.Context, userID uuid.UUID, rawText string, testDateHint *time.Time) (*IngestResult, error) {
	ctx, span := s.tracer.Start(ctx, "IngestText")
	span.SetAttributes(attribute.String("user.id", userID.String()))
	defer span.End()

	if strings.TrimSpace(rawText) == "" {
		return nil, fmt.Errorf("empty lab text: %w", pkgerrors.ErrInvalidArgument)
	}

	parser, detection := s.router.Route(rawText)
	if parser == nil {
		return nil, pkgerrors.ErrUnrecognizedDocument
	}
	report, err := parser.Parse(rawText)
	if err != nil {
		return nil, fmt.Errorf("parse %s document: %w", detection.Source, err)
	}
	markers := labparse.NormalizeReport(s.registry, report)
	if len(markers) == 0 {
		return nil, pkgerrors.ErrUnrecognizedDocument
	}

	testDate, err := resolveTestDate(report, testDateHint)
	if err != nil {
		return nil, err
	}

	upload := &types.LabUpload{
		ID:            uuid.New(),
		UserID:        userID,
		TestDate:      testDate,
		Source:        detection.Source,
		LabName:       report.LabName,
		RawText:       rawText,
		Confidence:    labparse.OverallConfidence(detection.Confidence, report.Warnings),
		ParseWarnings: labs.EncodeJSON(report.Warnings),
	}

	rows := make([]*types.LabBiomarker, 0, len(markers))
	matched := 0
	for _, m := range markers {
		if m.Key != "" {
			matched++
		}
		row := &types.LabBiomarker{
			ID:            uuid.New(),
			LabUploadID:   upload.ID,
			UserID:        userID,
			Key:           m.Key,
			RawName:       m.RawName,
			Value:         m.Value,
			Unit:          m.Unit,
			OriginalValue: m.OriginalValue,
			OriginalUnit:  m.OriginalUnit,
			RefLow:        m.RefLow,
			RefHigh:       m.RefHigh,
			Flag:          m.Flag,
			Confidence:    m.Confidence,
			Category:      m.Category,
		}
		rows = append(rows, row)
		upload.Biomarkers = append(upload.Biomarkers, *row)
	}

	dbc := dbctx.Context{Ctx: ctx}
	prior, err := s.repos.LabUpload.GetPrior(dbc, userID, testDate)
	if err != nil {
		return nil, fmt.Errorf("look up prior draw: %w", err)
	}
	if err := s.repos.LabUpload.Create(dbc, upload); err != nil {
		return nil, fmt.Errorf("persist upload: %w", err)
	}
	if err := s.repos.LabBiomarker.CreateBatch(dbc, rows); err != nil {
		return nil, fmt.Errorf("persist biomarkers: %w", err)
	}

	s.log.Info("ingested lab report",
		"user_id", userID,
		"upload_id", upload.ID,
		"source", detection.Source,
		"markers", len(rows),
		"matched", matched,
		"test_date", testDate.Format("2006-01-02"))

	res := &IngestResult{
		Upload:       upload,
		MarkerCount:  len(rows),
		MatchedCount: matched,
		Source:       detection.Source,
		Async:        s.async,
	}
	if prior != nil {
		res.PriorTestDate = &prior.TestDate
	}
	if s.async {
		go s.runPipelineDetached(userID, upload.ID)
		return res, nil
	}
	if _, err := s.pipeline.RunComputePipeline(ctx, userID, upload.ID); err != nil {
		return nil, fmt.Errorf("compute pipeline: %w", err)
	}
	return res, nil
}

// runPipelineDetached recomputes off the request context so a closed
// connection never aborts the run mid-write.
func (s *labIngest) runPipelineDetached(userID, uploadID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if _, err := s.pipeline.RunComputePipeline(ctx, userID, uploadID); err != nil {
		s.log.Error("background compute failed",
			"user_id", userID, "upload_id", uploadID, "error", err)
	}
}

func (s *labIngest) AttachPreDrawContext(ctx context.Context, userID uuid.UUID, row *types.PreDrawContext) error {
	ctx, span := s.tracer.Start(ctx, "AttachPreDrawContext")
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.repos.LabUpload.GetByID(dbc, userID, row.LabUploadID); err != nil {
		return err
	}
	row.UserID = userID
	if err := s.repos.PreDrawContext.UpsertByUploadID(dbc, row); err != nil {
		return fmt.Errorf("upsert pre-draw context: %w", err)
	}

	// The confound weights feed the evidence windows of this draw's review
	// and every later one; the pipeline replays the chain from here.
	if _, err := s.pipeline.RunComputePipeline(ctx, userID, row.LabUploadID); err != nil {
		return fmt.Errorf("recompute after context change: %w", err)
	}
	return nil
}

// resolveTestDate prefers the caller's hint, then the parsed document date.
// A report with neither is rejected rather than guessed at, since draw
// chronology drives every downstream analysis.
func resolveTestDate(report *labparse.ParsedReport, hint *time.Time) (time.Time, error) {
	if hint != nil && !hint.IsZero() {
		return hint.UTC().Truncate(24 * time.Hour), nil
	}
	if report.TestDate != nil {
		return report.TestDate.UTC().Truncate(24 * time.Hour), nil
	}
	return time.Time{}, fmt.Errorf("no test date in document and no hint given: %w", pkgerrors.ErrInvalidArgument)
}
