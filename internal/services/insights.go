package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
	"github.com/yungbote/labintel-backend/internal/clients/rediscache"
	"github.com/yungbote/labintel-backend/internal/data/repos"
	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/domain/labs"
	"github.com/yungbote/labintel-backend/internal/modules/labs/steps"
	"github.com/yungbote/labintel-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

type Insights interface {
	LatestReview(ctx context.Context, userID uuid.UUID) (*types.LabEventReview, error)
	ReviewForUpload(ctx context.Context, userID, uploadID uuid.UUID) (*types.LabEventReview, error)
	// Trend computes the longitudinal series for one biomarker key.
	Trend(ctx context.Context, userID uuid.UUID, key string) (*TrendReport, error)
	// AllTrends covers every biomarker the user has observations for.
	AllTrends(ctx context.Context, userID uuid.UUID) ([]TrendReport, error)
	// Changepoints lists the detected regime shifts across the user's
	// metrics and protocols.
	Changepoints(ctx context.Context, userID uuid.UUID) ([]*types.BayesianChangepoint, error)
	// ProtocolEffectiveness reports the current score plus the per-draw
	// history for each of the user's protocols.
	ProtocolEffectiveness(ctx context.Context, userID uuid.UUID) (*EffectivenessReport, error)
	// PredictionAccuracy is the global confirmed/falsified tally over the
	// user's ledger, pending claims excluded.
	PredictionAccuracy(ctx context.Context, userID uuid.UUID) (*steps.LedgerStats, error)
	// Predictions returns the stored per-marker forecasts.
	Predictions(ctx context.Context, userID uuid.UUID) ([]*types.HealthPrediction, error)
	// Prediction serves one marker's forecast from the freshness window,
	// recomputing from stored observations only when stale.
	Prediction(ctx context.Context, userID uuid.UUID, key string) (*types.HealthPrediction, error)
}

// TrendReport annotates a computed trend with the physiological linkage
// groups the marker belongs to.
type TrendReport struct {
	steps.TrendResult
	MechanismGroups []string `json:"mechanism_groups,omitempty"`
}

type EffectivenessPoint struct {
	UploadID   uuid.UUID `json:"upload_id"`
	TestDate   time.Time `json:"test_date"`
	Verdict    string    `json:"verdict"`
	Confidence float64   `json:"confidence"`
	Score      float64   `json:"score"`
}

type ProtocolEffectiveness struct {
	ProtocolID  uuid.UUID            `json:"protocol_id"`
	PeptideName string               `json:"peptide_name"`
	StartDate   time.Time            `json:"start_date"`
	EndDate     *time.Time           `json:"end_date,omitempty"`
	Current     *types.ProtocolScore `json:"current,omitempty"`
	History     []EffectivenessPoint `json:"history,omitempty"`
}

type EffectivenessReport struct {
	Protocols []ProtocolEffectiveness `json:"protocols"`
}

type insights struct {
	log      *logger.Logger
	repos    *repos.Repos
	registry *biomarkers.Registry
	cache    rediscache.Cache
	tracer   trace.Tracer
}

func NewInsights(log *logger.Logger, r *repos.Repos, registry *biomarkers.Registry, cache rediscache.Cache) Insights {
	return &insights{
		log:      log.With("service", "Insights"),
		repos:    r,
		registry: registry,
		cache:    cache,
		tracer:   otel.Tracer("insights"),
	}
}

func (s *insights) LatestReview(ctx context.Context, userID uuid.UUID) (*types.LabEventReview, error) {
	return s.repos.LabEventReview.GetLatestByUser(dbctx.Context{Ctx: ctx}, userID)
}

func (s *insights) ReviewForUpload(ctx context.Context, userID, uploadID uuid.UUID) (*types.LabEventReview, error) {
	return s.repos.LabEventReview.GetByUploadID(dbctx.Context{Ctx: ctx}, userID, uploadID)
}

func (s *insights) Trend(ctx context.Context, userID uuid.UUID, key string) (*TrendReport, error) {
	ctx, span := s.tracer.Start(ctx, "Trend")
	defer span.End()

	if s.registry.Get(key) == nil {
		return nil, fmt.Errorf("unknown biomarker %q: %w", key, pkgerrors.ErrInvalidArgument)
	}
	obs, err := s.repos.LabBiomarker.ListByUserKey(dbctx.Context{Ctx: ctx}, userID, key)
	if err != nil {
		return nil, err
	}
	res := s.trendFor(key, obs)
	return &res, nil
}

func (s *insights) AllTrends(ctx context.Context, userID uuid.UUID) ([]TrendReport, error) {
	ctx, span := s.tracer.Start(ctx, "AllTrends")
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx}
	keys, err := s.repos.LabBiomarker.ListKeysByUser(dbc, userID)
	if err != nil {
		return nil, err
	}
	out := make([]TrendReport, 0, len(keys))
	for _, key := range keys {
		obs, err := s.repos.LabBiomarker.ListByUserKey(dbc, userID, key)
		if err != nil {
			return nil, err
		}
		out = append(out, s.trendFor(key, obs))
	}
	return out, nil
}

func (s *insights) trendFor(key string, obs []*repos.MarkerObservation) TrendReport {
	points := make([]steps.TrendPoint, 0, len(obs))
	for _, o := range obs {
		points = append(points, steps.TrendPoint{Date: o.TestDate, Value: o.Value})
	}
	return TrendReport{
		TrendResult:     steps.ComputeTrend(key, points, s.registry.Get(key)),
		MechanismGroups: s.registry.MechanismsFor(key),
	}
}

func (s *insights) Changepoints(ctx context.Context, userID uuid.UUID) ([]*types.BayesianChangepoint, error) {
	return s.repos.Changepoint.ListByUser(dbctx.Context{Ctx: ctx}, userID)
}

func (s *insights) ProtocolEffectiveness(ctx context.Context, userID uuid.UUID) (*EffectivenessReport, error) {
	ctx, span := s.tracer.Start(ctx, "ProtocolEffectiveness")
	defer span.End()

	cacheKey := evidenceCacheKey(userID)
	var cached EffectivenessReport
	if hit, err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	dbc := dbctx.Context{Ctx: ctx}
	protocols, err := s.repos.Protocol.ListByUser(dbc, userID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.repos.LabEventReview.ListByUserAsc(dbc, userID)
	if err != nil {
		return nil, err
	}

	// Index per-protocol score history across the review timeline.
	history := map[uuid.UUID][]EffectivenessPoint{}
	current := map[uuid.UUID]*types.ProtocolScore{}
	for _, rev := range reviews {
		for _, score := range labs.DecodeProtocolScores(rev.ProtocolScores) {
			score := score
			history[score.ProtocolID] = append(history[score.ProtocolID], EffectivenessPoint{
				UploadID:   rev.LabUploadID,
				TestDate:   rev.TestDate,
				Verdict:    score.Verdict,
				Confidence: score.Confidence,
				Score:      score.Score,
			})
			// Reviews arrive oldest-first, so the last write wins.
			current[score.ProtocolID] = &score
		}
	}

	report := &EffectivenessReport{Protocols: make([]ProtocolEffectiveness, 0, len(protocols))}
	for _, proto := range protocols {
		report.Protocols = append(report.Protocols, ProtocolEffectiveness{
			ProtocolID:  proto.ID,
			PeptideName: proto.PeptideName,
			StartDate:   proto.StartDate,
			EndDate:     proto.EndDate,
			Current:     current[proto.ID],
			History:     history[proto.ID],
		})
	}
	sort.SliceStable(report.Protocols, func(i, j int) bool {
		return report.Protocols[i].PeptideName < report.Protocols[j].PeptideName
	})

	if err := s.cache.SetJSON(ctx, cacheKey, report, evidenceCacheTTL); err != nil {
		s.log.Warn("effectiveness cache write failed", "user_id", userID, "error", err)
	}
	return report, nil
}

func (s *insights) PredictionAccuracy(ctx context.Context, userID uuid.UUID) (*steps.LedgerStats, error) {
	ctx, span := s.tracer.Start(ctx, "PredictionAccuracy")
	defer span.End()

	review, err := s.repos.LabEventReview.GetLatestByUser(dbctx.Context{Ctx: ctx}, userID)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		return &steps.LedgerStats{}, nil
	}
	if err != nil {
		return nil, err
	}
	stats := steps.LedgerAccuracy(labs.DecodeLedgerEntries(review.EvidenceLedger))
	return &stats, nil
}

func (s *insights) Predictions(ctx context.Context, userID uuid.UUID) ([]*types.HealthPrediction, error) {
	ctx, span := s.tracer.Start(ctx, "Predictions")
	defer span.End()

	cacheKey := predictionCacheKey(userID)
	var cached []*types.HealthPrediction
	if hit, err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
		return cached, nil
	}
	rows, err := s.repos.HealthPrediction.ListByUser(dbctx.Context{Ctx: ctx}, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, cacheKey, rows, predictionCacheTTL); err != nil {
		s.log.Warn("prediction cache write failed", "user_id", userID, "error", err)
	}
	return rows, nil
}

func (s *insights) Prediction(ctx context.Context, userID uuid.UUID, key string) (*types.HealthPrediction, error) {
	ctx, span := s.tracer.Start(ctx, "Prediction")
	defer span.End()

	if s.registry.Get(key) == nil {
		return nil, fmt.Errorf("unknown biomarker %q: %w", key, pkgerrors.ErrInvalidArgument)
	}
	dbc := dbctx.Context{Ctx: ctx}
	row, err := s.repos.HealthPrediction.GetFresh(dbc, userID, key, predictionCacheTTL)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, pkgerrors.ErrNotFound) {
		return nil, err
	}

	// Stale or never computed: rebuild from the stored observation series.
	obs, err := s.repos.LabBiomarker.ListByUserKey(dbc, userID, key)
	if err != nil {
		return nil, err
	}
	protocols, err := s.repos.Protocol.ListByUser(dbc, userID)
	if err != nil {
		return nil, err
	}
	series := make([]steps.MetricPoint, 0, len(obs))
	for _, o := range obs {
		series = append(series, steps.MetricPoint{Date: o.TestDate, Value: o.Value, UploadID: o.LabUploadID})
	}
	out := steps.Forecast(steps.ForecastDeps{Log: s.log}, steps.ForecastInput{
		BiomarkerKey: key,
		Series:       series,
		Protocols:    protocols,
	})
	if out.Insufficient {
		return nil, fmt.Errorf("fewer than three observations of %s: %w", key, pkgerrors.ErrNotFound)
	}
	row = &types.HealthPrediction{
		UserID:        userID,
		BiomarkerKey:  key,
		ForecastValue: out.ForecastValue,
		ForecastLow:   out.ForecastLow,
		ForecastHigh:  out.ForecastHigh,
		HorizonDays:   out.HorizonDays,
		ProtocolTerms: labs.EncodeJSON(out.ProtocolTerms),
		ComputedAt:    time.Now().UTC(),
	}
	if err := s.repos.HealthPrediction.UpsertByScope(dbc, row); err != nil {
		return nil, fmt.Errorf("store recomputed forecast: %w", err)
	}
	return row, nil
}
