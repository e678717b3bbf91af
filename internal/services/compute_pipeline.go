package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
	"github.com/yungbote/labintel-backend/internal/clients/rediscache"
	"github.com/yungbote/labintel-backend/internal/data/repos"
	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/domain/labs"
	"github.com/yungbote/labintel-backend/internal/modules/labs/steps"
	"github.com/yungbote/labintel-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
	"github.com/yungbote/labintel-backend/internal/pkg/userlock"
	"github.com/yungbote/labintel-backend/internal/platform/envutil"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

var (
	evidenceCacheTTL   = envutil.Duration("EVIDENCE_CACHE_TTL", 5*time.Minute)
	predictionCacheTTL = envutil.Duration("PREDICTION_CACHE_TTL", time.Hour)
)

type ComputePipeline interface {
	// RunComputePipeline recomputes the review for one upload from the
	// history up to and including that draw, then replays every later
	// upload so the review chain stays consistent. It returns the review
	// for the requested upload.
	RunComputePipeline(ctx context.Context, userID, uploadID uuid.UUID) (*types.LabEventReview, error)
	// RecomputeUser replays every upload oldest-first on a single worker.
	// A failed upload is recorded and the replay continues.
	RecomputeUser(ctx context.Context, userID uuid.UUID) ([]UploadResult, error)
	// RecomputeAll fans RecomputeUser out across all users.
	RecomputeAll(ctx context.Context) error
}

// UploadResult is one upload's outcome within a bulk replay.
type UploadResult struct {
	UploadID uuid.UUID `json:"upload_id"`
	TestDate time.Time `json:"test_date"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
}

type computePipeline struct {
	log      *logger.Logger
	repos    *repos.Repos
	registry *biomarkers.Registry
	cache    rediscache.Cache
	locks    *userlock.KeyedMutex
	tracer   trace.Tracer
	workers  int
}

func NewComputePipeline(log *logger.Logger, r *repos.Repos, registry *biomarkers.Registry, cache rediscache.Cache) ComputePipeline {
	return &computePipeline{
		log:      log.With("service", "ComputePipeline"),
		repos:    r,
		registry: registry,
		cache:    cache,
		locks:    userlock.New(),
		tracer:   otel.Tracer("compute_pipeline"),
		workers:  envutil.Int("RECOMPUTE_WORKERS", 4),
	}
}

// userState is everything a replay needs, loaded once per run.
type userState struct {
	uploads   []*types.LabUpload
	protocols []*types.Protocol
	preDraw   map[uuid.UUID]*types.PreDrawContext
}

func (p *computePipeline) RunComputePipeline(ctx context.Context, userID, uploadID uuid.UUID) (*types.LabEventReview, error) {
	ctx, span := p.tracer.Start(ctx, "RunComputePipeline")
	span.SetAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("upload.id", uploadID.String()),
	)
	defer span.End()

	unlock := p.locks.Lock(userID)
	defer unlock()

	state, err := p.loadUserState(ctx, userID)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, u := range state.uploads {
		if u.ID == uploadID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("upload %s: %w", uploadID, pkgerrors.ErrNotFound)
	}

	// Reviews chain: every later review's evidence windows and ledger
	// reconciliation read this draw, so the replay continues forward from
	// it rather than stopping at a now-inconsistent successor.
	review, err := p.computeForUpload(ctx, userID, state, idx)
	if err != nil {
		return nil, err
	}
	for i := idx + 1; i < len(state.uploads); i++ {
		if _, err := p.computeForUpload(ctx, userID, state, i); err != nil {
			return nil, fmt.Errorf("replay upload %s: %w", state.uploads[i].ID, err)
		}
	}
	p.invalidateUserCaches(ctx, userID)
	return review, nil
}

func (p *computePipeline) RecomputeUser(ctx context.Context, userID uuid.UUID) ([]UploadResult, error) {
	ctx, span := p.tracer.Start(ctx, "RecomputeUser")
	span.SetAttributes(attribute.String("user.id", userID.String()))
	defer span.End()

	unlock, ok := p.locks.TryLock(userID)
	if !ok {
		return nil, pkgerrors.ErrPipelineBusy
	}
	defer unlock()

	state, err := p.loadUserState(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := make([]UploadResult, 0, len(state.uploads))
	for i, upload := range state.uploads {
		res := UploadResult{UploadID: upload.ID, TestDate: upload.TestDate}
		if _, err := p.computeForUpload(ctx, userID, state, i); err != nil {
			res.Err = err
			res.Error = err.Error()
			p.log.Error("replay failed for upload",
				"user_id", userID, "upload_id", upload.ID, "error", err)
		}
		results = append(results, res)
	}
	p.invalidateUserCaches(ctx, userID)
	return results, nil
}

func (p *computePipeline) RecomputeAll(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "RecomputeAll")
	defer span.End()

	userIDs, err := p.repos.LabUpload.ListUserIDs(dbctx.Context{Ctx: ctx})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			if _, err := p.RecomputeUser(gctx, userID); err != nil {
				// A busy user is already being recomputed; skip, don't fail
				// the whole sweep.
				if errors.Is(err, pkgerrors.ErrPipelineBusy) {
					p.log.Warn("skipping busy user", "user_id", userID)
					return nil
				}
				return fmt.Errorf("recompute user %s: %w", userID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *computePipeline) loadUserState(ctx context.Context, userID uuid.UUID) (*userState, error) {
	dbc := dbctx.Context{Ctx: ctx}
	uploads, err := p.repos.LabUpload.ListByUserAsc(dbc, userID)
	if err != nil {
		return nil, fmt.Errorf("load uploads: %w", err)
	}
	protocols, err := p.repos.Protocol.ListByUser(dbc, userID)
	if err != nil {
		return nil, fmt.Errorf("load protocols: %w", err)
	}
	preDraw, err := p.repos.PreDrawContext.MapByUser(dbc, userID)
	if err != nil {
		return nil, fmt.Errorf("load pre-draw contexts: %w", err)
	}
	return &userState{uploads: uploads, protocols: protocols, preDraw: preDraw}, nil
}

// computeForUpload derives the review for uploads[idx] using only history up
// to that draw. Replaying an unchanged history therefore reproduces every
// review byte for byte.
func (p *computePipeline) computeForUpload(ctx context.Context, userID uuid.UUID, state *userState, idx int) (*types.LabEventReview, error) {
	ctx, span := p.tracer.Start(ctx, "computeForUpload")
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx}
	upload := state.uploads[idx]
	history := state.uploads[:idx+1]
	series := buildSeries(history)

	var priorMarkers []types.LabBiomarker
	var priorLedger []types.EvidenceLedgerEntry
	if idx > 0 {
		prior := state.uploads[idx-1]
		priorMarkers = prior.Biomarkers
		priorReview, err := p.repos.LabEventReview.GetByUploadID(dbc, userID, prior.ID)
		if err == nil {
			priorLedger = labs.DecodeLedgerEntries(priorReview.EvidenceLedger)
		} else if !errors.Is(err, pkgerrors.ErrNotFound) {
			return nil, fmt.Errorf("load prior review: %w", err)
		}
	}

	deltas := steps.ComputeDeltas(p.registry, upload.Biomarkers, priorMarkers)

	// Evidence per protocol already started by this draw.
	evidenceDeps := steps.EvidenceDeps{Log: p.log, Registry: p.registry}
	var scores []types.ProtocolScore
	outputs := map[uuid.UUID]steps.EvidenceOutput{}
	for _, proto := range state.protocols {
		if proto.StartDate.After(upload.TestDate) {
			continue
		}
		out := steps.ComputeEvidence(evidenceDeps, steps.EvidenceInput{
			UserID:       userID,
			Protocol:     proto,
			AllProtocols: state.protocols,
			Series:       series,
			PreDraw:      state.preDraw,
			Now:          upload.TestDate,
			Robustness:   true,
		})
		outputs[proto.ID] = out
		scores = append(scores, protocolScoreFrom(out))
	}

	forecasts, predictions := p.runForecasts(series, state.protocols)

	// Changepoint and prediction rows describe the full history, so only
	// the replay of the newest draw may write them. A recompute of an
	// older upload would otherwise overwrite them from a truncated series.
	if idx == len(state.uploads)-1 {
		if err := p.persistChangepoints(dbc, userID, state.protocols, outputs, series); err != nil {
			return nil, err
		}
		if err := p.persistPredictions(dbc, userID, forecasts); err != nil {
			return nil, err
		}
	}

	// Ledger: resolve yesterday's claims against today's values, then add
	// the claims this draw supports.
	observations := map[string]float64{}
	for _, m := range upload.Biomarkers {
		if m.Key != "" {
			observations[m.Key] = m.Value
		}
	}
	ledgerDeps := steps.LedgerDeps{Log: p.log}
	ledger := steps.ReconcileLedger(ledgerDeps, steps.ReconcileInput{
		Entries:      priorLedger,
		UploadID:     upload.ID,
		Observations: observations,
	})
	ledger = append(ledger, steps.EmitClaims(ledgerDeps, steps.EmitClaimsInput{
		UploadID:  upload.ID,
		Scores:    scores,
		Forecasts: forecasts,
		Latest:    observations,
	})...)

	review := steps.BuildReview(steps.ReviewBuildDeps{Registry: p.registry}, steps.ReviewBuildInput{
		UploadID:    upload.ID,
		UserID:      userID,
		TestDate:    upload.TestDate,
		Markers:     upload.Biomarkers,
		Deltas:      deltas,
		Scores:      scores,
		Predictions: predictions,
		Ledger:      ledger,
		ComputedAt:  time.Now().UTC(),
	})
	if err := p.repos.LabEventReview.UpsertByUploadID(dbc, &review); err != nil {
		return nil, fmt.Errorf("upsert review: %w", err)
	}
	return &review, nil
}

// buildSeries flattens uploads into chronological per-metric series. Uploads
// arrive ordered by test date, so appending preserves order; duplicate
// observations within one draw stay as separate points.
func buildSeries(uploads []*types.LabUpload) map[string][]steps.MetricPoint {
	series := map[string][]steps.MetricPoint{}
	for _, u := range uploads {
		for _, m := range u.Biomarkers {
			if m.Key == "" {
				continue
			}
			series[m.Key] = append(series[m.Key], steps.MetricPoint{
				Date:     u.TestDate,
				Value:    m.Value,
				UploadID: u.ID,
			})
		}
	}
	return series
}

func protocolScoreFrom(out steps.EvidenceOutput) types.ProtocolScore {
	return types.ProtocolScore{
		ProtocolID:     out.ProtocolID,
		PeptideName:    out.PeptideName,
		Verdict:        out.Verdict,
		Confidence:     out.Confidence,
		Score:          out.Score,
		DaysOnProtocol: out.DaysOnProtocol,
		WindowDays:     out.WindowDays,
		ConfoundedDays: out.ConfoundedDays,
		Primary:        out.Primary,
		Secondary:      out.Secondary,
		Adverse:        out.Adverse,
		Mechanisms:     out.Mechanisms,
		RobustVerdict:  out.RobustVerdict,
	}
}

// persistChangepoints re-detects regime shifts for every metric a protocol
// plausibly touches and replaces the stored rows for that scope, so a later
// detection supersedes rather than accumulates.
func (p *computePipeline) persistChangepoints(dbc dbctx.Context, userID uuid.UUID, protocols []*types.Protocol, outputs map[uuid.UUID]steps.EvidenceOutput, series map[string][]steps.MetricPoint) error {
	deps := steps.ChangepointDeps{Log: p.log}
	for _, proto := range protocols {
		out, scored := outputs[proto.ID]
		if !scored {
			continue
		}
		metrics := changepointMetrics(proto, out)
		for _, metric := range metrics {
			points, ok := series[metric]
			if !ok {
				continue
			}
			res := steps.DetectChangepoint(deps, steps.ChangepointInput{
				Metric:        metric,
				Series:        points,
				ProtocolStart: proto.StartDate,
			})
			var rows []*types.BayesianChangepoint
			if res != nil {
				rows = append(rows, &types.BayesianChangepoint{
					UserID:          userID,
					Metric:          metric,
					ProtocolID:      proto.ID,
					DetectedDate:    res.DetectedDate,
					PosteriorProb:   res.PosteriorProb,
					EffectSize:      res.EffectSize,
					PreMean:         res.PreMean,
					PostMean:        res.PostMean,
					ConfidenceLevel: res.ConfidenceLevel,
				})
			}
			if err := p.repos.Changepoint.ReplaceForScope(dbc, userID, metric, proto.ID, rows); err != nil {
				return fmt.Errorf("replace changepoints for %s: %w", metric, err)
			}
		}
	}
	return nil
}

// changepointMetrics bounds the detection sweep to a protocol's stated
// intents plus any metric its evidence run flagged.
func changepointMetrics(proto *types.Protocol, out steps.EvidenceOutput) []string {
	seen := map[string]bool{}
	for _, ie := range proto.DecodeIntendedEffects() {
		seen[ie.Metric] = true
	}
	for _, group := range [][]types.EffectRecord{out.Primary, out.Secondary, out.Adverse} {
		for _, e := range group {
			seen[e.Metric] = true
		}
	}
	metrics := make([]string, 0, len(seen))
	for m := range seen {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	return metrics
}

func (p *computePipeline) runForecasts(series map[string][]steps.MetricPoint, protocols []*types.Protocol) ([]steps.ForecastOutput, []types.ReviewPrediction) {
	deps := steps.ForecastDeps{Log: p.log}
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var forecasts []steps.ForecastOutput
	var predictions []types.ReviewPrediction
	for _, key := range keys {
		out := steps.Forecast(deps, steps.ForecastInput{
			BiomarkerKey: key,
			Series:       series[key],
			Protocols:    protocols,
		})
		if out.Insufficient {
			continue
		}
		forecasts = append(forecasts, out)

		pred := types.ReviewPrediction{
			Marker:        key,
			ExpectedValue: out.ForecastValue,
			RangeLow:      out.ForecastLow,
			RangeHigh:     out.ForecastHigh,
			HorizonDays:   out.HorizonDays,
		}
		if def := p.registry.Get(key); def != nil {
			pred.DisplayName = def.DisplayName
		}
		for _, term := range out.ProtocolTerms {
			pred.ProtocolTerms = append(pred.ProtocolTerms, term.PeptideName)
		}
		predictions = append(predictions, pred)
	}
	return forecasts, predictions
}

func (p *computePipeline) persistPredictions(dbc dbctx.Context, userID uuid.UUID, forecasts []steps.ForecastOutput) error {
	now := time.Now().UTC()
	for _, fc := range forecasts {
		row := &types.HealthPrediction{
			UserID:        userID,
			BiomarkerKey:  fc.BiomarkerKey,
			ForecastValue: fc.ForecastValue,
			ForecastLow:   fc.ForecastLow,
			ForecastHigh:  fc.ForecastHigh,
			HorizonDays:   fc.HorizonDays,
			ProtocolTerms: labs.EncodeJSON(fc.ProtocolTerms),
			ComputedAt:    now,
		}
		if err := p.repos.HealthPrediction.UpsertByScope(dbc, row); err != nil {
			return fmt.Errorf("upsert prediction for %s: %w", fc.BiomarkerKey, err)
		}
	}
	return nil
}

func (p *computePipeline) invalidateUserCaches(ctx context.Context, userID uuid.UUID) {
	if p.cache == nil {
		return
	}
	keys := []string{
		evidenceCacheKey(userID),
		predictionCacheKey(userID),
	}
	if err := p.cache.Delete(ctx, keys...); err != nil {
		p.log.Warn("cache invalidation failed", "user_id", userID, "error", err)
	}
}

func evidenceCacheKey(userID uuid.UUID) string {
	return "labintel:evidence:" + userID.String()
}

func predictionCacheKey(userID uuid.UUID) string {
	return "labintel:predictions:" + userID.String()
}
