package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/labintel-backend/internal/biomarkers"
	"github.com/yungbote/labintel-backend/internal/data/repos"
	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/domain/labs"
	"github.com/yungbote/labintel-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

type Protocols interface {
	Create(ctx context.Context, userID uuid.UUID, in CreateProtocolInput) (*types.Protocol, error)
	List(ctx context.Context, userID uuid.UUID) ([]*types.Protocol, error)
	// End closes the protocol and replays the user's history, since the
	// end date changes which draws count as on-protocol.
	End(ctx context.Context, userID, protocolID uuid.UUID) (*types.Protocol, error)
}

type CreateProtocolInput struct {
	PeptideName     string
	Dose            string
	StartDate       time.Time
	IntendedEffects []types.IntendedEffect
}

type protocolsService struct {
	log      *logger.Logger
	repos    *repos.Repos
	registry *biomarkers.Registry
	pipeline ComputePipeline
	tracer   trace.Tracer
}

func NewProtocols(log *logger.Logger, r *repos.Repos, registry *biomarkers.Registry, pipeline ComputePipeline) Protocols {
	return &protocolsService{
		log:      log.With("service", "Protocols"),
		repos:    r,
		registry: registry,
		pipeline: pipeline,
		tracer:   otel.Tracer("protocols"),
	}
}

func (s *protocolsService) Create(ctx context.Context, userID uuid.UUID, in CreateProtocolInput) (*types.Protocol, error) {
	ctx, span := s.tracer.Start(ctx, "CreateProtocol")
	defer span.End()

	if in.PeptideName == "" {
		return nil, fmt.Errorf("missing peptide name: %w", pkgerrors.ErrInvalidArgument)
	}
	if in.StartDate.IsZero() {
		return nil, fmt.Errorf("missing start date: %w", pkgerrors.ErrInvalidArgument)
	}
	for _, ie := range in.IntendedEffects {
		if s.registry.Get(ie.Metric) == nil {
			return nil, fmt.Errorf("unknown metric %q in intended effects: %w", ie.Metric, pkgerrors.ErrInvalidArgument)
		}
		if ie.Direction != "increase" && ie.Direction != "decrease" {
			return nil, fmt.Errorf("intended effect direction must be increase or decrease: %w", pkgerrors.ErrInvalidArgument)
		}
	}

	proto := &types.Protocol{
		ID:              uuid.New(),
		UserID:          userID,
		PeptideName:     in.PeptideName,
		Dose:            in.Dose,
		StartDate:       in.StartDate.UTC().Truncate(24 * time.Hour),
		IntendedEffects: labs.EncodeJSON(in.IntendedEffects),
	}
	if err := s.repos.Protocol.Create(dbctx.Context{Ctx: ctx}, proto); err != nil {
		return nil, fmt.Errorf("persist protocol: %w", err)
	}
	s.recomputeDetached(userID)
	return proto, nil
}

func (s *protocolsService) List(ctx context.Context, userID uuid.UUID) ([]*types.Protocol, error) {
	return s.repos.Protocol.ListByUser(dbctx.Context{Ctx: ctx}, userID)
}

func (s *protocolsService) End(ctx context.Context, userID, protocolID uuid.UUID) (*types.Protocol, error) {
	ctx, span := s.tracer.Start(ctx, "EndProtocol")
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx}
	if err := s.repos.Protocol.End(dbc, userID, protocolID); err != nil {
		return nil, err
	}
	proto, err := s.repos.Protocol.GetByID(dbc, userID, protocolID)
	if err != nil {
		return nil, err
	}
	s.recomputeDetached(userID)
	return proto, nil
}

// recomputeDetached replays the user's history in the background; protocol
// edits change evidence windows for every draw. A busy pipeline means a run
// is already underway and will pick up the new rows on the next trigger.
func (s *protocolsService) recomputeDetached(userID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.pipeline.RecomputeUser(ctx, userID); err != nil && !errors.Is(err, pkgerrors.ErrPipelineBusy) {
			s.log.Error("recompute after protocol change failed", "user_id", userID, "error", err)
		}
	}()
}
