package labs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

type HealthPredictionRepo interface {
	UpsertByScope(dbc dbctx.Context, row *types.HealthPrediction) error
	// GetFresh returns the cached forecast when it was computed within
	// maxAge; a stale or missing row reads as ErrNotFound.
	GetFresh(dbc dbctx.Context, userID uuid.UUID, key string, maxAge time.Duration) (*types.HealthPrediction, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.HealthPrediction, error)
}

type healthPredictionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHealthPredictionRepo(db *gorm.DB, log *logger.Logger) HealthPredictionRepo {
	return &healthPredictionRepo{db: db, log: log.With("repo", "HealthPredictionRepo")}
}

func (r *healthPredictionRepo) UpsertByScope(dbc dbctx.Context, row *types.HealthPrediction) error {
	if row == nil || row.UserID == uuid.Nil || row.BiomarkerKey == "" {
		return fmt.Errorf("missing prediction scope: %w", pkgerrors.ErrInvalidArgument)
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	row.UpdatedAt = now
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "biomarker_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"forecast_value",
			"forecast_low",
			"forecast_high",
			"horizon_days",
			"protocol_terms",
			"computed_at",
			"updated_at",
		}),
	}).Create(row).Error
}

func (r *healthPredictionRepo) GetFresh(dbc dbctx.Context, userID uuid.UUID, key string, maxAge time.Duration) (*types.HealthPrediction, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.HealthPrediction
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND biomarker_key = ? AND computed_at > ?",
			userID, key, time.Now().UTC().Add(-maxAge)).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *healthPredictionRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.HealthPrediction, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.HealthPrediction
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("biomarker_key ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
