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

type LabEventReviewRepo interface {
	// UpsertByUploadID replaces the review for an upload in place; a
	// recompute never leaves two live rows for the same draw.
	UpsertByUploadID(dbc dbctx.Context, row *types.LabEventReview) error
	GetByUploadID(dbc dbctx.Context, userID, uploadID uuid.UUID) (*types.LabEventReview, error)
	GetLatestByUser(dbc dbctx.Context, userID uuid.UUID) (*types.LabEventReview, error)
	// ListByUserAsc returns every review ordered by test date, oldest
	// first, for effectiveness histories.
	ListByUserAsc(dbc dbctx.Context, userID uuid.UUID) ([]*types.LabEventReview, error)
}

type labEventReviewRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLabEventReviewRepo(db *gorm.DB, log *logger.Logger) LabEventReviewRepo {
	return &labEventReviewRepo{db: db, log: log.With("repo", "LabEventReviewRepo")}
}

func (r *labEventReviewRepo) UpsertByUploadID(dbc dbctx.Context, row *types.LabEventReview) error {
	if row == nil || row.LabUploadID == uuid.Nil {
		return fmt.Errorf("missing lab_upload_id: %w", pkgerrors.ErrInvalidArgument)
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
		Columns: []clause.Column{{Name: "lab_upload_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"verdict_headline",
			"verdict_confidence",
			"domain_summaries",
			"marker_deltas",
			"predictions",
			"protocol_scores",
			"evidence_ledger",
			"computed_at",
			"updated_at",
		}),
	}).Create(row).Error
}

func (r *labEventReviewRepo) GetByUploadID(dbc dbctx.Context, userID, uploadID uuid.UUID) (*types.LabEventReview, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.LabEventReview
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND lab_upload_id = ?", userID, uploadID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *labEventReviewRepo) GetLatestByUser(dbc dbctx.Context, userID uuid.UUID) (*types.LabEventReview, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.LabEventReview
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("test_date DESC, created_at DESC").
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *labEventReviewRepo) ListByUserAsc(dbc dbctx.Context, userID uuid.UUID) ([]*types.LabEventReview, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.LabEventReview
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("test_date ASC, created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
