package labs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

type LabUploadRepo interface {
	Create(dbc dbctx.Context, row *types.LabUpload) error
	GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*types.LabUpload, error)
	// ListByUserAsc returns every upload for the user ordered by test date
	// ascending, ties broken by creation time so replay order is stable.
	ListByUserAsc(dbc dbctx.Context, userID uuid.UUID) ([]*types.LabUpload, error)
	// GetPrior returns the upload immediately preceding the given test date,
	// or nil when this is the user's first draw.
	GetPrior(dbc dbctx.Context, userID uuid.UUID, before time.Time) (*types.LabUpload, error)
	ListUserIDs(dbc dbctx.Context) ([]uuid.UUID, error)
}

type labUploadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLabUploadRepo(db *gorm.DB, log *logger.Logger) LabUploadRepo {
	return &labUploadRepo{db: db, log: log.With("repo", "LabUploadRepo")}
}

func (r *labUploadRepo) Create(dbc dbctx.Context, row *types.LabUpload) error {
	if row == nil {
		return fmt.Errorf("nil upload: %w", pkgerrors.ErrInvalidArgument)
	}
	if row.UserID == uuid.Nil {
		return fmt.Errorf("missing user_id: %w", pkgerrors.ErrInvalidArgument)
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(row).Error
}

func (r *labUploadRepo) GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*types.LabUpload, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.LabUpload
	err := transaction.WithContext(dbc.Ctx).
		Preload("Biomarkers").
		Where("user_id = ? AND id = ?", userID, id).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *labUploadRepo) ListByUserAsc(dbc dbctx.Context, userID uuid.UUID) ([]*types.LabUpload, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.LabUpload
	if err := transaction.WithContext(dbc.Ctx).
		Preload("Biomarkers").
		Where("user_id = ?", userID).
		Order("test_date ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *labUploadRepo) GetPrior(dbc dbctx.Context, userID uuid.UUID, before time.Time) (*types.LabUpload, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.LabUpload
	err := transaction.WithContext(dbc.Ctx).
		Preload("Biomarkers").
		Where("user_id = ? AND test_date < ?", userID, before).
		Order("test_date DESC, created_at DESC").
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *labUploadRepo) ListUserIDs(dbc dbctx.Context) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []uuid.UUID
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.LabUpload{}).
		Distinct("user_id").
		Order("user_id ASC").
		Pluck("user_id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
