package labs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

type LabBiomarkerRepo interface {
	CreateBatch(dbc dbctx.Context, rows []*types.LabBiomarker) error
	ListByUpload(dbc dbctx.Context, uploadID uuid.UUID) ([]*types.LabBiomarker, error)
	// ListByUserKey returns every matched observation of one marker for the
	// user, joined to its upload's test date, oldest first.
	ListByUserKey(dbc dbctx.Context, userID uuid.UUID, key string) ([]*MarkerObservation, error)
	// ListKeysByUser returns the distinct matched marker keys the user has.
	ListKeysByUser(dbc dbctx.Context, userID uuid.UUID) ([]string, error)
}

// MarkerObservation is a biomarker row paired with its draw date.
type MarkerObservation struct {
	types.LabBiomarker
	TestDate time.Time `gorm:"column:test_date"`
}

type labBiomarkerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLabBiomarkerRepo(db *gorm.DB, log *logger.Logger) LabBiomarkerRepo {
	return &labBiomarkerRepo{db: db, log: log.With("repo", "LabBiomarkerRepo")}
}

func (r *labBiomarkerRepo) CreateBatch(dbc dbctx.Context, rows []*types.LabBiomarker) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row == nil {
			continue
		}
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).CreateInBatches(&rows, 200).Error
}

func (r *labBiomarkerRepo) ListByUpload(dbc dbctx.Context, uploadID uuid.UUID) ([]*types.LabBiomarker, error) {
	if uploadID == uuid.Nil {
		return nil, fmt.Errorf("missing lab_upload_id: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.LabBiomarker
	if err := transaction.WithContext(dbc.Ctx).
		Where("lab_upload_id = ?", uploadID).
		Order("key ASC, raw_name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *labBiomarkerRepo) ListByUserKey(dbc dbctx.Context, userID uuid.UUID, key string) ([]*MarkerObservation, error) {
	if userID == uuid.Nil || key == "" {
		return nil, fmt.Errorf("missing user_id or key: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*MarkerObservation
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.LabBiomarker{}).
		Select("lab_biomarker.*, lab_upload.test_date AS test_date").
		Joins("JOIN lab_upload ON lab_upload.id = lab_biomarker.lab_upload_id").
		Where("lab_biomarker.user_id = ? AND lab_biomarker.key = ? AND lab_upload.deleted_at IS NULL", userID, key).
		Order("lab_upload.test_date ASC, lab_upload.created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *labBiomarkerRepo) ListKeysByUser(dbc dbctx.Context, userID uuid.UUID) ([]string, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []string
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.LabBiomarker{}).
		Distinct("key").
		Where("user_id = ? AND key <> ''", userID).
		Order("key ASC").
		Pluck("key", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
