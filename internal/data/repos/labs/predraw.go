package labs

import (
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

type PreDrawContextRepo interface {
	UpsertByUploadID(dbc dbctx.Context, row *types.PreDrawContext) error
	// MapByUser returns the user's confound metadata keyed by upload id.
	MapByUser(dbc dbctx.Context, userID uuid.UUID) (map[uuid.UUID]*types.PreDrawContext, error)
}

type preDrawContextRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPreDrawContextRepo(db *gorm.DB, log *logger.Logger) PreDrawContextRepo {
	return &preDrawContextRepo{db: db, log: log.With("repo", "PreDrawContextRepo")}
}

func (r *preDrawContextRepo) UpsertByUploadID(dbc dbctx.Context, row *types.PreDrawContext) error {
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
			"fasting_hours",
			"illness",
			"exercise",
			"stress",
			"draw_time",
			"updated_at",
		}),
	}).Create(row).Error
}

func (r *preDrawContextRepo) MapByUser(dbc dbctx.Context, userID uuid.UUID) (map[uuid.UUID]*types.PreDrawContext, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.PreDrawContext
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*types.PreDrawContext, len(rows))
	for _, row := range rows {
		out[row.LabUploadID] = row
	}
	return out, nil
}
