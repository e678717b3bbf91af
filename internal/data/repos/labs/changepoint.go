package labs

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/labintel-backend/internal/domain"
	"github.com/yungbote/labintel-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

type ChangepointRepo interface {
	// ReplaceForScope swaps the detections for a (user, metric, protocol)
	// triple: a fresh detection supersedes older rows rather than merging.
	ReplaceForScope(dbc dbctx.Context, userID uuid.UUID, metric string, protocolID uuid.UUID, rows []*types.BayesianChangepoint) error
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.BayesianChangepoint, error)
}

type changepointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChangepointRepo(db *gorm.DB, log *logger.Logger) ChangepointRepo {
	return &changepointRepo{db: db, log: log.With("repo", "ChangepointRepo")}
}

func (r *changepointRepo) ReplaceForScope(dbc dbctx.Context, userID uuid.UUID, metric string, protocolID uuid.UUID, rows []*types.BayesianChangepoint) error {
	if userID == uuid.Nil || metric == "" || protocolID == uuid.Nil {
		return fmt.Errorf("missing changepoint scope: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("user_id = ? AND metric = ? AND protocol_id = ?", userID, metric, protocolID).
			Delete(&types.BayesianChangepoint{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for _, row := range rows {
			if row.ID == uuid.Nil {
				row.ID = uuid.New()
			}
		}
		return tx.Create(&rows).Error
	})
}

func (r *changepointRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.BayesianChangepoint, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.BayesianChangepoint
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("detected_date ASC, metric ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
