package protocols

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

type ProtocolRepo interface {
	Create(dbc dbctx.Context, row *types.Protocol) error
	GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*types.Protocol, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Protocol, error)
	End(dbc dbctx.Context, userID, id uuid.UUID) error
}

type protocolRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProtocolRepo(db *gorm.DB, log *logger.Logger) ProtocolRepo {
	return &protocolRepo{db: db, log: log.With("repo", "ProtocolRepo")}
}

func (r *protocolRepo) Create(dbc dbctx.Context, row *types.Protocol) error {
	if row == nil || row.UserID == uuid.Nil {
		return fmt.Errorf("missing user_id: %w", pkgerrors.ErrInvalidArgument)
	}
	if row.PeptideName == "" {
		return fmt.Errorf("missing peptide_name: %w", pkgerrors.ErrInvalidArgument)
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if len(row.IntendedEffects) == 0 {
		row.IntendedEffects = []byte("[]")
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(row).Error
}

func (r *protocolRepo) GetByID(dbc dbctx.Context, userID, id uuid.UUID) (*types.Protocol, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.Protocol
	err := transaction.WithContext(dbc.Ctx).
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

func (r *protocolRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Protocol, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id: %w", pkgerrors.ErrInvalidArgument)
	}
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Protocol
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("start_date ASC, created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *protocolRepo) End(dbc dbctx.Context, userID, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Protocol{}).
		Where("user_id = ? AND id = ? AND end_date IS NULL", userID, id).
		Update("end_date", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}
