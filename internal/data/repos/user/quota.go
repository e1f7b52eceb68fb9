package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

// UserQuotaRepo persists the per-user rolling usage window. Counter updates
// go through UpdateFieldsByUserID with gorm.Expr values so concurrent
// trackers never lose increments.
type UserQuotaRepo interface {
	Create(dbc dbctx.Context, quotas []*types.UserQuota) ([]*types.UserQuota, error)
	GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.UserQuota, error)
	ListUserIDs(dbc dbctx.Context) ([]uuid.UUID, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsByUserID(dbc dbctx.Context, userID uuid.UUID, updates map[string]interface{}) error
}

type userQuotaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserQuotaRepo(db *gorm.DB, baseLog *logger.Logger) UserQuotaRepo {
	return &userQuotaRepo{
		db:  db,
		log: baseLog.With("repo", "UserQuotaRepo"),
	}
}

func (r *userQuotaRepo) Create(dbc dbctx.Context, quotas []*types.UserQuota) ([]*types.UserQuota, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(quotas) == 0 {
		return []*types.UserQuota{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&quotas).Error; err != nil {
		return nil, err
	}
	return quotas, nil
}

func (r *userQuotaRepo) ListUserIDs(dbc dbctx.Context) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.UserQuota{}).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *userQuotaRepo) GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.UserQuota, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var quota types.UserQuota
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&quota).Error
	if err != nil {
		return nil, err
	}
	if quota.ID == uuid.Nil {
		return nil, nil
	}
	return &quota, nil
}

func (r *userQuotaRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.UserQuota{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *userQuotaRepo) UpdateFieldsByUserID(dbc dbctx.Context, userID uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.UserQuota{}).
		Where("user_id = ?", userID).
		Updates(updates).Error
}
