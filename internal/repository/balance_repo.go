package repository

import (
	"context"
	"errors"

	"pointsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound = errors.New("用户余额记录不存在")
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) Create(ctx context.Context, balance *model.UserBalance) error {
	return r.db.WithContext(ctx).Create(balance).Error
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, userID int64) (*model.UserBalance, error) {
	var balance model.UserBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetByUserIDForUpdate 加排他行锁读取余额记录
//
// 【关键点】所有会修改余额/批次/流水的操作必须先通过这里拿到行锁，
// 同一用户的账本操作由锁获取顺序串行化，不同用户互不影响
func (r *BalanceRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.UserBalance, error) {
	var balance model.UserBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// SetPoints 覆盖写入积分缓存余额
// 积分余额永远由批次重算得出，不做增量更新
func (r *BalanceRepository) SetPoints(ctx context.Context, tx *gorm.DB, userID int64, points int64) error {
	result := tx.WithContext(ctx).
		Model(&model.UserBalance{}).
		Where("user_id = ?", userID).
		Update("available_points", points)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetCoins 覆盖写入硬币缓存余额（对账修复用）
func (r *BalanceRepository) SetCoins(ctx context.Context, tx *gorm.DB, userID int64, coins int64) error {
	result := tx.WithContext(ctx).
		Model(&model.UserBalance{}).
		Where("user_id = ?", userID).
		Update("available_coins", coins)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AddCoins 增量更新硬币余额，delta 可为负
// 调用方必须已持有该用户的行锁并完成余额校验
func (r *BalanceRepository) AddCoins(ctx context.Context, tx *gorm.DB, userID int64, delta int64) error {
	result := tx.WithContext(ctx).
		Model(&model.UserBalance{}).
		Where("user_id = ?", userID).
		Update("available_coins", gorm.Expr("available_coins + ?", delta))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *BalanceRepository) GetOrCreate(ctx context.Context, userID int64) (*model.UserBalance, error) {
	balance, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return balance, nil
	}

	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	newBalance := &model.UserBalance{
		UserID: userID,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newBalance).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}
