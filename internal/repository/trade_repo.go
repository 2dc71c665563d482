package repository

import (
	"context"
	"time"

	"pointsystem/internal/model"

	"gorm.io/gorm"
)

type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// ============================================================
// 积分流水
// ============================================================

func (r *TradeRepository) CreatePointTrade(ctx context.Context, tx *gorm.DB, trade *model.PointTrade) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trade).Error
}

func (r *TradeRepository) ListPointTrades(ctx context.Context, userID int64, page, pageSize int) ([]*model.PointTrade, int64, error) {
	var trades []*model.PointTrade
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PointTrade{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&trades).Error

	return trades, total, err
}

// SumPointTradesSince 统计某时间点以来的入账积分之和（出账不计入"今日获得"）
func (r *TradeRepository) SumPointTradesSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.PointTrade{}).
		Where("user_id = ? AND points > 0 AND created_at >= ?", userID, since).
		Select("COALESCE(SUM(points), 0)").
		Scan(&total).Error
	return total, err
}

// ============================================================
// 硬币流水
// ============================================================

func (r *TradeRepository) CreateCoinTrade(ctx context.Context, tx *gorm.DB, trade *model.CoinTrade) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trade).Error
}

func (r *TradeRepository) ListCoinTrades(ctx context.Context, userID int64, page, pageSize int) ([]*model.CoinTrade, int64, error) {
	var trades []*model.CoinTrade
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CoinTrade{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&trades).Error

	return trades, total, err
}

func (r *TradeRepository) SumCoinTradesSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.CoinTrade{}).
		Where("user_id = ? AND coins > 0 AND created_at >= ?", userID, since).
		Select("COALESCE(SUM(coins), 0)").
		Scan(&total).Error
	return total, err
}

// SumCoinTrades 统计用户全部硬币流水的有符号之和（对账的权威值）
func (r *TradeRepository) SumCoinTrades(ctx context.Context, tx *gorm.DB, userID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var total int64
	err := tx.WithContext(ctx).
		Model(&model.CoinTrade{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(coins), 0)").
		Scan(&total).Error
	return total, err
}
