package repository

import (
	"context"
	"time"

	"pointsystem/internal/model"

	"gorm.io/gorm"
)

// 有序扫描活跃批次时的单页大小，限制大户（大量小额批次）场景下的内存占用
const batchScanSize = 200

type PointBatchRepository struct {
	db *gorm.DB
}

func NewPointBatchRepository(db *gorm.DB) *PointBatchRepository {
	return &PointBatchRepository{db: db}
}

func (r *PointBatchRepository) Create(ctx context.Context, tx *gorm.DB, batch *model.PointBatch) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(batch).Error
}

// ScanActive 按 (expires_at ASC, id ASC) 顺序逐条回调用户的未过期批次
//
// 【关键点】使用游标分页而不是一次性 Find 全量加载，
// 每页以上一页最后一条的 (expires_at, id) 作为起点继续扫描。
// 回调返回 false 表示已经攒够，停止扫描
func (r *PointBatchRepository) ScanActive(ctx context.Context, tx *gorm.DB, userID int64, now time.Time, fn func(batch *model.PointBatch) bool) error {
	if tx == nil {
		tx = r.db
	}

	var lastExpiresAt time.Time
	var lastID int64
	first := true

	for {
		query := tx.WithContext(ctx).
			Where("user_id = ? AND expires_at > ?", userID, now)

		if !first {
			query = query.Where(
				"expires_at > ? OR (expires_at = ? AND id > ?)",
				lastExpiresAt, lastExpiresAt, lastID,
			)
		}

		var batches []*model.PointBatch
		err := query.
			Order("expires_at ASC, id ASC").
			Limit(batchScanSize).
			Find(&batches).Error
		if err != nil {
			return err
		}

		for _, batch := range batches {
			if !fn(batch) {
				return nil
			}
		}

		if len(batches) < batchScanSize {
			return nil
		}

		last := batches[len(batches)-1]
		lastExpiresAt = last.ExpiresAt
		lastID = last.ID
		first = false
	}
}

func (r *PointBatchRepository) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&model.PointBatch{}).Error
}

// SumActive 统计用户所有未过期批次的积分之和（对账的权威值）
func (r *PointBatchRepository) SumActive(ctx context.Context, tx *gorm.DB, userID int64, now time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var total int64
	err := tx.WithContext(ctx).
		Model(&model.PointBatch{}).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Select("COALESCE(SUM(points), 0)").
		Scan(&total).Error
	return total, err
}

// GetExpired 查询用户已过期但尚未回收的批次
func (r *PointBatchRepository) GetExpired(ctx context.Context, tx *gorm.DB, userID int64, now time.Time) ([]*model.PointBatch, error) {
	if tx == nil {
		tx = r.db
	}
	var batches []*model.PointBatch
	err := tx.WithContext(ctx).
		Where("user_id = ? AND expires_at <= ?", userID, now).
		Order("expires_at ASC, id ASC").
		Find(&batches).Error
	return batches, err
}

// ListExpiredUserIDs 查询存在过期批次的用户ID，供回收任务分批处理
func (r *PointBatchRepository) ListExpiredUserIDs(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var userIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.PointBatch{}).
		Where("expires_at <= ?", now).
		Distinct("user_id").
		Limit(limit).
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}
