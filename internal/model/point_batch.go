package model

import (
	"time"
)

// PointBatch 积分批次表
// 每一笔积分发放生成一个批次，批次带独立的过期时间
//
// 【消费顺序】扣减积分时按 (expires_at ASC, id ASC) 顺序消费：
// 先过期的先用掉，同一过期时间按创建顺序用掉
//
// 批次的生命周期：
//   - 发放时创建
//   - 部分消费时删除原批次，剩余积分以原过期时间重新插入一条新批次
//   - 完全消费或过期回收时删除
type PointBatch struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"index:idx_batch_user_expire,priority:1;not null" json:"user_id"`
	Points    int64     `gorm:"not null" json:"points"` // 批次剩余积分
	ExpiresAt time.Time `gorm:"index:idx_batch_user_expire,priority:2;not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PointBatch) TableName() string {
	return "point_batch"
}
