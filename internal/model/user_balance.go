package model

import (
	"time"
)

// UserBalance 用户余额表
// 缓存用户当前可用的积分/硬币余额，是账本系统的核心数据
//
// 【重要】余额字段是派生值：
//   - available_points 永远等于该用户所有未过期积分批次的 points 之和
//   - available_coins  永远等于该用户所有硬币流水的有符号之和
//
// 只允许账本服务在持有行锁的事务内修改，其他组件一律只读
type UserBalance struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64     `gorm:"uniqueIndex;not null" json:"user_id"`           // 用户ID，业务方传入
	AvailablePoints int64     `gorm:"not null;default:0" json:"available_points"`    // 可用积分（会过期）
	AvailableCoins  int64     `gorm:"not null;default:0" json:"available_coins"`     // 可用硬币（不过期）
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserBalance) TableName() string {
	return "user_balance"
}
