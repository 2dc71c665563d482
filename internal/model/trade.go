package model

import (
	"time"
)

// ============================================================================
// 交易原因常量
// ============================================================================

// 积分流水的原因类型（闭集）
const (
	PointTradeTypeSignIn         = "SIGN_IN"         // 每日签到
	PointTradeTypeInviteRegister = "INVITE_REGISTER" // 邀请注册
	PointTradeTypeAvatarSet      = "AVATAR_SET"      // 设置头像
	PointTradeTypeExpiryRecovery = "EXPIRY_RECOVERY" // 过期回收
)

// 硬币流水的原因类型（闭集）
const (
	CoinTradeTypeSignIn         = "SIGN_IN"
	CoinTradeTypeInviteRegister = "INVITE_REGISTER"
	CoinTradeTypeUnknown        = "UNKNOWN"
)

var validPointTradeTypes = map[string]bool{
	PointTradeTypeSignIn:         true,
	PointTradeTypeInviteRegister: true,
	PointTradeTypeAvatarSet:      true,
	PointTradeTypeExpiryRecovery: true,
}

var validCoinTradeTypes = map[string]bool{
	CoinTradeTypeSignIn:         true,
	CoinTradeTypeInviteRegister: true,
	CoinTradeTypeUnknown:        true,
}

func IsValidPointTradeType(t string) bool {
	return validPointTradeTypes[t]
}

func IsValidCoinTradeType(t string) bool {
	return validCoinTradeTypes[t]
}

// TradeSource 引发本次余额变动的业务实体（多态引用）
// 账本只负责存储这个指针用于审计展示，从不反查对应实体是否存在
type TradeSource struct {
	SourceID   int64  `json:"source_id"`
	SourceType string `json:"source_type"`
}

// ============================================================================
// 账本流水实体
// ============================================================================

// PointTrade 积分流水表
// 记录每一笔积分变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 金额带符号：正数入账，负数出账
// 3. 入账流水记录所属批次的过期时间，便于审计追踪
type PointTrade struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TradeNo     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"trade_no"` // 流水号（全局唯一）
	UserID      int64      `gorm:"index;not null" json:"user_id"`
	Points      int64      `gorm:"not null" json:"points"`                          // 积分变动（正数入账，负数出账）
	Description string     `gorm:"type:varchar(256)" json:"description"`            // 备注
	SourceID    int64      `gorm:"not null;default:0" json:"source_id"`             // 来源实体ID
	SourceType  string     `gorm:"type:varchar(64);not null" json:"source_type"`    // 来源实体类型
	TradeType   string     `gorm:"type:varchar(32);index;not null" json:"trade_type"`
	ExpiredAt   *time.Time `json:"expired_at"`                                      // 入账批次的过期时间，出账流水为空
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PointTrade) TableName() string {
	return "point_trade"
}

// CoinTrade 硬币流水表
// 与积分流水同构，硬币不过期所以没有 expired_at
type CoinTrade struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TradeNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"trade_no"`
	UserID      int64     `gorm:"index;not null" json:"user_id"`
	Coins       int64     `gorm:"not null" json:"coins"` // 硬币变动（正数入账，负数出账）
	Description string    `gorm:"type:varchar(256)" json:"description"`
	SourceID    int64     `gorm:"not null;default:0" json:"source_id"`
	SourceType  string    `gorm:"type:varchar(64);not null" json:"source_type"`
	TradeType   string    `gorm:"type:varchar(32);index;not null" json:"trade_type"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CoinTrade) TableName() string {
	return "coin_trade"
}
