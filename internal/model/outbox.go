package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 账本事件的币种标识
const (
	LedgerCurrencyPoint = "POINT"
	LedgerCurrencyCoin  = "COIN"
)

// OutboxMessage 事务性发件箱
// 账本事件与流水在同一个事务内落库，由后台任务异步推送到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent 推送到 Kafka 的账本事件载荷
type LedgerEvent struct {
	TradeNo      string    `json:"trade_no"`
	UserID       int64     `json:"user_id"`
	Currency     string    `json:"currency"` // POINT / COIN
	Amount       int64     `json:"amount"`   // 带符号
	TradeType    string    `json:"trade_type"`
	BalanceAfter int64     `json:"balance_after"`
	OccurredAt   time.Time `json:"occurred_at"`
}
