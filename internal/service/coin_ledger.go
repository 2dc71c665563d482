package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pointsystem/internal/config"
	"pointsystem/internal/model"
	"pointsystem/internal/repository"
	"pointsystem/pkg/idgen"

	"gorm.io/gorm"
)

// CoinLedgerService 硬币账本服务
// 硬币不过期，余额就是全部流水的有符号之和
//
// 【重要】余额、流水只允许通过本服务修改，所有写操作走
// "开事务 -> 锁余额行 -> 校验 -> 写流水 -> 改余额 -> 提交" 这一条路径
type CoinLedgerService struct {
	db          *gorm.DB
	cfg         *config.Config
	balanceRepo *repository.BalanceRepository
	tradeRepo   *repository.TradeRepository
	outboxRepo  *repository.OutboxRepository
}

func NewCoinLedgerService(db *gorm.DB, cfg *config.Config) *CoinLedgerService {
	return &CoinLedgerService{
		db:          db,
		cfg:         cfg,
		balanceRepo: repository.NewBalanceRepository(db),
		tradeRepo:   repository.NewTradeRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// Incr 硬币入账
func (s *CoinLedgerService) Incr(ctx context.Context, userID, amount int64, source model.TradeSource, tradeType, description string) (*model.CoinTrade, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !model.IsValidCoinTradeType(tradeType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTradeType, tradeType)
	}

	var trade *model.CoinTrade

	err := s.db.Transaction(func(tx *gorm.DB) error {
		balance, err := s.balanceRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		trade = &model.CoinTrade{
			TradeNo:     idgen.GenerateCoinTradeNo(),
			UserID:      userID,
			Coins:       amount,
			Description: description,
			SourceID:    source.SourceID,
			SourceType:  source.SourceType,
			TradeType:   tradeType,
		}
		if err := s.tradeRepo.CreateCoinTrade(ctx, tx, trade); err != nil {
			return fmt.Errorf("记录硬币流水失败: %w", err)
		}

		if err := s.balanceRepo.AddCoins(ctx, tx, userID, amount); err != nil {
			return fmt.Errorf("更新硬币余额失败: %w", err)
		}

		return s.appendCoinEvent(ctx, tx, trade, balance.AvailableCoins+amount)
	})

	if err != nil {
		return nil, err
	}
	return trade, nil
}

// Decr 硬币出账
// 余额不足时整个事务回滚，不留下任何流水或余额变更
func (s *CoinLedgerService) Decr(ctx context.Context, userID, amount int64, source model.TradeSource, tradeType, description string) (*model.CoinTrade, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !model.IsValidCoinTradeType(tradeType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTradeType, tradeType)
	}

	var trade *model.CoinTrade

	err := s.db.Transaction(func(tx *gorm.DB) error {
		balance, err := s.balanceRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		if balance.AvailableCoins < amount {
			return fmt.Errorf("%w，当前可用: %d", ErrInsufficientCoin, balance.AvailableCoins)
		}

		trade = &model.CoinTrade{
			TradeNo:     idgen.GenerateCoinTradeNo(),
			UserID:      userID,
			Coins:       -amount,
			Description: description,
			SourceID:    source.SourceID,
			SourceType:  source.SourceType,
			TradeType:   tradeType,
		}
		if err := s.tradeRepo.CreateCoinTrade(ctx, tx, trade); err != nil {
			return fmt.Errorf("记录硬币流水失败: %w", err)
		}

		if err := s.balanceRepo.AddCoins(ctx, tx, userID, -amount); err != nil {
			return fmt.Errorf("更新硬币余额失败: %w", err)
		}

		return s.appendCoinEvent(ctx, tx, trade, balance.AvailableCoins-amount)
	})

	if err != nil {
		return nil, err
	}
	return trade, nil
}

// GetBalance 读取缓存余额，不加锁不重算
func (s *CoinLedgerService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	balance, err := s.balanceRepo.GetByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return balance.AvailableCoins, nil
}

// GetTodayTotal 今日获得的硬币总数（只统计入账流水）
func (s *CoinLedgerService) GetTodayTotal(ctx context.Context, userID int64) (int64, error) {
	return s.tradeRepo.SumCoinTradesSince(ctx, userID, localMidnight(time.Now()))
}

// Reconcile 以全部流水的有符号之和为准，覆盖重写缓存余额
// 幂等，用于修复缓存漂移
func (s *CoinLedgerService) Reconcile(ctx context.Context, userID int64) (int64, error) {
	var total int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.balanceRepo.GetByUserIDForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		sum, err := s.tradeRepo.SumCoinTrades(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("统计硬币流水失败: %w", err)
		}
		total = sum

		return s.balanceRepo.SetCoins(ctx, tx, userID, sum)
	})

	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *CoinLedgerService) ListTrades(ctx context.Context, userID int64, page, pageSize int) ([]*model.CoinTrade, int64, error) {
	return s.tradeRepo.ListCoinTrades(ctx, userID, page, pageSize)
}

func (s *CoinLedgerService) appendCoinEvent(ctx context.Context, tx *gorm.DB, trade *model.CoinTrade, balanceAfter int64) error {
	event := model.LedgerEvent{
		TradeNo:      trade.TradeNo,
		UserID:       trade.UserID,
		Currency:     model.LedgerCurrencyCoin,
		Amount:       trade.Coins,
		TradeType:    trade.TradeType,
		BalanceAfter: balanceAfter,
		OccurredAt:   time.Now(),
	}
	payloadBytes, _ := json.Marshal(event)

	msg := &model.OutboxMessage{
		MessageKey: trade.TradeNo,
		Topic:      s.cfg.Kafka.Topic.LedgerEvent,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入账本事件失败: %w", err)
	}
	return nil
}

// localMidnight 本地时区的当日零点
func localMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
