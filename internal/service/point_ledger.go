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

// PointLedgerService 积分账本服务
//
// 积分按批次发放，每个批次带独立的过期时间，扣减时按
// "先过期先消费" 的顺序消耗批次，最后一个被消费的批次如果
// 只用掉一部分，剩余积分以原过期时间重新插入为一条新批次。
//
// 【重要】积分缓存余额永远通过"从批次重算"写回，不做增量更新，
// 这样即使之前存在漂移，每次写操作都会把缓存修正回权威值
type PointLedgerService struct {
	db          *gorm.DB
	cfg         *config.Config
	balanceRepo *repository.BalanceRepository
	batchRepo   *repository.PointBatchRepository
	tradeRepo   *repository.TradeRepository
	outboxRepo  *repository.OutboxRepository
}

func NewPointLedgerService(db *gorm.DB, cfg *config.Config) *PointLedgerService {
	return &PointLedgerService{
		db:          db,
		cfg:         cfg,
		balanceRepo: repository.NewBalanceRepository(db),
		batchRepo:   repository.NewPointBatchRepository(db),
		tradeRepo:   repository.NewTradeRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// Incr 积分入账
// 新建一个带过期时间的批次，过期时长由调用方显式传入
func (s *PointLedgerService) Incr(ctx context.Context, userID, amount int64, source model.TradeSource, tradeType, description string, ttl time.Duration) (*model.PointTrade, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if !model.IsValidPointTradeType(tradeType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTradeType, tradeType)
	}

	var trade *model.PointTrade

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.balanceRepo.GetByUserIDForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		now := time.Now()
		expiresAt := now.Add(ttl)

		batch := &model.PointBatch{
			UserID:    userID,
			Points:    amount,
			ExpiresAt: expiresAt,
		}
		if err := s.batchRepo.Create(ctx, tx, batch); err != nil {
			return fmt.Errorf("创建积分批次失败: %w", err)
		}

		trade = &model.PointTrade{
			TradeNo:     idgen.GeneratePointTradeNo(),
			UserID:      userID,
			Points:      amount,
			Description: description,
			SourceID:    source.SourceID,
			SourceType:  source.SourceType,
			TradeType:   tradeType,
			ExpiredAt:   &expiresAt,
		}
		if err := s.tradeRepo.CreatePointTrade(ctx, tx, trade); err != nil {
			return fmt.Errorf("记录积分流水失败: %w", err)
		}

		total, err := s.reconcileInTx(ctx, tx, userID, now)
		if err != nil {
			return err
		}

		return s.appendPointEvent(ctx, tx, trade, total)
	})

	if err != nil {
		return nil, err
	}
	return trade, nil
}

// Decr 积分出账，按 "先过期先消费" 消耗批次
//
// 流程：
// 1. 按 (expires_at ASC, id ASC) 扫描未过期批次，攒够 amount 为止
// 2. 攒不够 -> 积分不足，整个事务回滚
// 3. 有多余 -> 剩余部分以最后一个批次的原过期时间重新插入为新批次
// 4. 删除所有扫过的批次（含被拆分的那个，拆分结果已落在新批次里）
// 5. 写出账流水，从剩余批次重算缓存余额
func (s *PointLedgerService) Decr(ctx context.Context, userID, amount int64, source model.TradeSource, tradeType, description string) (*model.PointTrade, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !model.IsValidPointTradeType(tradeType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTradeType, tradeType)
	}

	var trade *model.PointTrade

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.balanceRepo.GetByUserIDForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		now := time.Now()

		var sumSeen int64
		var visitedIDs []int64
		var lastBatch *model.PointBatch

		err := s.batchRepo.ScanActive(ctx, tx, userID, now, func(batch *model.PointBatch) bool {
			sumSeen += batch.Points
			visitedIDs = append(visitedIDs, batch.ID)
			lastBatch = batch
			return sumSeen < amount
		})
		if err != nil {
			return fmt.Errorf("扫描积分批次失败: %w", err)
		}

		if sumSeen < amount {
			// 扫描到尽头也不够，sumSeen 即当前全部可用积分
			return fmt.Errorf("%w，当前可用: %d", ErrInsufficientPoint, sumSeen)
		}

		// 最后一个批次只用掉一部分：剩余积分保留原过期时间，重新插入
		// 删除+重插而不是原地改小，拆分后的批次一定换新ID
		if leftover := sumSeen - amount; leftover > 0 {
			remainder := &model.PointBatch{
				UserID:    userID,
				Points:    leftover,
				ExpiresAt: lastBatch.ExpiresAt,
			}
			if err := s.batchRepo.Create(ctx, tx, remainder); err != nil {
				return fmt.Errorf("拆分积分批次失败: %w", err)
			}
		}

		if err := s.batchRepo.DeleteByIDs(ctx, tx, visitedIDs); err != nil {
			return fmt.Errorf("删除已消费批次失败: %w", err)
		}

		trade = &model.PointTrade{
			TradeNo:     idgen.GeneratePointTradeNo(),
			UserID:      userID,
			Points:      -amount,
			Description: description,
			SourceID:    source.SourceID,
			SourceType:  source.SourceType,
			TradeType:   tradeType,
		}
		if err := s.tradeRepo.CreatePointTrade(ctx, tx, trade); err != nil {
			return fmt.Errorf("记录积分流水失败: %w", err)
		}

		total, err := s.reconcileInTx(ctx, tx, userID, now)
		if err != nil {
			return err
		}

		return s.appendPointEvent(ctx, tx, trade, total)
	})

	if err != nil {
		return nil, err
	}
	return trade, nil
}

// HandleExpired 回收用户已过期的积分批次
// 删除全部过期批次，按总损失写一条负向的过期回收流水；
// 没有过期批次时不产生任何写入
func (s *PointLedgerService) HandleExpired(ctx context.Context, userID int64) (int64, error) {
	var reclaimed int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.balanceRepo.GetByUserIDForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		now := time.Now()

		expired, err := s.batchRepo.GetExpired(ctx, tx, userID, now)
		if err != nil {
			return fmt.Errorf("查询过期批次失败: %w", err)
		}
		if len(expired) == 0 {
			return nil
		}

		var sum int64
		ids := make([]int64, 0, len(expired))
		for _, batch := range expired {
			sum += batch.Points
			ids = append(ids, batch.ID)
		}

		if err := s.batchRepo.DeleteByIDs(ctx, tx, ids); err != nil {
			return fmt.Errorf("删除过期批次失败: %w", err)
		}

		if sum == 0 {
			return nil
		}
		reclaimed = sum

		trade := &model.PointTrade{
			TradeNo:     idgen.GeneratePointTradeNo(),
			UserID:      userID,
			Points:      -sum,
			Description: fmt.Sprintf("积分过期回收，共 %d 个批次", len(expired)),
			TradeType:   model.PointTradeTypeExpiryRecovery,
		}
		if err := s.tradeRepo.CreatePointTrade(ctx, tx, trade); err != nil {
			return fmt.Errorf("记录回收流水失败: %w", err)
		}

		total, err := s.reconcileInTx(ctx, tx, userID, now)
		if err != nil {
			return err
		}

		return s.appendPointEvent(ctx, tx, trade, total)
	})

	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}

// Reconcile 以未过期批次的积分之和为准，覆盖重写缓存余额
// 幂等，可在任意时刻调用
func (s *PointLedgerService) Reconcile(ctx context.Context, userID int64) (int64, error) {
	var total int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.balanceRepo.GetByUserIDForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		sum, err := s.reconcileInTx(ctx, tx, userID, time.Now())
		if err != nil {
			return err
		}
		total = sum
		return nil
	})

	if err != nil {
		return 0, err
	}
	return total, nil
}

// GetBalance 查询可用积分
// 以未过期批次实时统计：批次过期的瞬间即不再计入，
// 不依赖回收任务是否已经跑过（缓存列要等下一次写操作才会修正）
func (s *PointLedgerService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	if _, err := s.balanceRepo.GetByUserID(ctx, userID); err != nil {
		return 0, err
	}
	return s.batchRepo.SumActive(ctx, nil, userID, time.Now())
}

// GetTodayTotal 今日获得的积分总数（只统计入账流水）
func (s *PointLedgerService) GetTodayTotal(ctx context.Context, userID int64) (int64, error) {
	return s.tradeRepo.SumPointTradesSince(ctx, userID, localMidnight(time.Now()))
}

func (s *PointLedgerService) ListTrades(ctx context.Context, userID int64, page, pageSize int) ([]*model.PointTrade, int64, error) {
	return s.tradeRepo.ListPointTrades(ctx, userID, page, pageSize)
}

// reconcileInTx 在已持有行锁的事务内重算并写回积分缓存余额
func (s *PointLedgerService) reconcileInTx(ctx context.Context, tx *gorm.DB, userID int64, now time.Time) (int64, error) {
	total, err := s.batchRepo.SumActive(ctx, tx, userID, now)
	if err != nil {
		return 0, fmt.Errorf("统计积分批次失败: %w", err)
	}
	if err := s.balanceRepo.SetPoints(ctx, tx, userID, total); err != nil {
		return 0, fmt.Errorf("更新积分余额失败: %w", err)
	}
	return total, nil
}

func (s *PointLedgerService) appendPointEvent(ctx context.Context, tx *gorm.DB, trade *model.PointTrade, balanceAfter int64) error {
	event := model.LedgerEvent{
		TradeNo:      trade.TradeNo,
		UserID:       trade.UserID,
		Currency:     model.LedgerCurrencyPoint,
		Amount:       trade.Points,
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
