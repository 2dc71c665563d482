package service

import (
	"context"

	"pointsystem/internal/model"
	"pointsystem/internal/repository"

	"gorm.io/gorm"
)

// BalanceService 余额账户服务
// 负责开户与查询；余额字段的写入只发生在账本服务内
type BalanceService struct {
	balanceRepo *repository.BalanceRepository
	db          *gorm.DB
}

func NewBalanceService(db *gorm.DB) *BalanceService {
	return &BalanceService{
		balanceRepo: repository.NewBalanceRepository(db),
		db:          db,
	}
}

// GetOrCreate 开户（幂等）
// 账本的 Incr/Decr 要求余额记录已存在，业务方应先经过这里
func (s *BalanceService) GetOrCreate(ctx context.Context, userID int64) (*model.UserBalance, error) {
	return s.balanceRepo.GetOrCreate(ctx, userID)
}

// Get 查询余额记录，不存在时返回 repository.ErrUserNotFound
func (s *BalanceService) Get(ctx context.Context, userID int64) (*model.UserBalance, error) {
	return s.balanceRepo.GetByUserID(ctx, userID)
}
