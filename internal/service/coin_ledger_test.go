package service

import (
	"context"
	"sync"
	"testing"

	"pointsystem/internal/model"
	"pointsystem/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestCoinLedger(t *testing.T, userID int64) (*CoinLedgerService, *gorm.DB) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&model.UserBalance{UserID: userID}).Error)
	return NewCoinLedgerService(db, testConfig()), db
}

func TestCoinIncr(t *testing.T) {
	svc, db := newTestCoinLedger(t, 2001)
	ctx := context.Background()

	trade, err := svc.Incr(ctx, 2001, 100, testSource, model.CoinTradeTypeSignIn, "每日签到")
	require.NoError(t, err)
	assert.Equal(t, int64(100), trade.Coins)
	assert.NotEmpty(t, trade.TradeNo)

	balance, err := svc.GetBalance(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	// 一次入账 = 一条流水 + 一条账本事件
	assert.Equal(t, int64(1), countRows(t, db, &model.CoinTrade{}))
	assert.Equal(t, int64(1), countRows(t, db, &model.OutboxMessage{}))
}

func TestCoinIncrValidation(t *testing.T) {
	svc, _ := newTestCoinLedger(t, 2001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 2001, 0, testSource, model.CoinTradeTypeSignIn, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Incr(ctx, 2001, 10, testSource, "NO_SUCH_TYPE", "")
	assert.ErrorIs(t, err, ErrInvalidTradeType)

	_, err = svc.Incr(ctx, 9999, 10, testSource, model.CoinTradeTypeSignIn, "")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestCoinDecr(t *testing.T) {
	svc, db := newTestCoinLedger(t, 2001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 2001, 100, testSource, model.CoinTradeTypeSignIn, "")
	require.NoError(t, err)

	trade, err := svc.Decr(ctx, 2001, 40, testSource, model.CoinTradeTypeUnknown, "消费")
	require.NoError(t, err)
	assert.Equal(t, int64(-40), trade.Coins)

	balance, err := svc.GetBalance(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	// 每次成功操作恰好一条流水，金额与请求的增量一致
	var trades []model.CoinTrade
	require.NoError(t, db.Order("id ASC").Find(&trades).Error)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(100), trades[0].Coins)
	assert.Equal(t, int64(-40), trades[1].Coins)
}

func TestCoinDecrInsufficient(t *testing.T) {
	svc, db := newTestCoinLedger(t, 2001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 2001, 30, testSource, model.CoinTradeTypeSignIn, "")
	require.NoError(t, err)

	tradesBefore := countRows(t, db, &model.CoinTrade{})

	_, err = svc.Decr(ctx, 2001, 50, testSource, model.CoinTradeTypeUnknown, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientCoin)
	assert.Contains(t, err.Error(), "30", "错误信息应包含当前可用硬币")

	// 失败的扣减不能留下任何痕迹
	assert.Equal(t, tradesBefore, countRows(t, db, &model.CoinTrade{}))

	balance, err := svc.GetBalance(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestCoinReconcileRepairsDrift(t *testing.T) {
	svc, db := newTestCoinLedger(t, 2001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 2001, 100, testSource, model.CoinTradeTypeSignIn, "")
	require.NoError(t, err)
	_, err = svc.Decr(ctx, 2001, 30, testSource, model.CoinTradeTypeUnknown, "")
	require.NoError(t, err)

	// 人为制造缓存漂移
	require.NoError(t, db.Model(&model.UserBalance{}).
		Where("user_id = ?", 2001).
		Update("available_coins", 9999).Error)

	first, err := svc.Reconcile(ctx, 2001)
	require.NoError(t, err)
	second, err := svc.Reconcile(ctx, 2001)
	require.NoError(t, err)

	assert.Equal(t, int64(70), first)
	assert.Equal(t, first, second)

	balance, err := svc.GetBalance(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)
}

func TestCoinGetTodayTotal(t *testing.T) {
	svc, _ := newTestCoinLedger(t, 2001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 2001, 50, testSource, model.CoinTradeTypeSignIn, "")
	require.NoError(t, err)
	_, err = svc.Incr(ctx, 2001, 20, testSource, model.CoinTradeTypeInviteRegister, "")
	require.NoError(t, err)
	_, err = svc.Decr(ctx, 2001, 40, testSource, model.CoinTradeTypeUnknown, "")
	require.NoError(t, err)

	// 出账不计入"今日获得"
	total, err := svc.GetTodayTotal(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, int64(70), total)
}

func TestCoinConcurrentIncrDecr(t *testing.T) {
	svc, db := newTestCoinLedger(t, 2001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 2001, 500, testSource, model.CoinTradeTypeSignIn, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := svc.Incr(ctx, 2001, 10, testSource, model.CoinTradeTypeSignIn, "并发入账")
				assert.NoError(t, err)
			} else {
				_, err := svc.Decr(ctx, 2001, 10, testSource, model.CoinTradeTypeUnknown, "并发出账")
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	// 增减相抵，余额回到初始值且与流水之和一致
	balance, err := svc.GetBalance(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	var tradeSum int64
	require.NoError(t, db.Model(&model.CoinTrade{}).
		Select("COALESCE(SUM(coins), 0)").Scan(&tradeSum).Error)
	assert.Equal(t, balance, tradeSum, "缓存余额必须等于流水之和")
}
