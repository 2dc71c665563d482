package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pointsystem/internal/config"
	"pointsystem/internal/model"
	"pointsystem/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 使用 SQLite 内存数据库进行测试
// 限制为单连接：内存库每个连接是独立的数据库，单连接同时让并发事务串行化
func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&model.UserBalance{},
		&model.PointBatch{},
		&model.PointTrade{},
		&model.CoinTrade{},
		&model.OutboxMessage{},
	)
	require.NoError(t, err)

	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{LedgerEvent: "ledger-event-test"},
		},
		Business: config.BusinessConfig{PointTTLDays: 30, MaxRetryCount: 3},
	}
}

func newTestPointLedger(t *testing.T, userID int64) (*PointLedgerService, *gorm.DB) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&model.UserBalance{UserID: userID}).Error)
	return NewPointLedgerService(db, testConfig()), db
}

var testSource = model.TradeSource{SourceID: 42, SourceType: "sign_in_log"}

func countRows(t *testing.T, db *gorm.DB, m interface{}) int64 {
	var n int64
	require.NoError(t, db.Model(m).Count(&n).Error)
	return n
}

func TestPointIncr(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()

	trade, err := svc.Incr(ctx, 1001, 100, testSource, model.PointTradeTypeSignIn, "每日签到", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(100), trade.Points)
	assert.NotEmpty(t, trade.TradeNo)
	require.NotNil(t, trade.ExpiredAt, "入账流水应记录批次过期时间")

	balance, err := svc.GetBalance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	// 一次入账 = 一个批次 + 一条流水 + 一条账本事件
	assert.Equal(t, int64(1), countRows(t, db, &model.PointBatch{}))
	assert.Equal(t, int64(1), countRows(t, db, &model.PointTrade{}))
	assert.Equal(t, int64(1), countRows(t, db, &model.OutboxMessage{}))

	var batch model.PointBatch
	require.NoError(t, db.First(&batch).Error)
	assert.Equal(t, int64(100), batch.Points)
	assert.WithinDuration(t, *trade.ExpiredAt, batch.ExpiresAt, time.Second)
}

func TestPointIncrValidation(t *testing.T) {
	svc, _ := newTestPointLedger(t, 1001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 1001, 0, testSource, model.PointTradeTypeSignIn, "", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Incr(ctx, 1001, -5, testSource, model.PointTradeTypeSignIn, "", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Incr(ctx, 1001, 10, testSource, model.PointTradeTypeSignIn, "", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = svc.Incr(ctx, 1001, 10, testSource, "NO_SUCH_TYPE", "", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidTradeType)

	// 未开户用户
	_, err = svc.Incr(ctx, 9999, 10, testSource, model.PointTradeTypeSignIn, "", time.Hour)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestPointDecrSplitsLastBatch(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 1001, 100, testSource, model.PointTradeTypeSignIn, "", 30*24*time.Hour)
	require.NoError(t, err)

	var original model.PointBatch
	require.NoError(t, db.First(&original).Error)

	_, err = svc.Decr(ctx, 1001, 40, testSource, model.PointTradeTypeAvatarSet, "兑换头像框")
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)

	// 原批次被删除，剩余积分以原过期时间重插为新批次
	var batches []model.PointBatch
	require.NoError(t, db.Find(&batches).Error)
	require.Len(t, batches, 1)
	assert.Equal(t, int64(60), batches[0].Points)
	assert.NotEqual(t, original.ID, batches[0].ID, "拆分后的批次应换新ID")
	assert.WithinDuration(t, original.ExpiresAt, batches[0].ExpiresAt, time.Millisecond, "拆分保留原过期时间")
}

func TestPointDecrFIFOByExpiry(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()
	now := time.Now()

	// 三个批次，过期时间 1天 < 2天 < 3天
	require.NoError(t, db.Create(&model.PointBatch{UserID: 1001, Points: 50, ExpiresAt: now.Add(24 * time.Hour)}).Error)
	require.NoError(t, db.Create(&model.PointBatch{UserID: 1001, Points: 50, ExpiresAt: now.Add(48 * time.Hour)}).Error)
	require.NoError(t, db.Create(&model.PointBatch{UserID: 1001, Points: 50, ExpiresAt: now.Add(72 * time.Hour)}).Error)

	_, err := svc.Decr(ctx, 1001, 70, testSource, model.PointTradeTypeAvatarSet, "")
	require.NoError(t, err)

	// 先过期的批次被吃光，第二个批次剩 30，第三个原封不动
	var batches []model.PointBatch
	require.NoError(t, db.Order("expires_at ASC").Find(&batches).Error)
	require.Len(t, batches, 2)
	assert.Equal(t, int64(30), batches[0].Points)
	assert.WithinDuration(t, now.Add(48*time.Hour), batches[0].ExpiresAt, time.Millisecond)
	assert.Equal(t, int64(50), batches[1].Points)
	assert.WithinDuration(t, now.Add(72*time.Hour), batches[1].ExpiresAt, time.Millisecond)

	balance, err := svc.GetBalance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(80), balance)
}

func TestPointDecrSameExpiryOrderedByID(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	// 相同过期时间的批次按创建顺序（ID升序）消费
	first := &model.PointBatch{UserID: 1001, Points: 10, ExpiresAt: expiresAt}
	second := &model.PointBatch{UserID: 1001, Points: 20, ExpiresAt: expiresAt}
	require.NoError(t, db.Create(first).Error)
	require.NoError(t, db.Create(second).Error)

	_, err := svc.Decr(ctx, 1001, 15, testSource, model.PointTradeTypeAvatarSet, "")
	require.NoError(t, err)

	var batches []model.PointBatch
	require.NoError(t, db.Find(&batches).Error)
	require.Len(t, batches, 1)
	assert.Equal(t, int64(15), batches[0].Points)
}

func TestPointDecrExactConsumption(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 1001, 50, testSource, model.PointTradeTypeSignIn, "", 24*time.Hour)
	require.NoError(t, err)

	_, err = svc.Decr(ctx, 1001, 50, testSource, model.PointTradeTypeAvatarSet, "")
	require.NoError(t, err)

	// 刚好用完：不产生拆分批次
	assert.Equal(t, int64(0), countRows(t, db, &model.PointBatch{}))

	balance, err := svc.GetBalance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestPointDecrInsufficient(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 1001, 30, testSource, model.PointTradeTypeSignIn, "", 24*time.Hour)
	require.NoError(t, err)

	tradesBefore := countRows(t, db, &model.PointTrade{})
	batchesBefore := countRows(t, db, &model.PointBatch{})

	_, err = svc.Decr(ctx, 1001, 50, testSource, model.PointTradeTypeAvatarSet, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientPoint)
	assert.Contains(t, err.Error(), "30", "错误信息应包含当前可用积分")

	// 失败的扣减不能留下任何痕迹
	assert.Equal(t, tradesBefore, countRows(t, db, &model.PointTrade{}))
	assert.Equal(t, batchesBefore, countRows(t, db, &model.PointBatch{}))

	balance, err := svc.GetBalance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestPointDecrScansManyBatches(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()
	now := time.Now()

	// 超过单页扫描大小的碎批次，验证游标分页
	for i := 0; i < 250; i++ {
		require.NoError(t, db.Create(&model.PointBatch{
			UserID:    1001,
			Points:    1,
			ExpiresAt: now.Add(time.Duration(i+1) * time.Hour),
		}).Error)
	}

	_, err := svc.Decr(ctx, 1001, 230, testSource, model.PointTradeTypeAvatarSet, "")
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)
	assert.Equal(t, int64(20), countRows(t, db, &model.PointBatch{}))
}

func TestExpiredBatchExcludedBeforeReclaim(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()

	// 昨天就过期的批次，尚未回收
	require.NoError(t, db.Create(&model.PointBatch{
		UserID:    1001,
		Points:    20,
		ExpiresAt: time.Now().Add(-24 * time.Hour),
	}).Error)

	// 回收任务还没跑，过期批次也不计入余额
	balance, err := svc.GetBalance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	total, err := svc.Reconcile(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	// 过期批次不可被消费
	_, err = svc.Decr(ctx, 1001, 10, testSource, model.PointTradeTypeAvatarSet, "")
	assert.ErrorIs(t, err, ErrInsufficientPoint)
}

func TestHandleExpired(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.PointBatch{
		UserID:    1001,
		Points:    20,
		ExpiresAt: time.Now().Add(-24 * time.Hour),
	}).Error)

	reclaimed, err := svc.HandleExpired(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(20), reclaimed)

	// 批次被删除，回收流水为负向全额
	assert.Equal(t, int64(0), countRows(t, db, &model.PointBatch{}))

	var trades []model.PointTrade
	require.NoError(t, db.Find(&trades).Error)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(-20), trades[0].Points)
	assert.Equal(t, model.PointTradeTypeExpiryRecovery, trades[0].TradeType)
	assert.Nil(t, trades[0].ExpiredAt)

	// 再次回收是空操作，不追加流水
	reclaimed, err = svc.HandleExpired(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reclaimed)
	assert.Equal(t, int64(1), countRows(t, db, &model.PointTrade{}))
}

func TestPointReconcileIdempotent(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 1001, 80, testSource, model.PointTradeTypeSignIn, "", 24*time.Hour)
	require.NoError(t, err)

	// 人为制造缓存漂移
	require.NoError(t, db.Model(&model.UserBalance{}).
		Where("user_id = ?", 1001).
		Update("available_points", 12345).Error)

	tradesBefore := countRows(t, db, &model.PointTrade{})

	first, err := svc.Reconcile(ctx, 1001)
	require.NoError(t, err)
	second, err := svc.Reconcile(ctx, 1001)
	require.NoError(t, err)

	assert.Equal(t, int64(80), first)
	assert.Equal(t, first, second)
	assert.Equal(t, tradesBefore, countRows(t, db, &model.PointTrade{}), "对账不产生流水")
}

func TestPointGetTodayTotal(t *testing.T) {
	svc, _ := newTestPointLedger(t, 1001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 1001, 60, testSource, model.PointTradeTypeSignIn, "", 24*time.Hour)
	require.NoError(t, err)
	_, err = svc.Incr(ctx, 1001, 40, testSource, model.PointTradeTypeInviteRegister, "", 24*time.Hour)
	require.NoError(t, err)
	_, err = svc.Decr(ctx, 1001, 30, testSource, model.PointTradeTypeAvatarSet, "")
	require.NoError(t, err)

	// 出账不计入"今日获得"
	total, err := svc.GetTodayTotal(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
}

func TestPointConcurrentIncrDecr(t *testing.T) {
	svc, db := newTestPointLedger(t, 1001)
	ctx := context.Background()

	_, err := svc.Incr(ctx, 1001, 1000, testSource, model.PointTradeTypeSignIn, "", 24*time.Hour)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := svc.Incr(ctx, 1001, 10, testSource, model.PointTradeTypeSignIn, fmt.Sprintf("并发入账-%d", i), 24*time.Hour)
				assert.NoError(t, err)
			} else {
				_, err := svc.Decr(ctx, 1001, 10, testSource, model.PointTradeTypeAvatarSet, fmt.Sprintf("并发出账-%d", i))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	// 5次+10 和 5次-10 抵消，余额必须回到初始值且与批次之和一致
	balance, err := svc.GetBalance(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	var batchSum int64
	require.NoError(t, db.Model(&model.PointBatch{}).
		Select("COALESCE(SUM(points), 0)").Scan(&batchSum).Error)
	assert.Equal(t, balance, batchSum, "缓存余额必须等于批次之和")
}
