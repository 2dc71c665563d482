package job

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"pointsystem/internal/config"
	"pointsystem/internal/infrastructure/lock"
	"pointsystem/internal/repository"
	"pointsystem/internal/service"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ExpireReclaimJob 积分过期回收任务
// 周期性找出存在过期批次的用户，逐个调用账本的过期回收。
// 回收本身的正确性由数据库行锁保证，这里的分布式锁只用来
// 避免多实例同时空跑同一轮回收
type ExpireReclaimJob struct {
	db          *gorm.DB
	redisClient *redis.Client
	batchRepo   *repository.PointBatchRepository
	pointLedger *service.PointLedgerService
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewExpireReclaimJob(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *ExpireReclaimJob {
	return &ExpireReclaimJob{
		db:          db,
		redisClient: redisClient,
		batchRepo:   repository.NewPointBatchRepository(db),
		pointLedger: service.NewPointLedgerService(db, cfg),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    time.Minute,
		batchSize:   100,
	}
}

func (j *ExpireReclaimJob) Start(ctx context.Context) {
	log.Println("[ExpireReclaimJob] 积分过期回收任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpireReclaimJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ExpireReclaimJob] 任务停止")
			return
		case <-ticker.C:
			j.reclaimExpired(ctx)
		}
	}
}

func (j *ExpireReclaimJob) Stop() {
	close(j.stopCh)
}

func (j *ExpireReclaimJob) reclaimExpired(ctx context.Context) {
	hostname, _ := os.Hostname()
	reclaimLock := lock.NewReclaimLock(j.redisClient, fmt.Sprintf("%s-%d", hostname, os.Getpid()))

	acquired, err := reclaimLock.TryLock(ctx)
	if err != nil {
		log.Printf("[ExpireReclaimJob] 获取回收锁失败: %v", err)
		return
	}
	if !acquired {
		// 其他实例正在回收
		return
	}
	defer reclaimLock.Unlock(ctx)

	userIDs, err := j.batchRepo.ListExpiredUserIDs(ctx, time.Now(), j.batchSize)
	if err != nil {
		log.Printf("[ExpireReclaimJob] 查询过期批次用户失败: %v", err)
		return
	}

	if len(userIDs) == 0 {
		return
	}

	log.Printf("[ExpireReclaimJob] 发现 %d 个用户存在过期批次", len(userIDs))

	for _, userID := range userIDs {
		reclaimed, err := j.pointLedger.HandleExpired(ctx, userID)
		if err != nil {
			log.Printf("[ExpireReclaimJob] 回收失败: userID=%d, err=%v", userID, err)
			continue
		}
		if reclaimed > 0 {
			log.Printf("[ExpireReclaimJob] 回收完成: userID=%d, points=%d", userID, reclaimed)
		}
	}
}
