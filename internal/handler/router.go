package handler

import (
	"pointsystem/internal/config"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.POST("/open", h.OpenAccount)
			account.GET("/balance", h.GetBalance)
		}

		// 积分相关
		points := api.Group("/points")
		{
			points.POST("/incr", h.PointIncr)
			points.POST("/decr", h.PointDecr)
			points.GET("/balance", h.PointBalance)
			points.GET("/today", h.PointToday)
			points.GET("/trades", h.ListPointTrades)
			points.POST("/reconcile", h.PointReconcile)
			points.POST("/expire", h.PointExpire)
		}

		// 硬币相关
		coins := api.Group("/coins")
		{
			coins.POST("/incr", h.CoinIncr)
			coins.POST("/decr", h.CoinDecr)
			coins.GET("/balance", h.CoinBalance)
			coins.GET("/today", h.CoinToday)
			coins.GET("/trades", h.ListCoinTrades)
			coins.POST("/reconcile", h.CoinReconcile)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
