package handler

import (
	"errors"
	"strconv"
	"time"

	"pointsystem/internal/config"
	"pointsystem/internal/model"
	"pointsystem/internal/repository"
	"pointsystem/internal/service"
	"pointsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	balanceService *service.BalanceService
	pointLedger    *service.PointLedgerService
	coinLedger     *service.CoinLedgerService
	cfg            *config.Config
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, cfg *config.Config) *Handler {
	return &Handler{
		balanceService: service.NewBalanceService(db),
		pointLedger:    service.NewPointLedgerService(db, cfg),
		coinLedger:     service.NewCoinLedgerService(db, cfg),
		cfg:            cfg,
	}
}

// ledgerError 把账本错误映射为业务码
func ledgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		response.BusinessError(c, response.CodeUserNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidTTL):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrInvalidTradeType):
		response.BusinessError(c, response.CodeInvalidTradeType, err.Error())
	case errors.Is(err, service.ErrInsufficientPoint):
		response.BusinessError(c, response.CodeInsufficientPoint, err.Error())
	case errors.Is(err, service.ErrInsufficientCoin):
		response.BusinessError(c, response.CodeInsufficientCoin, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return 0, false
	}
	return userID, true
}

// ============================================================
// 账户相关接口
// ============================================================

// OpenAccountRequest 开户请求
type OpenAccountRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// OpenAccount 开户（幂等）
// POST /api/v1/account/open
func (h *Handler) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	balance, err := h.balanceService.GetOrCreate(c.Request.Context(), req.UserID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, balance)
}

// GetBalance 查询用户积分/硬币余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	balance, err := h.balanceService.Get(c.Request.Context(), userID)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":          balance.UserID,
		"available_points": balance.AvailablePoints,
		"available_coins":  balance.AvailableCoins,
	})
}

// ============================================================
// 积分相关接口
// ============================================================

// PointIncrRequest 积分入账请求
type PointIncrRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	SourceID    int64  `json:"source_id"`
	SourceType  string `json:"source_type"`
	TradeType   string `json:"trade_type" binding:"required"`
	Description string `json:"description"`
	TTLDays     int    `json:"ttl_days"` // 不传时使用配置的默认有效期
}

// PointIncr 积分入账
// POST /api/v1/points/incr
func (h *Handler) PointIncr(c *gin.Context) {
	var req PointIncrRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	ttlDays := req.TTLDays
	if ttlDays <= 0 {
		ttlDays = h.cfg.Business.PointTTLDays
	}

	trade, err := h.pointLedger.Incr(
		c.Request.Context(),
		req.UserID,
		req.Amount,
		model.TradeSource{SourceID: req.SourceID, SourceType: req.SourceType},
		req.TradeType,
		req.Description,
		time.Duration(ttlDays)*24*time.Hour,
	)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, trade)
}

// PointDecrRequest 积分出账请求
type PointDecrRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	SourceID    int64  `json:"source_id"`
	SourceType  string `json:"source_type"`
	TradeType   string `json:"trade_type" binding:"required"`
	Description string `json:"description"`
}

// PointDecr 积分出账
// POST /api/v1/points/decr
func (h *Handler) PointDecr(c *gin.Context) {
	var req PointDecrRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trade, err := h.pointLedger.Decr(
		c.Request.Context(),
		req.UserID,
		req.Amount,
		model.TradeSource{SourceID: req.SourceID, SourceType: req.SourceType},
		req.TradeType,
		req.Description,
	)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, trade)
}

// PointBalance 查询积分缓存余额
// GET /api/v1/points/balance?user_id=xxx
func (h *Handler) PointBalance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	balance, err := h.pointLedger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, gin.H{"user_id": userID, "points": balance})
}

// PointToday 查询今日获得的积分
// GET /api/v1/points/today?user_id=xxx
func (h *Handler) PointToday(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	total, err := h.pointLedger.GetTodayTotal(c.Request.Context(), userID)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, gin.H{"user_id": userID, "today_points": total})
}

// ListPointTrades 查询积分流水列表
// GET /api/v1/points/trades?user_id=xxx&page=1&page_size=10
func (h *Handler) ListPointTrades(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	trades, total, err := h.pointLedger.ListTrades(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      trades,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ReconcileRequest 对账请求
type ReconcileRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// PointReconcile 积分对账：从批次重算缓存余额
// POST /api/v1/points/reconcile
func (h *Handler) PointReconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	total, err := h.pointLedger.Reconcile(c.Request.Context(), req.UserID)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, gin.H{"user_id": req.UserID, "points": total})
}

// PointExpire 手动触发积分过期回收
// POST /api/v1/points/expire
func (h *Handler) PointExpire(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	reclaimed, err := h.pointLedger.HandleExpired(c.Request.Context(), req.UserID)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, gin.H{"user_id": req.UserID, "reclaimed_points": reclaimed})
}

// ============================================================
// 硬币相关接口
// ============================================================

// CoinTradeRequest 硬币入账/出账请求
type CoinTradeRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	SourceID    int64  `json:"source_id"`
	SourceType  string `json:"source_type"`
	TradeType   string `json:"trade_type" binding:"required"`
	Description string `json:"description"`
}

// CoinIncr 硬币入账
// POST /api/v1/coins/incr
func (h *Handler) CoinIncr(c *gin.Context) {
	var req CoinTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trade, err := h.coinLedger.Incr(
		c.Request.Context(),
		req.UserID,
		req.Amount,
		model.TradeSource{SourceID: req.SourceID, SourceType: req.SourceType},
		req.TradeType,
		req.Description,
	)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, trade)
}

// CoinDecr 硬币出账
// POST /api/v1/coins/decr
func (h *Handler) CoinDecr(c *gin.Context) {
	var req CoinTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trade, err := h.coinLedger.Decr(
		c.Request.Context(),
		req.UserID,
		req.Amount,
		model.TradeSource{SourceID: req.SourceID, SourceType: req.SourceType},
		req.TradeType,
		req.Description,
	)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, trade)
}

// CoinBalance 查询硬币缓存余额
// GET /api/v1/coins/balance?user_id=xxx
func (h *Handler) CoinBalance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	balance, err := h.coinLedger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, gin.H{"user_id": userID, "coins": balance})
}

// CoinToday 查询今日获得的硬币
// GET /api/v1/coins/today?user_id=xxx
func (h *Handler) CoinToday(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	total, err := h.coinLedger.GetTodayTotal(c.Request.Context(), userID)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, gin.H{"user_id": userID, "today_coins": total})
}

// ListCoinTrades 查询硬币流水列表
// GET /api/v1/coins/trades?user_id=xxx&page=1&page_size=10
func (h *Handler) ListCoinTrades(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	trades, total, err := h.coinLedger.ListTrades(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      trades,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CoinReconcile 硬币对账：从流水重算缓存余额
// POST /api/v1/coins/reconcile
func (h *Handler) CoinReconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	total, err := h.coinLedger.Reconcile(c.Request.Context(), req.UserID)
	if err != nil {
		ledgerError(c, err)
		return
	}

	response.Success(c, gin.H{"user_id": req.UserID, "coins": total})
}
