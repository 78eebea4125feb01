package handler

import (
	"errors"
	"strconv"

	"cardpay/internal/acquirer"
	"cardpay/internal/gateway"
	"cardpay/internal/idempotency"
	"cardpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	orchestrator *gateway.Orchestrator
	vault        *gateway.Vault
	processor    *acquirer.Processor
	webhooks     *gateway.Dispatcher
}

// NewHandler 创建处理器实例
func NewHandler(orchestrator *gateway.Orchestrator, vault *gateway.Vault, processor *acquirer.Processor, webhooks *gateway.Dispatcher) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		vault:        vault,
		processor:    processor,
		webhooks:     webhooks,
	}
}

// ============================================================
// 令牌相关接口
// ============================================================

// CreateToken 卡数据换一次性令牌
// POST /api/v1/tokens
func (h *Handler) CreateToken(c *gin.Context) {
	var req gateway.CardInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	token, err := h.vault.CreateToken(req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, token)
}

// ============================================================
// 支付单相关接口
// ============================================================

// CreateChargeRequest 创建支付单请求
type CreateChargeRequest struct {
	TokenID     string `json:"token_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Currency    string `json:"currency"`
	Capture     *bool  `json:"capture"` // 缺省为 true（授权+请款一步完成）
	MerchantID  string `json:"merchant_id" binding:"required"`
	Description string `json:"description"`
}

// CreateCharge 创建支付单，可选 Idempotency-Key 头
// POST /api/v1/charges
func (h *Handler) CreateCharge(c *gin.Context) {
	var req CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}
	capture := true
	if req.Capture != nil {
		capture = *req.Capture
	}

	charge, err := h.orchestrator.CreateCharge(c.Request.Context(), gateway.ChargeRequest{
		TokenID:        req.TokenID,
		Amount:         req.Amount,
		Currency:       currency,
		Capture:        capture,
		MerchantID:     req.MerchantID,
		Description:    req.Description,
		IPAddress:      c.ClientIP(),
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, charge)
}

// GetCharge 查询支付单
// GET /api/v1/charges/:id
func (h *Handler) GetCharge(c *gin.Context) {
	charge, err := h.orchestrator.GetCharge(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, charge)
}

// ListCharges 列出支付单
// GET /api/v1/charges?merchant_id=xxx&limit=10
func (h *Handler) ListCharges(c *gin.Context) {
	limit := 10
	if l, ok := c.GetQuery("limit"); ok {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	charges := h.orchestrator.ListCharges(c.Query("merchant_id"), limit)
	response.Success(c, gin.H{
		"charges": charges,
		"count":   len(charges),
	})
}

// ============================================================
// 授权相关接口
// ============================================================

// CaptureRequest 请款请求，amount 缺省表示全额
type CaptureRequest struct {
	Amount int64 `json:"amount"`
}

// CaptureAuthorization 对授权请款
// POST /api/v1/authorizations/:id/capture
func (h *Handler) CaptureAuthorization(c *gin.Context) {
	var req CaptureRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return
		}
	}

	charge, err := h.orchestrator.Capture(
		c.Request.Context(),
		c.Param("id"),
		req.Amount,
		c.GetHeader("Idempotency-Key"),
	)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, charge)
}

// VoidAuthorization 撤销授权
// POST /api/v1/authorizations/:id/void
func (h *Handler) VoidAuthorization(c *gin.Context) {
	auth, err := h.orchestrator.Void(
		c.Request.Context(),
		c.Param("id"),
		c.GetHeader("Idempotency-Key"),
	)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, auth)
}

// GetAuthorization 查询授权
// GET /api/v1/authorizations/:id
func (h *Handler) GetAuthorization(c *gin.Context) {
	auth, err := h.orchestrator.GetAuthorization(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, auth)
}

// ============================================================
// 商户与清算接口
// ============================================================

// CreateMerchantRequest 商户进件请求
type CreateMerchantRequest struct {
	BusinessName string `json:"business_name" binding:"required"`
	MCC          string `json:"mcc"`
}

// CreateMerchant 商户进件
// POST /api/v1/merchants
func (h *Handler) CreateMerchant(c *gin.Context) {
	var req CreateMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	merchant := h.processor.CreateMerchant(req.BusinessName, req.MCC)
	response.Success(c, merchant)
}

// GetMerchantBalance 查询商户余额
// GET /api/v1/merchants/:id/balance
func (h *Handler) GetMerchantBalance(c *gin.Context) {
	balance, err := h.processor.GetMerchantBalance(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, balance)
}

// CreateSettlementBatch 触发清算批次
// POST /api/v1/settlement/batches
func (h *Handler) CreateSettlementBatch(c *gin.Context) {
	batch := h.processor.CreateSettlementBatch()
	response.Success(c, batch)
}

// ============================================================
// Webhook 端点接口
// ============================================================

// RegisterWebhookRequest 注册回调端点请求，events 为空表示订阅全部
type RegisterWebhookRequest struct {
	MerchantID string   `json:"merchant_id" binding:"required"`
	URL        string   `json:"url" binding:"required,url"`
	Events     []string `json:"events"`
}

// RegisterWebhookEndpoint 注册回调端点，返回体含端点密钥（仅此一次下发）
// POST /api/v1/webhooks/endpoints
func (h *Handler) RegisterWebhookEndpoint(c *gin.Context) {
	var req RegisterWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if _, err := h.processor.GetMerchant(req.MerchantID); err != nil {
		h.writeError(c, err)
		return
	}

	endpoint := h.webhooks.RegisterEndpoint(req.MerchantID, req.URL, req.Events)
	response.Success(c, endpoint)
}

// ============================================================
// 错误映射
// ============================================================

// writeError 把各层错误映射到响应码
func (h *Handler) writeError(c *gin.Context, err error) {
	var validationErr *gateway.ValidationError
	var declineErr *gateway.DeclineError
	var processingErr *gateway.ProcessingError
	var failedErr *idempotency.FailedError

	switch {
	case errors.As(err, &validationErr):
		response.ParamError(c, validationErr.Message)
	case errors.As(err, &declineErr):
		response.BusinessError(c, response.CodeCardDeclined, declineErr.Message)
	case errors.As(err, &processingErr):
		response.BusinessError(c, response.CodeProcessingError, processingErr.Message)
	case errors.As(err, &failedErr):
		response.BusinessError(c, response.CodeProcessingError, failedErr.Error())

	case errors.Is(err, gateway.ErrTokenNotFound),
		errors.Is(err, gateway.ErrTokenExpired),
		errors.Is(err, gateway.ErrTokenAlreadyUsed):
		response.BusinessError(c, response.CodeTokenInvalid, err.Error())

	case errors.Is(err, gateway.ErrAmountTooSmall),
		errors.Is(err, gateway.ErrAmountTooLarge):
		response.ParamError(c, err.Error())

	case errors.Is(err, gateway.ErrChargeNotFound),
		errors.Is(err, gateway.ErrAuthorizationNotFound):
		response.NotFound(c, err.Error())

	case errors.Is(err, gateway.ErrAlreadyCaptured),
		errors.Is(err, gateway.ErrAlreadyVoided),
		errors.Is(err, gateway.ErrAuthorizationExpired),
		errors.Is(err, gateway.ErrCaptureExceedsAuth):
		response.BusinessError(c, response.CodeAuthStateInvalid, err.Error())

	case errors.Is(err, idempotency.ErrConflict):
		response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
	case errors.Is(err, idempotency.ErrInProgress):
		response.BusinessError(c, response.CodeRequestInProgress, err.Error())

	case errors.Is(err, acquirer.ErrMerchantNotFound):
		response.BusinessError(c, response.CodeMerchantNotFound, err.Error())

	default:
		response.ServerError(c, err.Error())
	}
}
