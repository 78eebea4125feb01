package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cardpay/internal/acquirer"
	"cardpay/internal/config"
	"cardpay/internal/idempotency"
	"cardpay/internal/model"
	"cardpay/pkg/idgen"
)

// ============================================================================
// 支付编排器
// ============================================================================
//
// 编排器是网关的对外门面，串起完整链路：
//   令牌换卡 -> 风控评估 -> 收单行授权 -> 生成 Authorization/Charge -> 发事件
//
// 【拒绝不是异常】银行拒绝返回 failed 状态的 Charge 而不是 error，
// 商户可以像查成功单一样查询失败原因。error 只留给基础设施类故障。

var (
	ErrAmountTooSmall        = errors.New("金额低于最小限额")
	ErrAmountTooLarge        = errors.New("金额超过最大限额")
	ErrChargeNotFound        = errors.New("支付单不存在")
	ErrAuthorizationNotFound = errors.New("授权不存在")
	ErrAlreadyCaptured       = errors.New("授权已被请款")
	ErrAlreadyVoided         = errors.New("授权已被撤销")
	ErrAuthorizationExpired  = errors.New("授权已过期")
	ErrCaptureExceedsAuth    = errors.New("请款金额超过授权剩余金额")
)

// DeclineError 授权被银行拒绝（auth-only 路径使用，createCharge 返回 failed 单）
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string {
	return e.Message
}

// ProcessingError 链路内部错误（商户无效、网络不支持等），不属于持卡人拒绝
type ProcessingError struct {
	Message string
}

func (e *ProcessingError) Error() string {
	return e.Message
}

// ChargeRequest 创建支付单请求
type ChargeRequest struct {
	TokenID        string `json:"token_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Capture        bool   `json:"capture"`
	MerchantID     string `json:"merchant_id"`
	Description    string `json:"description,omitempty"`
	IPAddress      string `json:"-"`
	IdempotencyKey string `json:"-"`
}

// Orchestrator 支付编排器
type Orchestrator struct {
	cfg      config.PaymentConfig
	idgen    idgen.Generator
	vault    *Vault
	fraud    *Detector
	acquirer *acquirer.Processor
	guard    *idempotency.Guard
	webhooks *Dispatcher

	mu             sync.Mutex
	charges        map[string]*model.Charge
	authorizations map[string]*model.Authorization
}

// NewOrchestrator 创建编排器，fraud 和 webhooks 可为 nil（关闭对应能力）
func NewOrchestrator(
	cfg config.PaymentConfig,
	gen idgen.Generator,
	vault *Vault,
	fraud *Detector,
	processor *acquirer.Processor,
	guard *idempotency.Guard,
	webhooks *Dispatcher,
) *Orchestrator {
	return &Orchestrator{
		cfg:            cfg,
		idgen:          gen,
		vault:          vault,
		fraud:          fraud,
		acquirer:       processor,
		guard:          guard,
		webhooks:       webhooks,
		charges:        make(map[string]*model.Charge),
		authorizations: make(map[string]*model.Authorization),
	}
}

// CreateCharge 创建支付单：capture=true 为授权+请款一步完成，false 为仅授权
//
// 金额校验在幂等层之前执行，非法金额不消耗幂等键。
func (o *Orchestrator) CreateCharge(ctx context.Context, req ChargeRequest) (*model.Charge, error) {
	if err := o.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	result, err := o.withGuard(ctx, req.IdempotencyKey, map[string]interface{}{
		"token_id": req.TokenID,
		"amount":   req.Amount,
		"currency": req.Currency,
		"capture":  req.Capture,
	}, func() (interface{}, error) {
		return o.doCreateCharge(req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.Charge), nil
}

// Authorize 仅授权：冻结资金但不划转，返回可供后续请款的授权记录
// 被拒时返回 DeclineError
func (o *Orchestrator) Authorize(ctx context.Context, req ChargeRequest) (*model.Authorization, error) {
	if err := o.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	result, err := o.withGuard(ctx, req.IdempotencyKey, map[string]interface{}{
		"token_id": req.TokenID,
		"amount":   req.Amount,
		"currency": req.Currency,
	}, func() (interface{}, error) {
		return o.doAuthorize(req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.Authorization), nil
}

// Capture 对授权请款，amount <= 0 表示按剩余金额全额请款
func (o *Orchestrator) Capture(ctx context.Context, authorizationID string, amount int64, idempotencyKey string) (*model.Charge, error) {
	result, err := o.withGuard(ctx, idempotencyKey, map[string]interface{}{
		"authorization_id": authorizationID,
		"amount":           amount,
	}, func() (interface{}, error) {
		return o.doCapture(authorizationID, amount)
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.Charge), nil
}

// Void 撤销授权，释放冻结资金
func (o *Orchestrator) Void(ctx context.Context, authorizationID string, idempotencyKey string) (*model.Authorization, error) {
	result, err := o.withGuard(ctx, idempotencyKey, map[string]interface{}{
		"authorization_id": authorizationID,
	}, func() (interface{}, error) {
		return o.doVoid(authorizationID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.Authorization), nil
}

// doCreateCharge 支付单创建主流程
func (o *Orchestrator) doCreateCharge(req ChargeRequest) (*model.Charge, error) {
	card, token, err := o.vault.UseToken(req.TokenID)
	if err != nil {
		return nil, err
	}

	// 风控前置：decline 档在任何银行调用之前拦截
	if code, blocked := o.assessRisk(req, token); blocked {
		charge := o.newFailedCharge(req, token, code, model.DeclineMessage(code))
		o.storeCharge(charge)
		o.recordAttempt(req.IPAddress, token.Fingerprint, false)
		o.emit(model.EventChargeFailed, req.MerchantID, charge)
		return charge, nil
	}

	result := o.acquirer.ProcessAuthorization(acquirer.AuthorizationRequest{
		MerchantID: req.MerchantID,
		CardNumber: card.CardNumber,
		ExpMonth:   card.ExpMonth,
		ExpYear:    card.ExpYear,
		CVV:        card.CVV,
		Amount:     req.Amount,
		Currency:   req.Currency,
	})

	switch result.Result.Outcome {
	case model.OutcomeError:
		o.recordAttempt(req.IPAddress, token.Fingerprint, false)
		return nil, &ProcessingError{Message: result.Result.Message}

	case model.OutcomeDeclined:
		code := model.GatewayDeclineCode(result.Result.DeclineCode)
		charge := o.newFailedCharge(req, token, code, result.Result.Message)
		o.storeCharge(charge)
		o.recordAttempt(req.IPAddress, token.Fingerprint, false)
		o.emit(model.EventChargeFailed, req.MerchantID, charge)
		return charge, nil
	}

	// 已授权：按 capture 标志决定是挂授权还是立即请款
	if !req.Capture {
		auth := o.newAuthorization(req, token, result)
		charge := o.newCharge(req, token, model.ChargeStatusAuthorized)
		charge.AuthCode = result.AuthCode
		charge.AuthorizationID = auth.ID

		o.mu.Lock()
		o.authorizations[auth.ID] = auth
		o.charges[charge.ID] = charge
		o.mu.Unlock()

		o.recordAttempt(req.IPAddress, token.Fingerprint, true)
		o.emit(model.EventAuthorizationCreated, req.MerchantID, auth)
		return charge, nil
	}

	if err := o.acquirer.Capture(result.TransactionID, req.Amount); err != nil {
		return nil, err
	}

	charge := o.newCharge(req, token, model.ChargeStatusSucceeded)
	charge.Captured = true
	charge.AuthCode = result.AuthCode
	o.storeCharge(charge)

	o.recordAttempt(req.IPAddress, token.Fingerprint, true)
	o.emit(model.EventChargeSucceeded, req.MerchantID, charge)
	return charge, nil
}

// doAuthorize 仅授权路径
func (o *Orchestrator) doAuthorize(req ChargeRequest) (*model.Authorization, error) {
	card, token, err := o.vault.UseToken(req.TokenID)
	if err != nil {
		return nil, err
	}

	if code, blocked := o.assessRisk(req, token); blocked {
		o.recordAttempt(req.IPAddress, token.Fingerprint, false)
		return nil, &DeclineError{Code: code, Message: model.DeclineMessage(code)}
	}

	result := o.acquirer.ProcessAuthorization(acquirer.AuthorizationRequest{
		MerchantID: req.MerchantID,
		CardNumber: card.CardNumber,
		ExpMonth:   card.ExpMonth,
		ExpYear:    card.ExpYear,
		CVV:        card.CVV,
		Amount:     req.Amount,
		Currency:   req.Currency,
	})

	switch result.Result.Outcome {
	case model.OutcomeError:
		o.recordAttempt(req.IPAddress, token.Fingerprint, false)
		return nil, &ProcessingError{Message: result.Result.Message}
	case model.OutcomeDeclined:
		o.recordAttempt(req.IPAddress, token.Fingerprint, false)
		return nil, &DeclineError{
			Code:    model.GatewayDeclineCode(result.Result.DeclineCode),
			Message: result.Result.Message,
		}
	}

	auth := o.newAuthorization(req, token, result)
	o.mu.Lock()
	o.authorizations[auth.ID] = auth
	o.mu.Unlock()

	o.recordAttempt(req.IPAddress, token.Fingerprint, true)
	o.emit(model.EventAuthorizationCreated, req.MerchantID, auth)

	copied := *auth
	return &copied, nil
}

// doCapture 请款：active 状态、未过期、金额不超过剩余
//
// 过期是惰性判定的：请款时发现已过 expires_at 才把状态翻成 expired。
func (o *Orchestrator) doCapture(authorizationID string, amount int64) (*model.Charge, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	auth, ok := o.authorizations[authorizationID]
	if !ok {
		return nil, ErrAuthorizationNotFound
	}

	now := time.Now()
	if auth.Status == model.AuthorizationStatusActive && auth.Expired(now) {
		auth.Status = model.AuthorizationStatusExpired
		o.emit(model.EventAuthorizationExpired, auth.MerchantID, auth)
		return nil, ErrAuthorizationExpired
	}

	captureAmount := amount
	if captureAmount <= 0 {
		captureAmount = auth.Remaining()
	}

	if !auth.CanCapture(captureAmount, now) {
		switch auth.Status {
		case model.AuthorizationStatusCaptured:
			return nil, ErrAlreadyCaptured
		case model.AuthorizationStatusVoided:
			return nil, ErrAlreadyVoided
		case model.AuthorizationStatusExpired:
			return nil, ErrAuthorizationExpired
		}
		return nil, ErrCaptureExceedsAuth
	}

	if err := o.acquirer.Capture(auth.AcquirerTxnID, captureAmount); err != nil {
		return nil, err
	}

	auth.Status = model.AuthorizationStatusCaptured
	auth.CapturedAmount = captureAmount
	auth.CapturedAt = &now

	charge := &model.Charge{
		ID:              o.idgen.New("ch_"),
		Amount:          captureAmount,
		Currency:        auth.Currency,
		Status:          model.ChargeStatusSucceeded,
		Captured:        true,
		CardLastFour:    auth.CardLastFour,
		CardBrand:       auth.CardBrand,
		AuthCode:        auth.AuthCode,
		AuthorizationID: auth.ID,
		MerchantID:      auth.MerchantID,
		CreatedAt:       now,
	}
	o.charges[charge.ID] = charge

	o.emit(model.EventAuthorizationCaptured, auth.MerchantID, auth)
	o.emit(model.EventChargeSucceeded, auth.MerchantID, charge)

	copied := *charge
	return &copied, nil
}

// doVoid 撤销：仅 active 且未过期的授权可撤销
func (o *Orchestrator) doVoid(authorizationID string) (*model.Authorization, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	auth, ok := o.authorizations[authorizationID]
	if !ok {
		return nil, ErrAuthorizationNotFound
	}

	now := time.Now()
	if auth.Status == model.AuthorizationStatusActive && auth.Expired(now) {
		auth.Status = model.AuthorizationStatusExpired
		o.emit(model.EventAuthorizationExpired, auth.MerchantID, auth)
		return nil, ErrAuthorizationExpired
	}

	if !auth.CanVoid(now) {
		switch auth.Status {
		case model.AuthorizationStatusCaptured:
			return nil, ErrAlreadyCaptured
		case model.AuthorizationStatusVoided:
			return nil, ErrAlreadyVoided
		}
		return nil, ErrAuthorizationExpired
	}

	if err := o.acquirer.Void(auth.AcquirerTxnID); err != nil {
		return nil, err
	}

	auth.Status = model.AuthorizationStatusVoided
	auth.VoidedAt = &now

	o.emit(model.EventAuthorizationVoided, auth.MerchantID, auth)

	copied := *auth
	return &copied, nil
}

// GetCharge 查询支付单
func (o *Orchestrator) GetCharge(chargeID string) (*model.Charge, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	charge, ok := o.charges[chargeID]
	if !ok {
		return nil, ErrChargeNotFound
	}
	copied := *charge
	return &copied, nil
}

// GetAuthorization 查询授权
func (o *Orchestrator) GetAuthorization(authorizationID string) (*model.Authorization, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	auth, ok := o.authorizations[authorizationID]
	if !ok {
		return nil, ErrAuthorizationNotFound
	}
	copied := *auth
	return &copied, nil
}

// ListCharges 按创建时间倒序列出支付单，merchantID 为空则不过滤
func (o *Orchestrator) ListCharges(merchantID string, limit int) []*model.Charge {
	o.mu.Lock()
	var charges []*model.Charge
	for _, c := range o.charges {
		if merchantID != "" && c.MerchantID != merchantID {
			continue
		}
		copied := *c
		charges = append(charges, &copied)
	}
	o.mu.Unlock()

	sort.Slice(charges, func(i, j int) bool {
		return charges[i].CreatedAt.After(charges[j].CreatedAt)
	})
	if limit > 0 && len(charges) > limit {
		charges = charges[:limit]
	}
	return charges
}

// assessRisk 风控评估，返回 (拒绝码, 是否拦截)
// decline 直接拦截，3ds_required 以 authentication_required 形式拒绝，
// review 在本系统中放行（没有人工审核队列）
func (o *Orchestrator) assessRisk(req ChargeRequest, token *Token) (string, bool) {
	if o.fraud == nil {
		return "", false
	}
	assessment := o.fraud.Assess(RiskInput{
		Amount:      req.Amount,
		Fingerprint: token.Fingerprint,
		IPAddress:   req.IPAddress,
	})
	switch assessment.Recommendation {
	case RecommendDecline:
		return model.GatewayCardDeclined, true
	case Recommend3DS:
		return model.GatewayAuthenticationRequired, true
	}
	return "", false
}

// withGuard 有幂等键时经 guard 执行，否则直接执行
func (o *Orchestrator) withGuard(ctx context.Context, key string, params map[string]interface{}, op func() (interface{}, error)) (interface{}, error) {
	if key == "" {
		return op()
	}
	return o.guard.Execute(ctx, key, params, op)
}

// validateAmount 金额边界校验
func (o *Orchestrator) validateAmount(amount int64) error {
	if amount < o.cfg.MinAmountCents {
		return ErrAmountTooSmall
	}
	if amount > o.cfg.MaxAmountCents {
		return ErrAmountTooLarge
	}
	return nil
}

func (o *Orchestrator) newAuthorization(req ChargeRequest, token *Token, result *acquirer.AuthorizationResult) *model.Authorization {
	now := time.Now()
	return &model.Authorization{
		ID:            o.idgen.New("auth_"),
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        model.AuthorizationStatusActive,
		AuthCode:      result.AuthCode,
		CardLastFour:  token.CardLastFour,
		CardBrand:     token.CardBrand,
		MerchantID:    req.MerchantID,
		AcquirerTxnID: result.TransactionID,
		CreatedAt:     now,
		ExpiresAt:     now.AddDate(0, 0, o.cfg.AuthHoldDays),
	}
}

func (o *Orchestrator) newCharge(req ChargeRequest, token *Token, status string) *model.Charge {
	return &model.Charge{
		ID:           o.idgen.New("ch_"),
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       status,
		CardLastFour: token.CardLastFour,
		CardBrand:    token.CardBrand,
		MerchantID:   req.MerchantID,
		Description:  req.Description,
		CreatedAt:    time.Now(),
	}
}

func (o *Orchestrator) newFailedCharge(req ChargeRequest, token *Token, code, message string) *model.Charge {
	charge := o.newCharge(req, token, model.ChargeStatusFailed)
	charge.DeclineCode = code
	charge.DeclineMessage = message
	return charge
}

func (o *Orchestrator) storeCharge(charge *model.Charge) {
	o.mu.Lock()
	o.charges[charge.ID] = charge
	o.mu.Unlock()
}

func (o *Orchestrator) recordAttempt(ipAddress, fingerprint string, success bool) {
	if o.fraud != nil {
		o.fraud.RecordAttempt(ipAddress, fingerprint, success)
	}
}

func (o *Orchestrator) emit(eventType, merchantID string, data interface{}) {
	if o.webhooks != nil {
		o.webhooks.Emit(eventType, merchantID, data)
	}
}
