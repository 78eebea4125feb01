package model

import (
	"time"
)

// ============================================================================
// 授权（资金冻结）生命周期
// ============================================================================

// 授权状态
const (
	AuthorizationStatusActive   = "active"
	AuthorizationStatusCaptured = "captured"
	AuthorizationStatusVoided   = "voided"
	AuthorizationStatusExpired  = "expired"
)

// 授权状态机：captured / voided / expired 均为终态，没有出边
var validAuthTransitions = map[string][]string{
	AuthorizationStatusActive: {
		AuthorizationStatusCaptured,
		AuthorizationStatusVoided,
		AuthorizationStatusExpired,
	},
}

// CanTransitionAuth 校验授权状态迁移是否合法
func CanTransitionAuth(currentStatus, targetStatus string) bool {
	allowed, exists := validAuthTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Authorization 授权记录：对持卡人资金的一次冻结承诺
type Authorization struct {
	ID             string     `json:"id"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	CapturedAmount int64      `json:"captured_amount"`
	AuthCode       string     `json:"auth_code"`
	CardLastFour   string     `json:"card_last_four"`
	CardBrand      string     `json:"card_brand"`
	MerchantID     string     `json:"merchant_id"`
	AcquirerTxnID  string     `json:"acquirer_transaction_id"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CapturedAt     *time.Time `json:"captured_at,omitempty"`
	VoidedAt       *time.Time `json:"voided_at,omitempty"`
}

// Expired 授权是否已过期（惰性判定，在请款/撤销时检查）
func (a *Authorization) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// Remaining 剩余可请款金额
func (a *Authorization) Remaining() int64 {
	return a.Amount - a.CapturedAmount
}

// CanCapture 当前状态下能否按指定金额请款
func (a *Authorization) CanCapture(amount int64, now time.Time) bool {
	return a.Status == AuthorizationStatusActive &&
		!a.Expired(now) &&
		amount > 0 &&
		amount <= a.Remaining()
}

// CanVoid 当前状态下能否撤销
func (a *Authorization) CanVoid(now time.Time) bool {
	return a.Status == AuthorizationStatusActive && !a.Expired(now)
}
