package model

import (
	"time"
)

// Webhook 事件类型
const (
	EventChargeSucceeded = "charge.succeeded"
	EventChargeFailed    = "charge.failed"

	EventAuthorizationCreated  = "authorization.created"
	EventAuthorizationCaptured = "authorization.captured"
	EventAuthorizationVoided   = "authorization.voided"
	EventAuthorizationExpired  = "authorization.expired"
)

// WebhookEvent 对外投递的事件，Data 为终态对象的序列化形式
type WebhookEvent struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	MerchantID string      `json:"merchant_id"`
	Data       interface{} `json:"data"`
	CreatedAt  time.Time   `json:"created_at"`
}
