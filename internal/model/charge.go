package model

import (
	"time"
)

// 支付单状态
const (
	ChargeStatusSucceeded  = "succeeded"
	ChargeStatusFailed     = "failed"
	ChargeStatusAuthorized = "authorized"
)

// Charge 支付单
//
// 拒绝不是异常：被拒的请求也会生成一条 failed 状态的 Charge，
// 便于商户按记录查询失败原因。
type Charge struct {
	ID              string    `json:"id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	Captured        bool      `json:"captured"`
	CardLastFour    string    `json:"card_last_four"`
	CardBrand       string    `json:"card_brand"`
	AuthCode        string    `json:"auth_code,omitempty"`
	AuthorizationID string    `json:"authorization_id,omitempty"`
	MerchantID      string    `json:"merchant_id"`
	Description     string    `json:"description,omitempty"`
	DeclineCode     string    `json:"decline_code,omitempty"`
	DeclineMessage  string    `json:"decline_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
