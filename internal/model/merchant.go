package model

// 商户状态
const (
	MerchantStatusActive      = "active"
	MerchantStatusSuspended   = "suspended"
	MerchantStatusClosed      = "closed"
	MerchantStatusUnderReview = "under_review"
)

// MerchantAccount 收单行侧的商户账户
//
// CurrentMonthVolume 在一个账期内单调递增，只通过收单行本身修改。
type MerchantAccount struct {
	MerchantID   string `json:"merchant_id"`
	BusinessName string `json:"business_name"`
	Status       string `json:"status"`

	// 计价：折扣率（基点）+ 固定费（分）
	DiscountRateBps int64 `json:"discount_rate_bps"`
	FixedFeeCents   int64 `json:"fixed_fee_cents"`

	// 清算
	SettlementDelayDays int   `json:"settlement_delay_days"`
	PendingSettlement   int64 `json:"pending_settlement"` // 待清算净额（分）

	// 风控
	MonthlyVolumeLimit int64 `json:"monthly_volume_limit"`
	CurrentMonthVolume int64 `json:"current_month_volume"`

	// 商户类别码
	MCC string `json:"mcc"`
}
