package model

import (
	"time"
)

// ============================================================================
// 网络级 / 收单级交易记录
// ============================================================================

// 网络交易状态
const (
	NetworkTxnStatusApproved = "approved"
	NetworkTxnStatusDeclined = "declined"
	NetworkTxnStatusCaptured = "captured"
	NetworkTxnStatusVoided   = "voided"
)

// NetworkFees 卡组织层面的手续费拆分
type NetworkFees struct {
	Interchange int64 `json:"interchange"` // 交换费
	Assessment  int64 `json:"assessment"`  // 评估费
}

// Total 网络手续费合计
func (f NetworkFees) Total() int64 {
	return f.Interchange + f.Assessment
}

// NetworkTransaction 卡组织侧交易流水
type NetworkTransaction struct {
	TransactionID string      `json:"transaction_id"`
	Network       string      `json:"network"`
	AcquirerID    string      `json:"acquirer_id"`
	IssuerID      string      `json:"issuer_id"`
	Amount        int64       `json:"amount"`
	Currency      string      `json:"currency"`
	AuthCode      string      `json:"auth_code,omitempty"`
	Status        string      `json:"status"`
	DeclineCode   string      `json:"decline_code,omitempty"`
	MerchantID    string      `json:"merchant_id"`
	Fees          NetworkFees `json:"fees"`
	CreatedAt     time.Time   `json:"created_at"`
}

// 清算状态
const (
	SettlementStatusPending = "pending"
	SettlementStatusBatched = "batched"
	SettlementStatusSettled = "settled"
	SettlementStatusFailed  = "failed" // 预留给清算基础设施故障，当前不产生
)

// AcquirerTransaction 收单行侧交易流水
// Fees 为商户承担的全部手续费（折扣费 + 固定费 + 网络费），NetAmount = Amount - Fees
type AcquirerTransaction struct {
	TransactionID        string     `json:"transaction_id"`
	MerchantID           string     `json:"merchant_id"`
	NetworkTransactionID string     `json:"network_transaction_id"`
	Amount               int64      `json:"amount"`
	Currency             string     `json:"currency"`
	Fees                 int64      `json:"fees"`
	NetAmount            int64      `json:"net_amount"`
	SettlementStatus     string     `json:"settlement_status"`
	SettlementDate       *time.Time `json:"settlement_date,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// SettlementBatch 清算批次：一次扫描中全部 pending 交易的聚合
// 批次创建后交易停留在 batched，没有进一步转入 settled 的路径。
type SettlementBatch struct {
	BatchID      string    `json:"batch_id"`
	Transactions []string  `json:"transactions"`
	TotalAmount  int64     `json:"total_amount"`
	TotalFees    int64     `json:"total_fees"`
	NetAmount    int64     `json:"net_amount"`
	CreatedAt    time.Time `json:"created_at"`
}
