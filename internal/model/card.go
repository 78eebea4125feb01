package model

// ============================================================================
// 发卡行卡账户
// ============================================================================

// 卡状态
const (
	CardStatusActive       = "active"
	CardStatusBlocked      = "blocked"
	CardStatusExpired      = "expired"
	CardStatusLostStolen   = "lost_stolen"
	CardStatusFraudSuspect = "fraud_suspect"
)

// 账户类型
const (
	AccountTypeCredit  = "credit"
	AccountTypeDebit   = "debit"
	AccountTypePrepaid = "prepaid"
)

// CardAccount 发卡行侧的卡账户
//
// 【核心不变量】任何一次被接受的操作之后必须满足：
//
//	可用额度 = 额度(或余额) - 已用余额 - Σ冻结金额 >= 0
//
// 信用卡看 CreditLimit/CurrentBalance，借记卡/预付卡看 AccountBalance。
type CardAccount struct {
	CardNumber     string `json:"card_number"`
	CardholderName string `json:"cardholder_name"`
	ExpMonth       int    `json:"exp_month"`
	ExpYear        int    `json:"exp_year"`
	CVV            string `json:"-"`
	Status         string `json:"status"`
	AccountType    string `json:"account_type"`

	// 信用卡：额度与已用金额
	CreditLimit    int64 `json:"credit_limit"`
	CurrentBalance int64 `json:"current_balance"`

	// 借记卡/预付卡：账户余额
	AccountBalance int64 `json:"account_balance"`

	// 冻结（已授权未请款），hold_id -> 金额
	Holds map[string]int64 `json:"holds"`

	// 风控参数
	VelocityLimit          int   `json:"velocity_limit"`           // 每小时最大交易笔数
	SingleTransactionLimit int64 `json:"single_transaction_limit"` // 单笔限额（分）
}

// HoldsTotal 当前全部冻结金额
func (a *CardAccount) HoldsTotal() int64 {
	var total int64
	for _, amount := range a.Holds {
		total += amount
	}
	return total
}

// Available 可用资金
// 信用卡 = 额度 - 已用 - 冻结；借记卡/预付卡 = 余额 - 冻结
func (a *CardAccount) Available() int64 {
	if a.AccountType == AccountTypeCredit {
		return a.CreditLimit - a.CurrentBalance - a.HoldsTotal()
	}
	return a.AccountBalance - a.HoldsTotal()
}

// LastFour 卡号后四位（用于对外展示）
func (a *CardAccount) LastFour() string {
	if len(a.CardNumber) < 4 {
		return a.CardNumber
	}
	return a.CardNumber[len(a.CardNumber)-4:]
}
