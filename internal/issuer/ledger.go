package issuer

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"cardpay/internal/config"
	"cardpay/internal/model"
)

// ============================================================================
// 发卡行账本
// ============================================================================
//
// 发卡行是持卡人的银行，是整个链路里唯一真正冻结/划转资金的地方：
//   1. 校验卡片状态与有效期
//   2. 检查可用资金
//   3. 授权通过后创建冻结（hold）
//   4. 请款时把冻结转为真实扣账，撤销时释放冻结
//
// 【并发关键点】同一张卡上的"检查可用资金 -> 写入冻结"必须原子，
// 否则并发授权会超卖资金。这里按卡维度加锁（而不是整本账一把锁），
// 不同卡之间互不阻塞。

var (
	ErrHoldNotFound       = errors.New("冻结不存在")
	ErrCaptureExceedsHold = errors.New("请款金额超过冻结金额")
	ErrUnknownCard        = errors.New("卡账户不存在")
	ErrDuplicateCard      = errors.New("卡账户已存在")
)

// AuthorizationRequest 卡组织转发给发卡行的授权请求
type AuthorizationRequest struct {
	RequestID        string
	CardNumber       string
	ExpMonth         int
	ExpYear          int
	CVV              string
	Amount           int64
	Currency         string
	MerchantID       string
	MerchantName     string
	MerchantCategory string
}

// AuthorizationResponse 发卡行授权响应
type AuthorizationResponse struct {
	RequestID string       `json:"request_id"`
	Result    model.Result `json:"result"`
	AuthCode  string       `json:"auth_code,omitempty"`
	AVSResult string       `json:"avs_result"` // 地址校验结果
	CVVResult string       `json:"cvv_result"` // CVV 校验结果
}

// account 账户与其专属锁、风控历史
type account struct {
	mu      sync.Mutex
	data    model.CardAccount
	history []time.Time // 滑动窗口内的授权时间戳
}

// Ledger 发卡行账本
type Ledger struct {
	bankName string
	cfg      config.IssuerConfig

	mu       sync.RWMutex        // 保护 accounts 注册表
	accounts map[string]*account // 卡号 -> 账户

	indexMu   sync.Mutex        // 保护 holdIndex
	holdIndex map[string]string // hold_id -> 卡号，O(1) 定位冻结所在账户
}

// NewLedger 创建发卡行账本
func NewLedger(bankName string, cfg config.IssuerConfig) *Ledger {
	return &Ledger{
		bankName:  bankName,
		cfg:       cfg,
		accounts:  make(map[string]*account),
		holdIndex: make(map[string]string),
	}
}

// BankName 发卡行名称
func (l *Ledger) BankName() string {
	return l.bankName
}

// RegisterAccount 开卡
// 零值字段回填发卡行默认风控参数
func (l *Ledger) RegisterAccount(acct model.CardAccount) error {
	if acct.Holds == nil {
		acct.Holds = make(map[string]int64)
	}
	if acct.Status == "" {
		acct.Status = model.CardStatusActive
	}
	if acct.AccountType == "" {
		acct.AccountType = model.AccountTypeCredit
	}
	if acct.VelocityLimit == 0 {
		acct.VelocityLimit = l.cfg.VelocityLimit
	}
	if acct.SingleTransactionLimit == 0 {
		acct.SingleTransactionLimit = l.cfg.SingleTransactionLimit
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[acct.CardNumber]; exists {
		return ErrDuplicateCard
	}
	l.accounts[acct.CardNumber] = &account{data: acct}
	return nil
}

// Authorize 处理授权请求
//
// 拒绝检查顺序（命中即返回）：
// 未知卡 -> 卡被冻结 -> 失卡/盗卡 -> 疑似欺诈 -> 过期 -> CVV 不符 ->
// 超单笔限额 -> 资金不足 -> 触发频次限制
func (l *Ledger) Authorize(req AuthorizationRequest) *AuthorizationResponse {
	a := l.lookup(req.CardNumber)
	if a == nil {
		return l.decline(req.RequestID, model.DeclineInvalidCard, "M")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.data.Status {
	case model.CardStatusBlocked:
		return l.decline(req.RequestID, model.DeclineCardDeclined, "M")
	case model.CardStatusLostStolen:
		return l.decline(req.RequestID, model.DeclinePickupCard, "M")
	case model.CardStatusFraudSuspect:
		return l.decline(req.RequestID, model.DeclineFraudulent, "M")
	}

	// 有效期检查：过期月首日加 31 天宽限
	expDate := time.Date(a.data.ExpYear, time.Month(a.data.ExpMonth), 1, 0, 0, 0, 0, time.UTC)
	if time.Now().After(expDate.AddDate(0, 0, 31)) {
		return l.decline(req.RequestID, model.DeclineExpiredCard, "M")
	}

	if req.CVV != a.data.CVV {
		return l.decline(req.RequestID, model.DeclineIncorrectCVC, "N")
	}

	if req.Amount > a.data.SingleTransactionLimit {
		return l.decline(req.RequestID, model.DeclineTransactionNotAllowed, "M")
	}

	if req.Amount > a.data.Available() {
		return l.decline(req.RequestID, model.DeclineInsufficientFunds, "M")
	}

	if !l.checkVelocity(a) {
		return l.decline(req.RequestID, model.DeclineWithdrawalCountLimit, "M")
	}

	// 通过：以请求 ID 为键创建冻结，并记录频次时间戳
	a.data.Holds[req.RequestID] = req.Amount
	a.history = append(a.history, time.Now())

	l.indexMu.Lock()
	l.holdIndex[req.RequestID] = a.data.CardNumber
	l.indexMu.Unlock()

	return &AuthorizationResponse{
		RequestID: req.RequestID,
		Result:    model.Approved(),
		AuthCode:  generateAuthCode(),
		AVSResult: "Y",
		CVVResult: "M",
	}
}

// Capture 请款：把冻结转为真实扣账
//
// 只能请款不超过冻结金额的部分。请款成功后整个冻结被移除——
// 即使是部分请款，剩余部分也会被静默释放（与原型行为一致）。
// 信用卡增加已用金额，借记卡/预付卡直接扣余额。
func (l *Ledger) Capture(holdID string, amount int64) error {
	a, ok := l.findHoldAccount(holdID)
	if !ok {
		return ErrHoldNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	held, exists := a.data.Holds[holdID]
	if !exists {
		// 索引命中后冻结可能已被并发撤销
		return ErrHoldNotFound
	}
	if amount > held {
		return ErrCaptureExceedsHold
	}

	delete(a.data.Holds, holdID)
	if a.data.AccountType == model.AccountTypeCredit {
		a.data.CurrentBalance += amount
	} else {
		a.data.AccountBalance -= amount
	}

	l.removeHoldIndex(holdID)
	return nil
}

// Void 撤销授权：释放冻结，不动余额
func (l *Ledger) Void(holdID string) error {
	a, ok := l.findHoldAccount(holdID)
	if !ok {
		return ErrHoldNotFound
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.data.Holds[holdID]; !exists {
		return ErrHoldNotFound
	}
	delete(a.data.Holds, holdID)

	l.removeHoldIndex(holdID)
	return nil
}

// Refund 退款：直接调整余额，与冻结无关
func (l *Ledger) Refund(cardNumber string, amount int64) error {
	a := l.lookup(cardNumber)
	if a == nil {
		return ErrUnknownCard
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.data.AccountType == model.AccountTypeCredit {
		a.data.CurrentBalance -= amount
	} else {
		a.data.AccountBalance += amount
	}
	return nil
}

// AccountStatus 账户概览（调试/演示用）
type AccountStatus struct {
	CardNumber string `json:"card_number"` // 已脱敏
	Status     string `json:"status"`
	Type       string `json:"type"`
	Available  int64  `json:"available"`
	Holds      int    `json:"holds"`
	HoldsTotal int64  `json:"holds_total"`
}

// GetAccountStatus 查询账户概览，卡号脱敏为 ****后四位
func (l *Ledger) GetAccountStatus(cardNumber string) (*AccountStatus, error) {
	a := l.lookup(cardNumber)
	if a == nil {
		return nil, ErrUnknownCard
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return &AccountStatus{
		CardNumber: "****" + a.data.LastFour(),
		Status:     a.data.Status,
		Type:       a.data.AccountType,
		Available:  a.data.Available(),
		Holds:      len(a.data.Holds),
		HoldsTotal: a.data.HoldsTotal(),
	}, nil
}

// lookup 按卡号取账户
func (l *Ledger) lookup(cardNumber string) *account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accounts[cardNumber]
}

// findHoldAccount 通过冻结索引 O(1) 定位账户
func (l *Ledger) findHoldAccount(holdID string) (*account, bool) {
	l.indexMu.Lock()
	cardNumber, ok := l.holdIndex[holdID]
	l.indexMu.Unlock()
	if !ok {
		return nil, false
	}
	a := l.lookup(cardNumber)
	return a, a != nil
}

// removeHoldIndex 删除冻结索引项，调用方需持有账户锁
func (l *Ledger) removeHoldIndex(holdID string) {
	l.indexMu.Lock()
	delete(l.holdIndex, holdID)
	l.indexMu.Unlock()
}

// checkVelocity 滑动 1 小时窗口内的授权笔数是否未达上限
// 顺带清掉窗口外的历史记录，调用方需持有账户锁
func (l *Ledger) checkVelocity(a *account) bool {
	cutoff := time.Now().Add(-time.Hour)
	recent := a.history[:0]
	for _, ts := range a.history {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	a.history = recent
	return len(recent) < a.data.VelocityLimit
}

// decline 构造拒绝响应
func (l *Ledger) decline(requestID, code, cvvResult string) *AuthorizationResponse {
	return &AuthorizationResponse{
		RequestID: requestID,
		Result:    model.Declined(code, model.DeclineMessage(model.GatewayDeclineCode(code))),
		AVSResult: "Y",
		CVVResult: cvvResult,
	}
}

const authCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateAuthCode 生成 6 位授权码
func generateAuthCode() string {
	code := make([]byte, 6)
	for i := range code {
		code[i] = authCodeChars[rand.Intn(len(authCodeChars))]
	}
	return string(code)
}
