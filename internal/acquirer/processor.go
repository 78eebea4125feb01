package acquirer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"cardpay/internal/config"
	"cardpay/internal/model"
	"cardpay/internal/network"
	"cardpay/pkg/idgen"
)

// ============================================================================
// 收单行（商户侧银行 / 支付处理方）
// ============================================================================
//
// 收单行为商户提供商户账户，代商户接入卡组织：
//   1. 校验商户状态与月交易量限额
//   2. 按卡号首位选择卡组织实例并转发授权
//   3. 计算商户折扣费/固定费，叠加网络费得到净额
//   4. 维护清算账本与清算批次

var (
	ErrMerchantNotFound    = errors.New("商户不存在")
	ErrTransactionNotFound = errors.New("收单交易不存在")
	ErrNoNetwork           = errors.New("不支持的卡组织")
)

// FeeBreakdown 商户视角的手续费拆分
type FeeBreakdown struct {
	Discount int64 `json:"discount"` // 折扣费
	Fixed    int64 `json:"fixed"`    // 固定费
	Network  int64 `json:"network"`  // 网络费（交换费+评估费）
	Total    int64 `json:"total"`
}

// AuthorizationRequest 商户发起的授权请求
type AuthorizationRequest struct {
	MerchantID string
	CardNumber string
	ExpMonth   int
	ExpYear    int
	CVV        string
	Amount     int64
	Currency   string
}

// AuthorizationResult 收单行授权结果
type AuthorizationResult struct {
	TransactionID        string       `json:"transaction_id,omitempty"`
	NetworkTransactionID string       `json:"network_transaction_id,omitempty"`
	Result               model.Result `json:"result"`
	AuthCode             string       `json:"auth_code,omitempty"`
	Amount               int64        `json:"amount"`
	Fees                 FeeBreakdown `json:"fees"`
	NetAmount            int64        `json:"net_amount"`
}

// merchant 商户账户与其专属锁
type merchant struct {
	mu   sync.Mutex
	data model.MerchantAccount
}

// Processor 收单行
type Processor struct {
	bankName string
	cfg      config.AcquirerConfig
	idgen    idgen.Generator

	mu        sync.RWMutex
	merchants map[string]*merchant

	// txnMu 同时保护流水表、批次列表和 networkByTxn 索引；
	// 清算批次的"扫描+置位"必须相对并发的授权/请款原子
	txnMu        sync.Mutex
	transactions map[string]*model.AcquirerTransaction
	batches      []*model.SettlementBatch
	networkByTxn map[string]*network.Router // 交易 -> 发起授权的网络实例

	networks map[string]*network.Router // 网络类型 -> 实例
}

// NewProcessor 创建收单行
func NewProcessor(bankName string, cfg config.AcquirerConfig, gen idgen.Generator, networks map[string]*network.Router) *Processor {
	return &Processor{
		bankName:     bankName,
		cfg:          cfg,
		idgen:        gen,
		merchants:    make(map[string]*merchant),
		transactions: make(map[string]*model.AcquirerTransaction),
		networkByTxn: make(map[string]*network.Router),
		networks:     networks,
	}
}

// CreateMerchant 商户进件
func (p *Processor) CreateMerchant(businessName, mcc string) *model.MerchantAccount {
	m := &merchant{data: model.MerchantAccount{
		MerchantID:          p.idgen.New("merch_"),
		BusinessName:        businessName,
		Status:              model.MerchantStatusActive,
		DiscountRateBps:     p.cfg.DiscountRateBps,
		FixedFeeCents:       p.cfg.FixedFeeCents,
		SettlementDelayDays: p.cfg.SettlementDelayDays,
		MonthlyVolumeLimit:  p.cfg.MonthlyVolumeLimit,
		MCC:                 mcc,
	}}

	p.mu.Lock()
	p.merchants[m.data.MerchantID] = m
	p.mu.Unlock()

	copied := m.data
	return &copied
}

// RegisterMerchant 注册已有商户账户（测试播种用）
func (p *Processor) RegisterMerchant(acct model.MerchantAccount) {
	if acct.Status == "" {
		acct.Status = model.MerchantStatusActive
	}
	p.mu.Lock()
	p.merchants[acct.MerchantID] = &merchant{data: acct}
	p.mu.Unlock()
}

// ProcessAuthorization 处理一笔商户授权
//
// 【并发关键点】月交易量的"检查+占用"在商户锁内一次完成（先占后路由），
// 网络拒绝时再回退占用，避免并发授权同时通过限额检查导致超限。
func (p *Processor) ProcessAuthorization(req AuthorizationRequest) *AuthorizationResult {
	m := p.lookupMerchant(req.MerchantID)
	if m == nil {
		return &AuthorizationResult{Amount: req.Amount, Result: model.Errored("Invalid merchant")}
	}

	m.mu.Lock()
	if m.data.Status != model.MerchantStatusActive {
		status := m.data.Status
		m.mu.Unlock()
		return &AuthorizationResult{Amount: req.Amount, Result: model.Errored(fmt.Sprintf("Merchant %s", status))}
	}
	if m.data.CurrentMonthVolume+req.Amount > m.data.MonthlyVolumeLimit {
		m.mu.Unlock()
		return &AuthorizationResult{
			Amount: req.Amount,
			Result: model.Result{Outcome: model.OutcomeDeclined, Message: "Monthly volume limit exceeded"},
		}
	}
	m.data.CurrentMonthVolume += req.Amount
	discountBps := m.data.DiscountRateBps
	fixedFee := m.data.FixedFeeCents
	businessName := m.data.BusinessName
	mcc := m.data.MCC
	m.mu.Unlock()

	// 按卡号首位选网络。这与卡组织自身的 BIN 校验是有意的重复校验
	router := p.selectNetwork(req.CardNumber)
	if router == nil {
		p.releaseVolume(m, req.Amount)
		return &AuthorizationResult{Amount: req.Amount, Result: model.Errored("Unsupported card network")}
	}

	routed := router.Route(network.RouteRequest{
		AcquirerID:       p.bankName,
		CardNumber:       req.CardNumber,
		ExpMonth:         req.ExpMonth,
		ExpYear:          req.ExpYear,
		CVV:              req.CVV,
		Amount:           req.Amount,
		Currency:         req.Currency,
		MerchantID:       req.MerchantID,
		MerchantName:     businessName,
		MerchantCategory: mcc,
	})

	if !routed.Result.IsApproved() {
		p.releaseVolume(m, req.Amount)
		return &AuthorizationResult{
			NetworkTransactionID: routed.TransactionID,
			Amount:               req.Amount,
			Result:               routed.Result,
		}
	}

	// 计费：折扣费 + 固定费 + 网络费
	discount := req.Amount * discountBps / 10000
	networkFee := routed.Fees.Total()
	totalFee := discount + fixedFee + networkFee
	netAmount := req.Amount - totalFee

	transactionID := p.idgen.New("txn_")
	txn := &model.AcquirerTransaction{
		TransactionID:        transactionID,
		MerchantID:           req.MerchantID,
		NetworkTransactionID: routed.TransactionID,
		Amount:               req.Amount,
		Currency:             req.Currency,
		Fees:                 totalFee,
		NetAmount:            netAmount,
		SettlementStatus:     model.SettlementStatusPending,
		CreatedAt:            time.Now(),
	}

	p.txnMu.Lock()
	p.transactions[transactionID] = txn
	p.networkByTxn[transactionID] = router
	p.txnMu.Unlock()

	return &AuthorizationResult{
		TransactionID:        transactionID,
		NetworkTransactionID: routed.TransactionID,
		Result:               model.Approved(),
		AuthCode:             routed.AuthCode,
		Amount:               req.Amount,
		Fees: FeeBreakdown{
			Discount: discount,
			Fixed:    fixedFee,
			Network:  networkFee,
			Total:    totalFee,
		},
		NetAmount: netAmount,
	}
}

// Capture 请款：转发给这笔交易当初走的网络，成功后净额进入商户待清算余额
func (p *Processor) Capture(transactionID string, amount int64) error {
	txn, router, err := p.lookupTransaction(transactionID)
	if err != nil {
		return err
	}
	if amount <= 0 {
		amount = txn.Amount
	}

	if err := router.Capture(txn.NetworkTransactionID, amount); err != nil {
		return err
	}

	if m := p.lookupMerchant(txn.MerchantID); m != nil {
		m.mu.Lock()
		m.data.PendingSettlement += txn.NetAmount
		m.mu.Unlock()
	}
	return nil
}

// Void 撤销授权：转发网络释放发卡行冻结
func (p *Processor) Void(transactionID string) error {
	txn, router, err := p.lookupTransaction(transactionID)
	if err != nil {
		return err
	}
	return router.Void(txn.NetworkTransactionID)
}

// CreateSettlementBatch 创建清算批次
//
// 原子地扫描全部 pending 交易，置为 batched 并标记清算日（T+N），
// 返回聚合结果。批次之后不再有自动转入 settled 的路径。
func (p *Processor) CreateSettlementBatch() *model.SettlementBatch {
	batch := &model.SettlementBatch{
		BatchID:   p.idgen.New("batch_"),
		CreatedAt: time.Now(),
	}
	settlementDate := time.Now().AddDate(0, 0, p.cfg.SettlementDelayDays)

	p.txnMu.Lock()
	for _, txn := range p.transactions {
		if txn.SettlementStatus != model.SettlementStatusPending {
			continue
		}
		txn.SettlementStatus = model.SettlementStatusBatched
		d := settlementDate
		txn.SettlementDate = &d
		batch.Transactions = append(batch.Transactions, txn.TransactionID)
		batch.TotalAmount += txn.Amount
		batch.TotalFees += txn.Fees
	}
	batch.NetAmount = batch.TotalAmount - batch.TotalFees
	p.batches = append(p.batches, batch)
	p.txnMu.Unlock()

	return batch
}

// MerchantBalance 商户余额视图
type MerchantBalance struct {
	MerchantID          string `json:"merchant_id"`
	BusinessName        string `json:"business_name"`
	PendingTransactions int    `json:"pending_transactions"`
	PendingAmount       int64  `json:"pending_amount"`
	PendingSettlement   int64  `json:"pending_settlement"`
	CurrentMonthVolume  int64  `json:"current_month_volume"`
}

// GetMerchantBalance 查询商户待清算概况
func (p *Processor) GetMerchantBalance(merchantID string) (*MerchantBalance, error) {
	m := p.lookupMerchant(merchantID)
	if m == nil {
		return nil, ErrMerchantNotFound
	}

	balance := &MerchantBalance{MerchantID: merchantID}

	p.txnMu.Lock()
	for _, txn := range p.transactions {
		if txn.MerchantID != merchantID {
			continue
		}
		switch txn.SettlementStatus {
		case model.SettlementStatusPending, model.SettlementStatusBatched:
			balance.PendingTransactions++
			balance.PendingAmount += txn.NetAmount
		}
	}
	p.txnMu.Unlock()

	m.mu.Lock()
	balance.BusinessName = m.data.BusinessName
	balance.PendingSettlement = m.data.PendingSettlement
	balance.CurrentMonthVolume = m.data.CurrentMonthVolume
	m.mu.Unlock()

	return balance, nil
}

// GetMerchant 查询商户账户
func (p *Processor) GetMerchant(merchantID string) (*model.MerchantAccount, error) {
	m := p.lookupMerchant(merchantID)
	if m == nil {
		return nil, ErrMerchantNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := m.data
	return &copied, nil
}

// GetTransaction 查询收单流水
func (p *Processor) GetTransaction(transactionID string) (*model.AcquirerTransaction, error) {
	p.txnMu.Lock()
	defer p.txnMu.Unlock()
	txn, ok := p.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	copied := *txn
	return &copied, nil
}

// selectNetwork 按卡号首位选择网络实例（简化的路由启发式）
func (p *Processor) selectNetwork(cardNumber string) *network.Router {
	number := model.NormalizeCardNumber(cardNumber)
	if number == "" {
		return nil
	}
	switch number[0] {
	case '4':
		return p.networks[model.BrandVisa]
	case '5':
		return p.networks[model.BrandMastercard]
	}
	return nil
}

// releaseVolume 回退预占的月交易量
func (p *Processor) releaseVolume(m *merchant, amount int64) {
	m.mu.Lock()
	m.data.CurrentMonthVolume -= amount
	m.mu.Unlock()
}

func (p *Processor) lookupMerchant(merchantID string) *merchant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.merchants[merchantID]
}

func (p *Processor) lookupTransaction(transactionID string) (*model.AcquirerTransaction, *network.Router, error) {
	p.txnMu.Lock()
	defer p.txnMu.Unlock()
	txn, ok := p.transactions[transactionID]
	if !ok {
		return nil, nil, ErrTransactionNotFound
	}
	return txn, p.networkByTxn[transactionID], nil
}
