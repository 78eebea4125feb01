package network

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"cardpay/internal/config"
	"cardpay/internal/issuer"
	"cardpay/internal/model"
	"cardpay/pkg/idgen"
)

// ============================================================================
// 卡组织（单网络实例）
// ============================================================================
//
// 卡组织位于收单行和发卡行之间：
//   1. 校验卡 BIN 与本网络匹配（一个 Router 实例只代表一个网络）
//   2. 把授权请求路由到注册的发卡行
//   3. 计算交换费/评估费
//   4. 记录网络级交易流水，供后续请款/撤销寻址

var (
	ErrTransactionNotFound = errors.New("网络交易不存在")
	ErrNotAuthorized       = errors.New("交易未处于已授权状态")
	ErrNoIssuer            = errors.New("没有可路由的发卡行")
)

// RouteRequest 收单行发给卡组织的授权请求
type RouteRequest struct {
	AcquirerID       string
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

// RouteResult 卡组织授权结果
type RouteResult struct {
	TransactionID string            `json:"transaction_id,omitempty"`
	Result        model.Result      `json:"result"`
	AuthCode      string            `json:"auth_code,omitempty"`
	AVSResult     string            `json:"avs_result,omitempty"`
	CVVResult     string            `json:"cvv_result,omitempty"`
	Fees          model.NetworkFees `json:"fees"`
}

// Router 单网络卡组织实例
type Router struct {
	networkType string
	cfg         config.NetworkConfig
	idgen       idgen.Generator

	mu            sync.Mutex
	issuers       map[string]*issuer.Ledger // issuer_id -> 发卡行
	defaultIssuer string
	transactions  map[string]*model.NetworkTransaction
}

// NewRouter 创建卡组织实例
func NewRouter(networkType string, cfg config.NetworkConfig, gen idgen.Generator) *Router {
	return &Router{
		networkType:  networkType,
		cfg:          cfg,
		idgen:        gen,
		issuers:      make(map[string]*issuer.Ledger),
		transactions: make(map[string]*model.NetworkTransaction),
	}
}

// NetworkType 本实例代表的网络
func (r *Router) NetworkType() string {
	return r.networkType
}

// RegisterIssuer 注册发卡行，第一个注册的作为默认路由目标
func (r *Router) RegisterIssuer(issuerID string, ledger *issuer.Ledger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issuers[issuerID] = ledger
	if r.defaultIssuer == "" {
		r.defaultIssuer = issuerID
	}
}

// Route 路由一笔授权
//
// 流程：BIN 校验 -> 定位发卡行 -> 转发授权 -> 计费 -> 记录网络流水。
// 冻结以网络交易 ID 为键建在发卡行，后续请款/撤销凭它寻址。
func (r *Router) Route(req RouteRequest) *RouteResult {
	// 本实例只受理自己网络的卡
	if brand := model.DetectBrand(req.CardNumber); brand != r.networkType {
		return &RouteResult{
			Result: model.Errored(fmt.Sprintf("Card not valid for %s network", r.networkType)),
		}
	}

	r.mu.Lock()
	issuerID := r.defaultIssuer
	ledger := r.issuers[issuerID]
	r.mu.Unlock()
	if ledger == nil {
		return &RouteResult{Result: model.Errored("No issuing bank found for card")}
	}

	transactionID := r.idgen.New("nt_")

	resp := ledger.Authorize(issuer.AuthorizationRequest{
		RequestID:        transactionID,
		CardNumber:       req.CardNumber,
		ExpMonth:         req.ExpMonth,
		ExpYear:          req.ExpYear,
		CVV:              req.CVV,
		Amount:           req.Amount,
		Currency:         req.Currency,
		MerchantID:       req.MerchantID,
		MerchantName:     req.MerchantName,
		MerchantCategory: req.MerchantCategory,
	})

	fees := model.NetworkFees{
		Interchange: req.Amount * r.cfg.InterchangeFeeBps / 10000,
		Assessment:  req.Amount * r.cfg.AssessmentFeeBps / 10000,
	}

	status := model.NetworkTxnStatusApproved
	if !resp.Result.IsApproved() {
		status = model.NetworkTxnStatusDeclined
	}

	txn := &model.NetworkTransaction{
		TransactionID: transactionID,
		Network:       r.networkType,
		AcquirerID:    req.AcquirerID,
		IssuerID:      issuerID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		AuthCode:      resp.AuthCode,
		Status:        status,
		DeclineCode:   resp.Result.DeclineCode,
		MerchantID:    req.MerchantID,
		Fees:          fees,
		CreatedAt:     time.Now(),
	}

	r.mu.Lock()
	r.transactions[transactionID] = txn
	r.mu.Unlock()

	return &RouteResult{
		TransactionID: transactionID,
		Result:        resp.Result,
		AuthCode:      resp.AuthCode,
		AVSResult:     resp.AVSResult,
		CVVResult:     resp.CVVResult,
		Fees:          fees,
	}
}

// Capture 请款：找到流水并转发给当初授权的发卡行
func (r *Router) Capture(transactionID string, amount int64) error {
	txn, ledger, err := r.lookupForUpdate(transactionID)
	if err != nil {
		return err
	}

	if err := ledger.Capture(transactionID, amount); err != nil {
		return err
	}

	r.mu.Lock()
	txn.Status = model.NetworkTxnStatusCaptured
	r.mu.Unlock()
	return nil
}

// Void 撤销：释放发卡行冻结
func (r *Router) Void(transactionID string) error {
	txn, ledger, err := r.lookupForUpdate(transactionID)
	if err != nil {
		return err
	}

	if err := ledger.Void(transactionID); err != nil {
		return err
	}

	r.mu.Lock()
	txn.Status = model.NetworkTxnStatusVoided
	r.mu.Unlock()
	return nil
}

// GetTransaction 查询网络流水
func (r *Router) GetTransaction(transactionID string) (*model.NetworkTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	copied := *txn
	return &copied, nil
}

// lookupForUpdate 取可转发的已授权流水及其发卡行
func (r *Router) lookupForUpdate(transactionID string) (*model.NetworkTransaction, *issuer.Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.transactions[transactionID]
	if !ok {
		return nil, nil, ErrTransactionNotFound
	}
	if txn.Status != model.NetworkTxnStatusApproved {
		return nil, nil, ErrNotAuthorized
	}
	ledger, ok := r.issuers[txn.IssuerID]
	if !ok {
		return nil, nil, ErrNoIssuer
	}
	return txn, ledger, nil
}
