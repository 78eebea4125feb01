package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"cardpay/internal/config"
	"cardpay/internal/model"
	"cardpay/pkg/idgen"
)

// ============================================================================
// 卡片令牌化
// ============================================================================
//
// 令牌化把真实卡号挡在商户系统之外：客户端把卡数据换成一次性 token，
// 后续支付只携带 token，明文卡号只在金库内部流转。

var (
	ErrTokenNotFound    = errors.New("令牌不存在")
	ErrTokenExpired     = errors.New("令牌已过期")
	ErrTokenAlreadyUsed = errors.New("一次性令牌已被使用")
)

// ValidationError 卡数据校验失败，code 沿用网关拒绝码词表风格
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// CardInput 客户端提交的原始卡数据
type CardInput struct {
	CardNumber     string `json:"card_number"`
	ExpMonth       int    `json:"exp_month"`
	ExpYear        int    `json:"exp_year"`
	CVV            string `json:"cvv"`
	CardholderName string `json:"cardholder_name,omitempty"`
}

// Token 一次性支付令牌，对外只暴露非敏感字段
type Token struct {
	ID           string    `json:"id"`
	CardLastFour string    `json:"card_last_four"`
	CardBrand    string    `json:"card_brand"`
	ExpMonth     int       `json:"exp_month"`
	ExpYear      int       `json:"exp_year"`
	Fingerprint  string    `json:"fingerprint"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Used         bool      `json:"used"`
}

// Expired 令牌是否已过 TTL
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// vaultEntry 金库条目：令牌与明文卡数据放在一起，明文绝不出库
type vaultEntry struct {
	token Token
	card  CardInput
}

// Vault 内存卡金库
type Vault struct {
	ttl   time.Duration
	salt  string
	idgen idgen.Generator

	mu     sync.Mutex
	tokens map[string]*vaultEntry
}

// NewVault 创建卡金库
func NewVault(cfg config.PaymentConfig, gen idgen.Generator) *Vault {
	return &Vault{
		ttl:    time.Duration(cfg.TokenTTLMin) * time.Minute,
		salt:   "cardpay_fingerprint_salt",
		idgen:  gen,
		tokens: make(map[string]*vaultEntry),
	}
}

// CreateToken 校验卡数据并签发一次性令牌
func (v *Vault) CreateToken(in CardInput) (*Token, error) {
	in.CardNumber = model.NormalizeCardNumber(in.CardNumber)
	if err := validateCard(in); err != nil {
		return nil, err
	}

	now := time.Now()
	token := Token{
		ID:           v.idgen.New("tok_"),
		CardLastFour: in.CardNumber[len(in.CardNumber)-4:],
		CardBrand:    model.DetectBrand(in.CardNumber),
		ExpMonth:     in.ExpMonth,
		ExpYear:      in.ExpYear,
		Fingerprint:  Fingerprint(in.CardNumber, in.ExpMonth, in.ExpYear, v.salt),
		CreatedAt:    now,
		ExpiresAt:    now.Add(v.ttl),
	}

	v.mu.Lock()
	v.tokens[token.ID] = &vaultEntry{token: token, card: in}
	v.mu.Unlock()

	copied := token
	return &copied, nil
}

// GetToken 查询令牌（不消费）
func (v *Vault) GetToken(tokenID string) (*Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.tokens[tokenID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if entry.token.Expired(time.Now()) {
		return nil, ErrTokenExpired
	}
	copied := entry.token
	return &copied, nil
}

// UseToken 消费令牌，取出明文卡数据用于发往银行网络
// 令牌是一次性的：标记 used 必须和检查在同一把锁内完成
func (v *Vault) UseToken(tokenID string) (CardInput, *Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.tokens[tokenID]
	if !ok {
		return CardInput{}, nil, ErrTokenNotFound
	}
	if entry.token.Expired(time.Now()) {
		return CardInput{}, nil, ErrTokenExpired
	}
	if entry.token.Used {
		return CardInput{}, nil, ErrTokenAlreadyUsed
	}
	entry.token.Used = true

	copied := entry.token
	return entry.card, &copied, nil
}

// Fingerprint 卡指纹：同一张卡不论 token 签发多少次指纹不变，用于重复识别
func Fingerprint(cardNumber string, expMonth, expYear int, salt string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s", cardNumber, expMonth, expYear, salt)))
	return hex.EncodeToString(sum[:])[:32]
}

// validateCard 卡数据形状校验
func validateCard(in CardInput) error {
	if !allDigits(in.CardNumber) {
		return &ValidationError{Code: model.GatewayInvalidNumber, Message: "Card number must contain only digits"}
	}
	if len(in.CardNumber) < 13 || len(in.CardNumber) > 19 {
		return &ValidationError{Code: model.GatewayInvalidNumber, Message: "Card number must be between 13 and 19 digits"}
	}
	if !model.ValidateLuhn(in.CardNumber) {
		return &ValidationError{Code: model.GatewayInvalidNumber, Message: "Card number is invalid"}
	}

	if in.ExpMonth < 1 || in.ExpMonth > 12 {
		return &ValidationError{Code: "invalid_expiry_month", Message: "Expiration month must be between 1 and 12"}
	}
	now := time.Now().UTC()
	if in.ExpYear < now.Year() || in.ExpYear > now.Year()+20 {
		return &ValidationError{Code: "invalid_expiry_year", Message: "Expiration year is invalid"}
	}
	if in.ExpYear == now.Year() && in.ExpMonth < int(now.Month()) {
		return &ValidationError{Code: model.GatewayExpiredCard, Message: "Card has expired"}
	}

	// Amex 的 CVV 是 4 位，其余网络 3 位
	expectedCVVLen := 3
	if model.DetectBrand(in.CardNumber) == model.BrandAmex {
		expectedCVVLen = 4
	}
	if !allDigits(in.CVV) || len(in.CVV) != expectedCVVLen {
		return &ValidationError{
			Code:    model.GatewayInvalidCVV,
			Message: fmt.Sprintf("CVV must be %d digits", expectedCVVLen),
		}
	}
	return nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
