package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"cardpay/internal/acquirer"
	"cardpay/internal/config"
	"cardpay/internal/idempotency"
	"cardpay/internal/issuer"
	"cardpay/internal/model"
	"cardpay/internal/network"
	"cardpay/pkg/idgen"
)

// testStack 编排器集成测试用的完整链路
type testStack struct {
	orchestrator *Orchestrator
	vault        *Vault
	ledger       *issuer.Ledger
	webhooks     *Dispatcher
	merchantID   string
}

func newTestStack(t *testing.T, fraud *Detector) *testStack {
	t.Helper()
	gen := idgen.NewSequence()
	cfg := config.Default()

	ledger := issuer.NewLedger(cfg.Issuer.BankName, cfg.Issuer)
	issuer.SeedTestAccounts(ledger)

	networks := make(map[string]*network.Router)
	for _, networkType := range []string{model.BrandVisa, model.BrandMastercard} {
		router := network.NewRouter(networkType, config.NetworkConfig{}, gen)
		router.RegisterIssuer("test_issuer", ledger)
		networks[networkType] = router
	}

	processor := acquirer.NewProcessor(cfg.Acquirer.BankName, cfg.Acquirer, gen, networks)
	merchant := processor.CreateMerchant("Test Store", "5999")

	guard := idempotency.NewGuard(idempotency.NewStore(time.Hour), 5*time.Second)
	vault := NewVault(cfg.Payment, gen)
	webhooks := NewDispatcher(cfg.Webhook)

	return &testStack{
		orchestrator: NewOrchestrator(cfg.Payment, gen, vault, fraud, processor, guard, webhooks),
		vault:        vault,
		ledger:       ledger,
		webhooks:     webhooks,
		merchantID:   merchant.MerchantID,
	}
}

func (s *testStack) token(t *testing.T, cardNumber string) *Token {
	t.Helper()
	token, err := s.vault.CreateToken(CardInput{
		CardNumber: cardNumber,
		ExpMonth:   12,
		ExpYear:    2030,
		CVV:        "123",
	})
	if err != nil {
		t.Fatalf("创建令牌失败: %v", err)
	}
	return token
}

func (s *testStack) chargeReq(token *Token, amount int64, capture bool) ChargeRequest {
	return ChargeRequest{
		TokenID:    token.ID,
		Amount:     amount,
		Currency:   "usd",
		Capture:    capture,
		MerchantID: s.merchantID,
		IPAddress:  "192.168.1.1",
	}
}

// emittedTypes 收集已发出的事件类型
func (s *testStack) emittedTypes() map[string]int {
	s.webhooks.mu.Lock()
	defer s.webhooks.mu.Unlock()
	types := make(map[string]int)
	for _, event := range s.webhooks.events {
		types[event.Type]++
	}
	return types
}

func TestCreateChargeSucceeded(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4242424242424242")

	charge, err := s.orchestrator.CreateCharge(context.Background(), s.chargeReq(token, 9900, true))
	if err != nil {
		t.Fatalf("创建支付单失败: %v", err)
	}
	if charge.Status != model.ChargeStatusSucceeded {
		t.Errorf("状态 = %q, want succeeded", charge.Status)
	}
	if !charge.Captured {
		t.Error("应标记为已请款")
	}
	if charge.CardLastFour != "4242" || charge.CardBrand != model.BrandVisa {
		t.Errorf("卡信息 = %q/%q", charge.CardLastFour, charge.CardBrand)
	}
	if charge.AuthCode == "" {
		t.Error("缺少授权码")
	}
	if s.emittedTypes()[model.EventChargeSucceeded] != 1 {
		t.Error("应发出 charge.succeeded 事件")
	}

	got, err := s.orchestrator.GetCharge(charge.ID)
	if err != nil || got.ID != charge.ID {
		t.Errorf("查询支付单失败: %v", err)
	}
}

func TestCreateChargeDeclined(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4000000000000002") // 被冻结的测试卡

	charge, err := s.orchestrator.CreateCharge(context.Background(), s.chargeReq(token, 9900, true))
	if err != nil {
		t.Fatalf("拒绝应返回 failed 单而不是 error: %v", err)
	}
	if charge.Status != model.ChargeStatusFailed {
		t.Errorf("状态 = %q, want failed", charge.Status)
	}
	if charge.DeclineCode != model.GatewayCardDeclined {
		t.Errorf("拒绝码 = %q, want card_declined", charge.DeclineCode)
	}
	if charge.DeclineMessage != "Your card was declined." {
		t.Errorf("拒绝文案 = %q", charge.DeclineMessage)
	}
	if s.emittedTypes()[model.EventChargeFailed] != 1 {
		t.Error("应发出 charge.failed 事件")
	}
}

func TestCreateChargeInsufficientFunds(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4000000000009995") // 额度只剩 100

	charge, err := s.orchestrator.CreateCharge(context.Background(), s.chargeReq(token, 5000, true))
	if err != nil {
		t.Fatalf("创建支付单失败: %v", err)
	}
	if charge.DeclineCode != model.GatewayInsufficientFunds {
		t.Errorf("拒绝码 = %q, want insufficient_funds", charge.DeclineCode)
	}
}

func TestCreateChargeAmountValidation(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4242424242424242")

	req := s.chargeReq(token, 10, true)
	if _, err := s.orchestrator.CreateCharge(context.Background(), req); !errors.Is(err, ErrAmountTooSmall) {
		t.Errorf("err = %v, want ErrAmountTooSmall", err)
	}

	req.Amount = 100000000
	if _, err := s.orchestrator.CreateCharge(context.Background(), req); !errors.Is(err, ErrAmountTooLarge) {
		t.Errorf("err = %v, want ErrAmountTooLarge", err)
	}

	// 金额校验在令牌消费之前，令牌仍可用
	req.Amount = 9900
	if _, err := s.orchestrator.CreateCharge(context.Background(), req); err != nil {
		t.Errorf("令牌不应被非法金额的请求消费: %v", err)
	}
}

func TestAuthOnlyThenCapture(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4242424242424242")

	charge, err := s.orchestrator.CreateCharge(context.Background(), s.chargeReq(token, 50000, false))
	if err != nil {
		t.Fatalf("创建授权单失败: %v", err)
	}
	if charge.Status != model.ChargeStatusAuthorized {
		t.Errorf("状态 = %q, want authorized", charge.Status)
	}
	if charge.AuthorizationID == "" {
		t.Fatal("缺少授权引用")
	}

	auth, err := s.orchestrator.GetAuthorization(charge.AuthorizationID)
	if err != nil {
		t.Fatalf("查询授权失败: %v", err)
	}
	if auth.Status != model.AuthorizationStatusActive {
		t.Errorf("授权状态 = %q, want active", auth.Status)
	}
	if s.emittedTypes()[model.EventAuthorizationCreated] != 1 {
		t.Error("应发出 authorization.created 事件")
	}

	// 部分请款（酒店场景：实际消费低于预授权）
	captured, err := s.orchestrator.Capture(context.Background(), auth.ID, 45000, "")
	if err != nil {
		t.Fatalf("请款失败: %v", err)
	}
	if captured.Amount != 45000 || captured.Status != model.ChargeStatusSucceeded {
		t.Errorf("请款单 = %+v", captured)
	}

	auth, _ = s.orchestrator.GetAuthorization(auth.ID)
	if auth.Status != model.AuthorizationStatusCaptured {
		t.Errorf("授权状态 = %q, want captured", auth.Status)
	}
	if auth.CapturedAmount != 45000 {
		t.Errorf("已请款金额 = %d, want 45000", auth.CapturedAmount)
	}

	// captured 是终态
	if _, err := s.orchestrator.Capture(context.Background(), auth.ID, 5000, ""); !errors.Is(err, ErrAlreadyCaptured) {
		t.Errorf("err = %v, want ErrAlreadyCaptured", err)
	}
	if _, err := s.orchestrator.Void(context.Background(), auth.ID, ""); !errors.Is(err, ErrAlreadyCaptured) {
		t.Errorf("err = %v, want ErrAlreadyCaptured", err)
	}
}

func TestCaptureExceedsRemaining(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4242424242424242")

	auth, err := s.orchestrator.Authorize(context.Background(), s.chargeReq(token, 50000, false))
	if err != nil {
		t.Fatalf("授权失败: %v", err)
	}
	if _, err := s.orchestrator.Capture(context.Background(), auth.ID, 60000, ""); !errors.Is(err, ErrCaptureExceedsAuth) {
		t.Errorf("err = %v, want ErrCaptureExceedsAuth", err)
	}
}

func TestVoidAuthorization(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4242424242424242")

	auth, err := s.orchestrator.Authorize(context.Background(), s.chargeReq(token, 50000, false))
	if err != nil {
		t.Fatalf("授权失败: %v", err)
	}

	voided, err := s.orchestrator.Void(context.Background(), auth.ID, "")
	if err != nil {
		t.Fatalf("撤销失败: %v", err)
	}
	if voided.Status != model.AuthorizationStatusVoided {
		t.Errorf("授权状态 = %q, want voided", voided.Status)
	}
	if s.emittedTypes()[model.EventAuthorizationVoided] != 1 {
		t.Error("应发出 authorization.voided 事件")
	}

	// 发卡行冻结已释放
	status, _ := s.ledger.GetAccountStatus("4242424242424242")
	if status.Available != 1000000 {
		t.Errorf("撤销后可用资金 = %d, want 1000000", status.Available)
	}

	if _, err := s.orchestrator.Void(context.Background(), auth.ID, ""); !errors.Is(err, ErrAlreadyVoided) {
		t.Errorf("err = %v, want ErrAlreadyVoided", err)
	}
	if _, err := s.orchestrator.Capture(context.Background(), auth.ID, 50000, ""); !errors.Is(err, ErrAlreadyVoided) {
		t.Errorf("err = %v, want ErrAlreadyVoided", err)
	}
}

// 过期是惰性判定的：请款时才把过期授权翻成 expired
func TestCaptureExpiredAuthorization(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4242424242424242")

	auth, err := s.orchestrator.Authorize(context.Background(), s.chargeReq(token, 50000, false))
	if err != nil {
		t.Fatalf("授权失败: %v", err)
	}

	s.orchestrator.mu.Lock()
	s.orchestrator.authorizations[auth.ID].ExpiresAt = time.Now().Add(-time.Hour)
	s.orchestrator.mu.Unlock()

	if _, err := s.orchestrator.Capture(context.Background(), auth.ID, 50000, ""); !errors.Is(err, ErrAuthorizationExpired) {
		t.Errorf("err = %v, want ErrAuthorizationExpired", err)
	}

	got, _ := s.orchestrator.GetAuthorization(auth.ID)
	if got.Status != model.AuthorizationStatusExpired {
		t.Errorf("授权状态 = %q, want expired", got.Status)
	}
	if s.emittedTypes()[model.EventAuthorizationExpired] != 1 {
		t.Error("应发出 authorization.expired 事件")
	}
}

func TestAuthorizeDeclineError(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4000000000000002")

	_, err := s.orchestrator.Authorize(context.Background(), s.chargeReq(token, 9900, false))
	var decline *DeclineError
	if !errors.As(err, &decline) {
		t.Fatalf("应返回 DeclineError, got %v", err)
	}
	if decline.Code != model.GatewayCardDeclined {
		t.Errorf("拒绝码 = %q, want card_declined", decline.Code)
	}
}

func TestCreateChargeInvalidMerchant(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4242424242424242")

	req := s.chargeReq(token, 9900, true)
	req.MerchantID = "merch_missing"
	_, err := s.orchestrator.CreateCharge(context.Background(), req)
	var processing *ProcessingError
	if !errors.As(err, &processing) {
		t.Fatalf("应返回 ProcessingError, got %v", err)
	}
}

func TestIdempotentCreateCharge(t *testing.T) {
	s := newTestStack(t, nil)
	token := s.token(t, "4242424242424242")

	req := s.chargeReq(token, 9900, true)
	req.IdempotencyKey = "idem_1"

	first, err := s.orchestrator.CreateCharge(context.Background(), req)
	if err != nil {
		t.Fatalf("首次请求失败: %v", err)
	}
	// 同 key 重试命中缓存：令牌已被消费也不会报错
	second, err := s.orchestrator.CreateCharge(context.Background(), req)
	if err != nil {
		t.Fatalf("重试失败: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("两次返回的支付单不一致: %q != %q", first.ID, second.ID)
	}

	// 同 key 不同参数是调用方错误
	req.Amount = 5000
	if _, err := s.orchestrator.CreateCharge(context.Background(), req); !errors.Is(err, idempotency.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

// 风控 decline 在任何银行调用之前拦截
func TestFraudDeclineBlocksBeforeBank(t *testing.T) {
	fraud := NewDetector()
	s := newTestStack(t, fraud)
	token := s.token(t, "4242424242424242")

	// 同卡指纹短时间内大量尝试，触发 critical 档
	for i := 0; i < 7; i++ {
		fraud.RecordAttempt("10.0.0.9", token.Fingerprint, true)
	}

	charge, err := s.orchestrator.CreateCharge(context.Background(), s.chargeReq(token, 9900, true))
	if err != nil {
		t.Fatalf("风控拦截应返回 failed 单: %v", err)
	}
	if charge.Status != model.ChargeStatusFailed {
		t.Errorf("状态 = %q, want failed", charge.Status)
	}
	if charge.DeclineCode != model.GatewayCardDeclined {
		t.Errorf("拒绝码 = %q, want card_declined", charge.DeclineCode)
	}

	// 发卡行未被触达，资金无任何冻结
	status, _ := s.ledger.GetAccountStatus("4242424242424242")
	if status.Available != 1000000 {
		t.Errorf("发卡行可用资金 = %d, want 1000000", status.Available)
	}
}

func TestListCharges(t *testing.T) {
	s := newTestStack(t, nil)

	for i := 0; i < 3; i++ {
		token := s.token(t, "4242424242424242")
		if _, err := s.orchestrator.CreateCharge(context.Background(), s.chargeReq(token, 9900, true)); err != nil {
			t.Fatalf("创建支付单失败: %v", err)
		}
	}

	charges := s.orchestrator.ListCharges(s.merchantID, 2)
	if len(charges) != 2 {
		t.Errorf("limit 生效失败, got %d", len(charges))
	}
	if got := s.orchestrator.ListCharges("merch_other", 10); len(got) != 0 {
		t.Errorf("商户过滤失败, got %d", len(got))
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStack(t, nil)
	if _, err := s.orchestrator.GetCharge("ch_missing"); !errors.Is(err, ErrChargeNotFound) {
		t.Errorf("err = %v, want ErrChargeNotFound", err)
	}
	if _, err := s.orchestrator.GetAuthorization("auth_missing"); !errors.Is(err, ErrAuthorizationNotFound) {
		t.Errorf("err = %v, want ErrAuthorizationNotFound", err)
	}
}
