package gateway

import (
	"errors"
	"testing"
	"time"

	"cardpay/internal/config"
	"cardpay/internal/model"
	"cardpay/pkg/idgen"
)

func newTestVault(ttlMin int) *Vault {
	return NewVault(config.PaymentConfig{TokenTTLMin: ttlMin}, idgen.NewSequence())
}

func validCard() CardInput {
	return CardInput{
		CardNumber: "4242 4242 4242 4242",
		ExpMonth:   12,
		ExpYear:    2030,
		CVV:        "123",
	}
}

func TestCreateToken(t *testing.T) {
	v := newTestVault(15)

	token, err := v.CreateToken(validCard())
	if err != nil {
		t.Fatalf("创建令牌失败: %v", err)
	}
	if token.CardLastFour != "4242" {
		t.Errorf("后四位 = %q, want 4242", token.CardLastFour)
	}
	if token.CardBrand != model.BrandVisa {
		t.Errorf("品牌 = %q, want visa", token.CardBrand)
	}
	if token.Used {
		t.Error("新令牌不应是已使用状态")
	}
	if token.Fingerprint == "" {
		t.Error("缺少卡指纹")
	}

	// 同一张卡签发两个令牌，指纹一致
	token2, _ := v.CreateToken(validCard())
	if token2.Fingerprint != token.Fingerprint {
		t.Error("同卡令牌指纹应一致")
	}
	if token2.ID == token.ID {
		t.Error("令牌 ID 不应重复")
	}
}

func TestCreateTokenValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*CardInput)
		wantCode string
	}{
		{"非数字卡号", func(c *CardInput) { c.CardNumber = "4242abcd42424242" }, model.GatewayInvalidNumber},
		{"卡号过短", func(c *CardInput) { c.CardNumber = "424242424242" }, model.GatewayInvalidNumber},
		{"Luhn 校验失败", func(c *CardInput) { c.CardNumber = "4242424242424241" }, model.GatewayInvalidNumber},
		{"非法月份", func(c *CardInput) { c.ExpMonth = 13 }, "invalid_expiry_month"},
		{"年份太远", func(c *CardInput) { c.ExpYear = time.Now().Year() + 30 }, "invalid_expiry_year"},
		{"年份过去", func(c *CardInput) { c.ExpYear = 2020 }, "invalid_expiry_year"},
		{"CVV 位数不对", func(c *CardInput) { c.CVV = "12" }, model.GatewayInvalidCVV},
		{"CVV 非数字", func(c *CardInput) { c.CVV = "12a" }, model.GatewayInvalidCVV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVault(15)
			card := validCard()
			tt.mutate(&card)

			_, err := v.CreateToken(card)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("应返回 ValidationError, got %v", err)
			}
			if ve.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", ve.Code, tt.wantCode)
			}
		})
	}
}

func TestCreateTokenAmexCVV(t *testing.T) {
	v := newTestVault(15)
	card := CardInput{
		CardNumber: "378282246310005",
		ExpMonth:   12,
		ExpYear:    2030,
		CVV:        "1234",
	}
	token, err := v.CreateToken(card)
	if err != nil {
		t.Fatalf("amex 4 位 CVV 应通过: %v", err)
	}
	if token.CardBrand != model.BrandAmex {
		t.Errorf("品牌 = %q, want amex", token.CardBrand)
	}

	card.CVV = "123"
	if _, err := v.CreateToken(card); err == nil {
		t.Error("amex 3 位 CVV 应被拒绝")
	}
}

func TestUseTokenOnce(t *testing.T) {
	v := newTestVault(15)
	token, _ := v.CreateToken(validCard())

	card, used, err := v.UseToken(token.ID)
	if err != nil {
		t.Fatalf("消费令牌失败: %v", err)
	}
	if card.CardNumber != "4242424242424242" {
		t.Errorf("卡号 = %q", card.CardNumber)
	}
	if !used.Used {
		t.Error("返回的令牌应标记为已使用")
	}

	if _, _, err := v.UseToken(token.ID); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Errorf("err = %v, want ErrTokenAlreadyUsed", err)
	}
}

func TestUseTokenNotFound(t *testing.T) {
	v := newTestVault(15)
	if _, _, err := v.UseToken("tok_missing"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestUseTokenExpired(t *testing.T) {
	v := newTestVault(0) // TTL 0，签发即过期
	token, _ := v.CreateToken(validCard())

	time.Sleep(5 * time.Millisecond)
	if _, _, err := v.UseToken(token.ID); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
	if _, err := v.GetToken(token.ID); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}
