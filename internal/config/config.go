package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server      ServerConfig             `mapstructure:"server"`
	Payment     PaymentConfig            `mapstructure:"payment"`
	Issuer      IssuerConfig             `mapstructure:"issuer"`
	Networks    map[string]NetworkConfig `mapstructure:"networks"`
	Acquirer    AcquirerConfig           `mapstructure:"acquirer"`
	Idempotency IdempotencyConfig        `mapstructure:"idempotency"`
	Webhook     WebhookConfig            `mapstructure:"webhook"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PaymentConfig 支付金额边界与授权有效期
type PaymentConfig struct {
	MinAmountCents int64 `mapstructure:"min_amount_cents"`
	MaxAmountCents int64 `mapstructure:"max_amount_cents"`
	AuthHoldDays   int   `mapstructure:"auth_hold_days"`
	TokenTTLMin    int   `mapstructure:"token_ttl_minutes"`
}

// IssuerConfig 发卡行风控默认值
type IssuerConfig struct {
	BankName               string `mapstructure:"bank_name"`
	VelocityLimit          int    `mapstructure:"velocity_limit"`
	SingleTransactionLimit int64  `mapstructure:"single_transaction_limit"`
	DefaultCreditLimit     int64  `mapstructure:"default_credit_limit"`
	DefaultAccountBalance  int64  `mapstructure:"default_account_balance"`
}

// NetworkConfig 卡组织手续费（基点），按网络类型独立配置
type NetworkConfig struct {
	InterchangeFeeBps int64 `mapstructure:"interchange_fee_bps"`
	AssessmentFeeBps  int64 `mapstructure:"assessment_fee_bps"`
}

// AcquirerConfig 收单行商户计价默认值
type AcquirerConfig struct {
	BankName            string `mapstructure:"bank_name"`
	DiscountRateBps     int64  `mapstructure:"discount_rate_bps"`
	FixedFeeCents       int64  `mapstructure:"fixed_fee_cents"`
	MonthlyVolumeLimit  int64  `mapstructure:"monthly_volume_limit"`
	SettlementDelayDays int    `mapstructure:"settlement_delay_days"`
}

// IdempotencyConfig 幂等记录 TTL 与有界等待
type IdempotencyConfig struct {
	TTLHours        int `mapstructure:"ttl_hours"`
	WaitTimeoutSecs int `mapstructure:"wait_timeout_seconds"`
}

// WebhookConfig 回调投递参数
type WebhookConfig struct {
	TimeoutSeconds  int   `mapstructure:"timeout_seconds"`
	MaxRetries      int   `mapstructure:"max_retries"`
	RetryDelaysSecs []int `mapstructure:"retry_delays_seconds"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	return config
}

// Default 默认配置（测试和本地演示用，与 config.yaml 保持一致）
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Payment: PaymentConfig{
			MinAmountCents: 50,
			MaxAmountCents: 99999999,
			AuthHoldDays:   7,
			TokenTTLMin:    15,
		},
		Issuer: IssuerConfig{
			BankName:               "Demo Issuing Bank",
			VelocityLimit:          5,
			SingleTransactionLimit: 100000,
			DefaultCreditLimit:     500000,
			DefaultAccountBalance:  100000,
		},
		Networks: map[string]NetworkConfig{
			"visa": {
				InterchangeFeeBps: 200,
				AssessmentFeeBps:  13,
			},
			"mastercard": {
				InterchangeFeeBps: 200,
				AssessmentFeeBps:  13,
			},
		},
		Acquirer: AcquirerConfig{
			BankName:            "Demo Acquiring Bank",
			DiscountRateBps:     290,
			FixedFeeCents:       30,
			MonthlyVolumeLimit:  10000000,
			SettlementDelayDays: 2,
		},
		Idempotency: IdempotencyConfig{
			TTLHours:        24,
			WaitTimeoutSecs: 30,
		},
		Webhook: WebhookConfig{
			TimeoutSeconds:  30,
			MaxRetries:      5,
			RetryDelaysSecs: []int{0, 60, 300, 1800, 7200},
		},
	}
}
