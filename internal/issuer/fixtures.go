package issuer

import (
	"cardpay/internal/model"
)

// SeedTestAccounts 注入演示用的测试卡组合
//
// 卡号设计参考行业通用的测试卡：4242... 恒成功，
// 4000...9995 资金不足，4000...0002 被冻结，4100...0019 疑似欺诈。
func SeedTestAccounts(l *Ledger) {
	accounts := []model.CardAccount{
		{
			CardNumber:     "4242424242424242",
			CardholderName: "Test Success",
			ExpMonth:       12,
			ExpYear:        2030,
			CVV:            "123",
			CreditLimit:    1000000, // $10,000
		},
		{
			CardNumber:     "4000000000009995",
			CardholderName: "Test Insufficient",
			ExpMonth:       12,
			ExpYear:        2030,
			CVV:            "123",
			CreditLimit:    10000, // 额度 $100
			CurrentBalance: 9900,  // 已用 $99
		},
		{
			CardNumber:     "4000000000000002",
			CardholderName: "Test Declined",
			ExpMonth:       12,
			ExpYear:        2030,
			CVV:            "123",
			Status:         model.CardStatusBlocked,
			CreditLimit:    500000,
		},
		{
			CardNumber:     "4100000000000019",
			CardholderName: "Test Fraud",
			ExpMonth:       12,
			ExpYear:        2030,
			CVV:            "123",
			Status:         model.CardStatusFraudSuspect,
			CreditLimit:    500000,
		},
		{
			CardNumber:     "5555555555554444",
			CardholderName: "Test MC Success",
			ExpMonth:       12,
			ExpYear:        2030,
			CVV:            "123",
			CreditLimit:    500000,
		},
		{
			CardNumber:     "4000056655665556",
			CardholderName: "Test Debit",
			ExpMonth:       12,
			ExpYear:        2030,
			CVV:            "123",
			AccountType:    model.AccountTypeDebit,
			AccountBalance: 50000, // $500
		},
	}

	for _, acct := range accounts {
		// 重复注册只可能是调用方重复播种，忽略即可
		_ = l.RegisterAccount(acct)
	}
}
