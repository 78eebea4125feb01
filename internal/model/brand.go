package model

import "strings"

// 卡组织（卡品牌）
const (
	BrandVisa       = "visa"
	BrandMastercard = "mastercard"
	BrandAmex       = "amex"
	BrandDiscover   = "discover"
	BrandUnknown    = "unknown"
)

// BIN 前缀表（简化版，真实世界有完整 BIN 库）
// 匹配规则：最长前缀优先，依次尝试 4 位、2 位、1 位前缀
var binPrefixes = map[string]string{
	"6011": BrandDiscover,
	"34":   BrandAmex,
	"37":   BrandAmex,
	"51":   BrandMastercard,
	"52":   BrandMastercard,
	"53":   BrandMastercard,
	"54":   BrandMastercard,
	"55":   BrandMastercard,
	"65":   BrandDiscover,
	"4":    BrandVisa,
	"6":    BrandDiscover,
}

// DetectBrand 根据卡号 BIN 识别卡组织
func DetectBrand(cardNumber string) string {
	number := NormalizeCardNumber(cardNumber)
	for _, n := range []int{4, 2, 1} {
		if len(number) < n {
			continue
		}
		if brand, ok := binPrefixes[number[:n]]; ok {
			return brand
		}
	}
	return BrandUnknown
}

// NormalizeCardNumber 去掉空格和连字符
func NormalizeCardNumber(cardNumber string) string {
	number := strings.ReplaceAll(cardNumber, " ", "")
	return strings.ReplaceAll(number, "-", "")
}

// ValidateLuhn Luhn 校验（mod 10），用于发现卡号输入错误
func ValidateLuhn(cardNumber string) bool {
	number := NormalizeCardNumber(cardNumber)
	if number == "" {
		return false
	}

	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}
