package model

// ============================================================================
// 拒绝码
// ============================================================================
//
// 两套词表都是固定字符串集合，上游错误映射按字面值消费，不能改动。

// 发卡行级拒绝码
const (
	DeclineInvalidCard           = "invalid_card"
	DeclineCardDeclined          = "card_declined"
	DeclinePickupCard            = "pickup_card"
	DeclineFraudulent            = "fraudulent"
	DeclineExpiredCard           = "expired_card"
	DeclineIncorrectCVC          = "incorrect_cvc"
	DeclineTransactionNotAllowed = "transaction_not_allowed"
	DeclineInsufficientFunds     = "insufficient_funds"
	DeclineWithdrawalCountLimit  = "withdrawal_count_limit_exceeded"
)

// 网关级拒绝码
const (
	GatewayCardDeclined           = "card_declined"
	GatewayInsufficientFunds      = "insufficient_funds"
	GatewayExpiredCard            = "expired_card"
	GatewayInvalidNumber          = "invalid_number"
	GatewayInvalidCVV             = "invalid_cvv"
	GatewayStolenCard             = "stolen_card"
	GatewayLostCard               = "lost_card"
	GatewayIssuerUnavailable      = "issuer_unavailable"
	GatewayTryAgain               = "try_again"
	GatewayAuthenticationRequired = "authentication_required"
	GatewayProcessingError        = "processing_error"
	GatewayGatewayError           = "gateway_error"
)

// issuerToGateway 发卡行拒绝码 -> 网关拒绝码
// 失卡/盗卡/欺诈不向持卡人透露真实原因
var issuerToGateway = map[string]string{
	DeclineInvalidCard:           GatewayInvalidNumber,
	DeclineCardDeclined:          GatewayCardDeclined,
	DeclinePickupCard:            GatewayStolenCard,
	DeclineFraudulent:            GatewayCardDeclined,
	DeclineExpiredCard:           GatewayExpiredCard,
	DeclineIncorrectCVC:          GatewayInvalidCVV,
	DeclineTransactionNotAllowed: GatewayCardDeclined,
	DeclineInsufficientFunds:     GatewayInsufficientFunds,
	DeclineWithdrawalCountLimit:  GatewayTryAgain,
}

// GatewayDeclineCode 把发卡行拒绝码映射为网关词表
func GatewayDeclineCode(issuerCode string) string {
	if code, ok := issuerToGateway[issuerCode]; ok {
		return code
	}
	return GatewayCardDeclined
}

// declineMessages 对持卡人展示的文案
var declineMessages = map[string]string{
	GatewayCardDeclined:           "Your card was declined.",
	GatewayInsufficientFunds:      "Your card has insufficient funds.",
	GatewayExpiredCard:            "Your card has expired.",
	GatewayInvalidNumber:          "Your card number is invalid.",
	GatewayInvalidCVV:             "Your card's security code is invalid.",
	GatewayStolenCard:             "Your card was declined.",
	GatewayLostCard:               "Your card was declined.",
	GatewayIssuerUnavailable:      "The card issuer is temporarily unavailable.",
	GatewayTryAgain:               "Please try again.",
	GatewayAuthenticationRequired: "Additional authentication required.",
	GatewayProcessingError:        "An error occurred processing your card.",
	GatewayGatewayError:           "An error occurred processing your card.",
}

// DeclineMessage 网关拒绝码对应的文案
func DeclineMessage(gatewayCode string) string {
	if msg, ok := declineMessages[gatewayCode]; ok {
		return msg
	}
	return "Your card was declined."
}

// SoftDecline 软拒绝可由调用方换新幂等键重试，硬拒绝不允许重试
func SoftDecline(gatewayCode string) bool {
	switch gatewayCode {
	case GatewayTryAgain, GatewayIssuerUnavailable:
		return true
	}
	return false
}
