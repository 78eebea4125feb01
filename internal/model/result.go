package model

// ============================================================================
// 统一结果类型
// ============================================================================
//
// 原型实现里拒绝有时用异常、有时用字典表达，这里统一成单一的判别结果：
// approved / declined / error，各层的响应结构体内嵌携带它。

const (
	OutcomeApproved = "approved"
	OutcomeDeclined = "declined"
	OutcomeError    = "error"
)

// Result 一次授权类操作的判别结果
type Result struct {
	Outcome     string `json:"outcome"`
	DeclineCode string `json:"decline_code,omitempty"` // Outcome == declined 时的拒绝码
	Message     string `json:"message,omitempty"`      // 拒绝或错误的说明
}

// Approved 构造通过结果
func Approved() Result {
	return Result{Outcome: OutcomeApproved}
}

// Declined 构造拒绝结果
func Declined(code, message string) Result {
	return Result{Outcome: OutcomeDeclined, DeclineCode: code, Message: message}
}

// Errored 构造错误结果（基础设施/校验类失败，不属于银行拒绝）
func Errored(message string) Result {
	return Result{Outcome: OutcomeError, Message: message}
}

// IsApproved 是否通过
func (r Result) IsApproved() bool {
	return r.Outcome == OutcomeApproved
}
