package gateway

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 风控评估
// ============================================================================
//
// 按 IP 和卡指纹的滑动窗口频次加上金额特征做加权打分，
// 打分映射到四档建议。decline 档在任何银行调用之前直接拦截。

// 风控建议
const (
	RecommendApprove = "approve"       // 放行
	Recommend3DS     = "3ds_required"  // 要求附加认证
	RecommendReview  = "review"        // 转人工审核
	RecommendDecline = "decline"       // 直接拒绝
)

// 风险等级
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// 信号类型
const (
	SignalVelocityIP     = "velocity_ip"
	SignalVelocityCard   = "velocity_card"
	SignalFailedAttempts = "failed_attempts"
	SignalTestAmount     = "test_amount"
	SignalHighAmount     = "high_amount"
)

// Signal 单个风控信号，score 为 0~1 的风险贡献
type Signal struct {
	Type   string  `json:"type"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Assessment 一次完整的风险评估
type Assessment struct {
	Score          float64  `json:"score"`
	Level          string   `json:"level"`
	Signals        []Signal `json:"signals"`
	Recommendation string   `json:"recommendation"`
}

// RiskInput 评估入参
type RiskInput struct {
	Amount      int64
	Fingerprint string
	IPAddress   string
}

// Detector 风控引擎，滑动窗口计数全部在内存中维护
type Detector struct {
	mu             sync.Mutex
	ipRequests     map[string][]time.Time // IP -> 请求时间戳
	cardRequests   map[string][]time.Time // 卡指纹 -> 请求时间戳
	failedAttempts map[string][]time.Time // IP -> 失败时间戳
}

// NewDetector 创建风控引擎
func NewDetector() *Detector {
	return &Detector{
		ipRequests:     make(map[string][]time.Time),
		cardRequests:   make(map[string][]time.Time),
		failedAttempts: make(map[string][]time.Time),
	}
}

// RecordAttempt 记录一次支付尝试，供后续窗口计数
func (d *Detector) RecordAttempt(ipAddress, fingerprint string, success bool) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	if ipAddress != "" {
		d.ipRequests[ipAddress] = append(d.ipRequests[ipAddress], now)
		if !success {
			d.failedAttempts[ipAddress] = append(d.failedAttempts[ipAddress], now)
		}
	}
	if fingerprint != "" {
		d.cardRequests[fingerprint] = append(d.cardRequests[fingerprint], now)
	}
}

// Assess 评估一笔交易的风险
func (d *Detector) Assess(in RiskInput) *Assessment {
	var signals []Signal

	if in.IPAddress != "" {
		signals = append(signals, d.checkIPVelocity(in.IPAddress))
		signals = append(signals, d.checkFailedAttempts(in.IPAddress))
	}
	if in.Fingerprint != "" {
		signals = append(signals, d.checkCardVelocity(in.Fingerprint))
	}
	signals = append(signals, checkAmount(in.Amount))

	// 只保留命中的信号
	active := signals[:0]
	for _, s := range signals {
		if s.Score > 0 {
			active = append(active, s)
		}
	}

	// 综合打分：均值和峰值加权混合，峰值权重更高，
	// 单个致命信号不会被一堆零分信号稀释掉
	score := 0.0
	if len(active) > 0 {
		total, peak := 0.0, 0.0
		for _, s := range active {
			total += s.Score
			if s.Score > peak {
				peak = s.Score
			}
		}
		score = total/float64(len(active))*0.3 + peak*0.7
		if score > 1.0 {
			score = 1.0
		}
	}

	level, recommendation := gradeScore(score)
	return &Assessment{
		Score:          score,
		Level:          level,
		Signals:        active,
		Recommendation: recommendation,
	}
}

// gradeScore 分数 -> 等级和建议
func gradeScore(score float64) (string, string) {
	switch {
	case score >= 0.9:
		return RiskCritical, RecommendDecline
	case score >= 0.7:
		return RiskHigh, RecommendReview
	case score >= 0.5:
		return RiskMedium, Recommend3DS
	default:
		return RiskLow, RecommendApprove
	}
}

// checkIPVelocity 同 IP 1 小时窗口内的请求数
func (d *Detector) checkIPVelocity(ipAddress string) Signal {
	count := d.countInWindow(d.ipRequests, ipAddress, time.Hour)
	switch {
	case count > 20:
		return Signal{SignalVelocityIP, 0.9, fmt.Sprintf("Very high velocity: %d requests from IP in 1 hour", count)}
	case count > 10:
		return Signal{SignalVelocityIP, 0.6, fmt.Sprintf("High velocity: %d requests from IP in 1 hour", count)}
	case count > 5:
		return Signal{SignalVelocityIP, 0.3, fmt.Sprintf("Elevated velocity: %d requests from IP in 1 hour", count)}
	}
	return Signal{Type: SignalVelocityIP}
}

// checkCardVelocity 同卡 10 分钟窗口内的请求数，高频通常是 CVV 爆破
func (d *Detector) checkCardVelocity(fingerprint string) Signal {
	count := d.countInWindow(d.cardRequests, fingerprint, 10*time.Minute)
	switch {
	case count > 5:
		return Signal{SignalVelocityCard, 0.95, fmt.Sprintf("Card tested %d times in 10 minutes", count)}
	case count > 3:
		return Signal{SignalVelocityCard, 0.7, fmt.Sprintf("Card used %d times in 10 minutes", count)}
	}
	return Signal{Type: SignalVelocityCard}
}

// checkFailedAttempts 同 IP 1 小时窗口内的失败次数
func (d *Detector) checkFailedAttempts(ipAddress string) Signal {
	count := d.countInWindow(d.failedAttempts, ipAddress, time.Hour)
	switch {
	case count > 10:
		return Signal{SignalFailedAttempts, 0.9, fmt.Sprintf("%d failed attempts from IP in 1 hour", count)}
	case count > 5:
		return Signal{SignalFailedAttempts, 0.5, fmt.Sprintf("%d failed attempts from IP in 1 hour", count)}
	}
	return Signal{Type: SignalFailedAttempts}
}

// checkAmount 金额特征：常见试卡金额和大额交易
func checkAmount(amount int64) Signal {
	switch amount {
	case 100, 500, 1000, 2000:
		return Signal{SignalTestAmount, 0.3, fmt.Sprintf("Common test amount: $%.2f", float64(amount)/100)}
	}
	if amount > 500000 {
		return Signal{SignalHighAmount, 0.4, fmt.Sprintf("High value transaction: $%.2f", float64(amount)/100)}
	}
	return Signal{Type: SignalTestAmount}
}

// countInWindow 窗口内计数，顺带清理窗口外的历史
func (d *Detector) countInWindow(table map[string][]time.Time, key string, window time.Duration) int {
	cutoff := time.Now().Add(-window)

	d.mu.Lock()
	defer d.mu.Unlock()

	recent := table[key][:0]
	for _, ts := range table[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	table[key] = recent
	return len(recent)
}
