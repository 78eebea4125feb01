package idgen

import (
	"fmt"
	"sync/atomic"
)

// Generator 业务 ID 生成能力
//
// 【设计思考】为什么不用包级随机函数？
// 直接取环境随机数会让测试无法断言 ID，把生成能力做成注入的接口，
// 生产用雪花算法实现，测试用确定性的序列实现。
type Generator interface {
	// New 生成带业务前缀的全局唯一 ID，如 auth_20240115143052_00012345
	New(prefix string) string
}

// Sequence 确定性序列生成器（测试用）
type Sequence struct {
	counter int64
}

// NewSequence 创建序列生成器
func NewSequence() *Sequence {
	return &Sequence{}
}

// New 生成递增序列 ID
func (s *Sequence) New(prefix string) string {
	n := atomic.AddInt64(&s.counter, 1)
	return fmt.Sprintf("%s%08d", prefix, n)
}
