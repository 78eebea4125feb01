package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 幂等执行器
// ============================================================================
//
// 【为什么支付必须幂等？】
//
// 场景：客户端发起扣款，网络超时，客户端不知道第一次是否成功，于是重试。
//
// 没有幂等保护：
//   请求1: 扣款成功，但响应丢失
//   请求2: 再次扣款 —— 重复扣款！
//
// 有幂等保护（相同 key）：
//   请求1: 执行扣款，结果以 key 缓存
//   请求2: 命中缓存，直接返回第一次的结果，不再执行
//
// 【锁粒度】按 key 一把锁，而不是全局一把锁：
// 不相关的请求之间绝不互相排队，同 key 的并发请求收敛到同一个结果。

// 幂等记录状态
const (
	StatusPending   = "pending"   // 正在执行
	StatusCompleted = "completed" // 已完成，结果已缓存
	StatusFailed    = "failed"    // 已失败，错误已缓存
)

var (
	// ErrConflict 同一个 key 携带了不同的请求参数，属于调用方错误，换新 key
	ErrConflict = errors.New("幂等键已被不同参数的请求使用")
	// ErrInProgress 同 key 请求正在执行，调用方应退避后重查
	ErrInProgress = errors.New("相同幂等键的请求正在处理中")
)

// FailedError 之前同 key 的请求已失败，重试需要换新 key
type FailedError struct {
	Message string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("之前的请求已失败: %s", e.Message)
}

// Record 幂等记录
type Record struct {
	Key         string      `json:"key"`
	Status      string      `json:"status"`
	RequestHash string      `json:"request_hash"`
	Result      interface{} `json:"result,omitempty"`
	ErrMessage  string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// Expired 记录是否已过 TTL
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store 内存幂等存储，过期记录在读取时惰性淘汰
type Store struct {
	ttl     time.Duration
	mu      sync.Mutex
	records map[string]*Record
}

// NewStore 创建存储
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		records: make(map[string]*Record),
	}
}

// Get 按 key 读取记录，过期即删
// 返回的是副本，读取方不与终态发布共享内存
func (s *Store) Get(key string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return nil
	}
	if record.Expired(time.Now()) {
		delete(s.records, key)
		return nil
	}
	copied := *record
	return &copied
}

// Set 写入或覆盖记录
func (s *Store) Set(record *Record) {
	s.mu.Lock()
	s.records[record.Key] = record
	s.mu.Unlock()
}

// NewRecord 构造带 TTL 的记录
func (s *Store) NewRecord(key, status, requestHash string) *Record {
	now := time.Now()
	return &Record{
		Key:         key,
		Status:      status,
		RequestHash: requestHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
}

// keyLock 按 key 的信号量及最近使用时间，供闲置回收
type keyLock struct {
	ch       chan struct{}
	lastUsed time.Time
}

// Guard 幂等执行器
type Guard struct {
	store       *Store
	waitTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*keyLock // key -> 容量1的信号量，首次使用时创建
}

// NewGuard 创建幂等执行器
// waitTimeout 是同 key 并发时的有界等待时长，也是系统里唯一刻意的阻塞点
func NewGuard(store *Store, waitTimeout time.Duration) *Guard {
	return &Guard{
		store:       store,
		waitTimeout: waitTimeout,
		locks:       make(map[string]*keyLock),
	}
}

// Execute 以幂等保护执行 op
//
// params 参与请求哈希，用来发现"同 key 不同请求"的误用；
// op 至多被真正执行一次，结果（或错误）以 key 缓存 TTL 时长。
func (g *Guard) Execute(ctx context.Context, key string, params interface{}, op func() (interface{}, error)) (interface{}, error) {
	requestHash := HashParams(params)

	if existing := g.store.Get(key); existing != nil {
		return g.handleExisting(existing, requestHash)
	}

	lock := g.lockFor(key)

	select {
	case lock <- struct{}{}:
		// 拿到锁，走执行路径
	default:
		// 另一个请求正在执行：有界等待后重查存储，
		// 让并发调用方收敛到同一个结果而不是各自执行
		timer := time.NewTimer(g.waitTimeout)
		defer timer.Stop()
		select {
		case lock <- struct{}{}:
			<-lock
			if existing := g.store.Get(key); existing != nil {
				return g.handleExisting(existing, requestHash)
			}
			return nil, ErrInProgress
		case <-timer.C:
			return nil, ErrInProgress
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// 任何退出路径都必须释放锁
	defer func() { <-lock }()

	// 拿锁后双重检查，避免与刚完成的请求竞争
	if existing := g.store.Get(key); existing != nil {
		return g.handleExisting(existing, requestHash)
	}

	record := g.store.NewRecord(key, StatusPending, requestHash)
	g.store.Set(record)

	// 终态以新记录整体替换发布，已入库的记录绝不原地修改：
	// 并发读取方要么看到 pending，要么看到完整的终态
	result, err := op()
	if err != nil {
		failed := *record
		failed.Status = StatusFailed
		failed.ErrMessage = err.Error()
		g.store.Set(&failed)
		return nil, err
	}

	completed := *record
	completed.Status = StatusCompleted
	completed.Result = result
	g.store.Set(&completed)
	return result, nil
}

// handleExisting 处理已有记录
func (g *Guard) handleExisting(record *Record, requestHash string) (interface{}, error) {
	if record.RequestHash != requestHash {
		return nil, ErrConflict
	}

	switch record.Status {
	case StatusPending:
		return nil, ErrInProgress
	case StatusFailed:
		return nil, &FailedError{Message: record.ErrMessage}
	}
	return record.Result, nil
}

// lockFor 取（或创建）key 专属锁，顺带回收闲置锁
func (g *Guard) lockFor(key string) chan struct{} {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweepIdleLocks(now)

	lock, ok := g.locks[key]
	if !ok {
		lock = &keyLock{ch: make(chan struct{}, 1)}
		g.locks[key] = lock
	}
	lock.lastUsed = now
	return lock.ch
}

// sweepIdleLocks 回收未被持有且闲置超过记录 TTL 的锁
// 闲置满 TTL 意味着对应的幂等记录必然已过期，锁不再承担互斥职责。
// 调用方需持有 g.mu。
func (g *Guard) sweepIdleLocks(now time.Time) {
	for key, lock := range g.locks {
		if len(lock.ch) == 0 && now.Sub(lock.lastUsed) > g.store.ttl {
			delete(g.locks, key)
		}
	}
}

// HashParams 对请求参数做确定性哈希
// JSON 序列化对 map 键排序，保证同一参数集合得到同一哈希
func HashParams(params interface{}) string {
	serialized, err := json.Marshal(params)
	if err != nil {
		serialized = []byte(fmt.Sprintf("%+v", params))
	}
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])[:16]
}
