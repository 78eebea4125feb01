package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cardpay/internal/config"
	"cardpay/internal/model"
)

// ============================================================================
// Webhook 投递
// ============================================================================
//
// 支付结果是异步的，商户靠 webhook 拿到终态通知。
// 投递必须可验真（HMAC 签名）且能容忍对端短暂不可用（有界重试）。

// 投递状态
const (
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusRetrying  = "retrying"
	DeliveryStatusFailed    = "failed"
)

// Endpoint 商户注册的回调端点
type Endpoint struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchant_id"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret"`
	Events     []string  `json:"events"` // 订阅的事件类型，"*" 表示全部
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// shouldReceive 端点是否订阅了该事件类型
func (e *Endpoint) shouldReceive(eventType string) bool {
	if !e.Enabled {
		return false
	}
	for _, t := range e.Events {
		if t == "*" || t == eventType {
			return true
		}
	}
	return false
}

// DeliveryAttempt 一次投递尝试的记录
type DeliveryAttempt struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	EndpointID    string    `json:"endpoint_id"`
	Status        string    `json:"status"`
	HTTPStatus    int       `json:"http_status,omitempty"`
	AttemptNumber int       `json:"attempt_number"`
	ErrMessage    string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SignPayload 对载荷签名，返回签名头 t={timestamp},v1={signature}
// 被签内容是 "{timestamp}.{payload}"，时间戳参与签名防重放
func SignPayload(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// VerifySignature 商户侧验签，tolerance 限制时间戳最大偏移
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) bool {
	var timestamp int64
	var signature string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return false
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return false
			}
			timestamp = ts
		case "v1":
			signature = kv[1]
		}
	}
	if timestamp == 0 || signature == "" {
		return false
	}

	age := time.Since(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return false
	}

	expected := SignPayload(payload, secret, timestamp)
	return hmac.Equal([]byte(header), []byte(expected))
}

// Dispatcher webhook 事件管理与投递
type Dispatcher struct {
	cfg    config.WebhookConfig
	client *http.Client

	mu        sync.Mutex
	endpoints map[string][]*Endpoint // merchant_id -> 端点列表
	events    map[string]*model.WebhookEvent
	attempts  []*DeliveryAttempt

	queue chan *model.WebhookEvent
}

// NewDispatcher 创建投递器
func NewDispatcher(cfg config.WebhookConfig) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		endpoints: make(map[string][]*Endpoint),
		events:    make(map[string]*model.WebhookEvent),
		queue:     make(chan *model.WebhookEvent, 256),
	}
}

// RegisterEndpoint 注册回调端点，events 为空表示订阅全部
func (d *Dispatcher) RegisterEndpoint(merchantID, url string, events []string) *Endpoint {
	if len(events) == 0 {
		events = []string{"*"}
	}
	endpoint := &Endpoint{
		ID:         "we_" + hexUUID(),
		MerchantID: merchantID,
		URL:        url,
		Secret:     "whsec_" + hexUUID(),
		Events:     events,
		Enabled:    true,
		CreatedAt:  time.Now(),
	}

	d.mu.Lock()
	d.endpoints[merchantID] = append(d.endpoints[merchantID], endpoint)
	d.mu.Unlock()
	return endpoint
}

// Emit 创建事件并入队异步投递
func (d *Dispatcher) Emit(eventType, merchantID string, data interface{}) *model.WebhookEvent {
	event := &model.WebhookEvent{
		ID:         "evt_" + hexUUID(),
		Type:       eventType,
		MerchantID: merchantID,
		Data:       data,
		CreatedAt:  time.Now(),
	}

	d.mu.Lock()
	d.events[event.ID] = event
	d.mu.Unlock()

	select {
	case d.queue <- event:
	default:
		// 队列满时丢弃并留痕，投递是尽力而为
		log.Printf("webhook 队列已满，事件被丢弃: %s (%s)", event.ID, event.Type)
	}
	return event
}

// Start 启动后台投递 worker，ctx 取消时退出
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-d.queue:
				d.deliverEvent(ctx, event)
			}
		}
	}()
}

// DeliverSync 同步投递（测试用），每个端点只尝试一次
func (d *Dispatcher) DeliverSync(event *model.WebhookEvent) []*DeliveryAttempt {
	var results []*DeliveryAttempt
	for _, endpoint := range d.matchingEndpoints(event) {
		results = append(results, d.deliverOnce(event, endpoint, 1))
	}
	return results
}

// GetEvent 查询事件
func (d *Dispatcher) GetEvent(eventID string) (*model.WebhookEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	event, ok := d.events[eventID]
	return event, ok
}

// deliverEvent 按重试计划投递到所有匹配端点
// 每个端点在独立 goroutine 中走自己的重试计划，
// 单个缓慢或宕机的端点不会阻塞其他端点和队列里的后续事件
func (d *Dispatcher) deliverEvent(ctx context.Context, event *model.WebhookEvent) {
	for _, endpoint := range d.matchingEndpoints(event) {
		go d.deliverWithRetry(ctx, event, endpoint)
	}
}

// deliverWithRetry 投递单个端点，按配置的延迟序列重试
func (d *Dispatcher) deliverWithRetry(ctx context.Context, event *model.WebhookEvent, endpoint *Endpoint) {
	for i, delaySecs := range d.cfg.RetryDelaysSecs {
		if i >= d.cfg.MaxRetries {
			break
		}
		if delaySecs > 0 {
			timer := time.NewTimer(time.Duration(delaySecs) * time.Second)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		attempt := d.deliverOnce(event, endpoint, i+1)
		if attempt.Status == DeliveryStatusDelivered {
			return
		}
		log.Printf("webhook 投递失败: event=%s endpoint=%s attempt=%d err=%s",
			event.ID, endpoint.ID, attempt.AttemptNumber, attempt.ErrMessage)
	}
}

// deliverOnce 单次 HTTP 投递
func (d *Dispatcher) deliverOnce(event *model.WebhookEvent, endpoint *Endpoint, attemptNumber int) *DeliveryAttempt {
	attempt := &DeliveryAttempt{
		ID:            "del_" + hexUUID(),
		EventID:       event.ID,
		EndpointID:    endpoint.ID,
		AttemptNumber: attemptNumber,
		CreatedAt:     time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		attempt.Status = DeliveryStatusFailed
		attempt.ErrMessage = err.Error()
		d.recordAttempt(attempt)
		return attempt
	}

	signature := SignPayload(payload, endpoint.Secret, time.Now().Unix())

	req, err := http.NewRequest(http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		attempt.Status = DeliveryStatusFailed
		attempt.ErrMessage = err.Error()
		d.recordAttempt(attempt)
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event-Type", event.Type)
	req.Header.Set("X-Webhook-Event-Id", event.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		attempt.Status = d.retryOrFail(attemptNumber)
		attempt.ErrMessage = err.Error()
		d.recordAttempt(attempt)
		return attempt
	}
	defer resp.Body.Close()

	attempt.HTTPStatus = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = DeliveryStatusDelivered
	} else {
		attempt.Status = d.retryOrFail(attemptNumber)
		attempt.ErrMessage = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	d.recordAttempt(attempt)
	return attempt
}

func (d *Dispatcher) retryOrFail(attemptNumber int) string {
	if attemptNumber < d.cfg.MaxRetries {
		return DeliveryStatusRetrying
	}
	return DeliveryStatusFailed
}

func (d *Dispatcher) matchingEndpoints(event *model.WebhookEvent) []*Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	var matched []*Endpoint
	for _, endpoint := range d.endpoints[event.MerchantID] {
		if endpoint.shouldReceive(event.Type) {
			matched = append(matched, endpoint)
		}
	}
	return matched
}

func (d *Dispatcher) recordAttempt(attempt *DeliveryAttempt) {
	d.mu.Lock()
	d.attempts = append(d.attempts, attempt)
	d.mu.Unlock()
}

// hexUUID 不带连字符的 uuid，用作事件/端点/密钥标识
func hexUUID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
