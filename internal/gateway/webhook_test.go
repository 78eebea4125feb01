package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cardpay/internal/config"
	"cardpay/internal/model"
)

func testWebhookConfig() config.WebhookConfig {
	return config.WebhookConfig{
		TimeoutSeconds:  5,
		MaxRetries:      5,
		RetryDelaysSecs: []int{0, 60, 300, 1800, 7200},
	}
}

func TestSignVerifyRoundtrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	secret := "whsec_test"

	header := SignPayload(payload, secret, time.Now().Unix())
	if !VerifySignature(payload, header, secret, 5*time.Minute) {
		t.Error("合法签名验签失败")
	}
	if VerifySignature([]byte(`{"id":"evt_2"}`), header, secret, 5*time.Minute) {
		t.Error("篡改载荷不应通过验签")
	}
	if VerifySignature(payload, header, "whsec_other", 5*time.Minute) {
		t.Error("错误密钥不应通过验签")
	}
}

func TestVerifySignatureTolerance(t *testing.T) {
	payload := []byte(`{}`)
	secret := "whsec_test"

	stale := SignPayload(payload, secret, time.Now().Add(-10*time.Minute).Unix())
	if VerifySignature(payload, stale, secret, 5*time.Minute) {
		t.Error("超出容忍窗口的时间戳不应通过")
	}

	if VerifySignature(payload, "t=123,v1=invalid", secret, 5*time.Minute) {
		t.Error("非法签名头不应通过")
	}
	if VerifySignature(payload, "garbage", secret, 5*time.Minute) {
		t.Error("无法解析的签名头不应通过")
	}
}

func TestDeliverSync(t *testing.T) {
	var gotSignature, gotEventType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotEventType = r.Header.Get("X-Webhook-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(testWebhookConfig())
	endpoint := d.RegisterEndpoint("merch_1", server.URL, []string{model.EventChargeSucceeded})

	event := &model.WebhookEvent{
		ID:         "evt_test",
		Type:       model.EventChargeSucceeded,
		MerchantID: "merch_1",
		Data:       map[string]interface{}{"id": "ch_1"},
		CreatedAt:  time.Now(),
	}

	attempts := d.DeliverSync(event)
	if len(attempts) != 1 {
		t.Fatalf("投递次数 = %d, want 1", len(attempts))
	}
	if attempts[0].Status != DeliveryStatusDelivered {
		t.Errorf("状态 = %q, want delivered (err=%s)", attempts[0].Status, attempts[0].ErrMessage)
	}
	if gotEventType != model.EventChargeSucceeded {
		t.Errorf("事件类型头 = %q", gotEventType)
	}
	if !VerifySignature(gotBody, gotSignature, endpoint.Secret, 5*time.Minute) {
		t.Error("投递的签名验签失败")
	}
}

func TestDeliverSyncNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := NewDispatcher(testWebhookConfig())
	d.RegisterEndpoint("merch_1", server.URL, nil)

	event := d.Emit(model.EventChargeFailed, "merch_1", map[string]interface{}{"id": "ch_1"})
	attempts := d.DeliverSync(event)
	if len(attempts) != 1 {
		t.Fatalf("投递次数 = %d, want 1", len(attempts))
	}
	if attempts[0].Status != DeliveryStatusRetrying {
		t.Errorf("状态 = %q, want retrying", attempts[0].Status)
	}
	if attempts[0].HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTP 状态 = %d, want 500", attempts[0].HTTPStatus)
	}
}

func TestEndpointEventFilter(t *testing.T) {
	d := NewDispatcher(testWebhookConfig())
	d.RegisterEndpoint("merch_1", "http://127.0.0.1:1/unused", []string{model.EventChargeSucceeded})

	// 未订阅的事件类型不产生投递
	event := &model.WebhookEvent{
		ID:         "evt_1",
		Type:       model.EventChargeFailed,
		MerchantID: "merch_1",
	}
	if attempts := d.DeliverSync(event); len(attempts) != 0 {
		t.Errorf("未订阅事件投递次数 = %d, want 0", len(attempts))
	}

	// 其他商户的端点不受影响
	other := &model.WebhookEvent{
		ID:         "evt_2",
		Type:       model.EventChargeSucceeded,
		MerchantID: "merch_other",
	}
	if attempts := d.DeliverSync(other); len(attempts) != 0 {
		t.Errorf("跨商户投递次数 = %d, want 0", len(attempts))
	}
}

// 慢端点占着自己的重试计划即可，不得头部阻塞队列里的后续事件
func TestSlowEndpointDoesNotBlockQueue(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	delivered := make(chan struct{})
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(delivered)
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	d := NewDispatcher(testWebhookConfig())
	d.RegisterEndpoint("merch_slow", slow.URL, nil)
	d.RegisterEndpoint("merch_fast", fast.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Emit(model.EventChargeSucceeded, "merch_slow", map[string]interface{}{"id": "ch_1"})
	d.Emit(model.EventChargeSucceeded, "merch_fast", map[string]interface{}{"id": "ch_2"})

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("慢端点不应阻塞其他事件的投递")
	}
	close(release)
}

func TestEmitStoresEvent(t *testing.T) {
	d := NewDispatcher(testWebhookConfig())
	event := d.Emit(model.EventAuthorizationCreated, "merch_1", map[string]interface{}{"id": "auth_1"})

	stored, ok := d.GetEvent(event.ID)
	if !ok {
		t.Fatal("事件未入库")
	}
	if stored.Type != model.EventAuthorizationCreated {
		t.Errorf("事件类型 = %q", stored.Type)
	}

	if _, ok := d.GetEvent("evt_missing"); ok {
		t.Error("不存在的事件不应命中")
	}
}
