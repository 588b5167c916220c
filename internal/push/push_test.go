package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

var fastBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

type memDevices struct {
	mu      sync.Mutex
	devices []models.Device
}

func (m *memDevices) ListDevices(ctx context.Context, userID int64, platform models.Platform) ([]models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Device
	for _, d := range m.devices {
		if d.UserID == userID && (platform == "" || d.Platform == platform) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDevices) DeleteDevice(ctx context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.devices {
		if d.ID == id {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return nil
		}
	}
	return apperr.E(apperr.NotFound, "device not found")
}

type memClaims struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (c *memClaims) Claim(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys == nil {
		c.keys = make(map[string]bool)
	}
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *memClaims) Release(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

type apnsProvider struct {
	calls    int32
	statuses []int
	reason   string
	bodies   chan []byte
}

func (p *apnsProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(atomic.AddInt32(&p.calls, 1))
	body, _ := io.ReadAll(r.Body)
	if p.bodies != nil {
		p.bodies <- body
	}
	status := http.StatusOK
	if len(p.statuses) > 0 {
		status = p.statuses[len(p.statuses)-1]
		if n <= len(p.statuses) {
			status = p.statuses[n-1]
		}
	}
	w.WriteHeader(status)
	if p.reason != "" {
		json.NewEncoder(w).Encode(map[string]string{"reason": p.reason})
	}
}

func newWorker(t *testing.T, devices *memDevices, claims Claimer, url string) *Worker {
	t.Helper()
	apns := NewAPNS(APNSConfig{URL: url, Topic: "com.tellecast", AuthToken: "jwt", Backoff: fastBackoff}, zap.NewNop())
	gcm := NewGCM(GCMConfig{URL: url, APIKey: "key", Backoff: fastBackoff}, zap.NewNop())
	return NewWorker(devices, claims, zap.NewNop(), apns, gcm)
}

func TestAPNSSuccessPostsOnce(t *testing.T) {
	provider := &apnsProvider{bodies: make(chan []byte, 4)}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	devices := &memDevices{devices: []models.Device{{ID: 1, UserID: 7, Platform: models.PlatformAPNS, RegistrationID: "abc"}}}
	w := newWorker(t, devices, &memClaims{}, srv.URL)

	if err := w.Deliver(context.Background(), models.PushJob{UserID: 7, JSON: `{"id":1}`, IdempotencyKey: "1:1"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := atomic.LoadInt32(&provider.calls); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
	var envelope struct {
		APS  map[string]interface{} `json:"aps"`
		Data map[string]int         `json:"data"`
	}
	if err := json.Unmarshal(<-provider.bodies, &envelope); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if envelope.Data["id"] != 1 || envelope.APS == nil {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestAPNSRetriesTransientFailures(t *testing.T) {
	provider := &apnsProvider{statuses: []int{503, 503, 503, 503}}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	devices := &memDevices{devices: []models.Device{{ID: 1, UserID: 7, Platform: models.PlatformAPNS, RegistrationID: "abc"}}}
	claims := &memClaims{}
	w := newWorker(t, devices, claims, srv.URL)

	if err := w.Deliver(context.Background(), models.PushJob{UserID: 7, JSON: `{}`, IdempotencyKey: "1:9"}); err != nil {
		t.Fatalf("Deliver should ack after the final attempt, got %v", err)
	}
	// One attempt plus three retries.
	if got := atomic.LoadInt32(&provider.calls); got != 4 {
		t.Fatalf("provider calls = %d, want 4", got)
	}
	if len(devices.devices) != 1 {
		t.Fatal("device must survive transient failures")
	}
	if claims.keys["1:9"] {
		t.Fatal("failed push must release its claim")
	}
}

func TestAPNSRecoversAfterRetry(t *testing.T) {
	provider := &apnsProvider{statuses: []int{503, 200}}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	devices := &memDevices{devices: []models.Device{{ID: 1, UserID: 7, Platform: models.PlatformAPNS, RegistrationID: "abc"}}}
	w := newWorker(t, devices, nil, srv.URL)
	if err := w.Deliver(context.Background(), models.PushJob{UserID: 7, JSON: `{}`}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := atomic.LoadInt32(&provider.calls); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}
}

func TestUnregisteredDeviceIsRemoved(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reason string
	}{
		{"gone", http.StatusGone, "Unregistered"},
		{"bad token", http.StatusBadRequest, "BadDeviceToken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &apnsProvider{statuses: []int{tt.status}, reason: tt.reason}
			srv := httptest.NewServer(provider)
			defer srv.Close()

			devices := &memDevices{devices: []models.Device{{ID: 1, UserID: 7, Platform: models.PlatformAPNS, RegistrationID: "abc"}}}
			w := newWorker(t, devices, nil, srv.URL)
			if err := w.Deliver(context.Background(), models.PushJob{UserID: 7, JSON: `{}`}); err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			if got := atomic.LoadInt32(&provider.calls); got != 1 {
				t.Fatalf("provider calls = %d, want 1", got)
			}
			if len(devices.devices) != 0 {
				t.Fatal("device was not removed")
			}
		})
	}
}

func TestGCMNotRegistered(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		var env gcmEnvelope
		json.NewDecoder(r.Body).Decode(&env)
		if env.To != "reg-1" {
			t.Errorf("to = %q", env.To)
		}
		w.Write([]byte(`{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`))
	}))
	defer srv.Close()

	devices := &memDevices{devices: []models.Device{
		{ID: 1, UserID: 7, Platform: models.PlatformGCM, RegistrationID: "reg-1"},
	}}
	w := newWorker(t, devices, nil, srv.URL)
	if err := w.Deliver(context.Background(), models.PushJob{UserID: 7, JSON: `{"a":1}`}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotAuth := <-auth; gotAuth != "key=key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(devices.devices) != 0 {
		t.Fatal("device was not removed")
	}
}

func TestIdempotencyKeySkipsDuplicates(t *testing.T) {
	provider := &apnsProvider{}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	devices := &memDevices{devices: []models.Device{{ID: 1, UserID: 7, Platform: models.PlatformAPNS, RegistrationID: "abc"}}}
	w := newWorker(t, devices, &memClaims{}, srv.URL)
	job := models.PushJob{UserID: 7, JSON: `{}`, DeviceID: 1, NotificationID: 5, IdempotencyKey: "1:5"}
	for i := 0; i < 3; i++ {
		if err := w.Deliver(context.Background(), job); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	if got := atomic.LoadInt32(&provider.calls); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
}

func TestDeliverTargetsJobDevice(t *testing.T) {
	provider := &apnsProvider{bodies: make(chan []byte, 4)}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	devices := &memDevices{devices: []models.Device{
		{ID: 1, UserID: 7, Platform: models.PlatformAPNS, RegistrationID: "a"},
		{ID: 2, UserID: 7, Platform: models.PlatformAPNS, RegistrationID: "b"},
	}}
	w := newWorker(t, devices, nil, srv.URL)
	if err := w.Deliver(context.Background(), models.PushJob{UserID: 7, JSON: `{}`, DeviceID: 2}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := atomic.LoadInt32(&provider.calls); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
}

func TestHandleDecodesTasks(t *testing.T) {
	provider := &apnsProvider{}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	devices := &memDevices{devices: []models.Device{{ID: 1, UserID: 7, Platform: models.PlatformAPNS, RegistrationID: "a"}}}
	w := newWorker(t, devices, nil, srv.URL)

	body, err := broker.EncodeTask(models.PushJob{UserID: 7, JSON: `{}`})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Handle(context.Background(), broker.Delivery{Exchange: broker.QueuePushNotifications, Queue: broker.QueuePushNotifications, Body: body}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := atomic.LoadInt32(&provider.calls); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}

	err = w.Handle(context.Background(), broker.Delivery{Exchange: broker.QueuePushNotifications, Queue: broker.QueuePushNotifications, Body: []byte(`{"args":[{}]}`)})
	if !apperr.Is(err, apperr.Permanent) {
		t.Fatalf("malformed job error = %v, want Permanent", err)
	}
}

func TestDefaultRetrySchedule(t *testing.T) {
	client := newHTTPClient(nil, zap.NewNop())
	if client.RetryMax != 3 {
		t.Fatalf("RetryMax = %d, want 3", client.RetryMax)
	}
	want := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := client.Backoff(0, 0, i, nil); got != w {
			t.Errorf("Backoff(attempt %d) = %v, want %v", i, got, w)
		}
	}
}
