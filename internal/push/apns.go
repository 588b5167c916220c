package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type APNSConfig struct {
	URL       string // e.g. https://api.push.apple.com
	Topic     string
	AuthToken string // provider JWT, sent as a bearer token
	Backoff   []time.Duration
}

type APNS struct {
	cfg    APNSConfig
	client *retryablehttp.Client
}

func NewAPNS(cfg APNSConfig, log *zap.Logger) *APNS {
	return &APNS{cfg: cfg, client: newHTTPClient(cfg.Backoff, log.Named("apns"))}
}

func (a *APNS) Platform() models.Platform { return models.PlatformAPNS }

type apnsEnvelope struct {
	APS  map[string]interface{} `json:"aps"`
	Data json.RawMessage        `json:"data"`
}

func (a *APNS) Send(ctx context.Context, device models.Device, payload string) error {
	data := json.RawMessage(payload)
	if !json.Valid(data) {
		return apperr.E(apperr.Permanent, "apns: payload is not JSON")
	}
	body, err := json.Marshal(apnsEnvelope{
		APS:  map[string]interface{}{"content-available": 1, "sound": "default"},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("apns: encode: %w", err)
	}

	url := strings.TrimRight(a.cfg.URL, "/") + "/3/device/" + device.RegistrationID
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("apns: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Topic != "" {
		req.Header.Set("apns-topic", a.cfg.Topic)
	}
	if a.cfg.AuthToken != "" {
		req.Header.Set("authorization", "bearer "+a.cfg.AuthToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, "apns: post", err)
	}
	defer resp.Body.Close()
	return apnsResult(resp)
}

func apnsResult(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var reason struct {
		Reason string `json:"reason"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &reason)

	switch {
	case resp.StatusCode == http.StatusGone,
		reason.Reason == "BadDeviceToken", reason.Reason == "Unregistered":
		return ErrUnregistered
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.E(apperr.UpstreamUnavailable, "apns: status %d", resp.StatusCode)
	}
	return apperr.E(apperr.Permanent, "apns: status %d %s", resp.StatusCode, reason.Reason)
}
