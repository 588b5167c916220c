package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type GCMConfig struct {
	URL     string // e.g. https://fcm.googleapis.com/fcm/send
	APIKey  string
	Backoff []time.Duration
}

type GCM struct {
	cfg    GCMConfig
	client *retryablehttp.Client
}

func NewGCM(cfg GCMConfig, log *zap.Logger) *GCM {
	return &GCM{cfg: cfg, client: newHTTPClient(cfg.Backoff, log.Named("gcm"))}
}

func (g *GCM) Platform() models.Platform { return models.PlatformGCM }

type gcmEnvelope struct {
	To       string          `json:"to"`
	Priority string          `json:"priority"`
	Data     json.RawMessage `json:"data"`
}

type gcmResponse struct {
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

func (g *GCM) Send(ctx context.Context, device models.Device, payload string) error {
	data := json.RawMessage(payload)
	if !json.Valid(data) {
		return apperr.E(apperr.Permanent, "gcm: payload is not JSON")
	}
	body, err := json.Marshal(gcmEnvelope{To: device.RegistrationID, Priority: "high", Data: data})
	if err != nil {
		return fmt.Errorf("gcm: encode: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gcm: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "key="+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.UpstreamUnavailable, "gcm: post", err)
	}
	defer resp.Body.Close()
	return gcmResult(resp)
}

func gcmResult(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusGone:
		return ErrUnregistered
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.E(apperr.UpstreamUnavailable, "gcm: status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return apperr.E(apperr.Permanent, "gcm: status %d", resp.StatusCode)
	}

	var out gcmResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &out); err != nil || out.Failure == 0 {
		return nil
	}
	for _, r := range out.Results {
		switch r.Error {
		case "":
		case "NotRegistered", "Unregistered", "InvalidRegistration", "MismatchSenderId":
			return ErrUnregistered
		case "Unavailable", "InternalServerError":
			return apperr.E(apperr.UpstreamUnavailable, "gcm: %s", r.Error)
		default:
			return apperr.E(apperr.Permanent, "gcm: %s", r.Error)
		}
	}
	return nil
}
