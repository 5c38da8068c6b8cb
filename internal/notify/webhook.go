package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stridehq/stride/pkg/models"
)

// WebhookDriver delivers notifications via HTTP POST to a configured endpoint
// with optional HMAC-SHA256 signing. It serves the channels whose actual
// delivery happens in an external system (push gateway, mail relay): this
// service posts the payload, the receiver fans out.
//
// Send performs a single attempt; retry policy belongs to the dispatcher.
type WebhookDriver struct {
	kind   models.Channel
	url    string
	secret string
	client *http.Client
}

// NewWebhookDriver creates a webhook driver serving the given channel.
// secret may be empty, disabling signing.
func NewWebhookDriver(kind models.Channel, url, secret string) *WebhookDriver {
	return &WebhookDriver{
		kind:   kind,
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *WebhookDriver) Kind() models.Channel { return d.kind }

func (d *WebhookDriver) Send(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Stride-Notify/1.0")
	req.Header.Set("X-Stride-Notification-Type", string(n.Type))
	req.Header.Set("X-Stride-Channel", string(d.kind))

	if d.secret != "" {
		mac := hmac.New(sha256.New, []byte(d.secret))
		mac.Write(body)
		req.Header.Set("X-Stride-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, d.url)
	}
	return nil
}
