package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier POSTs each notification as JSON to a delivery service
// (mail/SMS gateway) that owns templates and channels.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client}
}

type webhookPayload struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
	SentAt   time.Time      `json:"sent_at"`
}

func (n *WebhookNotifier) Send(ctx context.Context, address, template string, data map[string]any) error {
	body, err := json.Marshal(webhookPayload{
		To:       address,
		Template: template,
		Data:     data,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: deliver %s: %w", template, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notify: deliver %s: HTTP %d", template, resp.StatusCode)
	}
	return nil
}
