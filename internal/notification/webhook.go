package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// TokenHeader carries the shared webhook token when one is configured.
const TokenHeader = "X-Marketscope-Token"

// WebhookNotifier POSTs alert envelopes as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	token  string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier posts to url with a 10s timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// WithToken sets the value sent in TokenHeader so receivers can
// authenticate the sender.
func (w *WebhookNotifier) WithToken(token string) *WebhookNotifier {
	w.token = token
	return w
}

// webhookEnvelope flattens the symbol to the top level so receivers can
// route without decoding the nested signal.
type webhookEnvelope struct {
	Source string `json:"source"`
	Symbol string `json:"symbol,omitempty"`
	Alert
	SentAt string `json:"ts"`
}

func (w *WebhookNotifier) envelope(alert Alert) webhookEnvelope {
	env := webhookEnvelope{
		Source: "marketscope",
		Alert:  alert,
		SentAt: w.now().UTC().Format(time.RFC3339Nano),
	}
	if alert.Signal != nil {
		env.Symbol = alert.Signal.Symbol
	}
	return env
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(w.envelope(alert))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set(TokenHeader, w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[webhook] delivered %q (%d bytes)", alert.Title, len(body))
	return nil
}
