package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultWebhookTimeout bounds one webhook delivery.
const DefaultWebhookTimeout = 5 * time.Second

// WebhookNotifier posts {"text": "..."} to a chat-style webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier returns a notifier for rawURL. An empty URL disables
// the channel. A nil client gets a default one with a 5s timeout.
func NewWebhookNotifier(rawURL string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	return &WebhookNotifier{url: rawURL, client: client}
}

// Channel returns "webhook".
func (w *WebhookNotifier) Channel() string {
	return "webhook"
}

// Enabled reports whether a URL is configured.
func (w *WebhookNotifier) Enabled() bool {
	return w.url != ""
}

// Notify posts the alert text. Any non-2xx response is a failure; the
// response body is discarded.
func (w *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(map[string]string{"text": a.Text()})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}

// ValidateWebhookURL checks that rawURL is an absolute http or https URL.
func ValidateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https scheme, got %q", scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook URL has no host")
	}
	return nil
}
