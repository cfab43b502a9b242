package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	if err := n.Notify(context.Background(), Alert{DownloadMbps: 10, ThresholdMbps: 800}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("expected application/json, got %q", contentType)
	}
}

func TestWebhookNotifier_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, &http.Client{Timeout: 100 * time.Millisecond})
	if err := n.Notify(context.Background(), Alert{}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestWebhookNotifier_DefaultClientTimeout(t *testing.T) {
	n := NewWebhookNotifier("http://example.com/hook", nil)
	if n.client.Timeout != DefaultWebhookTimeout {
		t.Errorf("expected %v, got %v", DefaultWebhookTimeout, n.client.Timeout)
	}
	if n.Channel() != "webhook" || !n.Enabled() {
		t.Error("unexpected channel state")
	}
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.slack.com/services/T/B/X", false},
		{"http://127.0.0.1:9000/hook", false},
		{"ftp://example.com/hook", true},
		{"example.com/hook", true},
		{"https://", true},
		{"://bad", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateWebhookURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWebhookURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
