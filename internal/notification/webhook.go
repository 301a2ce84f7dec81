package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSink POSTs notifications as JSON to a configured endpoint.
type WebhookSink struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (w *WebhookSink) Schedule(ctx context.Context, msg Message) error {
	body := map[string]any{
		"title":   msg.Title,
		"message": msg.Body,
		"data":    msg.Data,
		"ts":      time.Now().Format(time.RFC3339),
	}
	return w.post(ctx, body)
}

func (w *WebhookSink) SetBadge(ctx context.Context, count int) error {
	// Remote endpoints have no badge; the unread count rides along as
	// its own event so dashboards can track it.
	return w.post(ctx, map[string]any{
		"badge": count,
		"ts":    time.Now().Format(time.RFC3339),
	})
}

func (w *WebhookSink) post(ctx context.Context, body map[string]any) error {
	data, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: w.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status=%d", resp.StatusCode)
	}
	return nil
}
