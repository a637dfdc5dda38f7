package publisher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ricirt/queue-system/internal/domain"
)

// WebhookSink delivers events by POSTing them as JSON.
// The URL is injected from config so tests can point to a local server.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// Publish posts ev to the configured URL and expects any 2xx response.
func (s *WebhookSink) Publish(ctx context.Context, ev domain.Event) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(ev.Type))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected webhook status: %d", resp.StatusCode)
	}
	return nil
}

// compile-time check that WebhookSink implements Sink
var _ Sink = (*WebhookSink)(nil)
