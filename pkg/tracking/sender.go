package tracking

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sender delivers an encoded snapshot. keepAlive marks the final send issued
// while the page is being torn down; the tracker blocks on that send, so
// transports may use the flag for logging or routing only.
type Sender interface {
	Send(ctx context.Context, endpoint string, body []byte, keepAlive bool) error
}

// HTTPSender posts snapshots to BaseURL + endpoint.
type HTTPSender struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSender(baseURL string) *HTTPSender {
	return &HTTPSender{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSender) Send(ctx context.Context, endpoint string, body []byte, _ bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sync request: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, endpoint string, body []byte, keepAlive bool) error

func (f SenderFunc) Send(ctx context.Context, endpoint string, body []byte, keepAlive bool) error {
	return f(ctx, endpoint, body, keepAlive)
}
