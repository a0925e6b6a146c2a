package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fedifeed/relay/internal/activity"
)

// Transport sends one document to one endpoint.
type Transport interface {
	Send(ctx context.Context, endpoint string, doc activity.Document) error
}

// HTTPTransport posts documents as activity+json.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// NewHTTPTransport creates an HTTPTransport. A zero timeout disables it.
func NewHTTPTransport(userAgent string, timeout time.Duration) *HTTPTransport {
	if userAgent == "" {
		userAgent = "fedifeed-relay/1.0"
	}
	return &HTTPTransport{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Send posts doc to endpoint. Any non-2xx response is a failure.
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, doc activity.Document) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("failed to create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", activity.ContentType)
	req.Header.Set("Accept", activity.ContentType)
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("delivery rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}
