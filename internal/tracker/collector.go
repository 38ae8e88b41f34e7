package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vincentbai/sitetrace-agent/internal/models"
)

// HTTPCollector posts snapshots to a collector's /collect endpoint.
type HTTPCollector struct {
	endpoint string
	client   *http.Client
}

// NewHTTPCollector targets base + "/collect". A nil client gets a 10s timeout.
func NewHTTPCollector(base string, client *http.Client) (*HTTPCollector, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, fmt.Errorf("tracker: collector base URL cannot be empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPCollector{endpoint: base + "/collect", client: client}, nil
}

func (c *HTTPCollector) Endpoint() string {
	return c.endpoint
}

func (c *HTTPCollector) Send(ctx context.Context, session models.Session) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("tracker: marshal snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tracker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tracker: post snapshot: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tracker: collector responded %d", resp.StatusCode)
	}
	return nil
}
