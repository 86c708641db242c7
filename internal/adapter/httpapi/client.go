package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"threatfeed/internal/domain"
	"threatfeed/internal/logger"
)

// Client calls a retrieval server.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

// NewClient creates a client for the full retrieve URL, e.g.
// http://localhost:9000/v1/retrieve. timeout <= 0 means no client-side
// limit beyond ctx.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		timeout:  timeout,
		http:     &http.Client{},
	}
}

// Retrieve sends one query and waits for the ranked results.
func (c *Client) Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(RetrieveRequest{Query: query, K: k})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, eb.Error)
		}
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var items []RetrieveItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return fromItems(items), nil
}

// RetrieveOrEmpty is Retrieve for callers that must keep going: any error,
// including a timeout, is logged and yields no results.
func (c *Client) RetrieveOrEmpty(ctx context.Context, query string, k int) []domain.RetrievalResult {
	results, err := c.Retrieve(ctx, query, k)
	if err != nil {
		logger.Warn("retrieval failed, continuing without context: %v", err)
		return nil
	}
	return results
}
