package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient calls a remote enrichment endpoint over JSON.
//
// The wire contract is a single POST: the request body is
// {"documents": [...Request]} and the response body is
// {"annotations": [...Annotation]} with positional correspondence.
type HTTPClient struct {
	endpoint string
	apiKey   string
	maxBatch int
	client   *http.Client
}

var _ Client = (*HTTPClient)(nil)

// HTTPClientConfig configures NewHTTPClient.
type HTTPClientConfig struct {
	// Endpoint is the full URL of the enrichment API.
	Endpoint string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// MaxBatch is the API's per-call request limit. Values below 1 fall
	// back to 10.
	MaxBatch int

	// Timeout bounds each call. Zero means 30 seconds.
	Timeout time.Duration
}

// NewHTTPClient creates a client for the given endpoint.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("enrichment endpoint is required")
	}
	maxBatch := cfg.MaxBatch
	if maxBatch < 1 {
		maxBatch = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		maxBatch: maxBatch,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (c *HTTPClient) MaxBatch() int { return c.maxBatch }

type enrichRequestBody struct {
	Documents []Request `json:"documents"`
}

type enrichResponseBody struct {
	Annotations []Annotation `json:"annotations"`
}

func (c *HTTPClient) Enrich(ctx context.Context, reqs []Request) ([]Annotation, error) {
	if len(reqs) > c.maxBatch {
		return nil, fmt.Errorf("request group of %d exceeds max batch %d", len(reqs), c.maxBatch)
	}

	body, err := json.Marshal(enrichRequestBody{Documents: reqs})
	if err != nil {
		return nil, fmt.Errorf("marshal enrich request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build enrich request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("enrichment API status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out enrichResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode enrich response: %w", err)
	}
	if len(out.Annotations) != len(reqs) {
		return nil, fmt.Errorf("%w: got %d for %d requests", ErrCountMismatch, len(out.Annotations), len(reqs))
	}
	return out.Annotations, nil
}

func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
