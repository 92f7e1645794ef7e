package enrich

import (
	"context"
	"errors"
	"sync"
)

// Sentinel errors for enrichment calls.
var (
	// ErrCountMismatch indicates the remote returned a different number
	// of annotations than requests. The whole sub-group is failed rather
	// than guessing an alignment.
	ErrCountMismatch = errors.New("annotation count does not match request count")

	// ErrUnavailable indicates the enrichment service is unavailable.
	ErrUnavailable = errors.New("enrichment service unavailable")
)

// Request is one document to annotate.
type Request struct {
	DocKey      string `json:"doc_key"`
	Vendor      string `json:"vendor"`
	DocNumber   string `json:"doc_number"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency,omitempty"`
}

// Annotation is the client's answer for one request. Answers correspond
// to requests by position.
type Annotation struct {
	Category   string  `json:"category"`
	Summary    string  `json:"summary,omitempty"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`
}

// Client is the boundary with the remote enrichment API.
//
// The API has its own, stricter limits than the engine's chunking: a
// caller must not send more than MaxBatch requests per call, and should
// pace calls independently of the engine's inter-chunk delay. The
// prompt/response format behind Enrich is the implementation's concern.
type Client interface {
	// MaxBatch is the largest request group one Enrich call accepts.
	MaxBatch() int

	// Enrich annotates the given documents. Implementations must return
	// exactly one annotation per request, in request order, or an error.
	Enrich(ctx context.Context, reqs []Request) ([]Annotation, error)

	// Close releases any resources held by the client.
	Close() error
}

// MemoryClient is an in-memory Client for tests and dry runs. It
// answers from a canned table keyed by doc key.
type MemoryClient struct {
	mu       sync.Mutex
	answers  map[string]Annotation
	maxBatch int

	// Calls records the size of every Enrich request group, letting
	// tests assert the sub-chunking behavior.
	Calls []int

	// Err, when set, fails every Enrich call.
	Err error

	// ShortResponse, when set, drops the last annotation from each
	// response to simulate a count mismatch.
	ShortResponse bool
}

// NewMemoryClient creates a client accepting at most maxBatch requests
// per call (values below 1 fall back to 10).
func NewMemoryClient(maxBatch int) *MemoryClient {
	if maxBatch < 1 {
		maxBatch = 10
	}
	return &MemoryClient{
		answers:  make(map[string]Annotation),
		maxBatch: maxBatch,
	}
}

// Answer cans the annotation returned for a doc key.
func (c *MemoryClient) Answer(docKey string, a Annotation) {
	c.mu.Lock()
	c.answers[docKey] = a
	c.mu.Unlock()
}

// MaxBatch implements Client.
func (c *MemoryClient) MaxBatch() int { return c.maxBatch }

// Enrich implements Client.
func (c *MemoryClient) Enrich(ctx context.Context, reqs []Request) ([]Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, len(reqs))
	if c.Err != nil {
		return nil, c.Err
	}

	out := make([]Annotation, 0, len(reqs))
	for _, req := range reqs {
		if a, ok := c.answers[req.DocKey]; ok {
			out = append(out, a)
			continue
		}
		out = append(out, Annotation{Category: "uncategorized", Confidence: 0.1})
	}
	if c.ShortResponse && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

// Close implements Client.
func (c *MemoryClient) Close() error { return nil }

// Compile-time check that MemoryClient implements Client.
var _ Client = (*MemoryClient)(nil)
