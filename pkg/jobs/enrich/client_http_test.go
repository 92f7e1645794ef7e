package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClientValidation(t *testing.T) {
	_, err := NewHTTPClient(HTTPClientConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")

	c, err := NewHTTPClient(HTTPClientConfig{Endpoint: "http://localhost:9"})
	require.NoError(t, err)
	assert.Equal(t, 10, c.MaxBatch(), "max batch defaults to 10")

	c, err = NewHTTPClient(HTTPClientConfig{Endpoint: "http://localhost:9", MaxBatch: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, c.MaxBatch())
}

func TestHTTPClientEnrich(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var body enrichRequestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Documents, 2)
		assert.Equal(t, "acme/INV-001", body.Documents[0].DocKey)

		annotations := make([]Annotation, len(body.Documents))
		for i := range annotations {
			annotations[i] = Annotation{Category: "utilities", Confidence: 0.9, Model: "m1"}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(enrichResponseBody{Annotations: annotations}))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL, APIKey: "secret-token"})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	got, err := c.Enrich(context.Background(), []Request{
		{DocKey: "acme/INV-001", Vendor: "acme", DocNumber: "INV-001"},
		{DocKey: "acme/INV-002", Vendor: "acme", DocNumber: "INV-002"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "utilities", got[0].Category)
}

func TestHTTPClientRejectsOversizedGroup(t *testing.T) {
	c, err := NewHTTPClient(HTTPClientConfig{Endpoint: "http://localhost:9", MaxBatch: 2})
	require.NoError(t, err)

	_, err = c.Enrich(context.Background(), make([]Request, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max batch")
}

func TestHTTPClientRetryableStatuses(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		c, err := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL})
		require.NoError(t, err)

		_, err = c.Enrich(context.Background(), []Request{{DocKey: "k"}})
		assert.ErrorIs(t, err, ErrUnavailable, "status %d", status)
		srv.Close()
	}
}

func TestHTTPClientClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request: unknown vendor", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = c.Enrich(context.Background(), []Request{{DocKey: "k"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "unknown vendor")
}

func TestHTTPClientCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(enrichResponseBody{
			Annotations: []Annotation{{Category: "one"}},
		})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPClientConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = c.Enrich(context.Background(), []Request{{DocKey: "a"}, {DocKey: "b"}})
	assert.ErrorIs(t, err, ErrCountMismatch)
}

func TestHTTPClientConnectionRefused(t *testing.T) {
	// A server that is immediately closed leaves a port nothing listens on.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(HTTPClientConfig{Endpoint: url})
	require.NoError(t, err)

	_, err = c.Enrich(context.Background(), []Request{{DocKey: "k"}})
	assert.ErrorIs(t, err, ErrUnavailable)
}
