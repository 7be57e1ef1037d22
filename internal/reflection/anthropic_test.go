package reflection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropic(t *testing.T, h http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL, RateLimit: 1000, Burst: 10})
	require.NoError(t, err)
	c.baseBackoff = time.Millisecond
	return c
}

func TestNewAnthropicClient_RequiresKey(t *testing.T) {
	_, err := NewAnthropicClient(AnthropicConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestAnthropicClient_Complete(t *testing.T) {
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("Anthropic-Version"))

		var req anthropicRequest
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			assert.Equal(t, DefaultAnthropicModel, req.Model)
			assert.Equal(t, []anthropicMessage{{Role: "user", Content: "judge this"}}, req.Messages)
		}

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"patterns_analyzed\":[]}"}]}`))
	})

	out, err := c.Complete(context.Background(), "judge this")
	require.NoError(t, err)
	assert.Equal(t, `{"patterns_analyzed":[]}`, out)
}

func TestAnthropicClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
		}
	})

	out, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnthropicClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`))
	})

	_, err := c.Complete(context.Background(), "p")
	assert.EqualError(t, err, "API error (400): max_tokens too large")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropicClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Complete(context.Background(), "p")
	assert.ErrorContains(t, err, "max retries exceeded")
	assert.Equal(t, int32(defaultMaxRetries+1), calls.Load())
}

func TestAnthropicClient_EmptyContent(t *testing.T) {
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	})
	_, err := c.Complete(context.Background(), "p")
	assert.EqualError(t, err, "empty response from API")
}
