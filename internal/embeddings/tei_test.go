package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTEIServer(t *testing.T, handler http.HandlerFunc) *TEIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewTEIClient(TEIConfig{BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)
	return c
}

func TestNewTEIClient_RequiresBaseURL(t *testing.T) {
	_, err := NewTEIClient(TEIConfig{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTEIClient_EmbedDocuments(t *testing.T) {
	c := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Inputs   []string `json:"inputs"`
			Truncate bool     `json:"truncate"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		out := make([][]float32, len(req.Inputs))
		for i := range req.Inputs {
			out[i] = []float32{float32(i), 1}
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	vectors, err := c.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{2, 1}, vectors[2])
	assert.Equal(t, 384, c.Dimension())
	assert.NoError(t, c.Close())
}

func TestTEIClient_EmbedQuery(t *testing.T) {
	c := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Use TypedDict for configs", req.Inputs)
		_, _ = w.Write([]byte(`[[0.1,0.2,0.3]]`))
	})

	v, err := c.EmbedQuery(context.Background(), "Use TypedDict for configs")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
}

func TestTEIClient_Errors(t *testing.T) {
	c := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	})

	_, err := c.EmbedQuery(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")

	_, err = c.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = c.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIClient_VectorCountMismatch(t *testing.T) {
	c := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[1,0]]`))
	})

	_, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "none"})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = NewProvider(ProviderConfig{Provider: "word2vec"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewProvider(ProviderConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "BAAI/bge-base-en-v1.5"})
	require.NoError(t, err)
	assert.Equal(t, 768, p.Dimension())
}

func TestDimensionForModel(t *testing.T) {
	assert.Equal(t, 512, DimensionForModel("BAAI/bge-small-zh-v1.5"))
	assert.Equal(t, 1024, DimensionForModel("intfloat/e5-large"))
	assert.Equal(t, 768, DimensionForModel("nomic-embed-text-BASE"))
	assert.Equal(t, 384, DimensionForModel("unknown"))
}
