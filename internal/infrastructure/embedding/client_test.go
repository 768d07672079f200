package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kbchat/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	cfg := config.NewConfig()
	cfg.Embedding.BaseURL = baseURL
	cfg.Embedding.APIKey = "test-key"
	cfg.Embedding.Model = "bge-m3"
	cfg.Embedding.Timeout = 5 * time.Second
	return NewClient(cfg)
}

func TestBuildEmbeddingURL(t *testing.T) {
	cases := []struct {
		name     string
		baseURL  string
		expected string
	}{
		{"裸主机地址", "http://localhost:9997", "http://localhost:9997/v1/embeddings"},
		{"以 /v1 结尾", "http://localhost:9997/v1", "http://localhost:9997/v1/embeddings"},
		{"以 /v1/ 结尾", "http://localhost:9997/v1/", "http://localhost:9997/v1/embeddings"},
		{"已含完整路径", "http://localhost:9997/v1/embeddings", "http://localhost:9997/v1/embeddings"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, buildEmbeddingURL(tc.baseURL))
		})
	}
}

func TestClient_EmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge-m3", req.Model)

		resp := embeddingResponse{}
		// 倒序返回，验证客户端按 index 重排
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{
				Embedding: []float32{float32(i), 0.5},
				Index:     i,
			})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	vectors, err := client.EmbedBatch(context.Background(), []string{"第一段", "第二段"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0, 0.5}, vectors[0])
	assert.Equal(t, []float32{1, 0.5}, vectors[1])
}

func TestClient_Embed_RetriesThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(embeddingResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{
				{Embedding: []float32{0.1, 0.2}, Index: 0},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	vector, err := client.Embed(context.Background(), "你好")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vector)
	assert.Equal(t, 2, calls)
}

func TestClient_Embed_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Embed(context.Background(), "你好")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_EmbedBatch_EmptyInput(t *testing.T) {
	client := newTestClient("http://localhost:9997")

	_, err := client.EmbedBatch(context.Background(), nil)
	assert.Error(t, err)
}
