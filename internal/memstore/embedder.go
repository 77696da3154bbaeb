package memstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Embedder produces a fixed-dimension embedding for a piece of text. This
// is the "embed" half of the external language-model interface in §6.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// embedCache is a fixed-size FIFO cache of recent embeddings, grounded on
// internal/embedding/ollama.go's embeddingCache: repeated retrieval calls
// for the same or similar queries are common and the embedding call is
// the most expensive step of C6.
type embedCache struct {
	mu      sync.Mutex
	items   map[string][]float64
	order   []string
	maxSize int
}

func newEmbedCache(maxSize int) *embedCache {
	return &embedCache{items: make(map[string][]float64, maxSize), maxSize: maxSize}
}

func (c *embedCache) get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *embedCache) set(key string, emb []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		if len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.order = append(c.order, key)
	}
	c.items[key] = emb
}

// OllamaEmbedder calls a local Ollama-compatible embedding endpoint.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
	cache   *embedCache
}

// NewOllamaEmbedder creates an embedder against baseURL using model,
// which is expected to produce vectors of the given dimensionality.
func NewOllamaEmbedder(baseURL, model string, dims int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dims <= 0 {
		dims = 768
	}
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   newEmbedCache(256),
	}
}

func (e *OllamaEmbedder) Dimensions() int { return e.dims }

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (e *OllamaEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(e.model + "\x00" + text))
	return fmt.Sprintf("%x", h[:16])
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, fmt.Errorf("memstore: empty text")
	}
	key := e.cacheKey(text)
	if cached, ok := e.cache.get(key); ok {
		return cached, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding error (status %d): %s", resp.StatusCode, string(data))
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	e.cache.set(key, result.Embedding)
	return result.Embedding, nil
}

// ToFloat32 narrows a []float64 embedding to []float32 for the vector
// index, which stores embeddings at single precision.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
