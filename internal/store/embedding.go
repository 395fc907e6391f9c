package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// EmbeddingProvider generates fixed-dimension embeddings for text,
// generalizing the teacher's memory.EmbeddingProvider interface.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HTTPEmbeddingProvider calls an OpenAI-compatible /embeddings endpoint,
// grounded on the teacher's internal/memory/embedding_lmstudio.go, wrapped
// with a golang.org/x/time/rate limiter so repeated update()-triggered
// re-embeddings cannot overrun a local inference server.
type HTTPEmbeddingProvider struct {
	baseURL    string
	model      string
	client     *http.Client
	limiter    *rate.Limiter
	dimensions int
}

// NewHTTPEmbeddingProvider constructs a rate-limited HTTP embedding
// client.
func NewHTTPEmbeddingProvider(baseURL, model string, requestsPerSecond float64, burst int, dimensions int) *HTTPEmbeddingProvider {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &HTTPEmbeddingProvider{
		baseURL:    baseURL,
		model:      model,
		client:     &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		dimensions: dimensions,
	}
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed calls the embedding endpoint, blocking on the rate limiter
// first.
func (p *HTTPEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	reqBody, err := json.Marshal(embeddingRequest{Input: text, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error: %s - %s", resp.Status, string(body))
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	embedding := decoded.Data[0].Embedding
	p.dimensions = len(embedding)
	return embedding, nil
}

// Dimensions reports the provider's embedding dimension.
func (p *HTTPEmbeddingProvider) Dimensions() int { return p.dimensions }

// encodeEmbedding converts a float32 vector to a little-endian binary
// blob for storage, exactly as the teacher's internal/memory/learning.go
// does.
func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding reverses encodeEmbedding.
func decodeEmbedding(blob []byte) []float32 {
	if len(blob)%4 != 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

// cosineSimilarity computes cosine similarity between two vectors,
// returning 0 for mismatched lengths or zero vectors (matching
// original_source/src/embeddings/mod.rs's documented edge-case
// behavior).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
