package semantic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HashEmbedder is the zero-dependency fallback embedder: it derives a
// fixed-dimension pseudo-vector from repeated SHA-256 digests of the
// text. It carries no semantic meaning beyond exact-text stability: any
// change to the text yields an unrelated vector, so it only matches
// identical text; it exists so the L3 tier
// degrades gracefully when no real embedding backend is configured,
// rather than being disabled outright.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a HashEmbedder producing vectors of the given
// dimensionality (defaults to 64).
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimensions)
	block := []byte(text)
	for i := 0; i < h.dimensions; i += 8 {
		sum := sha256.Sum256(append(block, byte(i)))
		for j := 0; j < 8 && i+j < h.dimensions; j++ {
			bits := binary.BigEndian.Uint32(sum[j*4 : j*4+4])
			vec[i+j] = float32(bits)/float32(math32Max) - 0.5
		}
	}
	return vec, nil
}

const math32Max = 1 << 32

// OpenAICompatEmbedder calls an OpenAI-compatible /embeddings endpoint.
// Disabled by default; wired in only when an embedding endpoint and key
// are configured.
type OpenAICompatEmbedder struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// NewOpenAICompatEmbedder creates an embedder against endpoint (e.g.
// "https://api.openai.com/v1/embeddings") using model.
func NewOpenAICompatEmbedder(endpoint, apiKey, model string) *OpenAICompatEmbedder {
	return &OpenAICompatEmbedder{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *OpenAICompatEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request failed: status %d", resp.StatusCode)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}
	return parsed.Data[0].Embedding, nil
}
