package embedding

import (
	"context"
	"fmt"
)

// APIProvider implements Provider using an OpenAI-compatible embeddings API.
type APIProvider struct {
	endpoint  string
	model     string
	apiKey    string
	batchSize int
	dim       dimension
}

// NewAPIProvider creates a new APIProvider from the given Config.
func NewAPIProvider(cfg Config) *APIProvider {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 16
	}
	return &APIProvider{
		endpoint:  trimEndpoint(cfg.Endpoint),
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		batchSize: batch,
		dim:       dimension{configured: cfg.Dimension},
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type apiResponse struct {
	Data []apiEmbeddingData `json:"data"`
}

// Embed sends texts in batches and returns one vector per text, in order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		var resp apiResponse
		if err := postJSON(ctx, p.endpoint+"/embeddings", p.apiKey, apiRequest{Model: p.model, Input: texts[start:end]}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Data), end-start)
		}
		batch := make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			idx := d.Index
			if idx < 0 || idx >= len(batch) || batch[idx] != nil {
				idx = i
			}
			batch[idx] = d.Embedding
		}
		out = append(out, batch...)
	}

	p.dim.observe(out)
	return out, nil
}

// Dimension returns the observed vector size, or the configured default.
func (p *APIProvider) Dimension() int { return p.dim.get() }
