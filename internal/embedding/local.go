package embedding

import "context"

// LocalProvider implements Provider using an Ollama-compatible embeddings API,
// which accepts one prompt per request.
type LocalProvider struct {
	endpoint string
	model    string
	dim      dimension
}

// NewLocalProvider creates a new LocalProvider from the given Config.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		endpoint: trimEndpoint(cfg.Endpoint),
		model:    cfg.Model,
		dim:      dimension{configured: cfg.Dimension},
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed embeds each text in turn.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp localResponse
		if err := postJSON(ctx, p.endpoint+"/api/embeddings", "", localRequest{Model: p.model, Prompt: text}, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Embedding)
	}
	p.dim.observe(out)
	return out, nil
}

// Dimension returns the observed vector size, or the configured default.
func (p *LocalProvider) Dimension() int { return p.dim.get() }
