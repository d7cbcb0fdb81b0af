package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"marksort/backend/internal/settings"
)

// Embedder reads the API key from settings on every call so a key change
// takes effect without a restart.
type Embedder struct {
	settingsSvc *settings.Service
	model       string
	clients     *clientCache
}

func NewEmbedder(svc *settings.Service, model string, opts ...option.ClientOption) *Embedder {
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &Embedder{
		settingsSvc: svc,
		model:       model,
		clients:     &clientCache{opts: opts},
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, ErrNotConfigured
	}

	client, err := e.clients.get(ctx, s.GeminiAPIKey)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	res, err := client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	return res.Embedding.Values, nil
}

func (e *Embedder) Close() error {
	return e.clients.Close()
}
