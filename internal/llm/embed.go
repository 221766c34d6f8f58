package llm

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// ErrNoEmbedder is returned by Embed when the brain's provider has no
// configured embedding model (anthropic has none in this pack).
var ErrNoEmbedder = fmt.Errorf("llm: provider has no configured embedder")

// Embed produces an embedding vector for text through the same genkit
// instance Respond/Stream/Judge use, resolving the embedder model by
// provider the way modelName resolves the generation model.
func (b *GenkitBrain) Embed(ctx context.Context, text string) ([]float32, error) {
	if !b.ready {
		return nil, ErrNotReady
	}
	name := b.embedderName()
	if name == "" {
		return nil, ErrNoEmbedder
	}

	resp, err := genkit.Embed(ctx, b.g, ai.WithEmbedderName(name), ai.WithTextDocs(text))
	if err != nil {
		return nil, fmt.Errorf("llm embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("llm embed: empty response")
	}
	return resp.Embeddings[0].Embedding, nil
}

// embedderName maps a provider to its genkit embedder reference. Only
// google and openai-compatible providers expose one through this pack's
// plugins; ingest/scoring workers are configured with one of those as their
// embedding provider regardless of which provider a bot's chat turns use.
func (b *GenkitBrain) embedderName() string {
	switch b.provider {
	case "google":
		return "googleai/text-embedding-004"
	case "openai", "openrouter":
		return "openai/text-embedding-3-small"
	case "openai_compatible":
		return "openai/text-embedding-3-small"
	default:
		return ""
	}
}
