package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/internal/resilience"
)

// Embedder turns texts into vectors, one per text in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OllamaEmbedder calls the Ollama embeddings endpoint through langchaingo.
type OllamaEmbedder struct {
	llm       *ollama.LLM
	batchSize int
	retry     resilience.RetryConfig
}

// NewOllamaEmbedder builds an embedder for model at serverURL.
func NewOllamaEmbedder(serverURL, embedModel string, batchSize int) (*OllamaEmbedder, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(embedModel),
	)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: create ollama embedder")
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &OllamaEmbedder{
		llm:       llm,
		batchSize: batchSize,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			JitterFraction: 0.25,
			OnRetry:        resilience.RetryLogger("ollama", "embed"),
		},
	}, nil
}

// Embed embeds texts in batches. Each batch is retried on transient
// failure; a backend that stays unreachable yields ModelUnavailableError.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		vecs, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) ([][]float32, error) {
			return e.llm.CreateEmbedding(ctx, batch)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &model.ModelUnavailableError{Backend: "ollama", Err: err}
		}
		if len(vecs) != len(batch) {
			return nil, &model.ModelUnavailableError{Backend: "ollama", Err: ollama.ErrIncompleteEmbedding}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

var _ Embedder = (*OllamaEmbedder)(nil)

// isUnavailable reports whether err means the backend could not serve.
func isUnavailable(err error) bool {
	var mu *model.ModelUnavailableError
	return errors.As(err, &mu)
}
