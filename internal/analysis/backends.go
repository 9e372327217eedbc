package analysis

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/model"
	"github.com/sells-group/scraper-orchestrator/pkg/anthropic"
)

// OllamaGenerator asks a local Ollama chat model for JSON insights.
type OllamaGenerator struct {
	llm          *ollama.LLM
	defaultModel string
}

// NewOllamaGenerator builds a generator against serverURL.
func NewOllamaGenerator(serverURL, defaultModel string) (*OllamaGenerator, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(defaultModel),
		ollama.WithFormat("json"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: create ollama generator")
	}
	return &OllamaGenerator{llm: llm, defaultModel: defaultModel}, nil
}

func (g *OllamaGenerator) Backend() string      { return "ollama" }
func (g *OllamaGenerator) DefaultModel() string { return g.defaultModel }

// Generate sends the prompt as a system and a user message.
func (g *OllamaGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, p.System),
		llms.TextParts(llms.ChatMessageTypeHuman, p.User),
	}
	resp, err := g.llm.GenerateContent(ctx, msgs,
		llms.WithModel(p.Model),
		llms.WithTemperature(p.Temperature),
		llms.WithJSONMode(),
	)
	if err != nil {
		return "", classify("ollama", err)
	}
	if len(resp.Choices) == 0 {
		return "", eris.New("analysis: ollama returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// AnthropicGenerator asks Claude for JSON insights.
type AnthropicGenerator struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int64
}

// NewAnthropicGenerator wraps an Anthropic client.
func NewAnthropicGenerator(client anthropic.Client, defaultModel string, maxTokens int64) *AnthropicGenerator {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicGenerator{client: client, defaultModel: defaultModel, maxTokens: maxTokens}
}

func (g *AnthropicGenerator) Backend() string      { return "anthropic" }
func (g *AnthropicGenerator) DefaultModel() string { return g.defaultModel }

// Generate sends the instructions as a cached system block.
func (g *AnthropicGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	temp := p.Temperature
	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.Model,
		MaxTokens:   g.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(p.System, "5m"),
		Messages:    []anthropic.Message{{Role: "user", Content: p.User}},
		Temperature: &temp,
	})
	if err != nil {
		return "", classify("anthropic", err)
	}
	resp.Usage.LogCost(p.Model, "insights")
	if resp.StopReason == "max_tokens" {
		zap.L().Warn("insight response truncated", zap.String("model", p.Model))
	}
	return resp.Text(), nil
}

var (
	_ Generator = (*OllamaGenerator)(nil)
	_ Generator = (*AnthropicGenerator)(nil)
)

// classify marks connection failures and missing models as
// ModelUnavailableError.
func classify(backend string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var urlErr *url.Error
	var netErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return &model.ModelUnavailableError{Backend: backend, Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "connection refused") {
		return &model.ModelUnavailableError{Backend: backend, Err: err}
	}
	return eris.Wrapf(err, "analysis: %s generate", backend)
}
