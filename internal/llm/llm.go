// Package llm provides the pluggable chat and embedding capabilities.
//
// The engine never talks to a model provider directly; it consumes the two
// narrow interfaces here. Production wiring builds them on langchaingo's
// OpenAI-compatible client, which also covers TEI and other compatible
// endpoints. Tests substitute in-memory fakes.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/purplefabric/graphrag/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

var (
	// ErrEmptyPrompt indicates an empty prompt or input text.
	ErrEmptyPrompt = errors.New("empty prompt")

	// ErrNoCompletion indicates the model returned no usable text.
	ErrNoCompletion = errors.New("model returned no completion")
)

// Rate limiter defaults: 50 requests per minute, small bursts allowed.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Chat generates text completions.
type Chat interface {
	// Complete answers a single user prompt under a system prompt. Either
	// prompt may be empty, but not both.
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// openAIChat implements Chat on langchaingo's OpenAI client.
type openAIChat struct {
	model   string
	client  *openai.LLM
	limiter *rate.Limiter
}

// NewChat builds a Chat from config. An empty API key gets a placeholder
// token so OpenAI-compatible local endpoints work without credentials.
func NewChat(cfg config.LLMConfig) (Chat, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("chat model required")
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(tokenOrPlaceholder(cfg.APIKey.Value())),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}
	return &openAIChat{
		model:   cfg.Model,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

func (c *openAIChat) Complete(ctx context.Context, system, prompt string) (string, error) {
	if system == "" && prompt == "" {
		return "", ErrEmptyPrompt
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	messages := make([]llms.MessageContent, 0, 2)
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	if prompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
	}

	resp, err := c.client.GenerateContent(ctx, messages, llms.WithTemperature(0.2))
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrNoCompletion
	}
	return resp.Choices[0].Content, nil
}

// NewEmbedder builds an Embedder from config, backed by langchaingo.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model required")
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(tokenOrPlaceholder(cfg.APIKey.Value())),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &langchainEmbedder{embedder: embedder}, nil
}

type langchainEmbedder struct {
	embedder *embeddings.EmbedderImpl
}

func (e *langchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts", ErrEmptyPrompt)
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	return vectors, nil
}

func (e *langchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyPrompt
	}
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vector, nil
}

func tokenOrPlaceholder(token string) string {
	if token == "" {
		// langchaingo requires a token even for keyless local endpoints.
		return "placeholder"
	}
	return token
}
