// Package llm implements answer generation on top of OpenAI-compatible chat APIs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"

	"ragchat/internal/domain"
)

// Config configures the OpenAI-compatible generator.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIGenerator implements domain.Generator with chat completions.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// ErrNoChoices is returned when the API answers without any completion choice.
var ErrNoChoices = errors.New("chat completion returned no choices")

// NewOpenAIGenerator creates a generator; a missing API key is a configuration error.
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	conf := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	conf.HTTPClient = &http.Client{Timeout: t}
	temperature := cfg.Temperature
	if temperature == 0 {
		// go-openai omits a zero temperature and the API then samples at 1
		temperature = math.SmallestNonzeroFloat32
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(conf),
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     t,
	}, nil
}

// Generate sends the prompt messages and returns the first choice. The retrieved
// passages are echoed back as sources.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt domain.Prompt) (domain.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Generation{}, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Generation{}, ErrNoChoices
	}
	return domain.Generation{
		Answer:  resp.Choices[0].Message.Content,
		Sources: prompt.Context,
	}, nil
}
