package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
type Client struct {
	client     *goopenai.Client
	model      string
	batchSize  int
	maxRetries int
	sleep      func(time.Duration)

	mu        sync.Mutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	BatchSize int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	conf := goopenai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	conf.HTTPClient = &http.Client{Timeout: t}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Client{
		client:     goopenai.NewClientWithConfig(conf),
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		maxRetries: 5,
		sleep:      time.Sleep,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Prepare is not required for remote embedding. Dimension is set on first embed.
func (c *Client) Prepare(corpus []string) error { return nil }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vs, err := c.create(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vs, err := c.create(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

// create calls the embeddings endpoint, retrying rate limits and server
// errors with exponential backoff.
func (c *Client) create(ctx context.Context, inputs []string) ([][]float64, error) {
	req := goopenai.EmbeddingRequest{
		Input: inputs,
		Model: goopenai.EmbeddingModel(c.model),
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.client.CreateEmbeddings(ctx, req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries && retryable(err) && ctx.Err() == nil {
				c.sleep(retryDelay(attempt))
				continue
			}
			return nil, fmt.Errorf("openai embeddings failed: %w", err)
		}
		if len(resp.Data) != len(inputs) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(resp.Data))
		}
		out := make([][]float64, len(inputs))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(out) || len(d.Embedding) == 0 {
				return nil, errors.New("malformed embedding in response")
			}
			v := make([]float64, len(d.Embedding))
			for i, f := range d.Embedding {
				v[i] = float64(f)
			}
			out[d.Index] = v
		}
		for _, v := range out {
			if v == nil {
				return nil, errors.New("no embedding returned")
			}
		}
		c.mu.Lock()
		if c.dimension == 0 {
			c.dimension = len(out[0])
		}
		c.mu.Unlock()
		return out, nil
	}
	return nil, fmt.Errorf("openai embeddings failed: %w", lastErr)
}

func retryable(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	// transport level failure
	return true
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
