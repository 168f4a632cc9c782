// Package inference talks to an OpenAI-compatible inference server, such as
// Ollama serving all-minilm, for embeddings and summaries.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/cloo-solutions/docintel/internal/summarizer"
)

const (
	DefaultBaseURL        = "http://localhost:11434/v1"
	DefaultEmbeddingModel = "all-minilm"
	DefaultChatModel      = "llama3.2"

	defaultMaxRetries = 3
	defaultSeed       = 7
)

type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	RequestTimeout time.Duration
	MaxRetries     uint64
}

// Client holds one HTTP client shared by the embedder and summarizer.
type Client struct {
	api        openai.Client
	cfg        Config
	newBackOff func() backoff.BackOff
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	api := openai.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.RequestTimeout),
		// Retries are handled here with backoff so that only transient failures repeat.
		option.WithMaxRetries(0),
	)

	c := &Client{api: api, cfg: cfg}
	c.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 10 * time.Second
		b.MaxElapsedTime = 30 * time.Second
		return backoff.WithMaxRetries(b, c.cfg.MaxRetries)
	}
	return c
}

// Embedder returns the embedding.Model view of the client.
func (c *Client) Embedder() *Embedder {
	return &Embedder{client: c}
}

// Summarizer returns the summarizer.Model view of the client.
func (c *Client) Summarizer() *Summarizer {
	return &Summarizer{client: c}
}

// Ping lists the server's models and checks the configured ones are served.
func (c *Client) Ping(ctx context.Context, model string) error {
	page, err := c.api.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("inference server %s unreachable: %w", c.cfg.BaseURL, err)
	}
	for _, m := range page.Data {
		if m.ID == model || strings.TrimSuffix(m.ID, ":latest") == model {
			return nil
		}
	}
	return fmt.Errorf("model %q is not served by %s", model, c.cfg.BaseURL)
}

// retry runs op with exponential backoff, repeating only rate limits,
// server errors and transport failures.
func (c *Client) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil || isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(c.newBackOff(), ctx))
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

// Embedder is an embedding.Model.
type Embedder struct {
	client *Client
}

func (e *Embedder) Name() string { return "local/" + e.client.cfg.EmbeddingModel }

func (e *Embedder) Ping(ctx context.Context) error {
	return e.client.Ping(ctx, e.client.cfg.EmbeddingModel)
}

func (e *Embedder) Close() error { return nil }

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.client.retry(ctx, func() error {
		resp, err := e.client.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: e.client.cfg.EmbeddingModel,
		})
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
		}

		out = make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || int(d.Index) >= len(out) {
				return backoff.Permanent(fmt.Errorf("embedding index %d out of range", d.Index))
			}
			out[d.Index] = toFloat32(d.Embedding)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	return out, nil
}

// Summarizer is a summarizer.Model.
type Summarizer struct {
	client *Client
}

func (s *Summarizer) Name() string { return "local/" + s.client.cfg.ChatModel }

func (s *Summarizer) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, s.client.cfg.ChatModel)
}

func (s *Summarizer) Close() error { return nil }

func (s *Summarizer) Summarize(ctx context.Context, text string, opts summarizer.DecodeOptions) (string, error) {
	params := ChatParams(s.client.cfg.ChatModel, text, opts)

	var out string
	err := s.client.retry(ctx, func() error {
		resp, err := s.client.api.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("no completion choices returned"))
		}
		out = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to create summary: %w", err)
	}
	return out, nil
}

// ChatParams maps decoding knobs onto a chat completion request.
func ChatParams(model, text string, opts summarizer.DecodeOptions) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(opts.Prompt()),
			openai.UserMessage(text),
		},
		N: openai.Int(1),
	}
	if opts.MaxLength > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxLength) * 2)
	}
	if opts.Greedy {
		params.Temperature = openai.Float(0)
		params.Seed = openai.Int(defaultSeed)
	}
	return params
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
