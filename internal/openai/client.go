// Package openai adapts the hosted OpenAI API to the embedding and
// summarization model interfaces.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/cloo-solutions/docintel/internal/summarizer"
)

const (
	// DefaultEmbeddingModel supports shortened outputs through the dimensions parameter.
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions matches the vector(384) column.
	DefaultEmbeddingDimensions = 384
	// DefaultChatModel summarizes chunks.
	DefaultChatModel = openai.GPT4oMini

	// Fixed sampling seed; with near-zero temperature the output is reproducible.
	defaultSeed = 7
	// Rough words-to-tokens ratio for English text.
	tokensPerWord = 1.4
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
	// ErrNoChoices is returned when a chat completion has no choices
	ErrNoChoices = errors.New("no completion choices returned")
)

// API is the subset of the OpenAI API the adapters use.
type API interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (string, error)
	ListModels(ctx context.Context) error
}

// OpenAIAdapter calls the OpenAI API through a shared rate limiter.
type OpenAIAdapter struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	limiter    *rate.Limiter
}

func NewOpenAIAdapter(apiKey string, model openai.EmbeddingModel, dimensions int, requestsPerSecond float64) *OpenAIAdapter {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &OpenAIAdapter{
		client:     openai.NewClient(apiKey),
		model:      model,
		dimensions: dimensions,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      a.model,
		Dimensions: a.dimensions,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// CreateChatCompletion returns the first choice's content.
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// ListModels verifies the key and connectivity.
func (a *OpenAIAdapter) ListModels(ctx context.Context) error {
	_, err := a.client.ListModels(ctx)
	return err
}

type Config struct {
	APIKey              string
	EmbeddingModel      string
	EmbeddingDimensions int
	ChatModel           string
	RequestsPerSecond   float64
}

// Client is an embedding.Model backed by the OpenAI embeddings endpoint.
type Client struct {
	api        API
	model      string
	dimensions int
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	model := openai.EmbeddingModel(cfg.EmbeddingModel)
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &Client{
		api:        NewOpenAIAdapter(cfg.APIKey, model, dimensions, cfg.RequestsPerSecond),
		model:      string(model),
		dimensions: dimensions,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

func (c *Client) Name() string {
	return "openai/" + c.model
}

// EmbedBatch generates one embedding per text
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	vectors, err := c.api.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	return vectors, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.api.ListModels(ctx)
}

func (c *Client) Close() error { return nil }

// ChatSummarizer is a summarizer.Model backed by chat completions.
type ChatSummarizer struct {
	api   API
	model string
}

// NewChatSummarizer shares the adapter (and its rate limit) with the embedding client.
func NewChatSummarizer(c *Client, model string) *ChatSummarizer {
	if model == "" {
		model = DefaultChatModel
	}
	return &ChatSummarizer{api: c.api, model: model}
}

func (s *ChatSummarizer) Name() string {
	return "openai/" + s.model
}

func (s *ChatSummarizer) Summarize(ctx context.Context, text string, opts summarizer.DecodeOptions) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	out, err := s.api.CreateChatCompletion(ctx, ChatRequest(s.model, text, opts))
	if err != nil {
		return "", fmt.Errorf("failed to create summary: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (s *ChatSummarizer) Ping(ctx context.Context) error {
	return s.api.ListModels(ctx)
}

func (s *ChatSummarizer) Close() error { return nil }

// ChatRequest maps decoding knobs onto a chat completion request. Greedy
// decoding becomes a near-zero temperature (zero is omitted on the wire)
// with a fixed seed. Beam count has no chat equivalent and is dropped.
func ChatRequest(model, text string, opts summarizer.DecodeOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: opts.Prompt()},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		N: 1,
	}
	if opts.MaxLength > 0 {
		req.MaxTokens = int(math.Ceil(float64(opts.MaxLength) * tokensPerWord))
	}
	if opts.Greedy {
		seed := defaultSeed
		req.Temperature = math.SmallestNonzeroFloat32
		req.Seed = &seed
	}
	return req
}
