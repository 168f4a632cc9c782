// Package models loads the inference models once per process and owns
// their teardown.
package models

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/docintel/internal/config"
	"github.com/cloo-solutions/docintel/internal/embedding"
	"github.com/cloo-solutions/docintel/internal/inference"
	hosted "github.com/cloo-solutions/docintel/internal/openai"
	"github.com/cloo-solutions/docintel/internal/summarizer"
)

const pingTimeout = 10 * time.Second

// Registry holds the shared model handles. Both are safe for concurrent use.
type Registry struct {
	Embedder   *embedding.Generator
	Summarizer *summarizer.Summarizer
}

// Load builds the configured models. An unreachable model is logged, not
// fatal: requests fail with MODEL_UNAVAILABLE until it comes back.
func Load(ctx context.Context, cfg *config.Config) (*Registry, error) {
	embedModel, chatModel, err := newModels(cfg)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		Embedder: embedding.NewGenerator(embedModel, embedding.Config{
			Dimension: cfg.EmbeddingDimension,
		}),
		Summarizer: summarizer.New(chatModel, SummarizerConfig(cfg)),
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := r.Embedder.Ping(pingCtx); err != nil {
		log.Printf("models: embedding model %s not ready: %v", r.Embedder.ModelVersion(), err)
	}
	if err := r.Summarizer.Ping(pingCtx); err != nil {
		log.Printf("models: summary model %s not ready: %v", r.Summarizer.ModelName(), err)
	}

	log.Printf("models: loaded embedder=%s summarizer=%s", r.Embedder.ModelVersion(), r.Summarizer.ModelName())
	return r, nil
}

// SummarizerConfig maps the summary settings onto the summarizer.
func SummarizerConfig(cfg *config.Config) summarizer.Config {
	sc := summarizer.DefaultConfig()
	sc.PassThroughWords = cfg.SummaryPassThroughMin
	sc.CombineThresholdWords = cfg.SummaryCombineWords
	sc.NumBeams = cfg.SummaryNumBeams
	sc.Greedy = cfg.SummaryGreedy
	sc.EarlyStopping = cfg.SummaryEarlyStopping
	sc.NoRepeatNgramSize = cfg.SummaryNoRepeatNgram
	return sc
}

func newModels(cfg *config.Config) (embedding.Model, summarizer.Model, error) {
	var local *inference.Client
	if cfg.EmbeddingProvider == "local" || cfg.SummaryProvider == "local" {
		local = inference.NewClient(inference.Config{
			BaseURL:        cfg.InferenceBaseURL,
			APIKey:         cfg.InferenceAPIKey,
			EmbeddingModel: cfg.EmbeddingModel,
			ChatModel:      cfg.SummaryModel,
		})
	}

	var remote *hosted.Client
	if cfg.EmbeddingProvider == "openai" || cfg.SummaryProvider == "openai" {
		remote = hosted.NewClientWithConfig(hosted.Config{
			APIKey:              cfg.OpenAIAPIKey,
			EmbeddingModel:      openAIModel(cfg.EmbeddingProvider, cfg.EmbeddingModel, string(hosted.DefaultEmbeddingModel)),
			EmbeddingDimensions: cfg.EmbeddingDimension,
			RequestsPerSecond:   cfg.OpenAIRequestsPerSecond,
		})
	}

	var embedModel embedding.Model
	switch cfg.EmbeddingProvider {
	case "local":
		embedModel = local.Embedder()
	case "openai":
		embedModel = remote
	case "hash":
		embedModel = embedding.NewHashModel(cfg.EmbeddingDimension)
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}

	var chatModel summarizer.Model
	switch cfg.SummaryProvider {
	case "local":
		chatModel = local.Summarizer()
	case "openai":
		chatModel = hosted.NewChatSummarizer(remote, openAIModel(cfg.SummaryProvider, cfg.SummaryModel, hosted.DefaultChatModel))
	case "extractive":
		ext, err := summarizer.NewExtractive()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load extractive summarizer: %w", err)
		}
		chatModel = ext
	default:
		return nil, nil, fmt.Errorf("unknown summary provider %q", cfg.SummaryProvider)
	}

	return embedModel, chatModel, nil
}

// openAIModel keeps the local default model names from leaking into
// hosted API calls.
func openAIModel(provider, configured, fallback string) string {
	if provider != "openai" {
		return fallback
	}
	switch configured {
	case "", inference.DefaultEmbeddingModel, inference.DefaultChatModel:
		return fallback
	}
	return configured
}

// Close releases both model handles.
func (r *Registry) Close() error {
	return errors.Join(r.Embedder.Close(), r.Summarizer.Close())
}
