// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloo-solutions/docintel/internal/domain"
)

const (
	// DefaultDimension matches all-MiniLM-L6-v2 and the vector(384) column.
	DefaultDimension = 384
	// DefaultBatchSize bounds texts per inference call.
	DefaultBatchSize = 64
)

// Model is an inference backend. Implementations must be safe for
// concurrent use and deterministic for a fixed model version.
type Model interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	Dimension int
	BatchSize int
}

// Generator validates model output and maps backend failures onto the
// pipeline's error taxonomy.
type Generator struct {
	model     Model
	dimension int
	batchSize int
}

func NewGenerator(model Model, cfg Config) *Generator {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Generator{
		model:     model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
	}
}

// Dimension is the length of every vector the generator returns.
func (g *Generator) Dimension() int {
	return g.dimension
}

// ModelVersion tags stored vectors so vectors from different models are never compared.
func (g *Generator) ModelVersion() string {
	return fmt.Sprintf("%s@%d", g.model.Name(), g.dimension)
}

// Embed returns the vector for a single text.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text, in order.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, domain.ErrEmptyInput
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, domain.ErrEmptyInput
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))

		vectors, err := g.model.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, g.classify(ctx, err)
		}
		if len(vectors) != end-start {
			return nil, domain.ModelUnavailable(fmt.Errorf("model %s returned %d vectors for %d texts", g.model.Name(), len(vectors), end-start))
		}
		for i, v := range vectors {
			if len(v) != g.dimension {
				return nil, domain.DimensionMismatch("model %s returned %d dimensions for text %d, expected %d", g.model.Name(), len(v), start+i, g.dimension)
			}
		}
		out = append(out, vectors...)
	}

	return out, nil
}

// Ping checks that the backing model can serve requests.
func (g *Generator) Ping(ctx context.Context) error {
	if err := g.model.Ping(ctx); err != nil {
		return g.classify(ctx, err)
	}
	return nil
}

func (g *Generator) Close() error {
	return g.model.Close()
}

// classify keeps caller cancellation distinct from model failure so a
// timed-out job stays retryable.
func (g *Generator) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("failed to generate embedding: %w", ctxErr)
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ModelUnavailable(fmt.Errorf("%s: %w", g.model.Name(), err))
}
