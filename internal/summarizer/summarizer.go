// Package summarizer produces one abstractive summary from a document's chunks.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/docintel/internal/domain"
)

// DecodeOptions are latency knobs handed to the model. Lengths are in words.
// Backends ignore knobs they cannot express.
type DecodeOptions struct {
	MaxLength         int
	MinLength         int
	NumBeams          int
	Greedy            bool
	EarlyStopping     bool
	NoRepeatNgramSize int
}

// Prompt renders the options as instructions for chat-style models.
func (o DecodeOptions) Prompt() string {
	var b strings.Builder
	b.WriteString("Summarize the user's text as plain prose. Reply with the summary only.")
	if o.MaxLength > 0 {
		fmt.Fprintf(&b, " Use at most %d words", o.MaxLength)
		if o.MinLength > 0 {
			fmt.Fprintf(&b, " and at least %d words", o.MinLength)
		}
		b.WriteString(".")
	}
	if o.NoRepeatNgramSize > 0 {
		b.WriteString(" Do not repeat phrases.")
	}
	return b.String()
}

// Model is a summarization backend. It must be safe for concurrent use and
// deterministic when Greedy is set.
type Model interface {
	Summarize(ctx context.Context, text string, opts DecodeOptions) (string, error)
	Name() string
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	// Chunks shorter than this are used verbatim.
	PassThroughWords int
	// A joined summary longer than this gets one more pass.
	CombineThresholdWords int

	ChunkMaxLength      int
	ChunkMaxLengthFloor int
	ChunkMinLength      int
	FinalMaxLength      int
	FinalMinLength      int

	NumBeams          int
	Greedy            bool
	EarlyStopping     bool
	NoRepeatNgramSize int

	// Parallelism bounds concurrent per-chunk calls.
	Parallelism int
}

func DefaultConfig() Config {
	return Config{
		PassThroughWords:      30,
		CombineThresholdWords: 250,
		ChunkMaxLength:        150,
		ChunkMaxLengthFloor:   60,
		ChunkMinLength:        30,
		FinalMaxLength:        200,
		FinalMinLength:        60,
		NumBeams:              4,
		Greedy:                true,
		EarlyStopping:         true,
		NoRepeatNgramSize:     2,
		Parallelism:           2,
	}
}

type Summarizer struct {
	model Model
	cfg   Config
}

func New(model Model, cfg Config) *Summarizer {
	def := DefaultConfig()
	if cfg.PassThroughWords <= 0 {
		cfg.PassThroughWords = def.PassThroughWords
	}
	if cfg.CombineThresholdWords <= 0 {
		cfg.CombineThresholdWords = def.CombineThresholdWords
	}
	if cfg.ChunkMaxLength <= 0 {
		cfg.ChunkMaxLength = def.ChunkMaxLength
	}
	if cfg.ChunkMaxLengthFloor <= 0 {
		cfg.ChunkMaxLengthFloor = def.ChunkMaxLengthFloor
	}
	if cfg.ChunkMinLength <= 0 {
		cfg.ChunkMinLength = def.ChunkMinLength
	}
	if cfg.FinalMaxLength <= 0 {
		cfg.FinalMaxLength = def.FinalMaxLength
	}
	if cfg.FinalMinLength <= 0 {
		cfg.FinalMinLength = def.FinalMinLength
	}
	if cfg.NumBeams <= 0 {
		cfg.NumBeams = 1
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Summarizer{model: model, cfg: cfg}
}

// ModelName identifies the backing model.
func (s *Summarizer) ModelName() string {
	return s.model.Name()
}

// Summarize summarizes each chunk, joins the results in chunk order and,
// when the joined text exceeds CombineThresholdWords, runs one final pass
// over it. The output depends only on the chunk sequence and the model.
func (s *Summarizer) Summarize(ctx context.Context, chunks []string) (string, error) {
	parts := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, chunk := range chunks {
		words := strings.Fields(chunk)
		if len(words) == 0 {
			continue
		}
		if len(words) < s.cfg.PassThroughWords {
			parts[i] = strings.Join(words, " ")
			continue
		}
		g.Go(func() error {
			out, err := s.model.Summarize(gctx, chunk, s.chunkOptions(len(words)))
			if err != nil {
				return s.classify(gctx, err)
			}
			parts[i] = fallback(out, words, s.chunkOptions(len(words)).MaxLength)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	joined := strings.Join(nonEmpty(parts), " ")
	if joined == "" {
		return "", domain.ErrEmptyInput
	}

	words := strings.Fields(joined)
	if len(words) <= s.cfg.CombineThresholdWords {
		return joined, nil
	}

	opts := s.options(s.cfg.FinalMaxLength, s.cfg.FinalMinLength)
	out, err := s.model.Summarize(ctx, joined, opts)
	if err != nil {
		return "", s.classify(ctx, err)
	}
	return fallback(out, words, opts.MaxLength), nil
}

// SummarizeText summarizes raw text treated as a single chunk sequence entry.
func (s *Summarizer) SummarizeText(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrEmptyInput
	}
	return s.Summarize(ctx, []string{text})
}

func (s *Summarizer) Ping(ctx context.Context) error {
	if err := s.model.Ping(ctx); err != nil {
		return s.classify(ctx, err)
	}
	return nil
}

func (s *Summarizer) Close() error {
	return s.model.Close()
}

// chunkOptions scales the length budget with the chunk: a third of its
// words, clamped to [ChunkMaxLengthFloor, ChunkMaxLength].
func (s *Summarizer) chunkOptions(words int) DecodeOptions {
	maxLen := min(s.cfg.ChunkMaxLength, max(s.cfg.ChunkMaxLengthFloor, words/3))
	minLen := min(s.cfg.ChunkMinLength, maxLen)
	return s.options(maxLen, minLen)
}

func (s *Summarizer) options(maxLen, minLen int) DecodeOptions {
	return DecodeOptions{
		MaxLength:         maxLen,
		MinLength:         minLen,
		NumBeams:          s.cfg.NumBeams,
		Greedy:            s.cfg.Greedy,
		EarlyStopping:     s.cfg.EarlyStopping,
		NoRepeatNgramSize: s.cfg.NoRepeatNgramSize,
	}
}

func (s *Summarizer) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("failed to summarize: %w", ctxErr)
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ModelUnavailable(fmt.Errorf("%s: %w", s.model.Name(), err))
}

// fallback keeps the leading words of the input when a model returns nothing.
func fallback(out string, words []string, maxLen int) string {
	out = strings.Join(strings.Fields(out), " ")
	if out != "" {
		return out
	}
	if len(words) > maxLen {
		words = words[:maxLen]
	}
	return strings.Join(words, " ")
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
