// Package chunker splits document text into bounded, sentence-aligned chunks.
package chunker

import (
	"fmt"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"

	"github.com/cloo-solutions/docintel/internal/domain"
)

// Config controls chunk sizing.
type Config struct {
	MaxWordsPerChunk int
	MaxTotalWords    int
}

// DefaultConfig bounds chunks at 300 words and documents at 3000 words.
func DefaultConfig() Config {
	return Config{
		MaxWordsPerChunk: 300,
		MaxTotalWords:    3000,
	}
}

// Result is the chunked form of one document.
type Result struct {
	Chunks []domain.Chunk
	// Truncated is set when the document exceeded MaxTotalWords and only
	// the leading MaxTotalWords words were chunked.
	Truncated      bool
	TotalWords     int
	ProcessedWords int
}

// Chunker is safe for concurrent use; the tokenizer is read-only after construction.
type Chunker struct {
	cfg       Config
	tokenizer *sentences.DefaultSentenceTokenizer
}

// New creates a Chunker backed by the English Punkt sentence model.
func New(cfg Config) (*Chunker, error) {
	def := DefaultConfig()
	if cfg.MaxWordsPerChunk <= 0 {
		cfg.MaxWordsPerChunk = def.MaxWordsPerChunk
	}
	if cfg.MaxTotalWords <= 0 {
		cfg.MaxTotalWords = def.MaxTotalWords
	}
	if cfg.MaxTotalWords < cfg.MaxWordsPerChunk {
		return nil, fmt.Errorf("max total words (%d) below max words per chunk (%d)", cfg.MaxTotalWords, cfg.MaxWordsPerChunk)
	}

	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentence tokenizer: %w", err)
	}

	return &Chunker{cfg: cfg, tokenizer: tokenizer}, nil
}

// Config returns the active sizing.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits text into chunks that end on sentence boundaries where possible.
// A single sentence longer than MaxWordsPerChunk is split at word boundaries.
func (c *Chunker) Chunk(text string) (*Result, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, domain.ErrEmptyInput
	}

	result := &Result{TotalWords: len(words)}
	if len(words) > c.cfg.MaxTotalWords {
		words = words[:c.cfg.MaxTotalWords]
		result.Truncated = true
	}
	result.ProcessedWords = len(words)

	limit := c.cfg.MaxWordsPerChunk
	var current []string
	emit := func(ws []string) {
		if len(ws) == 0 {
			return
		}
		result.Chunks = append(result.Chunks, domain.Chunk{
			Index:     len(result.Chunks),
			Content:   strings.Join(ws, " "),
			WordCount: len(ws),
		})
	}

	for _, sentence := range c.tokenizer.Tokenize(strings.Join(words, " ")) {
		sw := strings.Fields(sentence.Text)
		if len(sw) == 0 {
			continue
		}
		if len(current)+len(sw) > limit {
			emit(current)
			current = nil
		}
		for len(sw) > limit {
			emit(sw[:limit])
			sw = sw[limit:]
		}
		current = append(current, sw...)
	}
	emit(current)

	return result, nil
}

// Texts returns chunk contents in order.
func (r *Result) Texts() []string {
	out := make([]string, len(r.Chunks))
	for i, ch := range r.Chunks {
		out[i] = ch.Content
	}
	return out
}
