package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/docintel/internal/cache"
	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/telemetry"
)

// SummaryService summarizes ad-hoc text through the same chunking and
// content-addressed cache as the upload path.
type SummaryService struct {
	chunker    Chunker
	summarizer Summarizer
	cache      *cache.Cache
	ttl        time.Duration
}

func NewSummaryService(chunker Chunker, summarizer Summarizer, c *cache.Cache, ttl time.Duration) *SummaryService {
	if c == nil {
		c = cache.New(nil, 0)
	}
	return &SummaryService{chunker: chunker, summarizer: summarizer, cache: c, ttl: ttl}
}

type SummaryOutput struct {
	Summary   string
	Truncated bool
	Cached    bool
}

func (s *SummaryService) Summarize(ctx context.Context, text string) (*SummaryOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "SummaryService.Summarize", telemetry.SpanAttributes{
		Operation: "summarize",
	})
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyInput
	}

	chunked, err := s.chunker.Chunk(text)
	if err != nil {
		return nil, err
	}

	summary, hit, err := cachedSummary(ctx, s.cache, s.ttl, s.summarizer, chunked.Texts())
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	return &SummaryOutput{Summary: summary, Truncated: chunked.Truncated, Cached: hit}, nil
}

// cachedSummary looks the chunk sequence up by the hash of its normalized
// text before calling the model.
func cachedSummary(ctx context.Context, c *cache.Cache, ttl time.Duration, summarizer Summarizer, texts []string) (string, bool, error) {
	key := cache.SummaryKey(strings.Join(texts, " "))

	var summary string
	if c.Get(ctx, key, &summary) {
		return summary, true, nil
	}

	summary, err := summarizer.Summarize(ctx, texts)
	if err != nil {
		return "", false, err
	}

	c.Set(ctx, key, summary, ttl)
	return summary, false, nil
}

// ReconcileSummaryModel drops every cached summary when model differs from
// the model recorded by the process that filled the cache, then records
// model. It reports whether summaries were dropped.
func ReconcileSummaryModel(ctx context.Context, c *cache.Cache, model string) bool {
	var recorded string
	if c.Get(ctx, cache.SummaryModelKey, &recorded) && recorded == model {
		return false
	}

	c.InvalidatePrefix(ctx, cache.SummaryPrefix)
	c.Set(ctx, cache.SummaryModelKey, model, 0)
	if recorded != "" {
		log.Printf("summaries: model changed from %s to %s, cached summaries dropped", recorded, model)
	}
	return true
}
