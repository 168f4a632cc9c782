package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloo-solutions/docintel/internal/cache"
	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/telemetry"
)

const (
	DefaultTopK = 10
	MaxTopK     = 100
	// MinScore drops chunks too dissimilar to the query to be useful.
	MinScore = 0.2

	// Chunks fetched per requested document, since several chunks of one
	// document collapse into a single result.
	candidatesPerResult = 4
)

// SearchService ranks completed documents against a query.
type SearchService struct {
	docRepo    DocumentRepositoryInterface
	corpusRepo CorpusRepositoryInterface
	vectors    VectorStore
	embedder   Embedder
	cache      *cache.Cache
	ttls       CacheTTLs
}

func NewSearchService(
	docRepo DocumentRepositoryInterface,
	corpusRepo CorpusRepositoryInterface,
	vectors VectorStore,
	embedder Embedder,
	c *cache.Cache,
	ttls CacheTTLs,
) *SearchService {
	if c == nil {
		c = cache.New(nil, 0)
	}
	return &SearchService{
		docRepo:    docRepo,
		corpusRepo: corpusRepo,
		vectors:    vectors,
		embedder:   embedder,
		cache:      c,
		ttls:       ttls,
	}
}

type SearchOutput struct {
	Query   string
	Results []domain.SearchResult
	Cached  bool
}

// Search returns up to topK documents ordered by their best chunk's score.
// A topK of zero selects DefaultTopK.
func (s *SearchService) Search(ctx context.Context, query string, topK int) (*SearchOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		Operation: "search",
	})
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrEmptyInput
	}
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 || topK > MaxTopK {
		return nil, domain.ErrInvalidTopK
	}

	// Without a version there is no safe key, so the cache is skipped.
	key := ""
	version, err := s.corpusRepo.Current(ctx)
	if err != nil {
		log.Printf("search: corpus version unavailable, bypassing cache: %v", err)
	} else {
		key = cache.SearchKey(version, query, topK)
	}

	if key != "" {
		var cached []domain.SearchResult
		if s.cache.Get(ctx, key, &cached) {
			return &SearchOutput{Query: query, Results: cached, Cached: true}, nil
		}
	}

	results, err := s.rank(ctx, query, topK)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	if key != "" {
		ttl := s.ttls.Search
		if len(results) == 0 {
			ttl = s.ttls.EmptySearch
		}
		s.cache.Set(ctx, key, results, ttl)
	}

	return &SearchOutput{Query: query, Results: results, Cached: false}, nil
}

func (s *SearchService) rank(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.vectors.Query(ctx, vector, topK*candidatesPerResult, s.embedder.ModelVersion())
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	// Hits arrive best first, so the first hit per document is its best chunk.
	order := make([]string, 0, len(hits))
	best := make(map[string]int, len(hits))
	for i, h := range hits {
		if h.Score < MinScore {
			continue
		}
		if _, seen := best[h.DocumentID]; seen {
			continue
		}
		best[h.DocumentID] = i
		order = append(order, h.DocumentID)
	}

	results := make([]domain.SearchResult, 0, min(len(order), topK))
	if len(order) == 0 {
		return results, nil
	}

	docs, err := s.docRepo.GetCompleted(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	for _, id := range order {
		doc, ok := docs[id]
		if !ok {
			continue
		}
		h := hits[best[id]]
		results = append(results, domain.SearchResult{
			DocumentID: id,
			Filename:   doc.Filename,
			Snippet:    h.Content,
			Summary:    doc.Summary,
			Score:      h.Score,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}
