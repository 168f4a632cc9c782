package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/cloo-solutions/docintel/internal/domain"
)

const (
	upsertBatchSize = 100

	// tieWindow extra points are fetched so equal scores at the topK
	// boundary still break by id. maxQueryLimit bounds the widening.
	tieWindow     = 8
	maxQueryLimit = 1024
)

// pointNamespace derives stable Qdrant point UUIDs from chunk IDs.
var pointNamespace = uuid.MustParse("6f1c1a4e-3b57-4c4e-9a52-0d7c2f4b9e11")

var ErrQdrantUnreachable = errors.New("qdrant server unreachable")

type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	Dimension  int
}

// QdrantStore keeps chunk vectors in a Qdrant collection. The chunk ID,
// document ID and model version travel in the payload.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStore connects, waits for the server to report healthy and makes
// sure the collection exists with the expected vector size.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
	}

	if err := s.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Ping(ctx)
	}, backoff.WithContext(b, ctx))
}

func (s *QdrantStore) Ping(ctx context.Context) error {
	reply, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if reply == nil || reply.Title == "" {
		return errors.New("health check returned invalid response")
	}
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return fmt.Errorf("failed to get collection: %w", err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != uint64(s.dimension) {
			return domain.DimensionMismatch("collection %s stores %d dimensions, expected %d", s.collection, size, s.dimension)
		}
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for _, field := range []string{"document_id", "model_version"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if len(e.Embedding) != s.dimension {
			return domain.DimensionMismatch("entry %s has %d dimensions, store expects %d", e.ID, len(e.Embedding), s.dimension)
		}
	}

	for start := 0; start < len(entries); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(entries))

		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, e := range entries[start:end] {
			points = append(points, toPoint(e))
		}

		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, modelVersion string) ([]Hit, error) {
	if len(vector) != s.dimension {
		return nil, domain.DimensionMismatch("query has %d dimensions, store expects %d", len(vector), s.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	if err := s.checkModelVersion(ctx, modelVersion); err != nil {
		return nil, err
	}

	limit := topK + tieWindow
	for {
		results, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query vectors: %w", err)
		}

		hits := make([]Hit, 0, len(results))
		for _, r := range results {
			hits = append(hits, fromPoint(r))
		}
		SortHits(hits)
		if limit < maxQueryLimit && tiedPastCut(hits, topK, limit) {
			limit = min(limit*2, maxQueryLimit)
			continue
		}
		return hits[:min(topK, len(hits))], nil
	}
}

// checkModelVersion fails when any stored vector was produced by another model.
func (s *QdrantStore) checkModelVersion(ctx context.Context, modelVersion string) error {
	stale, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{
			MustNot: []*qdrant.Condition{qdrant.NewMatch("model_version", modelVersion)},
		},
		Limit:       qdrant.PtrOf(uint32(1)),
		WithPayload: qdrant.NewWithPayloadInclude("model_version"),
	})
	if err != nil {
		return fmt.Errorf("failed to look for stale vectors: %w", err)
	}
	if len(stale) > 0 {
		return domain.DimensionMismatch("stored vectors from %s do not match %s",
			stale[0].Payload["model_version"].GetStringValue(), modelVersion)
	}
	return nil
}

// tiedPastCut reports whether a full page of sorted hits may have cut off
// points scoring the same as the last hit kept, which the id tie-break
// could rank above it.
func tiedPastCut(hits []Hit, topK, limit int) bool {
	if len(hits) < limit || topK <= 0 || topK > len(hits) {
		return false
	}
	return hits[len(hits)-1].Score == hits[topK-1].Score
}

func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete vectors for document %s: %w", documentID, err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// PointID maps a chunk ID onto the UUID Qdrant requires.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func toPoint(e Entry) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(PointID(e.ID)),
		Vectors: qdrant.NewVectors(e.Embedding...),
		Payload: qdrant.NewValueMap(map[string]any{
			"chunk_id":      e.ID,
			"document_id":   e.DocumentID,
			"chunk_index":   e.ChunkIndex,
			"content":       e.Content,
			"model_version": e.ModelVersion,
		}),
	}
}

func fromPoint(p *qdrant.ScoredPoint) Hit {
	return Hit{
		ID:         p.Payload["chunk_id"].GetStringValue(),
		DocumentID: p.Payload["document_id"].GetStringValue(),
		ChunkIndex: int(p.Payload["chunk_index"].GetIntegerValue()),
		Content:    p.Payload["content"].GetStringValue(),
		Score:      float64(p.Score),
	}
}
