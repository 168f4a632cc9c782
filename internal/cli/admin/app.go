package admin

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docintel/internal/cache"
	"github.com/cloo-solutions/docintel/internal/config"
	"github.com/cloo-solutions/docintel/internal/database"
	"github.com/cloo-solutions/docintel/internal/extract"
	"github.com/cloo-solutions/docintel/internal/repository"
	"github.com/cloo-solutions/docintel/internal/service"
	"github.com/cloo-solutions/docintel/internal/storage"
	"github.com/cloo-solutions/docintel/internal/vectorstore"
)

// app holds the infrastructure shared by every admin command. Models are
// loaded separately because only serve runs inference.
type app struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	cache    *cache.Cache
	vectors  vectorstore.Store
	storage  *storage.S3Client
	docRepo  *repository.DocumentRepository
	jobRepo  *repository.ProcessingJobRepository
	corpus   *repository.CorpusRepository
	txRunner *repository.TxRunner
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,

		ConnectTimeout: cfg.DBConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	log.Println("connected to database")

	a := &app{
		cfg:      cfg,
		pool:     pool,
		docRepo:  repository.NewDocumentRepository(pool),
		jobRepo:  repository.NewProcessingJobRepository(pool),
		corpus:   repository.NewCorpusRepository(pool),
		txRunner: repository.NewTxRunner(pool),
	}

	backend, err := newCacheBackend(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.cache = cache.New(backend, cfg.CacheTimeout)

	a.vectors, err = newVectorStore(ctx, cfg, pool)
	if err != nil {
		_ = a.cache.Close()
		pool.Close()
		return nil, err
	}

	if cfg.HasS3() {
		a.storage, err = storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := a.storage.EnsureBucket(ctx); err != nil {
			log.Printf("archive: bucket %s unavailable, uploads will not be archived: %v", cfg.S3Bucket, err)
			a.storage = nil
		} else {
			log.Printf("archive: S3 bucket '%s' ready", cfg.S3Bucket)
		}
	}

	return a, nil
}

// newCacheBackend never fails on an unreachable Redis; the cache degrades
// until the server answers.
func newCacheBackend(cfg *config.Config) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case "redis":
		log.Printf("cache: redis at %s", cfg.RedisAddr())
		return cache.NewRedisBackend(cache.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  cfg.CacheTimeout,
		}), nil
	case "bolt":
		b, err := cache.NewBoltBackend(cfg.CacheBoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt cache: %w", err)
		}
		log.Printf("cache: bolt file %s", cfg.CacheBoltPath)
		return b, nil
	case "memory":
		log.Println("cache: in-process memory")
		return cache.NewMemoryBackend(), nil
	default:
		log.Println("cache: disabled")
		return cache.NoopBackend{}, nil
	}
}

func newVectorStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (vectorstore.Store, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		s, err := vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			Collection: cfg.QdrantCollection,
			Dimension:  cfg.EmbeddingDimension,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("vectors: qdrant collection %s", cfg.QdrantCollection)
		return s, nil
	case "memory":
		log.Println("vectors: in-process memory (not persisted)")
		return vectorstore.NewMemoryStore(cfg.EmbeddingDimension), nil
	default:
		log.Println("vectors: pgvector")
		return repository.NewEmbeddingStore(pool, cfg.EmbeddingDimension), nil
	}
}

func (a *app) ttls() service.CacheTTLs {
	return service.CacheTTLs{
		Summary:     a.cfg.SummaryTTL(),
		Search:      a.cfg.SearchTTL(),
		EmptySearch: a.cfg.EmptySearchTTL(),
		Document:    a.cfg.DocumentTTL(),
	}
}

func (a *app) documentService() *service.DocumentService {
	svc := service.NewDocumentService(a.docRepo, a.jobRepo, a.txRunner, a.corpus, a.vectors, extract.New(), a.cache, a.ttls())
	if a.storage != nil {
		svc.WithStorage(a.storage)
	}
	return svc
}

// Close releases the vector store, the cache, and the pool, in that order.
func (a *app) Close() error {
	var errs []error
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	a.pool.Close()
	return errors.Join(errs...)
}
