//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docintel/internal/api/handlers"
	"github.com/cloo-solutions/docintel/internal/cache"
	"github.com/cloo-solutions/docintel/internal/chunker"
	"github.com/cloo-solutions/docintel/internal/database"
	"github.com/cloo-solutions/docintel/internal/embedding"
	"github.com/cloo-solutions/docintel/internal/extract"
	"github.com/cloo-solutions/docintel/internal/jobs"
	"github.com/cloo-solutions/docintel/internal/repository"
	"github.com/cloo-solutions/docintel/internal/server"
	"github.com/cloo-solutions/docintel/internal/service"
	"github.com/cloo-solutions/docintel/internal/storage"
	"github.com/cloo-solutions/docintel/internal/summarizer"
	"github.com/cloo-solutions/docintel/internal/testutil"
)

const (
	testDimension = 384
	testBucket    = "e2e-uploads"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RedisC       *testutil.RedisContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	Cache        *cache.Cache
	S3Client     *storage.S3Client
	ServerURL    string
	ServerCloser func()
	BinaryDir    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres, Redis and RustFS and serves the full API
// in-process with the hash embedder and the extractive summarizer.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	redisC := testutil.NewRedisContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          testBucket,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	c := cache.New(cache.NewRedisBackend(cache.RedisConfig{
		Addr:    redisC.Addr,
		Timeout: 2 * time.Second,
	}), 2*time.Second)

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RedisC:     redisC,
		RustFSC:    s3C,
		Pool:       pool,
		Cache:      c,
		S3Client:   s3Client,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.ServerURL, env.ServerCloser = startServer(t, pool, c, s3Client, port)

	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.RedisC != nil {
		e.RedisC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinary builds docinteld into a temp dir
func (e *E2ETestEnv) BuildBinary() {
	tmpDir, err := os.MkdirTemp("", "docintel-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "docinteld"), "./cmd/docinteld")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build docinteld: %v\n%s", err, out)
	}
}

// RunDocinteld runs the admin CLI against the test database.
func (e *E2ETestEnv) RunDocinteld(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "docinteld"), args...)
	cmd.Dir = "../.."
	cmd.Env = append(os.Environ(),
		"DOCINTEL_DATABASE_URL="+e.PostgresC.ConnectionString(),
		"DOCINTEL_CACHE_BACKEND=redis",
		"DOCINTEL_REDIS_HOST="+hostOf(e.RedisC.Addr),
		"DOCINTEL_REDIS_PORT="+portOf(e.RedisC.Addr),
		"DOCINTEL_EMBEDDING_PROVIDER=hash",
		"DOCINTEL_SUMMARY_PROVIDER=extractive",
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Status int             `json:"-"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

func (e *E2ETestEnv) Get(path, owner string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, owner)
}

func (e *E2ETestEnv) Post(path string, body any, owner string) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, owner)
}

func (e *E2ETestEnv) Delete(path, owner string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil, owner)
}

func (e *E2ETestEnv) doRequest(method, path string, body any, owner string) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := &APIResponse{Status: resp.StatusCode}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, apiResp); err != nil {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
		}
	}
	return apiResp, nil
}

// WaitForStatus polls a document until it reaches want or the timeout passes.
func (e *E2ETestEnv) WaitForStatus(id, owner, want string, timeout time.Duration) map[string]any {
	deadline := time.Now().Add(timeout)
	var doc map[string]any
	for time.Now().Before(deadline) {
		resp, err := e.Get("/documents/"+id, owner)
		if err == nil && resp.Status == http.StatusOK {
			doc = map[string]any{}
			if err := json.Unmarshal(resp.Data, &doc); err == nil && doc["status"] == want {
				return doc
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	e.T.Fatalf("document %s did not reach %s within %v (last: %v)", id, want, timeout, doc)
	return nil
}

func startServer(t *testing.T, pool *pgxpool.Pool, c *cache.Cache, s3Client *storage.S3Client, port int) (string, func()) {
	docRepo := repository.NewDocumentRepository(pool)
	jobRepo := repository.NewProcessingJobRepository(pool)
	corpus := repository.NewCorpusRepository(pool)
	txRunner := repository.NewTxRunner(pool)
	vectors := repository.NewEmbeddingStore(pool, testDimension)

	ch, err := chunker.New(chunker.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create chunker: %v", err)
	}
	ext, err := summarizer.NewExtractive()
	if err != nil {
		t.Fatalf("failed to load extractive summarizer: %v", err)
	}
	embedder := embedding.NewGenerator(embedding.NewHashModel(testDimension), embedding.Config{Dimension: testDimension})
	summ := summarizer.New(ext, summarizer.DefaultConfig())

	ttls := service.CacheTTLs{
		Summary:     time.Hour,
		Search:      time.Hour,
		EmptySearch: time.Minute,
		Document:    time.Hour,
	}
	pipeline := service.NewPipeline(docRepo, txRunner, vectors, ch, embedder, summ, c, ttls)
	searchSvc := service.NewSearchService(docRepo, corpus, vectors, embedder, c, ttls)
	summarySvc := service.NewSummaryService(ch, summ, c, ttls.Summary)
	documentSvc := service.NewDocumentService(docRepo, jobRepo, txRunner, corpus, vectors, extract.New(), c, ttls).
		WithStorage(s3Client)

	worker := jobs.NewWorker(jobs.NewProcessingWorker(jobRepo, pipeline, 2, time.Minute), 100*time.Millisecond)
	documentSvc.WithNotifier(worker)
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	go worker.Start(workerCtx)

	router := server.NewRouter(server.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(c).WithPoolStats(func() database.Stats {
			return database.PoolStats(pool)
		}),
		DocumentHandler: handlers.NewDocumentHandler(documentSvc, searchSvc),
		SummaryHandler:  handlers.NewSummaryHandler(summarySvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		cancelWorker()
		worker.Stop()
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func hostOf(addr string) string {
	host, _, _ := net.SplitHostPort(addr)
	return host
}

func portOf(addr string) string {
	_, port, _ := net.SplitHostPort(addr)
	return port
}
