// Package testutil starts the backing services integration tests run
// against. Callers terminate what they start.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cloo-solutions/docintel/internal/database"
)

const (
	pgCredential     = "docintel"
	rustfsCredential = "rustfsadmin"
)

// started is a running generic container and the host it is reachable on.
type started struct {
	container testcontainers.Container
	host      string
}

func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest) started {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host of %s: %v", req.Image, err)
	}
	return started{container: container, host: host}
}

func (s started) port(ctx context.Context, t *testing.T, port string) string {
	t.Helper()
	mapped, err := s.container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("failed to get mapped port %s: %v", port, err)
	}
	return mapped.Port()
}

// PostgresContainer runs Postgres with the pgvector extension available.
type PostgresContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	s := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:0.8.1-pg18",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgCredential,
			"POSTGRES_PASSWORD": pgCredential,
			"POSTGRES_DB":       pgCredential,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(60 * time.Second),
	})
	return &PostgresContainer{Container: s.container, Host: s.host, Port: s.port(ctx, t, "5432")}
}

func (pc *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%[1]s:%[1]s@%s:%s/%[1]s?sslmode=disable", pgCredential, pc.Host, pc.Port)
}

func (pc *PostgresContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(pc.Container)
}

// RedisContainer is a throwaway Redis for cache tests.
type RedisContainer struct {
	Container *tcredis.RedisContainer
	Addr      string
}

func NewRedisContainer(ctx context.Context, t *testing.T) *RedisContainer {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("failed to get redis port: %v", err)
	}
	return &RedisContainer{Container: container, Addr: host + ":" + port.Port()}
}

func (rc *RedisContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(rc.Container)
}

// QdrantContainer exposes Qdrant's gRPC port; readiness is checked over HTTP.
type QdrantContainer struct {
	Container testcontainers.Container
	Host      string
	GRPCPort  int
}

func NewQdrantContainer(ctx context.Context, t *testing.T) *QdrantContainer {
	s := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "qdrant/qdrant:v1.16.2",
		ExposedPorts: []string{"6333/tcp", "6334/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("6334/tcp"),
			wait.ForHTTP("/readyz").WithPort("6333/tcp"),
		).WithStartupTimeout(60 * time.Second),
	})
	mapped, err := s.container.MappedPort(ctx, "6334")
	if err != nil {
		t.Fatalf("failed to get qdrant grpc port: %v", err)
	}
	return &QdrantContainer{Container: s.container, Host: s.host, GRPCPort: mapped.Int()}
}

func (qc *QdrantContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(qc.Container)
}

// RustFSContainer is an S3-compatible object store for archive tests.
type RustFSContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	s := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "rustfs/rustfs:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": rustfsCredential,
			"RUSTFS_SECRET_KEY": rustfsCredential,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	})
	return &RustFSContainer{Container: s.container, Host: s.host, Port: s.port(ctx, t, "9000")}
}

func (rc *RustFSContainer) Endpoint() string {
	return fmt.Sprintf("http://%s:%s", rc.Host, rc.Port)
}

func (rc *RustFSContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(rc.Container)
}

// NewTestPool migrates the container's database to the latest version and
// returns a pool on it.
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	if err := RunMigrations(pc.ConnectionString(), migrationsDir); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, pc.ConnectionString())
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("failed to ping database: %v", err)
	}
	return pool
}

// RunMigrations applies every up migration in dir.
func RunMigrations(databaseURL, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	_, err = database.Migrate(databaseURL, "file://"+abs, database.MigrateUp, 0)
	return err
}

// TruncateAll empties every table and rewinds the corpus version.
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx,
		"TRUNCATE processing_jobs, chunk_embeddings, document_chunks, documents CASCADE"); err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	if _, err := pool.Exec(ctx, "UPDATE corpus_version SET version = 0 WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to reset corpus version: %w", err)
	}
	return nil
}
