package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultConnectTimeout = 30 * time.Second

type Config struct {
	URL      string
	MaxConns int32
	MinConns int32
	// ConnectTimeout bounds how long NewPool waits for Postgres to accept
	// connections. Zero means 30s.
	ConnectTimeout time.Duration
}

// NewPool opens a pgx pool and retries the first ping with exponential
// backoff, so docinteld can start alongside a database that is still booting.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 && cfg.MinConns <= pc.MaxConns {
		pc.MinConns = cfg.MinConns
	}
	pc.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := waitForPing(ctx, pool, cfg.ConnectTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func waitForPing(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = timeout

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := pool.Ping(ctx)
		if err != nil && attempt > 1 {
			log.Printf("database: not ready (attempt %d): %v", attempt, err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// Stats is the subset of pool statistics surfaced on /health.
type Stats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

func PoolStats(pool *pgxpool.Pool) Stats {
	s := pool.Stat()
	return Stats{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
	}
}
