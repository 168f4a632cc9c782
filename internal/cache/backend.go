// Package cache memoizes summaries, search results and documents behind a
// backend that is allowed to fail. Callers never see backend errors.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by a Backend when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is a key/value store with per-key expiry.
// Implementations return ErrMiss for absent keys and any other error for outages.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// NoopBackend stores nothing. Every read is a miss.
type NoopBackend struct{}

func (NoopBackend) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }

func (NoopBackend) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopBackend) Delete(context.Context, ...string) error { return nil }

func (NoopBackend) DeletePrefix(context.Context, string) (int, error) { return 0, nil }

func (NoopBackend) Ping(context.Context) error { return nil }

func (NoopBackend) Close() error { return nil }
