package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries")

// BoltBackend persists entries in a local bbolt file so a single node keeps
// its summaries across restarts without Redis. Each value is prefixed with
// an 8-byte big-endian expiry in unix nanoseconds (zero = no expiry).
type BoltBackend struct {
	db  *bbolt.DB
	now func() time.Time

	mu        sync.Mutex
	lastSweep time.Time
}

func NewBoltBackend(path string, opts ...Option) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	o := applyOptions(opts)
	return &BoltBackend{db: db, now: o.now, lastSweep: o.now()}, nil
}

func (b *BoltBackend) Get(_ context.Context, key string) ([]byte, error) {
	var (
		value   []byte
		expired bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketEntries).Get([]byte(key))
		if raw == nil {
			return ErrMiss
		}
		if len(raw) < 8 {
			return fmt.Errorf("corrupt cache entry %q", key)
		}
		if exp := int64(binary.BigEndian.Uint64(raw[:8])); exp != 0 && b.now().UnixNano() >= exp {
			expired = true
			return ErrMiss
		}
		value = append([]byte(nil), raw[8:]...)
		return nil
	})
	if expired {
		_ = b.Delete(context.Background(), key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *BoltBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp int64
	if ttl > 0 {
		exp = b.now().Add(ttl).UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(exp))
	copy(buf[8:], value)

	sweep := b.sweepDue()
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		if err := bucket.Put([]byte(key), buf); err != nil {
			return err
		}
		if sweep {
			return b.sweep(bucket)
		}
		return nil
	})
}

func (b *BoltBackend) sweepDue() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if now.Sub(b.lastSweep) < sweepInterval {
		return false
	}
	b.lastSweep = now
	return true
}

// sweep drops every expired entry in the bucket.
func (b *BoltBackend) sweep(bucket *bbolt.Bucket) error {
	now := b.now().UnixNano()
	var keys [][]byte
	err := bucket.ForEach(func(k, v []byte) error {
		if len(v) < 8 {
			return nil
		}
		if exp := int64(binary.BigEndian.Uint64(v[:8])); exp != 0 && now >= exp {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (b *BoltBackend) Delete(_ context.Context, keys ...string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		for _, k := range keys {
			if err := bucket.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	p := []byte(prefix)
	n := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketEntries)
		var keys [][]byte
		c := bucket.Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	})
	return n, err
}

func (b *BoltBackend) Ping(context.Context) error { return nil }

// Len reports the number of stored entries, expired ones not yet swept included.
func (b *BoltBackend) Len() int {
	n := 0
	_ = b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketEntries).Stats().KeyN
		return nil
	})
	return n
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
