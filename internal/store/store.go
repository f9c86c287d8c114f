// Package store is the record store adapter: a key-value contract with per-key
// compare-and-swap and insertion-ordered prefix scans. No multi-key transactions.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("store: key not found")
	ErrVersionMismatch = errors.New("store: version mismatch")
	ErrUnavailable     = errors.New("store: unavailable")
)

// Entry is a stored value together with its version stamp. Versions start at 1.
type Entry struct {
	Key     string
	Value   []byte
	Version int64
}

type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (Entry, error)
	// Put writes value when the current version equals expected (0 means the key must
	// not exist yet) and returns the new version. ErrVersionMismatch otherwise.
	Put(ctx context.Context, key string, value []byte, expected int64) (int64, error)
	// Scan returns all entries whose key starts with prefix, oldest insertion first.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}
