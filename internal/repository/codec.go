package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"dispatch-service/internal/store"
)

func load[T any](ctx context.Context, s store.Store, key string) (*T, int64, error) {
	entry, err := s.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	var out T
	if err := json.Unmarshal(entry.Value, &out); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return &out, entry.Version, nil
}

func save[T any](ctx context.Context, s store.Store, key string, value *T, expected int64) (int64, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, raw, expected)
}

func scanAll[T any](ctx context.Context, s store.Store, prefix string) ([]T, []int64, error) {
	entries, err := s.Scan(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}
	out := make([]T, 0, len(entries))
	versions := make([]int64, 0, len(entries))
	for _, entry := range entries {
		var item T
		if err := json.Unmarshal(entry.Value, &item); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", entry.Key, err)
		}
		out = append(out, item)
		versions = append(versions, entry.Version)
	}
	return out, versions, nil
}
