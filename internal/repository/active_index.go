package repository

import (
	"context"
	"errors"
	"fmt"

	"dispatch-service/internal/store"
)

const (
	activeIndexKey        = "index:active_emergencies"
	defaultIndexCASRounds = 8
)

type activeIndexDoc struct {
	IDs []string `json:"ids"`
}

// ActiveIndex is the side list of non-terminal record ids. It only ever holds ids and
// is repaired from a full record scan. Add and Remove are idempotent, so a
// version mismatch is retried a bounded number of times.
type ActiveIndex struct {
	store     store.Store
	casRounds int
}

func NewActiveIndex(s store.Store) *ActiveIndex {
	return &ActiveIndex{store: s, casRounds: defaultIndexCASRounds}
}

func (a *ActiveIndex) Add(ctx context.Context, id string) error {
	return a.mutate(ctx, func(ids []string) ([]string, bool) {
		for _, existing := range ids {
			if existing == id {
				return ids, false
			}
		}
		return append(ids, id), true
	})
}

func (a *ActiveIndex) Remove(ctx context.Context, id string) error {
	return a.mutate(ctx, func(ids []string) ([]string, bool) {
		out := make([]string, 0, len(ids))
		for _, existing := range ids {
			if existing != id {
				out = append(out, existing)
			}
		}
		return out, len(out) != len(ids)
	})
}

func (a *ActiveIndex) IDs(ctx context.Context) ([]string, error) {
	doc, _, err := load[activeIndexDoc](ctx, a.store, activeIndexKey)
	if errors.Is(err, store.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.IDs, nil
}

func (a *ActiveIndex) mutate(ctx context.Context, fn func([]string) ([]string, bool)) error {
	for round := 0; round < a.casRounds; round++ {
		doc, version, err := load[activeIndexDoc](ctx, a.store, activeIndexKey)
		switch {
		case errors.Is(err, store.ErrNotFound):
			doc, version = &activeIndexDoc{}, 0
		case err != nil:
			return err
		}

		next, changed := fn(doc.IDs)
		if !changed && version > 0 {
			return nil
		}
		if next == nil {
			next = []string{}
		}
		_, err = save(ctx, a.store, activeIndexKey, &activeIndexDoc{IDs: next}, version)
		if errors.Is(err, store.ErrVersionMismatch) {
			continue
		}
		return err
	}
	return fmt.Errorf("active index: %w after %d attempts", store.ErrVersionMismatch, a.casRounds)
}
