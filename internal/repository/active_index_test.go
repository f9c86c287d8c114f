package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"dispatch-service/internal/store"
)

func TestActiveIndexAddRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := NewActiveIndex(store.NewMemoryStore())

	ids, err := idx.IDs(ctx)
	if err != nil {
		t.Fatalf("ids on empty store: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty index, got %v", ids)
	}

	for _, id := range []string{"a", "b", "a", "c"} {
		if err := idx.Add(ctx, id); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	assertIDs(t, idx, "a", "b", "c")

	if err := idx.Remove(ctx, "b"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := idx.Remove(ctx, "b"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if err := idx.Remove(ctx, "never-added"); err != nil {
		t.Fatalf("remove unknown: %v", err)
	}
	assertIDs(t, idx, "a", "c")
}

func TestActiveIndexConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	idx := NewActiveIndex(store.NewMemoryStore())
	idx.casRounds = 64

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := idx.Add(ctx, fmt.Sprintf("rec-%d", i)); err != nil {
				t.Errorf("add: %v", err)
			}
		}(i)
	}
	wg.Wait()

	ids, err := idx.IDs(ctx)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != n {
		t.Fatalf("expected %d ids after concurrent adds, got %d", n, len(ids))
	}
}

type contendedStore struct {
	*store.MemoryStore
}

func (contendedStore) Put(context.Context, string, []byte, int64) (int64, error) {
	return 0, store.ErrVersionMismatch
}

func TestActiveIndexGivesUpAfterBoundedRounds(t *testing.T) {
	idx := NewActiveIndex(contendedStore{store.NewMemoryStore()})
	err := idx.Add(context.Background(), "a")
	if !errors.Is(err, store.ErrVersionMismatch) {
		t.Fatalf("expected version mismatch after retries, got %v", err)
	}
}

func assertIDs(t *testing.T, idx *ActiveIndex, want ...string) {
	t.Helper()
	got, err := idx.IDs(context.Background())
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
