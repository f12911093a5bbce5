package store

import (
	"sync"
	"sync/atomic"
)

// bucket is one client's entry. set is false until the first write; dead
// marks a bucket that has been unlinked from the map and must not be reused.
type bucket struct {
	mu   sync.Mutex
	tat  uint64
	set  bool
	dead bool
}

// Bucketed is a Store backed by a sync.Map of per-client buckets, each with
// its own mutex.
type Bucketed[K comparable] struct {
	buckets sync.Map
	n       atomic.Int64
}

// NewBucketed returns an empty Bucketed store.
func NewBucketed[K comparable]() *Bucketed[K] {
	return &Bucketed[K]{}
}

func (b *Bucketed[K]) ReadOrDefault(key K, def uint64) uint64 {
	v, ok := b.buckets.Load(key)
	if !ok {
		return def
	}
	bk := v.(*bucket)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	if !bk.set || bk.dead {
		return def
	}
	return bk.tat
}

func (b *Bucketed[K]) Upsert(key K, tat uint64) {
	b.Update(key, tat, func(uint64) (uint64, bool) { return tat, true })
}

func (b *Bucketed[K]) Update(key K, def uint64, fn func(uint64) (uint64, bool)) (uint64, bool) {
	for {
		v, _ := b.buckets.LoadOrStore(key, &bucket{})
		bk := v.(*bucket)

		bk.mu.Lock()
		if bk.dead {
			// unlinked by a concurrent sweep; retry on a fresh bucket
			bk.mu.Unlock()
			continue
		}

		prev := def
		if bk.set {
			prev = bk.tat
		}
		next, write := fn(prev)
		switch {
		case write:
			if !bk.set {
				b.n.Add(1)
			}
			bk.tat, bk.set = next, true
		case !bk.set:
			// never written: drop the placeholder so denied lookups leave no trace
			bk.dead = true
			b.buckets.CompareAndDelete(key, bk)
		}
		bk.mu.Unlock()
		return next, write
	}
}

func (b *Bucketed[K]) RemoveIf(pred func(K, uint64) bool) int {
	removed := 0
	b.buckets.Range(func(k, v any) bool {
		key, bk := k.(K), v.(*bucket)
		bk.mu.Lock()
		if bk.set && !bk.dead && pred(key, bk.tat) {
			bk.dead = true
			b.buckets.CompareAndDelete(key, bk)
			b.n.Add(-1)
			removed++
		}
		bk.mu.Unlock()
		return true
	})
	return removed
}

func (b *Bucketed[K]) Range(fn func(K, uint64) bool) {
	b.buckets.Range(func(k, v any) bool {
		bk := v.(*bucket)
		bk.mu.Lock()
		tat, ok := bk.tat, bk.set && !bk.dead
		bk.mu.Unlock()
		if !ok {
			return true
		}
		return fn(k.(K), tat)
	})
}

func (b *Bucketed[K]) Len() int { return int(b.n.Load()) }

var _ Store[string] = (*Bucketed[string])(nil)
