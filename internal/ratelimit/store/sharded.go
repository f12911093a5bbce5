package store

import (
	"hash/maphash"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when none is given.
const DefaultShards = 64

// Hasher maps a key to a shard selector.
type Hasher[K comparable] func(K) uint64

// HashString hashes string keys with xxhash.
func HashString(key string) uint64 { return xxhash.Sum64String(key) }

type shard[K comparable] struct {
	mu sync.RWMutex
	m  map[K]uint64
}

// Sharded is a Store split into a power-of-two number of independently
// locked maps.
type Sharded[K comparable] struct {
	shards []*shard[K]
	mask   uint64
	hash   Hasher[K]
}

// DefaultHasher returns HashString for string keys and a randomly seeded
// maphash over the key's comparable representation for anything else.
func DefaultHasher[K comparable]() Hasher[K] {
	if h, ok := any(Hasher[string](HashString)).(Hasher[K]); ok {
		return h
	}
	seed := maphash.MakeSeed()
	return func(k K) uint64 { return maphash.Comparable(seed, k) }
}

// NewSharded returns a store with n shards rounded up to a power of two.
// n <= 0 selects DefaultShards and a nil hash selects DefaultHasher.
func NewSharded[K comparable](n int, hash Hasher[K]) *Sharded[K] {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}

	if hash == nil {
		hash = DefaultHasher[K]()
	}

	s := &Sharded[K]{
		shards: make([]*shard[K], size),
		mask:   uint64(size - 1),
		hash:   hash,
	}
	for i := range s.shards {
		s.shards[i] = &shard[K]{m: make(map[K]uint64)}
	}
	return s
}

// NewShardedStrings returns a Sharded store keyed by strings and hashed with
// xxhash.
func NewShardedStrings(n int) *Sharded[string] {
	return NewSharded[string](n, HashString)
}

// Shards reports the shard count.
func (s *Sharded[K]) Shards() int { return len(s.shards) }

func (s *Sharded[K]) shardFor(key K) *shard[K] {
	return s.shards[s.hash(key)&s.mask]
}

func (s *Sharded[K]) ReadOrDefault(key K, def uint64) uint64 {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if tat, ok := sh.m[key]; ok {
		return tat
	}
	return def
}

func (s *Sharded[K]) Upsert(key K, tat uint64) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.m[key] = tat
	sh.mu.Unlock()
}

func (s *Sharded[K]) Update(key K, def uint64, fn func(uint64) (uint64, bool)) (uint64, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev, ok := sh.m[key]
	if !ok {
		prev = def
	}
	next, write := fn(prev)
	if write {
		sh.m[key] = next
	}
	return next, write
}

func (s *Sharded[K]) RemoveIf(pred func(K, uint64) bool) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, tat := range sh.m {
			if pred(k, tat) {
				delete(sh.m, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *Sharded[K]) Range(fn func(K, uint64) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, tat := range sh.m {
			if !fn(k, tat) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

func (s *Sharded[K]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

var _ Store[string] = (*Sharded[string])(nil)
