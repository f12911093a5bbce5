// Package store holds per-client theoretical arrival times for the limiter.
//
// Two implementations are provided. Sharded spreads keys over a fixed set of
// mutex-guarded maps and is the default. Bucketed keeps one lock per client
// inside a sync.Map, which suits key spaces with very little overlap in
// time. Both give the same guarantees: operations on one key are
// linearizable, operations on different keys in Bucketed never contend, and
// in Sharded they only contend when the keys share a shard.
package store

// Store maps a client key to its last committed TAT in nanoseconds.
type Store[K comparable] interface {
	// ReadOrDefault returns the stored TAT for key, or def when key has no
	// entry. It never creates an entry.
	ReadOrDefault(key K, def uint64) uint64

	// Upsert stores tat for key unconditionally.
	Upsert(key K, tat uint64)

	// Update runs fn with the stored TAT for key (def when absent) inside the
	// key's critical section. When fn returns write=true its value replaces
	// the entry. Update reports the value fn returned and whether it was
	// written.
	Update(key K, def uint64, fn func(tat uint64) (next uint64, write bool)) (uint64, bool)

	// RemoveIf deletes every entry for which pred returns true and reports how
	// many were removed. pred runs under the entry's lock, so it is ordered
	// strictly before or after any concurrent Update of the same key.
	RemoveIf(pred func(key K, tat uint64) bool) int

	// Range calls fn for each entry until fn returns false. The view is
	// consistent per key, not across keys.
	Range(fn func(key K, tat uint64) bool)

	// Len reports the number of tracked keys.
	Len() int
}

// Snapshot copies every entry of s into a map.
func Snapshot[K comparable](s Store[K]) map[K]uint64 {
	out := make(map[K]uint64, s.Len())
	s.Range(func(k K, tat uint64) bool {
		out[k] = tat
		return true
	})
	return out
}
