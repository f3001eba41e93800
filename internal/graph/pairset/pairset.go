// Package pairset implements a concurrent set of directed edges between
// slot indices, grouped by source so that reading one source yields
// every edge sharing it.
package pairset

import "sync"

// edgeShards bounds memory and contention independent of the number of
// distinct sources touched, the same tradeoff slottable makes for its
// lock stripe: bounded bucket count traded for parallelism.
const edgeShards = 256

// Set is a concurrent, weakly-consistent set of directed (a, b) pairs.
// All operations are infallible and idempotent.
//
// Internally it is sharded by source (the high 32 bits) rather than
// backed by a single lock-free ordered map: the examples pack carries no
// concurrent ordered-map primitive, so per-source adjacency lists with
// their own lock are substituted, as the design notes allow. Range scans
// (read) only ever touch the shard for the requested source and race
// freely against mutations on other sources.
type Set struct {
	shards [edgeShards]shard
}

type shard struct {
	mu sync.Mutex
	// by is keyed by source slot; the value set holds destination slots.
	by map[uint32]map[uint32]struct{}
}

// Encode packs a directed edge (a, b) into the 64-bit key the spec
// describes. The set itself does not store this key directly (see the
// Set doc comment), but callers that need a stable wire/log
// representation of an edge can use it.
func Encode(a, b uint32) uint64 { return uint64(a)<<32 | uint64(b) }

// New returns an empty edge set.
func New() *Set {
	s := &Set{}
	for i := range s.shards {
		s.shards[i].by = make(map[uint32]map[uint32]struct{})
	}
	return s
}

func (s *Set) shard(a uint32) *shard {
	return &s.shards[a%edgeShards]
}

// Add inserts the edge (a, b). Inserting twice is a no-op.
func (s *Set) Add(a, b uint32) {
	sh := s.shard(a)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	dst, ok := sh.by[a]
	if !ok {
		dst = make(map[uint32]struct{})
		sh.by[a] = dst
	}
	dst[b] = struct{}{}
}

// Remove deletes the edge (a, b). Removing an absent edge is a no-op.
func (s *Set) Remove(a, b uint32) {
	sh := s.shard(a)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	dst, ok := sh.by[a]
	if !ok {
		return
	}
	delete(dst, b)
	if len(dst) == 0 {
		delete(sh.by, a)
	}
}

// Toggle adds the edge when on is true, removes it otherwise.
func (s *Set) Toggle(on bool, a, b uint32) {
	if on {
		s.Add(a, b)
	} else {
		s.Remove(a, b)
	}
}

// Has reports whether the edge (a, b) is present.
func (s *Set) Has(a, b uint32) bool {
	sh := s.shard(a)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	dst, ok := sh.by[a]
	if !ok {
		return false
	}
	_, ok = dst[b]
	return ok
}

// Read returns every b such that (a, b) is present, in no particular
// order. The returned slice is a snapshot; it is not invalidated by
// concurrent mutation of the set, matching the weakly-consistent range
// scan semantics the design calls for.
func (s *Set) Read(a uint32) []uint32 {
	sh := s.shard(a)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	dst := sh.by[a]
	out := make([]uint32, 0, len(dst))
	for b := range dst {
		out = append(out, b)
	}
	return out
}
