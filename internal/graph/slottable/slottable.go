// Package slottable implements the fixed-capacity, open-addressed slot
// array at the core of the online social graph cache: a bounded array of
// user entries guarded by a stripe of locks, with linear-probing
// resolution and reclamation of offline entries under saturation.
package slottable

import (
	"sync"

	"github.com/calvinalkan/graphcache/internal/graph/pairset"
)

// UserID is the opaque, hashable, equatable identifier of a user known to
// the cache. The session layer that owns the real identity type is out
// of scope for this package; UserID is the minimal concrete stand-in the
// rest of the cache hashes and compares by value.
type UserID uint64

// Meta is a user's status record.
type Meta struct {
	Online bool
}

// Entry is one user known to the cache. The zero Entry represents an
// empty slot (Occupied == false).
type Entry struct {
	Occupied    bool
	ID          UserID
	Username    string
	HasUsername bool
	Meta        Meta
	HasMeta     bool
	// Fresh is true iff leftFollowsRight(Slot) is the result of the most
	// recent successful load for this entry, modulo subsequent
	// follow/unfollow calls.
	Fresh bool
}

// Offline reports whether this entry may be reclaimed: it has never
// received a status update, or its last reported status was offline.
func (e Entry) Offline() bool {
	return !e.HasMeta || !e.Meta.Online
}

// Tuning constants. Changing either is a compatibility-neutral tuning
// change, not a protocol change.
const (
	// MaxStride bounds how far linear probing walks past a user's home
	// slot before giving up on a lossless resolution.
	MaxStride = 20
	// StripeCount is the number of mutexes the slot array is striped
	// over. Bounded independent of table capacity: parallelism scales
	// with stripe count, lock memory does not scale with capacity.
	StripeCount = 1024
)

// Table is the fixed-capacity slot array plus its two edge sets. Edges
// reference slot indices, never user ids, which is why the edge sets
// live alongside the array they index into: reclaiming a slot requires
// rewriting both in lockstep.
type Table struct {
	logCapacity uint
	mask        uint32

	entries []Entry
	locks   [StripeCount]sync.Mutex

	// LeftFollowsRight(L, R) ⇔ the user in slot L follows the user in slot R.
	LeftFollowsRight *pairset.Set
	// RightFollowsLeft is the transpose, used by tell to find watchers.
	RightFollowsLeft *pairset.Set
}

// New allocates a table with 2^logCapacity slots.
func New(logCapacity uint) *Table {
	capacity := uint32(1) << logCapacity
	return &Table{
		logCapacity:      logCapacity,
		mask:             capacity - 1,
		entries:          make([]Entry, capacity),
		LeftFollowsRight: pairset.New(),
		RightFollowsLeft: pairset.New(),
	}
}

// Capacity returns 2^logCapacity, the number of slots in the table.
func (t *Table) Capacity() uint32 { return t.mask + 1 }

// lockFor returns the stripe mutex that guards slot s. Acquiring it is
// the only way to read or mutate the entry at s.
func (t *Table) lockFor(s uint32) *sync.Mutex {
	return &t.locks[s&(StripeCount-1)]
}

// home computes the probe window's starting slot for id via a
// Fibonacci-hashing multiplicative mix, taking the top logCapacity bits
// of the 64-bit product for good bit dispersion regardless of capacity.
func (t *Table) home(id UserID) uint32 {
	const mix = 0x9E3779B97F4A7C15 // 2^64 / golden ratio
	h := uint64(id) * mix
	return uint32(h>>(64-t.logCapacity)) & t.mask
}

// get reads the entry at slot s. Caller must hold s's lock.
func (t *Table) get(s uint32) Entry { return t.entries[s] }

// set writes the entry at slot s. Caller must hold s's lock.
func (t *Table) set(s uint32, e Entry) { t.entries[s] = e }

// Stats is a point-in-time snapshot of table occupancy, used only for
// operability introspection (it is not part of the cache's own logic).
type Stats struct {
	Capacity int
	Occupied int
	Online   int
	Fresh    int
}

// Snapshot walks every slot under its stripe lock and summarizes
// occupancy. It is intentionally the only operation in this package that
// touches every slot; it exists for /debug/stats, not for cache
// correctness, and callers should not assume its result is atomic across
// slots.
func (t *Table) Snapshot() Stats {
	var st Stats
	st.Capacity = len(t.entries)
	for s := uint32(0); s < uint32(len(t.entries)); s++ {
		lock := t.lockFor(s)
		lock.Lock()
		e := t.entries[s]
		lock.Unlock()

		if !e.Occupied {
			continue
		}
		st.Occupied++
		if e.HasMeta && e.Meta.Online {
			st.Online++
		}
		if e.Fresh {
			st.Fresh++
		}
	}
	return st
}
