package slottable

import "sync"

// Resolution is the result of resolving a slot for a user id. Its lock
// is already held on return; callers must call Release on every exit
// path, and are free to mutate the entry in place via Entry/SetEntry
// while they hold it.
//
// New means the slot was empty, or was just reclaimed, and the caller
// is expected to populate it. Existing means the slot already matched
// the requested id.
type Resolution struct {
	Slot  uint32
	New   bool
	table *Table
	lock  *sync.Mutex
	// owns is false when lock was already held by an outer Resolution
	// this one nested inside (see ResolveNested): Release must then be
	// a no-op, since the outer Resolution still needs the lock.
	owns bool
}

// Entry reads the entry at the resolved slot. Caller must still hold
// the resolution's lock.
func (r Resolution) Entry() Entry { return r.table.get(r.Slot) }

// SetEntry writes the entry at the resolved slot. Caller must still hold
// the resolution's lock.
func (r Resolution) SetEntry(e Entry) { r.table.set(r.Slot, e) }

// Release unlocks the slot. It must be called exactly once per
// Resolution, on every exit path, nested ones included. A nested
// resolution (produced by ResolveNested) whose slot shares the outer
// Resolution's stripe does not own that lock, so its Release is a no-op
// and the lock stays held until the outer Resolution is released.
func (r Resolution) Release() {
	if r.owns {
		r.lock.Unlock()
	}
}

// Resolve locates or claims a slot for id, following the three cascading
// passes described by the design: a lossless pass, an evict-offline
// pass, and finally a forced overwrite of the home slot. The returned
// Resolution's lock is held; the caller must Release it.
func (t *Table) Resolve(id UserID) Resolution {
	return t.resolve(id, nil)
}

// ResolveNested resolves id the same way Resolve does, but is aware that
// the caller already holds outer's stripe lock (outer is typically the
// left-hand side of an edge being formed). If id's probe window lands on
// a slot sharing outer's stripe, that slot is read/written under the
// already-held lock instead of attempting to lock it again, which would
// deadlock: sync.Mutex is not reentrant, and two distinct slots can
// share a stripe under the 1024-way striping scheme.
//
// This mirrors the shard-index comparison a sharded adjacency structure
// needs before acquiring a second shard's lock ("if b != a { b.mu.Lock() }")
// — here at the granularity of stripes instead of shards.
func (t *Table) ResolveNested(outer Resolution, id UserID) Resolution {
	return t.resolve(id, outer.lock)
}

func (t *Table) resolve(id UserID, held *sync.Mutex) Resolution {
	h := t.home(id)

	if res, ok := t.resolveLossless(h, id, held); ok {
		return res
	}
	if res, ok := t.resolveEvictOffline(h, id, held); ok {
		return res
	}
	return t.resolveOverwrite(h, id, held)
}

// acquire locks s's stripe unless it is already held by the caller
// (held), in which case it reports owns=false so the slot isn't
// double-locked or double-unlocked.
func (t *Table) acquire(s uint32, held *sync.Mutex) (lock *sync.Mutex, owns bool) {
	lock = t.lockFor(s)
	if lock == held {
		return lock, false
	}
	lock.Lock()
	return lock, true
}

func release(lock *sync.Mutex, owns bool) {
	if owns {
		lock.Unlock()
	}
}

// resolveLossless scans the probe window once; an empty slot or one
// already owned by id is returned immediately without touching any
// other entry.
func (t *Table) resolveLossless(h uint32, id UserID, held *sync.Mutex) (Resolution, bool) {
	for i := uint32(0); i <= MaxStride; i++ {
		s := (h + i) & t.mask
		lock, owns := t.acquire(s, held)

		e := t.get(s)
		switch {
		case !e.Occupied:
			return Resolution{Slot: s, New: true, table: t, lock: lock, owns: owns}, true
		case e.ID == id:
			return Resolution{Slot: s, New: false, table: t, lock: lock, owns: owns}, true
		default:
			release(lock, owns)
		}
	}
	return Resolution{}, false
}

// resolveEvictOffline re-scans the window for the first occupied slot
// whose entry is offline-eligible, reclaiming it: its left-outgoing
// edges are invalidated (see invalidateOutgoing) before the caller is
// handed a New resolution free to overwrite the entry.
func (t *Table) resolveEvictOffline(h uint32, id UserID, held *sync.Mutex) (Resolution, bool) {
	for i := uint32(0); i <= MaxStride; i++ {
		s := (h + i) & t.mask
		lock, owns := t.acquire(s, held)

		e := t.get(s)
		if !e.Occupied {
			// Another goroutine vacated this slot since the lossless
			// pass; take it losslessly instead of treating it as an
			// eviction.
			return Resolution{Slot: s, New: true, table: t, lock: lock, owns: owns}, true
		}
		if e.Offline() {
			t.invalidateOutgoing(s, lock)
			return Resolution{Slot: s, New: true, table: t, lock: lock, owns: owns}, true
		}
		release(lock, owns)
	}
	return Resolution{}, false
}

// resolveOverwrite forces the home slot, invalidating whatever
// left-outgoing edges its current occupant (if any) holds. This is the
// only path that may displace a currently-online user: the deliberate
// saturation concession the design accepts in exchange for bounded
// work and no unbounded growth.
func (t *Table) resolveOverwrite(h uint32, id UserID, held *sync.Mutex) Resolution {
	lock, owns := t.acquire(h, held)

	if e := t.get(h); e.Occupied {
		t.invalidateOutgoing(h, lock)
	}
	return Resolution{Slot: h, New: true, table: t, lock: lock, owns: owns}
}

// invalidateOutgoing severs every edge (left, r) for which left is the
// source, because left is about to be repurposed. Caller must hold
// leftLock (left's stripe) already; this acquires each r's stripe in
// turn, never two at once, honoring the left-before-right lock order.
// If some r shares leftLock's stripe, it is mutated in place instead of
// being locked again.
//
// Edges where left is instead the *target* of some other slot's follow
// are deliberately left untouched here — that is the documented
// best-effort concession: followers of a reclaimed user keep a stale
// edge to the slot, which then points at its new occupant. A later
// reload of such a follower does not remove it either, since merging
// loaded records only adds edges.
func (t *Table) invalidateOutgoing(left uint32, leftLock *sync.Mutex) {
	for _, right := range t.LeftFollowsRight.Read(left) {
		t.invalidateRight(left, right, leftLock)
	}
}

// invalidateRight severs the left->right edge because left is being
// reclaimed. It clears right's fresh flag (right's own outgoing follow
// list is no longer safely assumed consistent, since one of its
// incoming mirror links just vanished) and removes the edge from both
// sets. leftLock is assumed held by the caller; this acquires and
// releases only right's stripe, unless right shares leftLock's stripe.
func (t *Table) invalidateRight(left, right uint32, leftLock *sync.Mutex) {
	lock, owns := t.acquire(right, leftLock)

	e := t.get(right)
	if e.Occupied {
		e.Fresh = false
		t.set(right, e)
	}

	release(lock, owns)

	t.LeftFollowsRight.Remove(left, right)
	t.RightFollowsLeft.Remove(right, left)
}

// Peek reads a slot's entry under its stripe lock, for read-only access
// to a slot the caller does not already hold (e.g. building a followed
// list after releasing the left slot's own lock). It must not be called
// while the caller already holds a lock that could alias this slot's
// stripe; use ResolveNested/Entry for that case instead.
func (t *Table) Peek(slot uint32) (Entry, bool) {
	lock := t.lockFor(slot)
	lock.Lock()
	e := t.get(slot)
	lock.Unlock()
	return e, e.Occupied
}
