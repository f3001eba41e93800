// Package core implements GraphCore, the public surface of the online
// social graph cache: followed, follow, unfollow and tell. It combines
// an external, asynchronous loader with a slottable.Table and its two
// adjacency PairSets.
package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/calvinalkan/graphcache/internal/graph/slottable"
)

// UserID and Meta are re-exported so callers of this package
// never need to import slottable directly.
type (
	UserID = slottable.UserID
	Meta   = slottable.Meta
)

// UserInfo bundles what followed() returns about one followed user.
type UserInfo struct {
	ID       UserID
	Username string
	Meta     Meta
	HasMeta  bool
}

// FollowedUser is one record of the loader's result: a user that the
// queried id follows, as known to the backing store.
type FollowedUser struct {
	ID       UserID
	Username string
}

// Loader is the sole external collaborator this package depends on: an
// asynchronous provider of a user's authoritative follow list. The
// context is the "execution context" the design speaks of; cancelling it
// cancels the in-flight load without corrupting any cache state, because
// no slot is claimed until the loader returns successfully.
type Loader interface {
	Load(ctx context.Context, id UserID) ([]FollowedUser, error)
}

// GraphCore is the bounded, concurrent cache described by the design: a
// fixed slottable.Table plus a loader to repopulate stale or missing
// entries.
type GraphCore struct {
	table       *slottable.Table
	load        Loader
	loadTimeout time.Duration
	log         *zap.Logger

	// sg collapses concurrent doLoad calls for the same still-loading
	// id into a single loader round trip, the same role singleflight
	// plays for SummaryService's Redis refreshes in the teacher's
	// service layer.
	sg singleflight.Group
}

// New constructs a GraphCore with 2^logCapacity slots. loadTimeout, if
// positive, bounds every loader round trip independent of whatever
// deadline the caller's own context carries; pass 0 to rely solely on
// the caller's context.
func New(load Loader, logCapacity uint, log *zap.Logger, loadTimeout ...time.Duration) *GraphCore {
	if log == nil {
		log = zap.NewNop()
	}
	var timeout time.Duration
	if len(loadTimeout) > 0 {
		timeout = loadTimeout[0]
	}
	return &GraphCore{
		table:       slottable.New(logCapacity),
		load:        load,
		loadTimeout: timeout,
		log:         log.Named("graphcore"),
	}
}

// Stats exposes slottable.Table.Snapshot for operability introspection.
func (g *GraphCore) Stats() slottable.Stats { return g.table.Snapshot() }

// Followed resolves id's slot and returns its currently known followed
// users. A fresh, already-tracked slot is served synchronously from the
// cache; anything else falls through to an asynchronous reload via the
// loader.
func (g *GraphCore) Followed(ctx context.Context, id UserID) ([]UserInfo, error) {
	res := g.table.Resolve(id)
	if res.New {
		res.Release()
		return g.doLoad(ctx, id)
	}

	e := res.Entry()
	if !e.Fresh {
		res.Release()
		return g.doLoad(ctx, id)
	}

	slot := res.Slot
	res.Release()
	return g.buildList(slot), nil
}

// buildList reads the current leftFollowsRight neighbors of slot,
// skipping any right entry whose username is still unknown (it cannot
// yet be rendered as a UserInfo). Each right entry is read under its own
// lock; the caller must not be holding any lock that could alias one of
// these slots' stripes.
func (g *GraphCore) buildList(slot uint32) []UserInfo {
	rights := g.table.LeftFollowsRight.Read(slot)
	out := make([]UserInfo, 0, len(rights))
	for _, r := range rights {
		e, ok := g.table.Peek(r)
		if !ok || !e.HasUsername {
			continue
		}
		out = append(out, UserInfo{
			ID:       e.ID,
			Username: e.Username,
			Meta:     e.Meta,
			HasMeta:  e.HasMeta,
		})
	}
	return out
}

// doLoad invokes the external loader for id, deduplicating concurrent
// callers via singleflight, then merges the result into the table. No
// slot lock is held across the loader call: this is the only suspension
// point in the whole cache.
func (g *GraphCore) doLoad(ctx context.Context, id UserID) ([]UserInfo, error) {
	key := fmt.Sprintf("%d", uint64(id))

	v, err, _ := g.sg.Do(key, func() (any, error) {
		loadCtx := ctx
		if g.loadTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(ctx, g.loadTimeout)
			defer cancel()
		}
		records, loadErr := g.load.Load(loadCtx, id)
		if loadErr != nil {
			return nil, fmt.Errorf("load followed users: %w", loadErr)
		}
		return g.installAndMerge(id, records), nil
	})
	if err != nil {
		g.log.Warn("followed load failed", zap.Uint64("user_id", uint64(id)), zap.Error(err))
		return nil, err
	}
	return v.([]UserInfo), nil
}

// installAndMerge resolves id's slot again (it may have moved or been
// reclaimed during the loader's await), installs/refreshes it, and
// merges the loaded records. The slot's lock is held for the whole
// merge and released once at the end, per the design's left-before-right
// discipline.
func (g *GraphCore) installAndMerge(id UserID, records []FollowedUser) []UserInfo {
	res := g.table.Resolve(id)
	defer res.Release()

	if res.New {
		res.SetEntry(slottable.Entry{Occupied: true, ID: id, Fresh: true})
	} else {
		e := res.Entry()
		e.Fresh = true
		res.SetEntry(e)
	}

	return g.merge(res, records)
}

// merge installs or refreshes a right-hand entry for each record and
// adds the follow edge in both directions, emitting the UserInfo the
// caller should report for each.
func (g *GraphCore) merge(left slottable.Resolution, records []FollowedUser) []UserInfo {
	out := make([]UserInfo, 0, len(records))

	for _, rec := range records {
		right := g.table.ResolveNested(left, rec.ID)

		if right.New {
			right.SetEntry(slottable.Entry{
				Occupied:    true,
				ID:          rec.ID,
				Username:    rec.Username,
				HasUsername: true,
				Fresh:       false,
			})
		} else {
			e := right.Entry()
			e.Username = rec.Username
			e.HasUsername = true
			right.SetEntry(e)
		}

		g.table.LeftFollowsRight.Add(left.Slot, right.Slot)
		g.table.RightFollowsLeft.Add(right.Slot, left.Slot)

		e := right.Entry()
		out = append(out, UserInfo{
			ID:       rec.ID,
			Username: rec.Username,
			Meta:     e.Meta,
			HasMeta:  e.HasMeta,
		})

		right.Release()
	}

	return out
}

// Follow records that a follows b, but only if both are already tracked
// by the cache: tracking a stranger just to hold an edge would consume a
// scarce slot with no benefit.
func (g *GraphCore) Follow(a, b UserID) { g.toggle(true, a, b) }

// Unfollow removes the a-follows-b edge, if present and both endpoints
// are tracked.
func (g *GraphCore) Unfollow(a, b UserID) { g.toggle(false, a, b) }

func (g *GraphCore) toggle(on bool, a, b UserID) {
	left := g.table.Resolve(a)
	if left.New {
		left.Release()
		return
	}

	right := g.table.ResolveNested(left, b)
	if right.New {
		right.Release()
		left.Release()
		return
	}

	g.table.LeftFollowsRight.Toggle(on, left.Slot, right.Slot)
	g.table.RightFollowsLeft.Toggle(on, right.Slot, left.Slot)

	right.Release()
	left.Release()
}

// Tell updates id's status and returns every user who should be
// notified of the change: the watchers found via the transpose edge
// set, cross-checked against the forward set to guard against asymmetry
// that slot reuse can introduce across the two PairSets.
//
// An id never seen before installs a bare entry with the given meta and
// returns no watchers — correct, since nobody can be subscribed to a
// slot that was just claimed.
func (g *GraphCore) Tell(id UserID, meta Meta) []UserID {
	res := g.table.Resolve(id)

	if res.New {
		res.SetEntry(slottable.Entry{Occupied: true, ID: id, Meta: meta, HasMeta: true})
		res.Release()
		return nil
	}

	e := res.Entry()
	e.Meta = meta
	e.HasMeta = true
	res.SetEntry(e)
	slot := res.Slot
	res.Release()

	// readFollowing peeks other slots by their own lock; the slot's
	// lock must not still be held here, since a watcher's slot can
	// alias this one's stripe.
	return g.readFollowing(slot)
}

// readFollowing returns the ids of every user tracked as following slot,
// per the forward/transpose double-check described by the design.
func (g *GraphCore) readFollowing(slot uint32) []UserID {
	var out []UserID
	for _, l := range g.table.RightFollowsLeft.Read(slot) {
		if !g.table.LeftFollowsRight.Has(l, slot) {
			continue
		}
		e, ok := g.table.Peek(l)
		if !ok {
			continue
		}
		out = append(out, e.ID)
	}
	return out
}
