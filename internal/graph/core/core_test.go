package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeLoader struct {
	mu      sync.Mutex
	calls   int32
	results map[UserID][]FollowedUser
	errs    map[UserID]error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		results: make(map[UserID][]FollowedUser),
		errs:    make(map[UserID]error),
	}
}

func (f *fakeLoader) set(id UserID, records ...FollowedUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[id] = records
}

func (f *fakeLoader) setErr(id UserID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeLoader) Load(_ context.Context, id UserID) ([]FollowedUser, error) {
	atomic.AddInt32(&f.calls, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	return f.results[id], nil
}

func (f *fakeLoader) callCount() int32 { return atomic.LoadInt32(&f.calls) }

const (
	alice UserID = 1
	bob   UserID = 2
	carol UserID = 3
)

func TestBasicLoadThenTell(t *testing.T) {
	loader := newFakeLoader()
	loader.set(alice,
		FollowedUser{ID: bob, Username: "Bob"},
		FollowedUser{ID: carol, Username: "Carol"},
	)

	g := New(loader, 8, nil)

	got, err := g.Followed(context.Background(), alice)
	if err != nil {
		t.Fatalf("Followed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 followed users, got %d", len(got))
	}
	for _, ui := range got {
		if ui.HasMeta {
			t.Fatalf("expected no meta yet for %d", ui.ID)
		}
	}

	watchers := g.Tell(bob, Meta{Online: true})
	if len(watchers) != 1 || watchers[0] != alice {
		t.Fatalf("expected [alice] watching bob, got %v", watchers)
	}
}

func TestSecondLoadIsCached(t *testing.T) {
	loader := newFakeLoader()
	loader.set(alice, FollowedUser{ID: bob, Username: "Bob"})

	g := New(loader, 8, nil)

	if _, err := g.Followed(context.Background(), alice); err != nil {
		t.Fatalf("first Followed: %v", err)
	}
	if _, err := g.Followed(context.Background(), alice); err != nil {
		t.Fatalf("second Followed: %v", err)
	}

	if loader.callCount() != 1 {
		t.Fatalf("expected loader invoked once, got %d", loader.callCount())
	}
}

func TestFollowBeforeTrackedIsNoop(t *testing.T) {
	loader := newFakeLoader()
	g := New(loader, 8, nil)

	g.Follow(alice, bob) // neither id has ever been resolved

	watchers := g.Tell(bob, Meta{Online: true})
	if len(watchers) != 0 {
		t.Fatalf("expected no watchers, got %v", watchers)
	}
}

func TestUnfollowAfterLoad(t *testing.T) {
	loader := newFakeLoader()
	loader.set(alice, FollowedUser{ID: bob, Username: "Bob"})

	g := New(loader, 8, nil)

	if _, err := g.Followed(context.Background(), alice); err != nil {
		t.Fatalf("Followed: %v", err)
	}

	g.Unfollow(alice, bob)

	watchers := g.Tell(bob, Meta{Online: true})
	if len(watchers) != 0 {
		t.Fatalf("expected no watchers after unfollow, got %v", watchers)
	}
}

func TestFollowUnfollowIsNoopOnMembership(t *testing.T) {
	loader := newFakeLoader()
	g := New(loader, 8, nil)

	// Track both ids first via a load/tell so they occupy slots.
	loader.set(alice)
	if _, err := g.Followed(context.Background(), alice); err != nil {
		t.Fatalf("Followed(alice): %v", err)
	}
	g.Tell(bob, Meta{Online: false})

	g.Follow(alice, bob)
	g.Unfollow(alice, bob)

	watchers := g.Tell(bob, Meta{Online: true})
	if len(watchers) != 0 {
		t.Fatalf("expected follow;unfollow to net to no edge, got watchers %v", watchers)
	}
}

func TestFollowIdempotent(t *testing.T) {
	loader := newFakeLoader()
	g := New(loader, 8, nil)

	loader.set(alice)
	if _, err := g.Followed(context.Background(), alice); err != nil {
		t.Fatalf("Followed(alice): %v", err)
	}
	g.Tell(bob, Meta{Online: false})

	g.Follow(alice, bob)
	g.Follow(alice, bob)

	watchers := g.Tell(bob, Meta{Online: true})
	if len(watchers) != 1 || watchers[0] != alice {
		t.Fatalf("expected exactly one watcher alice, got %v", watchers)
	}
}

func TestTellOverwritesPreviousMeta(t *testing.T) {
	loader := newFakeLoader()
	g := New(loader, 8, nil)

	g.Tell(bob, Meta{Online: true})
	g.Tell(bob, Meta{Online: false})

	loader.set(alice, FollowedUser{ID: bob, Username: "Bob"})
	got, err := g.Followed(context.Background(), alice)
	if err != nil {
		t.Fatalf("Followed: %v", err)
	}
	if len(got) != 1 || got[0].Meta.Online {
		t.Fatalf("expected bob's latest meta (offline) reflected, got %+v", got)
	}
}

func TestTellUnknownUserReturnsEmptyAndInstalls(t *testing.T) {
	loader := newFakeLoader()
	g := New(loader, 8, nil)

	watchers := g.Tell(alice, Meta{Online: true})
	if len(watchers) != 0 {
		t.Fatalf("expected no watchers for a never-before-seen id, got %v", watchers)
	}
}

func TestLoaderFailurePropagatesAndLeavesNoTrace(t *testing.T) {
	loader := newFakeLoader()
	sentinel := errors.New("backing store unavailable")
	loader.setErr(alice, sentinel)

	g := New(loader, 8, nil)

	_, err := g.Followed(context.Background(), alice)
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel error, got %v", err)
	}

	// A retry with a working loader must still succeed: the failed
	// attempt must not have left a broken entry behind.
	loader.set(alice, FollowedUser{ID: bob, Username: "Bob"})
	got, err := g.Followed(context.Background(), alice)
	if err != nil {
		t.Fatalf("retry Followed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 followed user on retry, got %d", len(got))
	}
}

func TestUsernameOverwrittenOnRemerge(t *testing.T) {
	loader := newFakeLoader()
	loader.set(alice, FollowedUser{ID: bob, Username: "Bob"})

	g := New(loader, 8, nil)
	if _, err := g.Followed(context.Background(), alice); err != nil {
		t.Fatalf("Followed: %v", err)
	}

	// Force a reload by marking alice offline-reloadable is not how
	// freshness works here (alice isn't consulted for her own meta), so
	// drive a reload by invalidating freshness through a reclaim: instead,
	// simply re-merge via a second distinct follow source, which should
	// update bob's username.
	loader.set(carol, FollowedUser{ID: bob, Username: "Bobby"})
	if _, err := g.Followed(context.Background(), carol); err != nil {
		t.Fatalf("Followed(carol): %v", err)
	}

	got, err := g.Followed(context.Background(), alice)
	if err != nil {
		t.Fatalf("Followed(alice) after remerge: %v", err)
	}
	if len(got) != 1 || got[0].Username != "Bobby" {
		t.Fatalf("expected bob's username updated to Bobby, got %+v", got)
	}
}

func TestConcurrentFollowedSameUserSucceeds(t *testing.T) {
	loader := newFakeLoader()
	loader.set(alice, FollowedUser{ID: bob, Username: "Bob"})

	g := New(loader, 8, nil)

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.Followed(context.Background(), alice)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}
