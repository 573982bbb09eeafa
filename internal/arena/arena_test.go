package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/pet-battle-backend/internal/deadline"
	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
	"github.com/DoyleJ11/pet-battle-backend/internal/identity"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got version %d", within, s.Version)
	case <-time.After(within):
	}
}

// lastSource always answers limit-1.
type lastSource struct{}

func (lastSource) Value(limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	return limit - 1, nil
}

type fakeScheduler struct {
	mu       sync.Mutex
	fail     bool
	n        int
	jobs     map[string]func()
	released []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[string]func(){}}
}

func (f *fakeScheduler) Schedule(key string, at time.Time, fn func()) (deadline.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return deadline.Reservation{}, deadline.ErrReservationExhausted
	}
	f.n++
	f.jobs[key] = fn
	return deadline.Reservation{ID: fmt.Sprintf("res-%d", f.n), Key: key, At: at}, nil
}

func (f *fakeScheduler) Release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, key)
	f.released = append(f.released, key)
}

func (f *fakeScheduler) fire(key string) bool {
	f.mu.Lock()
	fn, ok := f.jobs[key]
	delete(f.jobs, key)
	f.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

func (f *fakeScheduler) armed(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[key]
	return ok
}

type fakeStore struct {
	mu       sync.Mutex
	versions []int
}

func (f *fakeStore) SaveSnapshot(_ context.Context, _ string, version int, _ engine.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions = append(f.versions, version)
	return nil
}

func petFetcher() identity.Fetcher {
	return identity.FetcherFunc(func(_ context.Context, petID engine.ID) (engine.Identity, error) {
		return engine.Identity{Owner: "owner-" + petID, Name: "pet " + string(petID)}, nil
	})
}

func newTestArena(t *testing.T, rules engine.Rules, deps Deps) *Arena {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if deps.Identity == nil {
		deps.Identity = petFetcher()
	}
	if deps.Random == nil {
		deps.Random = lastSource{}
	}
	deps.Logger = zaptest.NewLogger(t)
	return NewArena(ctx, "ABC123", engine.NewState("admin", rules), 0, deps)
}

func TestArena_JoinThenCommand_BroadcastsAndVersionIncrements(t *testing.T) {
	store := &fakeStore{}
	a := newTestArena(t, engine.DefaultRules(), Deps{Store: store})

	out := make(chan Snapshot, 2)
	a.Inbox() <- Join{ClientID: "c1", Outbox: out}

	first := recvSnapshot(t, out, 100*time.Millisecond)
	assert.Equal(t, 0, first.Version)
	assert.Empty(t, first.State.Players)

	events, err := a.Register(context.Background(), "owner-rex", "rex")
	require.NoError(t, err)
	require.True(t, engine.ContainsEvent(events, engine.EvtRegistered))

	next := recvSnapshot(t, out, 100*time.Millisecond)
	assert.Equal(t, 1, next.Version)
	assert.Contains(t, next.State.Players, engine.ID("rex"))
	assert.Equal(t, events, next.Events)

	store.mu.Lock()
	assert.Equal(t, []int{1}, store.versions)
	store.mu.Unlock()

	a.Inbox() <- Shutdown{}
}

func TestArena_RejectedCommandDoesNotBumpVersion(t *testing.T) {
	a := newTestArena(t, engine.DefaultRules(), Deps{})

	out := make(chan Snapshot, 2)
	a.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	_, err := a.Do(context.Background(), engine.Command{Type: engine.CmdStartBattle, Actor: "stranger"})
	require.ErrorIs(t, err, engine.ErrUnauthorized)

	recvNoSnapshot(t, out, 100*time.Millisecond)
	v, err := a.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, v.Version)
}

func TestArena_DropSlowClient(t *testing.T) {
	a := newTestArena(t, engine.DefaultRules(), Deps{})

	out := make(chan Snapshot, 1)
	a.Inbox() <- Join{ClientID: "c1", Outbox: out}

	_, err := a.Register(context.Background(), "owner-rex", "rex")
	require.NoError(t, err)

	v, err := a.View(context.Background())
	require.NoError(t, err)
	assert.Zero(t, v.NumClients, "slow client should have been dropped")
}

func TestArena_RegisterDoesNotBlockOtherMessages(t *testing.T) {
	release := make(chan struct{})
	fetcher := identity.FetcherFunc(func(ctx context.Context, petID engine.ID) (engine.Identity, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return engine.Identity{}, ctx.Err()
		}
		return engine.Identity{Owner: "owner-" + petID, Name: "slow"}, nil
	})
	a := newTestArena(t, engine.DefaultRules(), Deps{Identity: fetcher})

	type result struct {
		events []engine.Event
		err    error
	}
	done := make(chan result, 1)
	go func() {
		events, err := a.Register(context.Background(), "owner-slow", "slow")
		done <- result{events, err}
	}()

	require.Eventually(t, func() bool {
		v, err := a.View(context.Background())
		return err == nil && v.Pending == 1
	}, time.Second, 10*time.Millisecond)

	// the arena keeps serving while the lookup is outstanding
	_, err := a.Do(context.Background(), engine.Command{Type: engine.CmdAddAdmin, Actor: "admin", Target: "helper"})
	require.NoError(t, err)

	v, err := a.View(context.Background())
	require.NoError(t, err)
	assert.Empty(t, v.State.Players)
	assert.Equal(t, 1, v.Version)

	close(release)
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.True(t, engine.ContainsEvent(r.events, engine.EvtRegistered))
	case <-time.After(time.Second):
		t.Fatalf("registration never completed")
	}

	v, err = a.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)
	assert.Zero(t, v.Pending)
	assert.Equal(t, "slow", v.State.Players["slow"].Name)
}

func TestArena_RegisterIdentityFailure(t *testing.T) {
	fetcher := identity.FetcherFunc(func(context.Context, engine.ID) (engine.Identity, error) {
		return engine.Identity{}, errors.New("connection refused")
	})
	a := newTestArena(t, engine.DefaultRules(), Deps{Identity: fetcher})

	_, err := a.Register(context.Background(), "owner-rex", "rex")
	require.ErrorIs(t, err, engine.ErrIdentityUnavailable)

	v, err := a.View(context.Background())
	require.NoError(t, err)
	assert.Zero(t, v.Version)
	assert.Empty(t, v.State.Players)
}

func TestArena_RegisterRejectedBeforeLookup(t *testing.T) {
	var calls int
	var mu sync.Mutex
	fetcher := identity.FetcherFunc(func(_ context.Context, petID engine.ID) (engine.Identity, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return engine.Identity{Owner: "owner-" + petID, Name: string(petID)}, nil
	})
	rules := engine.DefaultRules()
	rules.MaxParticipants = 1
	a := newTestArena(t, rules, Deps{Identity: fetcher})

	_, err := a.Register(context.Background(), "owner-a", "a")
	require.NoError(t, err)
	_, err = a.Register(context.Background(), "owner-b", "b")
	require.ErrorIs(t, err, engine.ErrCapacityExceeded)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestArena_TimeoutResolvesPairAndCompletesBattle(t *testing.T) {
	rules := engine.DefaultRules()
	rules.MaxRoundsPerPair = 1
	sched := newFakeScheduler()
	a := newTestArena(t, rules, Deps{Scheduler: sched})
	ctx := context.Background()

	for _, id := range []engine.ID{"a", "b"} {
		_, err := a.Register(ctx, "owner-"+id, id)
		require.NoError(t, err)
	}
	events, err := a.Do(ctx, engine.Command{Type: engine.CmdStartBattle, Actor: "admin"})
	require.NoError(t, err)
	require.True(t, engine.ContainsEvent(events, engine.EvtDeadlineSet))
	require.True(t, sched.armed("ABC123/1"))

	v, err := a.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, "res-1", v.State.Reservations["a"])
	assert.Equal(t, "res-1", v.State.Reservations["b"])

	out := make(chan Snapshot, 4)
	a.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	require.True(t, sched.fire("ABC123/1"))
	snap := recvSnapshot(t, out, time.Second)

	assert.Equal(t, engine.PhaseComplete, snap.State.Phase)
	assert.Equal(t, engine.ID("b"), snap.State.Winner, "level finish goes to side 1 with this source")
	assert.True(t, snap.Events[0].Forced)
	assert.Empty(t, snap.State.Reservations)

	sched.mu.Lock()
	assert.Contains(t, sched.released, "ABC123/1")
	sched.mu.Unlock()
}

func TestArena_StaleTimeoutIsIgnored(t *testing.T) {
	sched := newFakeScheduler()
	a := newTestArena(t, engine.DefaultRules(), Deps{Scheduler: sched})
	ctx := context.Background()

	for _, id := range []engine.ID{"a", "b"} {
		_, err := a.Register(ctx, "owner-"+id, id)
		require.NoError(t, err)
	}
	_, err := a.Do(ctx, engine.Command{Type: engine.CmdStartBattle, Actor: "admin"})
	require.NoError(t, err)

	before, err := a.View(ctx)
	require.NoError(t, err)

	a.Inbox() <- timeoutFired{PairID: 1, Token: "not-the-current-token"}

	after, err := a.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, 1, after.State.Pairs[1].Rounds)
}

func TestArena_ReservationExhaustedStillStarts(t *testing.T) {
	sched := newFakeScheduler()
	sched.fail = true
	a := newTestArena(t, engine.DefaultRules(), Deps{Scheduler: sched})
	ctx := context.Background()

	for _, id := range []engine.ID{"a", "b"} {
		_, err := a.Register(ctx, "owner-"+id, id)
		require.NoError(t, err)
	}
	_, err := a.Do(ctx, engine.Command{Type: engine.CmdStartBattle, Actor: "admin"})
	require.NoError(t, err)

	v, err := a.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.PhaseInProgress, v.State.Phase)
	assert.Empty(t, v.State.Reservations)
}

func TestArena_RestoredStateRearmsOpenPairs(t *testing.T) {
	rules := engine.DefaultRules()
	s := engine.NewState("admin", rules)
	for _, id := range []engine.ID{"a", "b"} {
		var err error
		_, s, err = engine.Apply(s, engine.Command{
			Type: engine.CmdRegister, Target: id,
			Identity: engine.Identity{Owner: "owner-" + id, Name: string(id)},
		}, lastSource{})
		require.NoError(t, err)
	}
	_, s, err := engine.Apply(s, engine.Command{Type: engine.CmdStartBattle, Actor: "admin", At: time.Now()}, lastSource{})
	require.NoError(t, err)

	sched := newFakeScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewArena(ctx, "ABC123", s, 7, Deps{Scheduler: sched, Random: lastSource{}, Logger: zaptest.NewLogger(t)})

	require.Eventually(t, func() bool { return sched.armed("ABC123/1") }, time.Second, 10*time.Millisecond)
}

func TestArena_ShutdownClosesClientsAndPending(t *testing.T) {
	fetcher := identity.FetcherFunc(func(ctx context.Context, _ engine.ID) (engine.Identity, error) {
		<-ctx.Done()
		return engine.Identity{}, ctx.Err()
	})
	a := newTestArena(t, engine.DefaultRules(), Deps{Identity: fetcher, IdentityTimeout: time.Minute})

	out := make(chan Snapshot, 2)
	a.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	errc := make(chan error, 1)
	go func() {
		_, err := a.Register(context.Background(), "owner-rex", "rex")
		errc <- err
	}()
	require.Eventually(t, func() bool {
		v, err := a.View(context.Background())
		return err == nil && v.Pending == 1
	}, time.Second, 10*time.Millisecond)

	a.Inbox() <- Shutdown{}

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatalf("pending registration never answered")
	}
	recvNoSnapshot(t, out, 100*time.Millisecond)

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatalf("arena loop did not exit")
	}
	_, err := a.View(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestArena_LeaveClosesOutbox(t *testing.T) {
	a := newTestArena(t, engine.DefaultRules(), Deps{})

	out := make(chan Snapshot, 2)
	a.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	a.Inbox() <- Leave{ClientID: "c1"}
	v, err := a.View(context.Background())
	require.NoError(t, err)
	assert.Zero(t, v.NumClients)

	select {
	case _, ok := <-out:
		assert.False(t, ok, "no snapshot expected after Leave")
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("outbox still open after Leave")
	}

	// a second Leave for the same client is harmless
	a.Inbox() <- Leave{ClientID: "c1"}
	_, err = a.View(context.Background())
	require.NoError(t, err)
}

func TestArena_DefaultsRandomSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := NewArena(ctx, "ABC123", engine.NewState("admin", engine.DefaultRules()), 0, Deps{
		Identity: petFetcher(),
		Logger:   zaptest.NewLogger(t),
	})

	for _, id := range []engine.ID{"a", "b"} {
		_, err := a.Register(ctx, "owner-"+id, id)
		require.NoError(t, err)
	}
	events, err := a.Do(ctx, engine.Command{Type: engine.CmdStartBattle, Actor: "admin"})
	require.NoError(t, err)
	assert.True(t, engine.ContainsEvent(events, engine.EvtBattleStarted))

	select {
	case <-a.Done():
		t.Fatalf("arena loop exited")
	default:
	}
}

func TestUnavailableSource(t *testing.T) {
	_, err := unavailableSource{err: errors.New("no entropy")}.Value(5)
	require.Error(t, err)
}
