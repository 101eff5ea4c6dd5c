package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/Tandem/internal/metrics"
	"github.com/BioHazard786/Tandem/internal/presence"
)

func newTestMatchmaker(t *testing.T, store presence.Store) (*Matchmaker, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return New(Options{
		Presence:      store,
		RetryInterval: 20 * time.Millisecond,
		Metrics:       m,
	}), m
}

func online(ids ...string) *presence.Memory {
	p := presence.NewMemory()
	for _, id := range ids {
		p.SetOnline(id, true)
	}
	return p
}

func TestFindMatch_PendingThenMatched(t *testing.T) {
	mm, _ := newTestMatchmaker(t, online("alice", "bob"))

	_, matched, err := mm.FindMatch("alice")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.True(t, mm.Waiting("alice"))

	room, matched, err := mm.FindMatch("bob")
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, "bob", room.PeerA)
	assert.Equal(t, "alice", room.PeerB)
	assert.True(t, room.Active)
	assert.Nil(t, room.EndedAt)
	assert.NotEmpty(t, room.ID)

	assert.False(t, mm.Waiting("alice"))
	assert.False(t, mm.Waiting("bob"))

	got, ok := mm.ActiveRoom("alice")
	require.True(t, ok)
	assert.Equal(t, room.ID, got.ID)
}

func TestFindMatch_ReturnsExistingRoom(t *testing.T) {
	mm, _ := newTestMatchmaker(t, nil)

	_, _, err := mm.FindMatch("a")
	require.NoError(t, err)
	room, matched, err := mm.FindMatch("b")
	require.NoError(t, err)
	require.True(t, matched)

	again, matched, err := mm.FindMatch("a")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, room.ID, again.ID)
	assert.False(t, mm.Waiting("a"))
}

func TestFindMatch_RejectsOfflineAndEmpty(t *testing.T) {
	mm, _ := newTestMatchmaker(t, online("alice"))

	_, _, err := mm.FindMatch("")
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, _, err = mm.FindMatch("ghost")
	assert.ErrorIs(t, err, ErrUserOffline)
}

func TestFindMatch_SkipsOfflineCandidates(t *testing.T) {
	store := online("a", "c")
	mm2, _ := newTestMatchmaker(t, store)

	_, _, err := mm2.FindMatch("a")
	require.NoError(t, err)
	store.SetOnline("a", false)

	_, matched, err := mm2.FindMatch("c")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.True(t, mm2.Waiting("a"))
	assert.True(t, mm2.Waiting("c"))

	assert.Equal(t, 1, mm2.EvictOffline())
	assert.False(t, mm2.Waiting("a"))
}

func TestWithdrawThenFindMatchIsFresh(t *testing.T) {
	mm, _ := newTestMatchmaker(t, nil)

	_, _, err := mm.FindMatch("a")
	require.NoError(t, err)
	assert.True(t, mm.Withdraw("a"))
	assert.False(t, mm.Withdraw("a"))
	assert.Zero(t, mm.Stats().Waiting)

	_, matched, err := mm.FindMatch("a")
	require.NoError(t, err)
	assert.False(t, matched)

	room, matched, err := mm.FindMatch("b")
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, "a", room.PeerB)
}

func TestWithdrawAfterMatchKeepsRoom(t *testing.T) {
	mm, _ := newTestMatchmaker(t, nil)

	_, _, err := mm.FindMatch("a")
	require.NoError(t, err)
	room, matched, err := mm.FindMatch("b")
	require.NoError(t, err)
	require.True(t, matched)

	assert.False(t, mm.Withdraw("a"))
	got, ok := mm.ActiveRoom("a")
	require.True(t, ok)
	assert.Equal(t, room.ID, got.ID)
}

func TestAwaitMatch_NotifiedByPeer(t *testing.T) {
	mm, _ := newTestMatchmaker(t, online("a", "b"))
	mm.retry = time.Hour

	_, matched, err := mm.FindMatch("a")
	require.NoError(t, err)
	require.False(t, matched)

	done := make(chan Room, 1)
	go func() {
		room, err := mm.AwaitMatch(context.Background(), "a")
		assert.NoError(t, err)
		done <- room
	}()

	time.Sleep(10 * time.Millisecond)
	room, matched, err := mm.FindMatch("b")
	require.NoError(t, err)
	require.True(t, matched)

	select {
	case got := <-done:
		assert.Equal(t, room.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting peer was not notified")
	}
}

func TestAwaitMatch_CancelWithdraws(t *testing.T) {
	mm, m := newTestMatchmaker(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := mm.WaitForMatch(ctx, "a")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return mm.Waiting("a") }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after cancel")
	}
	assert.False(t, mm.Waiting("a"))
	assert.Equal(t, uint64(1), m.Get(metrics.QueueWithdrawn))
}

func TestAwaitMatch_CancelRacingMatchKeepsRoom(t *testing.T) {
	mm, _ := newTestMatchmaker(t, nil)
	mm.retry = time.Hour

	_, _, err := mm.FindMatch("a")
	require.NoError(t, err)
	room, matched, err := mm.FindMatch("b")
	require.NoError(t, err)
	require.True(t, matched)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := mm.AwaitMatch(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
}

func TestAwaitMatch_ExternalWithdraw(t *testing.T) {
	mm, _ := newTestMatchmaker(t, nil)
	mm.retry = time.Hour

	_, _, err := mm.FindMatch("a")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := mm.AwaitMatch(context.Background(), "a")
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	mm.Withdraw("a")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNotWaiting)
	case <-time.After(2 * time.Second):
		t.Fatal("withdraw did not wake the waiter")
	}
}

func TestConcurrentWaitForMatch_EveryoneMatchedOnce(t *testing.T) {
	const users = 64

	ids := make([]string, users)
	for i := range ids {
		ids[i] = fmt.Sprintf("user-%02d", i)
	}
	mm, _ := newTestMatchmaker(t, online(ids...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rooms := make([]Room, users)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			room, err := mm.WaitForMatch(ctx, id)
			assert.NoError(t, err)
			rooms[i] = room
		}(i, id)
	}
	wg.Wait()

	byRoom := make(map[string][]string)
	for i, r := range rooms {
		require.Truef(t, r.Has(ids[i]), "user %s got a room it is not part of", ids[i])
		byRoom[r.ID] = append(byRoom[r.ID], ids[i])
	}
	assert.Len(t, byRoom, users/2)
	for id, members := range byRoom {
		assert.Lenf(t, members, 2, "room %s", id)
	}

	stats := mm.Stats()
	assert.Zero(t, stats.Waiting)
	assert.Equal(t, users/2, stats.ActiveRooms)
}

func TestEndRoom(t *testing.T) {
	mm, m := newTestMatchmaker(t, nil)

	var (
		mu    sync.Mutex
		ended []Room
	)
	mm.OnRoomEnded(func(r Room) {
		mu.Lock()
		ended = append(ended, r)
		mu.Unlock()
	})

	_, _, err := mm.FindMatch("a")
	require.NoError(t, err)
	room, _, err := mm.FindMatch("b")
	require.NoError(t, err)

	_, err = mm.EndRoom("nope", "a")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = mm.EndRoom(room.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotRoomMember)

	first, err := mm.EndRoom(room.ID, "a")
	require.NoError(t, err)
	assert.False(t, first.Active)
	require.NotNil(t, first.EndedAt)
	assert.Equal(t, "a", first.EndedBy)

	second, err := mm.EndRoom(room.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Len(t, ended, 1)
	assert.Equal(t, uint64(1), m.Get(metrics.RoomEnded))

	_, ok := mm.ActiveRoom("a")
	assert.False(t, ok)
	_, ok = mm.ActiveRoom("b")
	assert.False(t, ok)

	// Both peers can search again after the room ends.
	_, matched, err := mm.FindMatch("a")
	require.NoError(t, err)
	assert.False(t, matched)
	next, matched, err := mm.FindMatch("b")
	require.NoError(t, err)
	require.True(t, matched)
	assert.NotEqual(t, room.ID, next.ID)
}

func TestPruneEnded(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	mm := New(Options{Now: func() time.Time { return clock }})

	_, _, _ = mm.FindMatch("a")
	room, _, _ := mm.FindMatch("b")
	_, err := mm.EndRoom(room.ID, "b")
	require.NoError(t, err)

	assert.Zero(t, mm.PruneEnded(time.Hour))
	clock = clock.Add(2 * time.Hour)
	assert.Equal(t, 1, mm.PruneEnded(time.Hour))

	_, err = mm.Room(room.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomHelpers(t *testing.T) {
	r := Room{PeerA: "a", PeerB: "b"}

	assert.True(t, r.Has("a"))
	assert.False(t, r.Has(""))
	other, ok := r.Other("b")
	assert.True(t, ok)
	assert.Equal(t, "a", other)
	_, ok = r.Other("c")
	assert.False(t, ok)
	assert.True(t, r.IsInitiator("a"))
	assert.False(t, r.IsInitiator("b"))
}

func TestNewRoomIDAvoidsCollisions(t *testing.T) {
	taken := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := newRoomID(func(id string) bool { return taken[id] })
		require.False(t, taken[id])
		taken[id] = true
	}
}
