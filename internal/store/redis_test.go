package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(rdb)
}

type fakeSnapshot struct {
	RoomID string `json:"room_id"`
	Round  int    `json:"round"`
}

func TestSaveLoadSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := fakeSnapshot{RoomID: "ABCDEF", Round: 3}
	s.SaveSnapshot(ctx, "ABCDEF", in)

	var out fakeSnapshot
	ok := s.LoadSnapshot(ctx, "ABCDEF", &out)
	require.True(t, ok)
	require.Equal(t, in, out)
}

func TestLoadSnapshotMissing(t *testing.T) {
	s := newTestStore(t)
	var out fakeSnapshot
	ok := s.LoadSnapshot(context.Background(), "NOPE00", &out)
	require.False(t, ok)
}

func TestDeleteRoomRemovesSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.SaveSnapshot(ctx, "ZZZZZZ", fakeSnapshot{RoomID: "ZZZZZZ"})
	s.DeleteRoom(ctx, "ZZZZZZ")

	var out fakeSnapshot
	ok := s.LoadSnapshot(ctx, "ZZZZZZ", &out)
	require.False(t, ok)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	type session struct {
		UserID string `json:"user_id"`
	}
	require.NoError(t, s.SaveSession(ctx, "sess-1", session{UserID: "u1"}, time.Hour))

	var out session
	ok := s.LoadSession(ctx, "sess-1", &out)
	require.True(t, ok)
	require.Equal(t, "u1", out.UserID)
}

func TestActiveRoomIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.SaveSnapshot(ctx, "ROOM01", fakeSnapshot{RoomID: "ROOM01"})
	s.SaveSnapshot(ctx, "ROOM02", fakeSnapshot{RoomID: "ROOM02"})

	ids := s.ActiveRoomIDs(ctx)
	require.Len(t, ids, 2)
}
