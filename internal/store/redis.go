// Package store is the persistence adapter (C5, §4.8): write-through
// snapshots of room state, write-once finished-game history, and the
// session lookup table, keyed the way the teacher's database/redis.go
// lays out Redis keys. Every call is wrapped in a circuit breaker
// (sony/gobreaker) so a flaky Redis instance degrades to "log and
// continue" rather than blocking the room engine — the spec is explicit
// that persistence is best-effort and must never hold up game progress
// (§4.1 Failure semantics, §4.8).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"undercover/internal/logging"
)

// Store wraps a Redis client with a circuit breaker for every operation.
type Store struct {
	rdb *redis.Client
	cb  *gobreaker.CircuitBreaker
	ttl time.Duration
}

// New connects to Redis at addr and wraps it with a circuit breaker that
// trips after 5 consecutive failures and probes again after 10s.
func New(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-store",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn(context.Background(), "persistence circuit breaker state change",
				logging.Str("breaker", name), logging.Str("from", from.String()), logging.Str("to", to.String()))
		},
	})

	return &Store{rdb: rdb, cb: cb, ttl: time.Hour}, nil
}

// NewWithClient wraps an already-constructed *redis.Client — used by
// tests against miniredis.
func NewWithClient(rdb *redis.Client) *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "redis-store-test",
		Timeout:  10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Store{rdb: rdb, cb: cb, ttl: time.Hour}
}

func snapshotKey(roomID string) string { return fmt.Sprintf("room:%s:snapshot", roomID) }
func historyKey(roomID string, ts int64) string {
	return fmt.Sprintf("game:history:%s:%d", roomID, ts)
}
func sessionKey(sessionID string) string { return fmt.Sprintf("session:%s", sessionID) }

// SaveSnapshot write-throughs a room's full JSON snapshot (§4.8). Best
// effort: errors are logged, never returned to the caller's caller as a
// reason to stop the game.
func (s *Store) SaveSnapshot(ctx context.Context, roomID string, snapshot interface{}) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		logging.Error(ctx, "marshal room snapshot failed", logging.Str("room_id", roomID), logging.Err(err))
		return
	}
	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.rdb.Set(ctx, snapshotKey(roomID), data, s.ttl).Err()
	})
	if err != nil {
		logging.Warn(ctx, "save room snapshot failed", logging.Str("room_id", roomID), logging.Err(err))
	}
}

// LoadSnapshot reads a room's last-written snapshot into target. Returns
// false when there is nothing to restore (registry miss without a
// previously known room) or the breaker is open.
func (s *Store) LoadSnapshot(ctx context.Context, roomID string, target interface{}) bool {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.rdb.Get(ctx, snapshotKey(roomID)).Result()
	})
	if err != nil {
		if err != redis.Nil {
			logging.Warn(ctx, "load room snapshot failed", logging.Str("room_id", roomID), logging.Err(err))
		}
		return false
	}
	data, _ := v.(string)
	if err := json.Unmarshal([]byte(data), target); err != nil {
		logging.Error(ctx, "unmarshal room snapshot failed", logging.Str("room_id", roomID), logging.Err(err))
		return false
	}
	return true
}

// DeleteRoom drops roomID's persisted snapshot (lifecycle eviction).
// Game-history records for the room are kept until their own expiry.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.rdb.Del(ctx, snapshotKey(roomID)).Err()
	})
	if err != nil {
		logging.Warn(ctx, "delete room failed", logging.Str("room_id", roomID), logging.Err(err))
	}
}

// RecordGameHistory is a write-once append of a finished game's roles,
// words, winner, and final alive set (§4.8, §6 persisted state layout).
func (s *Store) RecordGameHistory(ctx context.Context, roomID string, record interface{}) {
	data, err := json.Marshal(record)
	if err != nil {
		logging.Error(ctx, "marshal game history failed", logging.Str("room_id", roomID), logging.Err(err))
		return
	}
	key := historyKey(roomID, time.Now().Unix())
	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.rdb.Set(ctx, key, data, 30*24*time.Hour).Err()
	})
	if err != nil {
		logging.Warn(ctx, "record game history failed", logging.Str("room_id", roomID), logging.Err(err))
	}
}

// SaveSession persists a session_id -> user descriptor entry (C1 boundary).
func (s *Store) SaveSession(ctx context.Context, sessionID string, session interface{}, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.rdb.Set(ctx, sessionKey(sessionID), data, ttl).Err()
	})
	return err
}

// LoadSession looks up a session by id. ok is false if it is absent,
// expired, or the breaker is open.
func (s *Store) LoadSession(ctx context.Context, sessionID string, target interface{}) bool {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.rdb.Get(ctx, sessionKey(sessionID)).Result()
	})
	if err != nil {
		return false
	}
	data, _ := v.(string)
	return json.Unmarshal([]byte(data), target) == nil
}

// ActiveRoomIDs lists room IDs with a live snapshot. Neither /rooms/status
// nor the registry calls it; both work from the in-memory room table.
func (s *Store) ActiveRoomIDs(ctx context.Context) []string {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.rdb.Keys(ctx, "room:*:snapshot").Result()
	})
	if err != nil {
		return nil
	}
	keys, _ := v.([]string)
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		var roomID string
		if _, err := fmt.Sscanf(k, "room:%s", &roomID); err == nil {
			ids = append(ids, trimSnapshotSuffix(roomID))
		}
	}
	return ids
}

func trimSnapshotSuffix(s string) string {
	const suffix = ":snapshot"
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}
