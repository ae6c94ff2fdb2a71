package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"undercover/internal/filter"
	"undercover/internal/metrics"
	"undercover/internal/store"
	"undercover/internal/wordbank"
)

const roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
const roomIDLength = 6
const roomIDMaxRetries = 16

// Registry is the process-wide table of active rooms (C9, §4.3):
// a concurrent map guarded by a short critical section, the way the
// teacher's hub.go guards its rooms map — generalized here to own
// engine construction and id generation instead of bare struct literals.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Engine

	cfg    Config
	bank   *wordbank.Bank
	filter *filter.Filter
	store  *store.Store
}

// NewRegistry builds an empty registry. cfg is the default room
// configuration applied to newly created rooms.
func NewRegistry(cfg Config, bank *wordbank.Bank, filt *filter.Filter, st *store.Store) *Registry {
	return &Registry{
		rooms:  make(map[string]*Engine),
		cfg:    cfg,
		bank:   bank,
		filter: filt,
		store:  st,
	}
}

// GetOrCreate resolves roomID to a running engine, creating one with a
// freshly generated id if roomID is empty, or a new room under the
// supplied id if absent (§4.3).
func (r *Registry) GetOrCreate(roomID string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if roomID != "" {
		if eng, ok := r.rooms[roomID]; ok {
			return eng, nil
		}
		eng := r.spawnLocked(roomID, true)
		return eng, nil
	}

	id, err := r.generateIDLocked()
	if err != nil {
		return nil, err
	}
	return r.spawnLocked(id, false), nil
}

// Get looks up an existing room without creating one.
func (r *Registry) Get(roomID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eng, ok := r.rooms[roomID]
	return eng, ok
}

// List returns every currently registered engine.
func (r *Registry) List() []*Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Engine, 0, len(r.rooms))
	for _, eng := range r.rooms {
		out = append(out, eng)
	}
	return out
}

// Delete removes roomID from the table and closes its engine. It is the
// callback the Room Lifecycle Manager invokes, and it is also installed
// as each engine's onDelete hook so a room holds no reference back to
// the registry's internals (§9 "Delete callback"). The engine itself
// never calls that hook; every deletion goes through the lifecycle
// manager.
func (r *Registry) Delete(roomID string) {
	r.mu.Lock()
	eng, ok := r.rooms[roomID]
	if ok {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()
	if ok {
		eng.Close()
		metrics.ActiveRooms.Dec()
	}
}

// spawnLocked constructs and starts a new engine for id. When
// attemptRestore is set (the caller supplied an explicit room_id that
// wasn't already in the in-memory table), it first tries to recover a
// persisted snapshot from the store — the crash-recovery half of §4.8 —
// before falling back to a fresh Lobby room.
func (r *Registry) spawnLocked(id string, attemptRestore bool) *Engine {
	eng := NewEngine(id, r.cfg, r.bank, r.filter, r.store, r.Delete)
	if attemptRestore {
		eng.restoreFromStore(context.Background())
	}
	r.rooms[id] = eng
	go eng.Run()
	metrics.ActiveRooms.Inc()
	return eng
}

func (r *Registry) generateIDLocked() (string, error) {
	for attempt := 0; attempt < roomIDMaxRetries; attempt++ {
		id, err := randomRoomID()
		if err != nil {
			return "", err
		}
		if _, exists := r.rooms[id]; !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("room id generation exhausted %d retries", roomIDMaxRetries)
}

// randomRoomID draws 6 uppercase ASCII letters uniformly at random
// (§6 "Room-id generation").
func randomRoomID() (string, error) {
	buf := make([]byte, roomIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	out := make([]byte, roomIDLength)
	for i, b := range buf {
		out[i] = roomIDAlphabet[int(b)%len(roomIDAlphabet)]
	}
	return string(out), nil
}
