package room

import (
	"context"
	"time"

	"undercover/internal/logging"
	"undercover/internal/metrics"
	"undercover/internal/store"
)

// LifecycleManager runs the periodic heartbeat of §4.2: it evicts rooms
// that are either finished-and-settled or disconnected-and-idle, modeled
// on the teacher's periodic cleanup goroutine in hub.go, generalized from
// a single global ticker over one map to a ticker that queries each
// engine's status through its own command channel.
type LifecycleManager struct {
	registry        *Registry
	store           *store.Store
	heartbeat       time.Duration
	maxIdleTime     time.Duration
	stop            chan struct{}
}

// NewLifecycleManager builds a manager; Run starts its heartbeat loop.
func NewLifecycleManager(registry *Registry, st *store.Store, heartbeat, maxIdleTime time.Duration) *LifecycleManager {
	return &LifecycleManager{
		registry:    registry,
		store:       st,
		heartbeat:   heartbeat,
		maxIdleTime: maxIdleTime,
		stop:        make(chan struct{}),
	}
}

// Run blocks, ticking at the configured heartbeat interval, until Stop
// is called. Intended to be started in its own goroutine.
func (m *LifecycleManager) Run() {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Stop ends the heartbeat loop.
func (m *LifecycleManager) Stop() {
	close(m.stop)
}

func (m *LifecycleManager) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	for _, eng := range m.registry.List() {
		status, err := eng.ReadStatus(ctx)
		if err != nil {
			continue
		}
		if m.deletable(status, now) {
			reason := "idle_disconnected"
			if status.IsGameOver {
				reason = "game_over_settled"
			}
			logging.Info(ctx, "evicting room", logging.Str("room_id", status.RoomID), logging.Str("reason", reason))
			m.registry.Delete(status.RoomID)
			m.store.DeleteRoom(ctx, status.RoomID)
			metrics.RoomsEvictedTotal.WithLabelValues(reason).Inc()
		}
	}
}

// deletable implements §4.2's two conditions: a finished game past its
// round_delay grace period, or a fully-disconnected room past
// max_idle_time.
func (m *LifecycleManager) deletable(s Status, now time.Time) bool {
	idle := now.Sub(s.LastActivityAt)
	if s.IsGameOver && idle > s.RoundDelay {
		return true
	}
	if s.IsEmpty && idle > m.maxIdleTime {
		return true
	}
	return false
}
