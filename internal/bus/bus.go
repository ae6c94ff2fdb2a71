// Package bus implements the per-room Event Bus (C6, §4.9): one
// publisher (the room engine), N subscribers (player connections),
// bounded so a slow subscriber can never make the engine block on
// publish. Modeled on the teacher's room.broadcast channel, generalized
// to multi-subscriber fan-out the way RoseWrightdev-Video-Conferencing's
// internal/v1/bus registers per-connection channels instead of iterating
// a shared map under the room's own lock.
package bus

import (
	"encoding/json"
	"sync"
)

// Kind enumerates the outbound message kinds of §4.9/§6.
type Kind string

const (
	KindUserInfo    Kind = "user_info"
	KindRoomList    Kind = "room_list"
	KindStateUpdate Kind = "state_update"
	KindNotification Kind = "notification"
	KindDescription Kind = "description"
	KindVote        Kind = "vote"
	KindChat        Kind = "chat"
	KindError       Kind = "error"
)

// Envelope is the wire frame shape (§6): {"type":..., "data":...}.
type Envelope struct {
	Type Kind        `json:"type"`
	Data interface{} `json:"data"`
}

// subscriberBuffer is how many envelopes a slow subscriber can lag by
// before being dropped (§4.9).
const subscriberBuffer = 64

// Subscription is a per-connection handle receiving one room's event
// stream (GLOSSARY).
type Subscription struct {
	ch     chan Envelope
	bus    *Bus
	id     uint64
	closed bool
	mu     sync.Mutex
}

// C returns the channel of inbound envelopes. It is closed when the bus
// is closed (room deletion) or this subscription is dropped for lag.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Close detaches this subscriber from the bus. Idempotent.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

// Bus is one room's broadcast channel: a single publisher, many
// subscribers, never blocking on publish (§4.9, §5).
type Bus struct {
	mu          sync.Mutex
	subs        map[uint64]*Subscription
	nextID      uint64
	closed      bool
	onSlowDrop  func(subID uint64)
}

// New builds an empty Bus for one room.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// OnSlowDrop registers a callback invoked (from the publishing
// goroutine) whenever a subscriber is dropped for lag.
func (b *Bus) OnSlowDrop(fn func(subID uint64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSlowDrop = fn
}

// Subscribe attaches a new subscriber and returns its handle.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{ch: make(chan Envelope, subscriberBuffer), bus: b}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs, s.id)
	close(s.ch)
}

// Publish fans out env to every current subscriber. Never blocks: a
// subscriber whose buffer is full is dropped instead (§4.9, §5 "the
// engine never blocks on publish").
func (b *Bus) Publish(env Envelope) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	drop := b.onSlowDrop
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- env:
		default:
			if drop != nil {
				drop(s.id)
			}
			b.remove(s)
		}
	}
}

// PublishJSON is a convenience for publishing data already destined for
// json.Marshal under Kind kind.
func (b *Bus) PublishJSON(kind Kind, data interface{}) {
	b.Publish(Envelope{Type: kind, Data: data})
}

// Close ends the bus: every subscriber channel is closed (observes
// end-of-stream) and further Subscribe calls receive an already-closed
// channel (§4.2 "closes the event bus").
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		delete(b.subs, id)
	}
}

// Marshal is a helper so callers can pre-encode an envelope when they
// need the raw bytes (e.g. for HTTP-side diagnostics) without going
// through the bus.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
