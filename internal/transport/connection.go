// Package transport implements the Connection Handler (C10, §4.4):
// per-client authenticate/attach/translate loop, modeled directly on the
// teacher's client.go readPump/writePump pair, generalized from the
// teacher's single untyped Message dispatch to typed engine commands and
// from an unbounded hub.register/unregister channel pair to the Event
// Bus subscription each room already exposes.
package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"undercover/internal/apperr"
	"undercover/internal/auth"
	"undercover/internal/bus"
	"undercover/internal/logging"
	"undercover/internal/metrics"
	"undercover/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// idleTimeout matches §5 "a connection idle for 5 minutes... is
	// closed by the handler".
	idleTimeout = 5 * time.Minute
	// inboundRateLimit is the per-connection message throttle of §5;
	// exceeding it mutes (drops) the excess frame rather than
	// disconnecting.
	inboundRateLimit = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundFrame is the wire shape of a client -> server message (§6).
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// IPLimiter enforces the per-IP concurrent connection cap of §5.
type IPLimiter struct {
	mu    sync.Mutex
	limit int
	conns map[string]int
}

// NewIPLimiter builds a limiter allowing limit concurrent connections
// per remote IP.
func NewIPLimiter(limit int) *IPLimiter {
	return &IPLimiter{limit: limit, conns: make(map[string]int)}
}

// Acquire reserves one connection slot for ip, returning false if the
// per-IP cap (default 3, §5) is already reached.
func (l *IPLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns[ip] >= l.limit {
		return false
	}
	l.conns[ip]++
	return true
}

// Release frees one connection slot for ip.
func (l *IPLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[ip]--
	if l.conns[ip] <= 0 {
		delete(l.conns, ip)
	}
}

// Handler wires HTTP upgrade requests into Connection loops.
type Handler struct {
	Registry  *room.Registry
	Sessions  *auth.SessionIssuer
	IPLimiter *IPLimiter
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// loop, per §6 "/ws?session_id=<uuid>[&room_id=<id>]".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !h.IPLimiter.Acquire(ip) {
		http.Error(w, "too many connections from this address", http.StatusTooManyRequests)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	user, err := h.Sessions.Validate(sessionID)
	if err != nil {
		h.IPLimiter.Release(ip)
		http.Error(w, "AuthRequired", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.IPLimiter.Release(ip)
		logging.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	roomID := r.URL.Query().Get("room_id")
	eng, err := h.Registry.GetOrCreate(roomID)
	if err != nil {
		conn.Close()
		h.IPLimiter.Release(ip)
		logging.Error(r.Context(), "room allocation failed", logging.Err(err))
		return
	}

	c := &Connection{
		conn:     conn,
		engine:   eng,
		registry: h.Registry,
		playerID: user.ID,
		send:     make(chan []byte, 256),
		ip:       ip,
		onClose:  h.IPLimiter.Release,
	}
	c.run(user)
}

// Connection is one client's attach-to-detach lifetime (§4.4).
type Connection struct {
	conn     *websocket.Conn
	engine   *room.Engine
	registry *room.Registry
	sub      *bus.Subscription
	playerID string
	send     chan []byte
	ip       string
	onClose  func(string)

	mu           sync.Mutex
	lastActivity time.Time
	inboundCount int
	inboundReset time.Time
}

func (c *Connection) run(user auth.User) {
	ctx := context.Background()
	snap, sub, err := c.engine.Attach(ctx, c.playerID)
	if err != nil {
		c.writeJSON(bus.Envelope{Type: bus.KindError, Data: errorPayload(err)})
		c.conn.Close()
		c.onClose(c.ip)
		return
	}
	c.sub = sub
	c.touch()

	metrics.WebsocketConnections.Inc()
	defer metrics.WebsocketConnections.Dec()

	c.writeJSON(bus.Envelope{Type: bus.KindUserInfo, Data: user})
	c.writeJSON(bus.Envelope{Type: bus.KindRoomList, Data: c.roomListSummary()})
	c.writeJSON(bus.Envelope{Type: bus.KindStateUpdate, Data: snap})

	go c.writePump()
	c.readPump()
}

// roomListSummary builds the room_list frame of §4.4 step (iii)/§6: every
// currently active room and its player count, resolved through the
// registry the same way ServeHTTP resolved this connection's own room.
func (c *Connection) roomListSummary() []roomSummary {
	engines := c.registry.List()
	out := make([]roomSummary, 0, len(engines))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, eng := range engines {
		st, err := eng.ReadStatus(ctx)
		if err != nil {
			continue
		}
		out = append(out, roomSummary{RoomID: st.RoomID, PlayerCount: st.PlayerCount})
	}
	return out
}

type roomSummary struct {
	RoomID      string `json:"room_id"`
	PlayerCount int    `json:"player_count"`
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// allowInbound enforces the 100 msg/s per-connection throttle (§5):
// excess frames within the current one-second window are dropped.
func (c *Connection) allowInbound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.inboundReset) > time.Second {
		c.inboundReset = now
		c.inboundCount = 0
	}
	c.inboundCount++
	return c.inboundCount <= inboundRateLimit
}

func (c *Connection) readPump() {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.engine.Detach(ctx, c.playerID)
		if c.sub != nil {
			c.sub.Close()
		}
		c.conn.Close()
		close(c.send)
		c.onClose(c.ip)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	idleTicker := time.NewTicker(30 * time.Second)
	idleDone := make(chan struct{})
	defer func() {
		idleTicker.Stop()
		close(idleDone)
	}()
	go func() {
		for {
			select {
			case <-idleDone:
				return
			case <-idleTicker.C:
				if c.idleFor() > idleTimeout {
					c.conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		if !c.allowInbound() {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.writeJSON(bus.Envelope{Type: bus.KindError, Data: map[string]string{
				"code": string(apperr.InvalidMessageFormat), "message": "malformed frame",
			}})
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Connection) dispatch(frame inboundFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch frame.Type {
	case "join":
		var payload struct {
			PlayerName string `json:"player_name"`
			PlayerID   string `json:"player_id"`
		}
		if jsonErr := json.Unmarshal(frame.Data, &payload); jsonErr == nil {
			_, err = c.engine.Join(ctx, c.playerID, payload.PlayerName)
		}
	case "ready":
		err = c.engine.SetReady(ctx, c.playerID, true)
	case "describe":
		var payload struct {
			Content string `json:"content"`
		}
		if jsonErr := json.Unmarshal(frame.Data, &payload); jsonErr == nil {
			err = c.engine.Describe(ctx, c.playerID, payload.Content)
		}
	case "vote":
		var payload struct {
			TargetID string `json:"target_id"`
		}
		if jsonErr := json.Unmarshal(frame.Data, &payload); jsonErr == nil {
			err = c.engine.Vote(ctx, c.playerID, payload.TargetID)
		}
	case "chat":
		var payload struct {
			Content string `json:"content"`
		}
		if jsonErr := json.Unmarshal(frame.Data, &payload); jsonErr == nil {
			err = c.engine.Chat(ctx, c.playerID, payload.Content)
		}
	case "leave":
		err = c.engine.Leave(ctx, c.playerID)
	default:
		err = apperr.New(apperr.InvalidMessageFormat, "unknown frame type")
	}

	if err != nil {
		c.writeJSON(bus.Envelope{Type: bus.KindError, Data: errorPayload(err)})
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, env); err != nil {
				return
			}
			c.touch()
		case env, ok := <-c.subChannel():
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := bus.Marshal(env)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			c.touch()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) subChannel() <-chan bus.Envelope {
	if c.sub == nil {
		return nil
	}
	return c.sub.C()
}

func (c *Connection) writeJSON(env bus.Envelope) {
	data, err := bus.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "dropping outbound frame, send buffer full", logging.Str("player_id", c.playerID))
	}
}

func errorPayload(err error) map[string]string {
	code, ok := apperr.CodeOf(err)
	if !ok {
		code = apperr.InternalError
	}
	return map[string]string{"code": string(code), "message": err.Error()}
}
