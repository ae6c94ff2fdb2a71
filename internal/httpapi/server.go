// Package httpapi wires the side HTTP surface of §6: OpenID login/
// callback/validate, /rooms/status, static file serving, and the /ws
// upgrade endpoint. Router and CORS middleware are grounded directly on
// the teacher's main.go (gorilla/mux with a hand-rolled CORS
// middleware); the auth endpoints generalize the teacher's absent
// auth layer using the OpenID relying party from internal/auth.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"undercover/internal/auth"
	"undercover/internal/logging"
	"undercover/internal/ratelimit"
	"undercover/internal/room"
	"undercover/internal/store"
	"undercover/internal/transport"
)

// CORSConfig mirrors the cors.* configuration keys of §6.
type CORSConfig struct {
	AllowAllOrigins bool
	AllowedOrigins  []string
}

// Server bundles everything the HTTP surface needs to answer requests.
type Server struct {
	Registry     *room.Registry
	Sessions     *auth.SessionIssuer
	RelyingParty *auth.RelyingParty
	Store        *store.Store
	HTTPLimiter  *ratelimit.HTTPLimiter
	CORS         CORSConfig
	StaticDir    string
	CallbackBase string
	MaxIdleTime  time.Duration

	router *mux.Router
}

// NewServer builds the router. Call Handler() to get an http.Handler.
func NewServer(s *Server) *Server {
	s.router = mux.NewRouter()
	s.router.Use(s.corsMiddleware)

	if s.HTTPLimiter != nil {
		s.router.Handle("/auth/login", s.HTTPLimiter.AuthMiddleware(http.HandlerFunc(s.handleLogin))).Methods(http.MethodGet, http.MethodOptions)
		s.router.Handle("/auth/callback", s.HTTPLimiter.AuthMiddleware(http.HandlerFunc(s.handleCallback))).Methods(http.MethodGet, http.MethodOptions)
		s.router.Handle("/auth/validate", s.HTTPLimiter.AuthMiddleware(http.HandlerFunc(s.handleValidate))).Methods(http.MethodGet, http.MethodOptions)
		s.router.Handle("/rooms/status", s.HTTPLimiter.StatusMiddleware(http.HandlerFunc(s.handleRoomsStatus))).Methods(http.MethodGet, http.MethodOptions)
	} else {
		s.router.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodGet, http.MethodOptions)
		s.router.HandleFunc("/auth/callback", s.handleCallback).Methods(http.MethodGet, http.MethodOptions)
		s.router.HandleFunc("/auth/validate", s.handleValidate).Methods(http.MethodGet, http.MethodOptions)
		s.router.HandleFunc("/rooms/status", s.handleRoomsStatus).Methods(http.MethodGet, http.MethodOptions)
	}

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	wsHandler := &transport.Handler{
		Registry:  s.Registry,
		Sessions:  s.Sessions,
		IPLimiter: transport.NewIPLimiter(3),
	}
	s.router.Handle("/ws", wsHandler)

	fileServer := http.FileServer(http.Dir(s.StaticDir))
	s.router.PathPrefix("/").Handler(fileServer)

	return s
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.CORS.AllowAllOrigins || origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range s.CORS.AllowedOrigins {
				if allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleLogin builds the OpenID authorization redirect (§6
// "GET /auth/login?callback_url=..."). The provider's authorization URL
// itself is an external collaborator's responsibility (§1); this
// handler only shapes the JSON envelope and embeds callback_url as
// return_to.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	callback := r.URL.Query().Get("callback_url")
	if callback == "" {
		callback = s.CallbackBase + "/index.html"
	}
	nonce := uuid.NewString()
	loginURL := s.CallbackBase + "/auth/callback?return_to=" + url.QueryEscape(callback) + "&nonce=" + nonce

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"login_url": loginURL,
	})
}

// handleCallback verifies the provider's identity assertion, mints a
// session, and redirects the browser back with session_id appended
// (§6 "GET /auth/callback?openid.*").
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	idToken := r.URL.Query().Get("openid.id_token")
	nonce := r.URL.Query().Get("openid.nonce")
	returnTo := r.URL.Query().Get("return_to")
	if returnTo == "" {
		returnTo = "/index.html"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	user, err := s.RelyingParty.VerifyIDToken(ctx, idToken, nonce)
	if err != nil {
		logging.Warn(ctx, "openid verification failed", logging.Err(err))
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "authentication failed"})
		return
	}

	sessionID, expires, err := s.Sessions.Issue(user)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": "could not create session"})
		return
	}
	s.Store.SaveSession(ctx, sessionID, sessionRecord(user, expires), time.Until(expires))

	redirectURL := returnTo
	if u, err := url.Parse(returnTo); err == nil {
		q := u.Query()
		q.Set("session_id", sessionID)
		u.RawQuery = q.Encode()
		redirectURL = u.String()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!doctype html><html><body><script>
window.localStorage.setItem("session_id", ` + jsString(sessionID) + `);
window.location.replace(` + jsString(redirectURL) + `);
</script></body></html>`))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	user, err := s.Sessions.Validate(sessionID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "invalid or expired session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": user})
}

func (s *Server) handleRoomsStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	type roomStatus struct {
		RoomID          string `json:"room_id"`
		PlayerCount     int    `json:"player_count"`
		IdleSeconds     int    `json:"idle_seconds"`
		IsGameOver      bool   `json:"is_game_over"`
		IsEmpty         bool   `json:"is_empty"`
		ShouldBeDeleted bool   `json:"should_be_deleted"`
	}

	engines := s.Registry.List()
	rooms := make([]roomStatus, 0, len(engines))
	now := time.Now()
	for _, eng := range engines {
		st, err := eng.ReadStatus(ctx)
		if err != nil {
			continue
		}
		idle := now.Sub(st.LastActivityAt)
		should := (st.IsGameOver && idle > st.RoundDelay) || (st.IsEmpty && idle > s.MaxIdleTime)
		rooms = append(rooms, roomStatus{
			RoomID:          st.RoomID,
			PlayerCount:     st.PlayerCount,
			IdleSeconds:     int(idle.Seconds()),
			IsGameOver:      st.IsGameOver,
			IsEmpty:         st.IsEmpty,
			ShouldBeDeleted: should,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"rooms":       rooms,
		"total_rooms": len(rooms),
	})
}

func sessionRecord(u auth.User, expires time.Time) map[string]interface{} {
	return map[string]interface{}{
		"user_id":    u.ID,
		"username":   u.Username,
		"nickname":   u.Nickname,
		"avatar":     u.Avatar,
		"expires_at": expires,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
