// Package auth implements the Identity & Session Adapter (C1, §4.5/§6):
// validating a session token into a {id, username, nickname, avatar}
// user descriptor, and the OpenID relying-party boundary that produces
// one. The JWT/JWKS machinery is grounded on
// RoseWrightdev-Video-Conferencing's internal/v1/auth package; this
// repo uses it for two distinct purposes instead of one:
//
//   - Session tells issues and verifies the server's own session_id — a
//     JWT signed with a server-held HMAC secret (golang-jwt/jwt/v5).
//   - Relying party verifies the upstream OpenID provider's signed
//     identity assertion against its published JWKS
//     (lestrrat-go/jwx/v2/jwk) before minting a session for it.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"undercover/internal/apperr"
)

// User is the immutable-during-a-session user descriptor (§3).
type User struct {
	ID       string `json:"user_id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// sessionClaims is the JWT payload for a server-issued session_id.
type sessionClaims struct {
	User
	jwt.RegisteredClaims
}

// SessionIssuer mints and validates session_id tokens.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionIssuer builds a SessionIssuer signing with secret (HS256).
func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a signed session_id for user, valid for the issuer's TTL.
func (si *SessionIssuer) Issue(user User) (string, time.Time, error) {
	expires := time.Now().Add(si.ttl)
	claims := sessionClaims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(si.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expires, nil
}

// Validate verifies a session_id string and returns the embedded user
// descriptor. Any failure (expired, malformed, bad signature) surfaces
// as apperr.AuthRequired per §7.
func (si *SessionIssuer) Validate(sessionID string) (User, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(sessionID, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return si.secret, nil
	})
	if err != nil || !token.Valid {
		return User{}, apperr.New(apperr.AuthRequired, "invalid or expired session")
	}
	return claims.User, nil
}
