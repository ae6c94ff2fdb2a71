package ratelimit

import (
	"context"
	"net/http"

	"github.com/ulule/limiter/v3"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"undercover/internal/logging"
)

// HTTPLimiter guards the side HTTP surface (§6: /auth/*, /rooms/status)
// with per-IP rate limits, grounded on RoseWrightdev-Video-Conferencing's
// internal/v1/ratelimit package. A single in-memory store is shared
// across endpoint classes since the HTTP surface runs in one process.
type HTTPLimiter struct {
	auth   *limiter.Limiter
	status *limiter.Limiter
}

// NewHTTPLimiter builds limiters from formatted rate strings such as
// "20-M" (20 per minute) as accepted by limiter.NewRateFromFormatted.
func NewHTTPLimiter(authRate, statusRate string) (*HTTPLimiter, error) {
	store := memory.NewStore()

	ar, err := limiter.NewRateFromFormatted(authRate)
	if err != nil {
		return nil, err
	}
	sr, err := limiter.NewRateFromFormatted(statusRate)
	if err != nil {
		return nil, err
	}

	return &HTTPLimiter{
		auth:   limiter.New(store, ar),
		status: limiter.New(store, sr),
	}, nil
}

// AuthMiddleware rate-limits the /auth/* endpoints per client IP.
func (h *HTTPLimiter) AuthMiddleware(next http.Handler) http.Handler {
	mw := mhttp.NewMiddleware(h.auth)
	return mw.Handler(next)
}

// StatusMiddleware rate-limits /rooms/status per client IP.
func (h *HTTPLimiter) StatusMiddleware(next http.Handler) http.Handler {
	mw := mhttp.NewMiddleware(h.status)
	return mw.Handler(next)
}

// LogDenied logs a rejected request; wired in by handlers that want a
// trace of rate-limit pressure beyond the 429 response itself.
func LogDenied(ctx context.Context, path, ip string) {
	logging.Warn(ctx, "http rate limit exceeded", zap.String("path", path), zap.String("ip", ip))
}
