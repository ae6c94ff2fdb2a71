// Package logging wraps zap behind a small context-aware facade, the way
// RoseWrightdev-Video-Conferencing's internal/v1/logging package does:
// one global logger built once, helpers that pull correlation/room/player
// IDs out of a context.Context instead of requiring every call site to
// thread them through by hand.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	RoomIDKey   contextKey = "room_id"
	PlayerIDKey contextKey = "player_id"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// Initialize builds the global logger. development selects a human
// readable, color console encoder; otherwise JSON with ISO8601 timestamps.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// L returns the global logger, falling back to a development logger if
// Initialize was never called (tests, early startup).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// WithRoom returns a context carrying a room_id for subsequent log calls.
func WithRoom(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

// WithPlayer returns a context carrying a player_id for subsequent log calls.
func WithPlayer(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, PlayerIDKey, playerID)
}

func fieldsFrom(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if v, ok := ctx.Value(RoomIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("room_id", v))
	}
	if v, ok := ctx.Value(PlayerIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("player_id", v))
	}
	return fields
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	L().Info(msg, fieldsFrom(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	L().Warn(msg, fieldsFrom(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	L().Error(msg, fieldsFrom(ctx, fields)...)
}

func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	L().Fatal(msg, fieldsFrom(ctx, fields)...)
}

// Str and Err are thin re-exports of the common zap field constructors so
// call sites outside this package don't need their own zap import for
// the two most common field kinds.
func Str(key, value string) zap.Field { return zap.String(key, value) }
func Err(err error) zap.Field         { return zap.Error(err) }

