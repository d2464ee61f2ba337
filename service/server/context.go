package server

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey string

const loggerContextKey contextKey = "logger"

func newRequestID() string {
	return uuid.NewString()
}

func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// loggerFrom returns the request-scoped logger, or fallback outside a request.
func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok {
		return l
	}
	return fallback
}
