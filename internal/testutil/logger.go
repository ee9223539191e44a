package testutil

import (
	"context"
	"io"
	"log/slog"

	"github.com/vk/apw/internal/ctxlog"
)

// LoggerContext returns ctx carrying a debug level text logger writing to w.
func LoggerContext(ctx context.Context, w io.Writer) context.Context {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return ctxlog.WithLogger(ctx, logger)
}
