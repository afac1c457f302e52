package observability

import (
	"log/slog"
	"testing"
)

// SetTestDebugLogging routes the slog Default logger to t output at DEBUG level
// until the test ends.
func SetTestDebugLogging(t testing.TB) {
	previous := slog.Default()
	hdlr := slog.NewTextHandler(t.Output(), &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(hdlr))
	t.Cleanup(func() {
		slog.SetDefault(previous)
	})
}
