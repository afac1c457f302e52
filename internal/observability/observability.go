package observability

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	observabilityKey = contextKey("OBSERVABILITY")
)

// Observability holds the Logger used while serving a request.
// nil *Observability are safe to use.
type Observability struct {
	Logger *slog.Logger
}

// Log returns inner Logger or slog.Default().
func (self *Observability) Log() *slog.Logger {
	if (nil == self) || (nil == self.Logger) {
		return slog.Default()
	}

	return self.Logger
}

// GetObservability returns ctx Observability.
func GetObservability(ctx context.Context) *Observability {
	var rv *Observability
	if nil == ctx {
		return rv
	}
	rv, _ = ctx.Value(observabilityKey).(*Observability)
	return rv
}

// SetObservability returns new Context containing obs.
func SetObservability(ctx context.Context, obs *Observability) context.Context {
	return context.WithValue(ctx, observabilityKey, obs)
}

// Log is a shortcut for GetObservability(ctx).Log().
func Log(ctx context.Context) *slog.Logger {
	return GetObservability(ctx).Log()
}

// WithAttrs returns a Context whose Logger carries args.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	log := Log(ctx).With(args...)
	return SetObservability(ctx, &Observability{Logger: log})
}
