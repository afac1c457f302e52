package session

import (
	"time"
)

// StartOptions are passed to Lifecycle.Start.
type StartOptions struct {
	// ID is the identifier to start the session with, an id is generated when empty and
	// no id was previously set.
	ID string

	// Lifetime is how long the identifier carrier (eg cookie) should be kept by the client,
	// 0 keeps it for the duration of the client process.
	Lifetime time.Duration
}

// Lifecycle owns the current session identifier and whether the session is active.
//
// Implementations are provided by the host, see the lifecycle and httpsession packages.
type Lifecycle interface {
	IsActive() bool
	ID() string
	SetID(id string) bool
	Start(opts StartOptions) bool
	End() bool
	Regenerate(deleteOld bool) bool
}
