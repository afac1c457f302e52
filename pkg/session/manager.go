package session

import (
	"context"
	"time"

	"code.kerpass.org/sessions/internal/observability"
)

// Control manages the session lifecycle.
type Control interface {
	Start(ctx context.Context, opts StartOptions) error
	End(ctx context.Context) (bool, error)
	Destroy(ctx context.Context) (bool, error)
	Flush(ctx context.Context) (bool, error)
	Unset(ctx context.Context) error
	Regenerate(ctx context.Context, deleteOld bool) (bool, error)
	ID() string
	SetID(id string) error
	IsActive() bool
	GC(ctx context.Context, maxAge time.Duration) (int, bool)
}

// Manager coordinates a Lifecycle, an Adapter and the Store holding the session entries.
//
// A session is either inactive or active. Data mutations and lifecycle transitions other than
// Start require an active session and error with ErrNotStarted otherwise.
type Manager struct {
	lc      Lifecycle
	adapter Adapter
	store   *Store
	restart bool
}

// NewManager returns a Manager that persists the session identified by lc using adapter.
func NewManager(lc Lifecycle, adapter Adapter, opts ...ManagerOption) (*Manager, error) {
	var cfg managerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	store, err := NewStore(lc, adapter, cfg.storeOpts...)
	if nil != err {
		return nil, err
	}

	return &Manager{lc: lc, adapter: adapter, store: store, restart: cfg.restart}, nil
}

// Data returns the Store giving access to the session entries.
func (self *Manager) Data() *Store {
	return self.store
}

// Start activates the session.
// It errors with ErrAlreadyStarted if the session is active, unless the Manager allows restart.
func (self *Manager) Start(ctx context.Context, opts StartOptions) error {
	if self.lc.IsActive() {
		if self.restart {
			return nil
		}
		return newError(ErrAlreadyStarted, "can not start session")
	}

	self.store.Reset()
	if !self.lc.Start(opts) {
		return newError(Error, "lifecycle failed starting session")
	}
	observability.Log(ctx).Debug("session started")

	return nil
}

// End persists the session entries and deactivates the session.
// The bool result is false if the entries could not be persisted.
func (self *Manager) End(ctx context.Context) (bool, error) {
	ok, err := self.store.Commit(ctx)
	if nil != err {
		return false, err
	}
	self.store.Reset()
	if !self.lc.End() {
		return false, newError(Error, "lifecycle failed ending session")
	}

	return ok, nil
}

// Destroy removes the session record, discards the session entries and identifier
// and deactivates the session. Nothing is persisted.
func (self *Manager) Destroy(ctx context.Context) (bool, error) {
	if !self.lc.IsActive() {
		return false, newError(ErrNotStarted, "can not destroy session")
	}

	ok := self.adapter.Destroy(ctx, self.lc.ID())
	self.store.Reset()
	ended := self.lc.End()
	self.lc.SetID("")
	if !ok {
		observability.Log(ctx).Warn("session record could not be destroyed")
	}

	return ok && ended, nil
}

// Flush removes all session entries, the session stays active.
func (self *Manager) Flush(ctx context.Context) (bool, error) {
	return self.store.Flush(ctx)
}

// Unset removes all session entries from memory.
func (self *Manager) Unset(ctx context.Context) error {
	return self.store.Unset(ctx)
}

// Regenerate replaces the session identifier keeping the session entries.
// If deleteOld is true the record stored under the previous identifier is destroyed.
func (self *Manager) Regenerate(ctx context.Context, deleteOld bool) (bool, error) {
	if !self.lc.IsActive() {
		return false, newError(ErrNotStarted, "can not regenerate session id")
	}

	oldID := self.lc.ID()
	self.store.load(ctx)
	if !self.lc.Regenerate(deleteOld) {
		observability.Log(ctx).Warn("lifecycle failed regenerating session id")
		return false, nil
	}
	newID := self.lc.ID()
	self.store.rebind(newID)
	if self.store.writeThrough {
		self.store.persist(ctx)
	}

	if deleteOld && oldID != newID {
		return self.adapter.Destroy(ctx, oldID), nil
	}

	return true, nil
}

// ID returns the current session identifier.
func (self *Manager) ID() string {
	return self.lc.ID()
}

// SetID sets the identifier of the next session.
// It errors with ErrAlreadyStarted if the session is active.
func (self *Manager) SetID(id string) error {
	if self.lc.IsActive() {
		return newError(ErrAlreadyStarted, "can not change id of active session")
	}
	if !self.lc.SetID(id) {
		return newError(ErrInvalidArgument, "lifecycle rejected session id")
	}
	self.store.Reset()

	return nil
}

// IsActive returns true if the session is active.
func (self *Manager) IsActive() bool {
	return self.lc.IsActive()
}

// GC removes stored sessions not written for more than maxAge.
func (self *Manager) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	count, ok := self.adapter.GC(ctx, maxAge)
	observability.Log(ctx).Debug("session gc", "removed", count, "ok", ok)
	return count, ok
}

var _ Control = &Manager{}
