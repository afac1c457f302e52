package session

import (
	"context"
	"errors"
	"time"

	"code.kerpass.org/sessions/internal/observability"
)

// DataAccess gives access to the entries of the current session.
type DataAccess interface {
	Get(ctx context.Context, key string, dst any) bool
	Has(ctx context.Context, key string) bool
	Set(ctx context.Context, key string, value any, opts ...SetOption) error
	Push(ctx context.Context, key string, value any, opts ...SetOption) (any, error)
	Pull(ctx context.Context, key string, dst any) (bool, error)
	SetMany(ctx context.Context, values map[string]any, opts ...SetOption) error
	Remove(ctx context.Context, keys ...string) error
	All(ctx context.Context) map[string]Payload
	Len(ctx context.Context) int
}

// Store holds the entries of the current session in memory and synchronizes them with an Adapter.
//
// The session Map is read from the Adapter at first access and written back by Commit or Flush.
// A Store is owned by a single request and is not safe for concurrent use.
type Store struct {
	lc           Lifecycle
	adapter      Adapter
	codec        Codec
	clock        func() time.Time
	writeThrough bool

	loaded  bool
	id      string
	entries Map
	dirty   bool

	// degraded is set when the stored record could not be read, the in memory Map
	// then does not reflect the Adapter content.
	degraded bool
}

// NewStore returns a Store that persists the session identified by lc using adapter.
// It errors if lc or adapter is nil.
func NewStore(lc Lifecycle, adapter Adapter, opts ...StoreOption) (*Store, error) {
	if nil == lc {
		return nil, newError(ErrInvalidArgument, "nil Lifecycle")
	}
	if nil == adapter {
		return nil, newError(ErrInvalidArgument, "nil Adapter")
	}

	rv := &Store{lc: lc, adapter: adapter, clock: time.Now}
	for _, opt := range opts {
		opt(rv)
	}

	return rv, nil
}

// Get loads the value of key in dst and returns true if key was found.
// An expired entry is evicted and reported as missing.
func (self *Store) Get(ctx context.Context, key string, dst any) bool {
	m := self.load(ctx)
	if nil == m {
		return false
	}
	key = NormalizeKey(key)
	entry, found := m[key]
	if !found {
		return false
	}
	if entry.Expired(self.clock()) {
		self.evict(ctx, key)
		return false
	}
	if nil == dst {
		return true
	}

	err := self.codec.Unmarshal(entry.Value, dst)
	if nil != err {
		observability.Log(ctx).Debug("session value does not decode in destination", "key", key, "error", err)
		return false
	}

	return true
}

// Has returns true if key is set and not expired.
func (self *Store) Has(ctx context.Context, key string) bool {
	return self.Get(ctx, key, nil)
}

// Set stores value under key. Entries written without WithTTL never expire.
// It errors if the session is not active, key is empty or value can not be serialized.
func (self *Store) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	return self.SetMany(ctx, map[string]any{key: value}, opts...)
}

// Push stores value under key and returns value.
func (self *Store) Push(ctx context.Context, key string, value any, opts ...SetOption) (any, error) {
	err := self.Set(ctx, key, value, opts...)
	if nil != err {
		return nil, err
	}
	return value, nil
}

// SetMany stores all values sharing the expiry set by opts.
//
// Either all values are stored or none, SetMany errors with ErrInvalidArgument if a key is empty
// or a value can not be serialized.
func (self *Store) SetMany(ctx context.Context, values map[string]any, opts ...SetOption) error {
	m, err := self.active(ctx)
	if nil != err {
		return err
	}
	exp, err := expiresAt(self.clock(), opts)
	if nil != err {
		return err
	}

	staged := make(Map, len(values))
	for key, value := range values {
		nkey := NormalizeKey(key)
		if "" == nkey {
			return newError(ErrInvalidArgument, "empty key")
		}
		payload, err := self.codec.Marshal(value)
		if nil != err {
			return wrapError(err, ErrInvalidArgument, "can not set %q", nkey)
		}
		staged[nkey] = Entry{Value: payload, ExpiresAt: exp}
	}

	for key, entry := range staged {
		m[key] = entry
	}
	self.touch(ctx)

	return nil
}

// Pull loads the value of key in dst, removes key and returns true if key was found.
//
// Pull on an inactive session returns false. It errors if the entry can not be decoded in dst,
// in which case the entry is kept.
func (self *Store) Pull(ctx context.Context, key string, dst any) (bool, error) {
	m := self.load(ctx)
	if nil == m {
		return false, nil
	}
	key = NormalizeKey(key)
	entry, found := m[key]
	if !found {
		return false, nil
	}
	if entry.Expired(self.clock()) {
		self.evict(ctx, key)
		return false, nil
	}
	if nil != dst {
		err := self.codec.Unmarshal(entry.Value, dst)
		if nil != err {
			return false, wrapError(err, ErrInvalidArgument, "can not pull %q", key)
		}
	}
	delete(m, key)
	self.touch(ctx)

	return true, nil
}

// Remove deletes keys, missing keys are ignored.
func (self *Store) Remove(ctx context.Context, keys ...string) error {
	m, err := self.active(ctx)
	if nil != err {
		return err
	}

	var changed bool
	for _, key := range keys {
		key = NormalizeKey(key)
		if _, found := m[key]; found {
			delete(m, key)
			changed = true
		}
	}
	if changed {
		self.touch(ctx)
	}

	return nil
}

// All returns the live entries values, evicting expired entries.
// The returned map is a copy.
func (self *Store) All(ctx context.Context) map[string]Payload {
	m := self.load(ctx)
	rv := make(map[string]Payload, len(m))
	if nil == m {
		return rv
	}

	now := self.clock()
	var evicted bool
	for key, entry := range m {
		if entry.Expired(now) {
			delete(m, key)
			evicted = true
			continue
		}
		rv[key] = entry.Value
	}
	if evicted {
		self.touch(ctx)
	}

	return rv
}

// Len returns the number of live entries.
func (self *Store) Len(ctx context.Context) int {
	return len(self.All(ctx))
}

// Unset removes all entries, the empty Map is persisted at next Commit.
func (self *Store) Unset(ctx context.Context) error {
	m, err := self.active(ctx)
	if nil != err {
		return err
	}
	clear(m)
	self.touch(ctx)

	return nil
}

// Flush removes all entries and persists the empty Map immediately.
// The bool result is false if the Adapter failed writing.
func (self *Store) Flush(ctx context.Context) (bool, error) {
	m, err := self.active(ctx)
	if nil != err {
		return false, err
	}
	clear(m)
	self.dirty = true

	return self.persist(ctx), nil
}

// Commit persists the session Map.
// The bool result is false if the Adapter failed writing.
//
// A Store that failed reading the stored record does not overwrite it unless it was modified.
func (self *Store) Commit(ctx context.Context) (bool, error) {
	_, err := self.active(ctx)
	if nil != err {
		return false, err
	}
	if self.degraded && !self.dirty {
		observability.Log(ctx).Debug("session commit skipped, stored record was not read")
		return true, nil
	}

	return self.persist(ctx), nil
}

// Reset discards the in memory state without persisting it.
func (self *Store) Reset() {
	self.loaded = false
	self.id = ""
	self.entries = nil
	self.dirty = false
	self.degraded = false
}

// Dirty returns true if the Store holds changes that were not persisted.
func (self *Store) Dirty() bool {
	return self.loaded && self.dirty
}

// rebind attaches the loaded Map to a new session id.
func (self *Store) rebind(id string) {
	if self.loaded && id != self.id {
		self.id = id
		self.dirty = true
	}
}

// load returns the session Map, reading it from the Adapter when needed.
// load returns nil if the session is not active.
func (self *Store) load(ctx context.Context) Map {
	if !self.lc.IsActive() {
		return nil
	}
	id := self.lc.ID()
	if self.loaded && id == self.id {
		return self.entries
	}

	self.loaded = true
	self.id = id
	self.dirty = false
	self.degraded = false
	self.entries = Map{}

	data, err := self.adapter.Read(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return self.entries
	case nil != err:
		observability.Log(ctx).Warn("session read failed, using empty session", "error", err)
		self.degraded = true
		return self.entries
	}

	m, err := self.codec.decode(data)
	if nil != err {
		observability.Log(ctx).Warn("session record discarded", "error", err)
	}
	self.entries = m

	return self.entries
}

func (self *Store) active(ctx context.Context) (Map, error) {
	m := self.load(ctx)
	if nil == m {
		return nil, newError(ErrNotStarted, "no active session")
	}
	return m, nil
}

func (self *Store) evict(ctx context.Context, key string) {
	delete(self.entries, key)
	self.touch(ctx)
}

// touch marks the Map as changed and persists it in write through mode.
func (self *Store) touch(ctx context.Context) {
	self.dirty = true
	if self.writeThrough {
		self.persist(ctx)
	}
}

func (self *Store) persist(ctx context.Context) bool {
	data, err := self.codec.Encode(self.entries)
	if nil != err {
		observability.Log(ctx).Warn("session encoding failed", "error", err)
		return false
	}
	if !self.adapter.Write(ctx, self.id, data) {
		observability.Log(ctx).Warn("session write failed")
		return false
	}
	self.dirty = false
	self.degraded = false

	return true
}

// GetAs returns the value of key decoded as T or def if key is missing.
func GetAs[T any](ctx context.Context, s DataAccess, key string, def T) T {
	var v T
	if s.Get(ctx, key, &v) {
		return v
	}
	return def
}

// PullAs removes key and returns its value decoded as T or def if key is missing.
func PullAs[T any](ctx context.Context, s DataAccess, key string, def T) (T, error) {
	var v T
	found, err := s.Pull(ctx, key, &v)
	if nil != err || !found {
		return def, err
	}
	return v, nil
}

var _ DataAccess = &Store{}
