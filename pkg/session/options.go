package session

import (
	"time"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCodec sets the Codec used to encode the session Map and its values.
func WithCodec(codec Codec) StoreOption {
	return func(s *Store) {
		s.codec = codec
	}
}

// WithClock sets the time source used to compute and check entry expiry.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if nil != clock {
			s.clock = clock
		}
	}
}

// WithWriteThrough makes the Store persist every mutation immediately,
// expired entries evicted by reads included.
func WithWriteThrough(enabled bool) StoreOption {
	return func(s *Store) {
		s.writeThrough = enabled
	}
}

type setConfig struct {
	ttl    time.Duration
	hasTTL bool
}

// SetOption configures Set, Push & SetMany.
type SetOption func(*setConfig)

// WithTTL makes the written entries expire after ttl.
// ttl is truncated to whole seconds and must be at least one second.
func WithTTL(ttl time.Duration) SetOption {
	return func(c *setConfig) {
		c.ttl = ttl
		c.hasTTL = true
	}
}

// expiresAt returns the absolute expiry of entries written at now with opts.
func expiresAt(now time.Time, opts []SetOption) (int64, error) {
	var cfg setConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.hasTTL {
		return 0, nil
	}

	secs := int64(cfg.ttl / time.Second)
	if secs < 1 {
		return 0, newError(ErrInvalidTTL, "ttl %v is less than 1s", cfg.ttl)
	}

	return now.Unix() + secs, nil
}

type managerConfig struct {
	storeOpts []StoreOption
	restart   bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

// WithStoreOptions sets the options of the Manager Store.
func WithStoreOptions(opts ...StoreOption) ManagerOption {
	return func(c *managerConfig) {
		c.storeOpts = append(c.storeOpts, opts...)
	}
}

// WithRestart makes Start on an active session a no-op instead of an error.
func WithRestart(allow bool) ManagerOption {
	return func(c *managerConfig) {
		c.restart = allow
	}
}
