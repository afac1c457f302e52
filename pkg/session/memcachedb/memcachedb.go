// Package memcachedb provides a session.Adapter that keeps session records in memcached servers.
package memcachedb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const (
	DefaultPrefix       = "sess:"
	DefaultTTL          = 86400 * time.Second
	DefaultTimeout      = time.Second
	DefaultMaxIdleConns = 4
	backendName         = "cache"

	// memcached reads expirations above 30 days as unix timestamps.
	maxRelativeExpiration = 30 * 24 * time.Hour
)

// Options configures an Adapter.
type Options struct {
	// Servers lists the memcached host:port addresses, keys are spread over them.
	Servers []string

	// Prefix is prepended to session ids to form keys, defaults to DefaultPrefix.
	Prefix string

	// TTL is the server side expiry of records, 0 selects DefaultTTL and a negative TTL disables expiry.
	TTL time.Duration

	// Timeout bounds socket reads & writes, defaults to DefaultTimeout.
	Timeout time.Duration

	MaxIdleConns int
}

func (self *Options) setDefaults() {
	if "" == self.Prefix {
		self.Prefix = DefaultPrefix
	}
	if 0 == self.TTL {
		self.TTL = DefaultTTL
	}
	if self.Timeout <= 0 {
		self.Timeout = DefaultTimeout
	}
	if self.MaxIdleConns <= 0 {
		self.MaxIdleConns = DefaultMaxIdleConns
	}
}

// Adapter is a session.Adapter that stores records in memcached.
//
// Records expire server side, GC is a no-op.
type Adapter struct {
	opts   Options
	mut    sync.Mutex
	client *memcache.Client
	closed bool
}

// New returns an Adapter using the memcached servers listed in opts.
// It errors if no server is listed or if a server address can not be resolved.
func New(opts Options) (*Adapter, error) {
	if 0 == len(opts.Servers) {
		return nil, utils.NewError(0, session.ErrInvalidArgument, "missing memcached servers")
	}
	opts.setDefaults()

	servers := &memcache.ServerList{}
	err := servers.SetServers(opts.Servers...)
	if nil != err {
		return nil, utils.WrapError(err, 0, session.ErrBackend, "invalid memcached servers %v", opts.Servers)
	}
	client := memcache.NewFromSelector(servers)
	client.Timeout = opts.Timeout
	client.MaxIdleConns = opts.MaxIdleConns

	return &Adapter{opts: opts, client: client}, nil
}

func (self *Adapter) conn(ctx context.Context) (*memcache.Client, error) {
	self.mut.Lock()
	defer self.mut.Unlock()

	if self.closed {
		return nil, utils.NewError(0, session.ErrUnavailable, "adapter closed")
	}
	if err := ctx.Err(); nil != err {
		return nil, utils.WrapError(err, 0, session.ErrUnavailable, "operation canceled")
	}

	return self.client, nil
}

func (self *Adapter) key(id string) string {
	return self.opts.Prefix + id
}

// expiration returns the memcached expiration of records written at now.
func (self *Adapter) expiration(now time.Time) int32 {
	ttl := self.opts.TTL
	switch {
	case ttl <= 0:
		return 0
	case ttl > maxRelativeExpiration:
		return int32(now.Add(ttl).Unix())
	case ttl < time.Second:
		return 1
	default:
		return int32(ttl / time.Second)
	}
}

// Ping checks that all memcached servers are reachable.
func (self *Adapter) Ping(ctx context.Context) error {
	client, err := self.conn(ctx)
	if nil != err {
		return err
	}

	err = client.Ping()
	return utils.WrapError(err, 0, session.ErrBackend, "memcached server unreachable") // nil if err is nil
}

// Read returns the record stored for id.
// Ids that are not valid memcached keys read as not found.
func (self *Adapter) Read(ctx context.Context, id string) ([]byte, error) {
	client, err := self.conn(ctx)
	if nil != err {
		return nil, err
	}

	item, err := client.Get(self.key(id))
	switch {
	case errors.Is(err, memcache.ErrCacheMiss), errors.Is(err, memcache.ErrMalformedKey):
		return nil, utils.NewError(0, session.ErrNotFound, "no session record")
	case nil != err:
		self.logFault(ctx, "read", err)
		return nil, utils.NewError(0, session.ErrUnavailable, "failed reading session record")
	}

	return item.Value, nil
}

// Write stores data for id with the configured TTL.
func (self *Adapter) Write(ctx context.Context, id string, data []byte) bool {
	if "" == id {
		return false
	}
	client, err := self.conn(ctx)
	if nil != err {
		return false
	}

	err = client.Set(&memcache.Item{
		Key:        self.key(id),
		Value:      data,
		Expiration: self.expiration(time.Now()),
	})
	if nil != err {
		self.logFault(ctx, "write", err)
		return false
	}

	return true
}

// Destroy deletes the record stored for id, a missing record is not an error.
func (self *Adapter) Destroy(ctx context.Context, id string) bool {
	client, err := self.conn(ctx)
	if nil != err {
		return false
	}

	err = client.Delete(self.key(id))
	switch {
	case nil == err, errors.Is(err, memcache.ErrCacheMiss), errors.Is(err, memcache.ErrMalformedKey):
		return true
	default:
		self.logFault(ctx, "destroy", err)
		return false
	}
}

// GC is a no-op, records expire server side.
func (self *Adapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	return 0, true
}

// Close makes the Adapter unusable, idle connections are released with the client.
func (self *Adapter) Close() error {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.closed = true
	self.client = nil

	return nil
}

func (self *Adapter) logFault(ctx context.Context, op string, err error) {
	observability.Log(ctx).Warn("session storage fault", "backend", backendName, "op", op, "error", err)
}

var _ session.Adapter = &Adapter{}
