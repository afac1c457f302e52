package redisdb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const (
	DefaultPrefix       = "sess:"
	DefaultTTL          = 864000 * time.Second
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
	DefaultOpTimeout    = 5 * time.Second
	backendName         = "cache"
)

// Options configures an Adapter.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int

	// Prefix is prepended to session ids to form keys, defaults to DefaultPrefix.
	Prefix string

	// TTL is the server side expiry of records, 0 selects DefaultTTL and a negative TTL disables expiry.
	TTL time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// OpTimeout bounds each Adapter operation.
	OpTimeout time.Duration
}

func (self *Options) setDefaults() {
	if "" == self.Prefix {
		self.Prefix = DefaultPrefix
	}
	if 0 == self.TTL {
		self.TTL = DefaultTTL
	}
	if 0 == self.DialTimeout {
		self.DialTimeout = DefaultDialTimeout
	}
	if 0 == self.ReadTimeout {
		self.ReadTimeout = DefaultReadTimeout
	}
	if 0 == self.WriteTimeout {
		self.WriteTimeout = DefaultWriteTimeout
	}
	if 0 == self.OpTimeout {
		self.OpTimeout = DefaultOpTimeout
	}
}

// Adapter is a session.Adapter that stores records in a redis server.
//
// Records expire server side, GC is a no-op.
type Adapter struct {
	opts   Options
	mut    sync.Mutex
	client redis.UniversalClient
	owned  bool
	closed bool
}

// New returns an Adapter that connects to the redis server at opts.Addr on first use.
// It errors if opts are not valid.
func New(opts Options) (*Adapter, error) {
	if "" == opts.Addr {
		return nil, utils.NewError(0, session.ErrInvalidArgument, "missing redis address")
	}
	if opts.DB < 0 {
		return nil, utils.NewError(0, session.ErrInvalidArgument, "invalid redis db %d", opts.DB)
	}
	opts.setDefaults()

	return &Adapter{opts: opts, owned: true}, nil
}

// NewWithClient returns an Adapter that uses client.
// client is not closed by the Adapter.
func NewWithClient(client redis.UniversalClient, opts Options) (*Adapter, error) {
	if nil == client {
		return nil, utils.NewError(0, session.ErrInvalidArgument, "nil redis client")
	}
	opts.setDefaults()

	return &Adapter{opts: opts, client: client}, nil
}

// conn returns the redis client, creating it on first call.
func (self *Adapter) conn() (redis.UniversalClient, error) {
	self.mut.Lock()
	defer self.mut.Unlock()

	if self.closed {
		return nil, utils.NewError(0, session.ErrUnavailable, "adapter closed")
	}
	if nil == self.client {
		self.client = redis.NewClient(&redis.Options{
			Addr:         self.opts.Addr,
			Username:     self.opts.Username,
			Password:     self.opts.Password,
			DB:           self.opts.DB,
			DialTimeout:  self.opts.DialTimeout,
			ReadTimeout:  self.opts.ReadTimeout,
			WriteTimeout: self.opts.WriteTimeout,
		})
	}

	return self.client, nil
}

func (self *Adapter) key(id string) string {
	return self.opts.Prefix + id
}

// Ping checks that the redis server is reachable.
func (self *Adapter) Ping(ctx context.Context) error {
	client, err := self.conn()
	if nil != err {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, self.opts.OpTimeout)
	defer cancel()

	err = client.Ping(ctx).Err()
	return utils.WrapError(err, 0, session.ErrBackend, "redis server unreachable") // nil if err is nil
}

// Read returns the record stored for id.
func (self *Adapter) Read(ctx context.Context, id string) ([]byte, error) {
	client, err := self.conn()
	if nil != err {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, self.opts.OpTimeout)
	defer cancel()

	data, err := client.Get(ctx, self.key(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, utils.NewError(0, session.ErrNotFound, "no session record")
	case nil != err:
		self.logFault(ctx, "read", err)
		return nil, utils.NewError(0, session.ErrUnavailable, "failed reading session record")
	}

	return data, nil
}

// Write stores data for id with the configured TTL in a single SET command.
func (self *Adapter) Write(ctx context.Context, id string, data []byte) bool {
	if "" == id {
		return false
	}
	client, err := self.conn()
	if nil != err {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, self.opts.OpTimeout)
	defer cancel()

	var ttl time.Duration
	if self.opts.TTL > 0 {
		ttl = self.opts.TTL
	}
	err = client.Set(ctx, self.key(id), data, ttl).Err()
	if nil != err {
		self.logFault(ctx, "write", err)
		return false
	}

	return true
}

// Destroy deletes the record stored for id.
func (self *Adapter) Destroy(ctx context.Context, id string) bool {
	client, err := self.conn()
	if nil != err {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, self.opts.OpTimeout)
	defer cancel()

	err = client.Del(ctx, self.key(id)).Err()
	if nil != err {
		self.logFault(ctx, "destroy", err)
		return false
	}

	return true
}

// GC is a no-op, records expire server side.
func (self *Adapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	return 0, true
}

// Close closes the redis client if it was created by the Adapter.
func (self *Adapter) Close() error {
	self.mut.Lock()
	defer self.mut.Unlock()

	if self.closed {
		return nil
	}
	self.closed = true
	if self.owned && nil != self.client {
		err := self.client.Close()
		return utils.WrapError(err, 0, session.Error, "failed closing redis client") // nil if err is nil
	}

	return nil
}

func (self *Adapter) logFault(ctx context.Context, op string, err error) {
	observability.Log(ctx).Warn("session storage fault", "backend", backendName, "op", op, "error", err)
}

var _ session.Adapter = &Adapter{}
