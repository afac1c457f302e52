// Package retry provides a session.Adapter wrapper that retries failed storage operations.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const (
	DefaultMaxTries        = 3
	DefaultInitialInterval = 50 * time.Millisecond
	DefaultMaxInterval     = time.Second
)

// errFailed is returned by operations whose Adapter result is false.
var errFailed = errors.New("retry: operation failed")

// Options configures an Adapter.
type Options struct {
	// MaxTries is the number of attempts including the first one, defaults to DefaultMaxTries.
	MaxTries uint

	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (self *Options) setDefaults() {
	if 0 == self.MaxTries {
		self.MaxTries = DefaultMaxTries
	}
	if 0 == self.InitialInterval {
		self.InitialInterval = DefaultInitialInterval
	}
	if 0 == self.MaxInterval {
		self.MaxInterval = DefaultMaxInterval
	}
}

// Adapter is a session.Adapter that retries the operations of the wrapped Adapter
// using exponential backoff. Read is not retried when the record is missing.
type Adapter struct {
	session.Adapter
	opts Options
}

// Wrap returns an Adapter retrying the operations of a.
func Wrap(a session.Adapter, opts Options) *Adapter {
	opts.setDefaults()
	return &Adapter{Adapter: a, opts: opts}
}

func (self *Adapter) options(ctx context.Context, op string) []backoff.RetryOption {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = self.opts.InitialInterval
	expBackoff.MaxInterval = self.opts.MaxInterval
	expBackoff.Reset()

	return []backoff.RetryOption{
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(self.opts.MaxTries),
		backoff.WithNotify(func(err error, delay time.Duration) {
			observability.Log(ctx).Debug("retrying session operation", "op", op, "delay", delay, "error", err)
		}),
	}
}

// Read retries the wrapped Adapter Read while it fails with session.ErrUnavailable.
func (self *Adapter) Read(ctx context.Context, id string) ([]byte, error) {
	operation := func() ([]byte, error) {
		data, err := self.Adapter.Read(ctx, id)
		if nil != err && !errors.Is(err, session.ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	}

	data, err := backoff.Retry(ctx, operation, self.options(ctx, "read")...)
	switch {
	case nil == err:
		return data, nil
	case errors.Is(err, session.ErrNotFound):
		return nil, err
	default:
		return nil, utils.WrapError(err, 0, session.ErrUnavailable, "read failed after retries")
	}
}

func (self *Adapter) retryBool(ctx context.Context, op string, call func() bool) bool {
	operation := func() (bool, error) {
		if call() {
			return true, nil
		}
		return false, errFailed
	}

	ok, err := backoff.Retry(ctx, operation, self.options(ctx, op)...)
	return nil == err && ok
}

// Write retries the wrapped Adapter Write until it succeeds.
func (self *Adapter) Write(ctx context.Context, id string, data []byte) bool {
	return self.retryBool(ctx, "write", func() bool {
		return self.Adapter.Write(ctx, id, data)
	})
}

// Destroy retries the wrapped Adapter Destroy until it succeeds.
func (self *Adapter) Destroy(ctx context.Context, id string) bool {
	return self.retryBool(ctx, "destroy", func() bool {
		return self.Adapter.Destroy(ctx, id)
	})
}

// GC retries the wrapped Adapter GC until it succeeds.
func (self *Adapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	var count int
	ok := self.retryBool(ctx, "gc", func() bool {
		var ok bool
		count, ok = self.Adapter.GC(ctx, maxAge)
		return ok
	})
	return count, ok
}

var _ session.Adapter = &Adapter{}
