// Package httpsession binds sessions to HTTP requests.
package httpsession

import (
	"context"
	"net"
	"net/http"
	"sync"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/pkg/session"
	"code.kerpass.org/sessions/pkg/session/lifecycle"
)

type contextKey string

const managerKey = contextKey("SESSION_MANAGER")

// Binder returns the session.Adapter serving a request.
type Binder interface {
	Bind(w http.ResponseWriter, r *http.Request) session.Adapter
}

// BinderFunc is a function that implements Binder.
type BinderFunc func(w http.ResponseWriter, r *http.Request) session.Adapter

// Bind calls self(w, r).
func (self BinderFunc) Bind(w http.ResponseWriter, r *http.Request) session.Adapter {
	return self(w, r)
}

// Static returns a Binder that serves every request with adapter.
func Static(adapter session.Adapter) Binder {
	return BinderFunc(func(w http.ResponseWriter, r *http.Request) session.Adapter {
		return adapter
	})
}

// Middleware makes a session.Manager available to the handlers it wraps.
//
// Storage failures are logged and never fail the request.
type Middleware struct {
	Binder         Binder
	Cookie         CookieOptions
	IDGenerator    lifecycle.IDGenerator
	ManagerOptions []session.ManagerOption

	// AutoStart starts the session before calling the wrapped handler.
	AutoStart bool

	// ClientAddr returns the client address recorded with the session, defaults to the
	// host part of the request RemoteAddr.
	ClientAddr func(r *http.Request) string
}

// Wrap returns an Handler that binds a session.Manager to the request Context and call next.
//
// The session is committed before the first byte of the response is written and again after
// next returns if it holds changes that were not persisted.
func (self Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := session.WithClientAddr(r.Context(), self.clientAddr(r))
		log := observability.Log(ctx)
		if nil == self.Binder {
			log.Error("session middleware has no Binder")
			next.ServeHTTP(w, r)
			return
		}

		cw := &commitWriter{ResponseWriter: w}
		lc := NewCookieLifecycle(cw, r, self.Cookie, self.IDGenerator)
		mgr, err := session.NewManager(lc, self.Binder.Bind(cw, r), self.ManagerOptions...)
		if nil != err {
			log.Error("failed session manager creation", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		ctx = context.WithValue(ctx, managerKey, mgr)
		cw.commit = func() {
			if !mgr.IsActive() {
				return
			}
			if ok, err := mgr.Data().Commit(ctx); !ok {
				log.Warn("session not committed", "error", err)
			}
		}

		if self.AutoStart {
			err = mgr.Start(ctx, session.StartOptions{Lifetime: self.Cookie.Lifetime})
			if nil != err {
				log.Warn("failed starting session", "error", err)
			}
		}

		next.ServeHTTP(cw, r.WithContext(ctx))

		if !cw.committed() || mgr.Data().Dirty() {
			cw.commitOnce(true)
		}
	})
}

func (self Middleware) clientAddr(r *http.Request) string {
	if nil != self.ClientAddr {
		return self.ClientAddr(r)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if nil != err {
		return r.RemoteAddr
	}
	return host
}

// FromContext returns the session.Manager bound by Middleware or nil.
func FromContext(ctx context.Context) *session.Manager {
	if nil == ctx {
		return nil
	}
	mgr, _ := ctx.Value(managerKey).(*session.Manager)
	return mgr
}

// commitWriter is an http.ResponseWriter that commits the session before the response starts.
type commitWriter struct {
	http.ResponseWriter
	commit func()

	mut  sync.Mutex
	done bool
}

func (self *commitWriter) committed() bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.done
}

// commitOnce calls commit if it was not called yet or if force is true.
func (self *commitWriter) commitOnce(force bool) {
	self.mut.Lock()
	if self.done && !force {
		self.mut.Unlock()
		return
	}
	self.done = true
	self.mut.Unlock()

	if nil != self.commit {
		self.commit()
	}
}

func (self *commitWriter) WriteHeader(statusCode int) {
	self.commitOnce(false)
	self.ResponseWriter.WriteHeader(statusCode)
}

func (self *commitWriter) Write(b []byte) (int, error) {
	self.commitOnce(false)
	return self.ResponseWriter.Write(b)
}

// Unwrap allows http.ResponseController to reach the wrapped ResponseWriter.
func (self *commitWriter) Unwrap() http.ResponseWriter {
	return self.ResponseWriter
}

var _ http.ResponseWriter = &commitWriter{}
