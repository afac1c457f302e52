// Package cookie provides a session.Adapter that keeps the session record in an encrypted cookie.
package cookie

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const (
	DefaultName    = "KPSESSDATA"
	DefaultTTL     = 86400 * time.Second
	MaxCookieSize  = 4096
	backendName    = "cookie"
	setCookieField = "Set-Cookie"
)

// Options configures the cookies issued by a Jar.
type Options struct {
	// Name of the data cookie, defaults to DefaultName.
	Name string

	// TTL is the cookie lifetime, defaults to DefaultTTL.
	TTL time.Duration

	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// normalize applies safe defaults
func (self Options) normalize() Options {
	if "" == self.Name {
		self.Name = DefaultName
	}
	if self.TTL <= 0 {
		self.TTL = DefaultTTL
	}
	if "" == self.Path {
		self.Path = "/"
	}
	if 0 == self.SameSite {
		self.SameSite = http.SameSiteLaxMode
	}
	return self
}

// Jar holds the configuration shared by the cookie Adapters of all requests.
type Jar struct {
	opts   Options
	cipher Cipher
}

// NewJar returns a Jar that protects cookies with cipher.
// It errors if cipher is nil or if the cookie name is not valid.
func NewJar(cipher Cipher, opts Options) (*Jar, error) {
	if nil == cipher {
		return nil, utils.NewError(0, session.ErrInvalidArgument, "nil Cipher")
	}
	opts = opts.normalize()
	if strings.ContainsAny(opts.Name, " \t\r\n;,=") {
		return nil, utils.NewError(0, session.ErrInvalidArgument, "invalid cookie name %q", opts.Name)
	}

	return &Jar{opts: opts, cipher: cipher}, nil
}

// Bind returns an Adapter that reads the cookie of r and writes cookies to w.
func (self *Jar) Bind(w http.ResponseWriter, r *http.Request) *Adapter {
	return &Adapter{jar: self, w: w, r: r, ttl: self.opts.TTL}
}

// Adapter is a request bound session.Adapter that stores the session record in a cookie.
//
// A record written by the Adapter is visible to later Read on the same Adapter.
type Adapter struct {
	jar *Jar
	w   http.ResponseWriter
	r   *http.Request

	mut       sync.Mutex
	ttl       time.Duration
	pending   []byte
	written   bool
	destroyed bool
}

func (self *Adapter) ad(id string) []byte {
	return []byte(self.jar.opts.Name + "\x00" + id)
}

// Read returns the record held by the request cookie.
// Missing, altered or undecipherable cookies read as not found.
func (self *Adapter) Read(ctx context.Context, id string) ([]byte, error) {
	self.mut.Lock()
	defer self.mut.Unlock()

	switch {
	case self.destroyed:
		return nil, utils.NewError(0, session.ErrNotFound, "session cookie destroyed")
	case self.written:
		return append([]byte(nil), self.pending...), nil
	}

	if nil == self.r {
		return nil, utils.NewError(0, session.ErrNotFound, "no request")
	}
	ck, err := self.r.Cookie(self.jar.opts.Name)
	if nil != err {
		return nil, utils.NewError(0, session.ErrNotFound, "no session cookie")
	}
	sealed, err := base64.RawURLEncoding.DecodeString(ck.Value)
	if nil != err {
		observability.Log(ctx).Debug("session cookie not decodable", "backend", backendName, "error", err)
		return nil, utils.NewError(0, session.ErrNotFound, "invalid session cookie")
	}
	data, err := self.jar.cipher.Open(sealed, self.ad(id))
	if nil != err {
		observability.Log(ctx).Debug("session cookie rejected", "backend", backendName, "error", err)
		return nil, utils.NewError(0, session.ErrNotFound, "invalid session cookie")
	}

	return data, nil
}

// Write sets the session cookie to the encrypted data.
// It fails if the resulting cookie is larger than MaxCookieSize.
func (self *Adapter) Write(ctx context.Context, id string, data []byte) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	if nil == self.w {
		return false
	}
	sealed, err := self.jar.cipher.Seal(data, self.ad(id))
	if nil != err {
		observability.Log(ctx).Warn("session storage fault", "backend", backendName, "op", "write", "error", err)
		return false
	}
	value := base64.RawURLEncoding.EncodeToString(sealed)
	if len(self.jar.opts.Name)+1+len(value) > MaxCookieSize {
		observability.Log(ctx).Warn("session cookie too large", "backend", backendName, "size", len(value))
		return false
	}

	self.setCookie(value, time.Now().Add(self.ttl), int(self.ttl/time.Second))
	self.pending = append([]byte(nil), data...)
	self.written = true
	self.destroyed = false

	return true
}

// Destroy expires the session cookie.
func (self *Adapter) Destroy(ctx context.Context, id string) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	if nil != self.w {
		self.setCookie("", time.Unix(0, 0), -1)
	}
	self.pending = nil
	self.written = false
	self.destroyed = true

	return true
}

// GC sets the lifetime of the cookies written later by the Adapter to maxAge.
func (self *Adapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	self.mut.Lock()
	defer self.mut.Unlock()

	if maxAge >= time.Second {
		self.ttl = maxAge
	}
	return 0, true
}

// Close is a no-op.
func (self *Adapter) Close() error {
	return nil
}

// setCookie replaces the session Set-Cookie header of the response.
func (self *Adapter) setCookie(value string, expires time.Time, maxAge int) {
	opts := self.jar.opts
	hdr := self.w.Header()
	prefix := opts.Name + "="
	var kept []string
	for _, line := range hdr.Values(setCookieField) {
		if !strings.HasPrefix(line, prefix) {
			kept = append(kept, line)
		}
	}
	hdr.Del(setCookieField)
	for _, line := range kept {
		hdr.Add(setCookieField, line)
	}

	http.SetCookie(self.w, &http.Cookie{
		Name:     opts.Name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

var _ session.Adapter = &Adapter{}
