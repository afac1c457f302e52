package httpsession

import (
	"net/http"
	"regexp"
	"sync"
	"time"

	"code.kerpass.org/sessions/pkg/session"
	"code.kerpass.org/sessions/pkg/session/lifecycle"
)

const (
	DefaultCookieName = "KPSESSID"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9,_-]{1,128}$`)

// CookieOptions defines how session id cookies are issued.
type CookieOptions struct {
	// Name of the id cookie, defaults to DefaultCookieName.
	Name string

	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite

	// Lifetime of the id cookie, 0 issues a cookie that lasts until the browser is closed.
	Lifetime time.Duration
}

// normalize applies safe defaults
func (self CookieOptions) normalize() CookieOptions {
	if "" == self.Name {
		self.Name = DefaultCookieName
	}
	if "" == self.Path {
		self.Path = "/"
	}
	if 0 == self.SameSite {
		self.SameSite = http.SameSiteLaxMode
	}
	return self
}

// CookieLifecycle is a session.Lifecycle that carries the session id in a cookie.
//
// A CookieLifecycle is bound to a single request.
type CookieLifecycle struct {
	opts     CookieOptions
	w        http.ResponseWriter
	generate lifecycle.IDGenerator

	mut     sync.Mutex
	id      string
	inbound string
	active  bool
}

// NewCookieLifecycle returns a CookieLifecycle that reads the id cookie of r and sets cookies on w.
// nil gen selects lifecycle.RandomID.
func NewCookieLifecycle(w http.ResponseWriter, r *http.Request, opts CookieOptions, gen lifecycle.IDGenerator) *CookieLifecycle {
	opts = opts.normalize()
	if nil == gen {
		gen = lifecycle.RandomID
	}
	rv := &CookieLifecycle{opts: opts, w: w, generate: gen}
	if nil != r {
		ck, err := r.Cookie(opts.Name)
		if nil == err && validID.MatchString(ck.Value) {
			rv.inbound = ck.Value
			rv.id = ck.Value
		}
	}

	return rv
}

// IsActive returns true if the session was started and not ended.
func (self *CookieLifecycle) IsActive() bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.active
}

// ID returns the current session id.
func (self *CookieLifecycle) ID() string {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.id
}

// SetID sets the id used by the next Start, it fails if the session is active or id is not valid.
// An empty id clears the id cookie.
func (self *CookieLifecycle) SetID(id string) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	if self.active {
		return false
	}
	if "" == id {
		if "" != self.inbound || "" != self.id {
			self.clearCookie()
		}
		self.id = ""
		return true
	}
	if !validID.MatchString(id) {
		return false
	}
	self.id = id

	return true
}

// Start activates the session and issues the id cookie.
func (self *CookieLifecycle) Start(opts session.StartOptions) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	if self.active {
		return false
	}
	if "" != opts.ID {
		if !validID.MatchString(opts.ID) {
			return false
		}
		self.id = opts.ID
	}
	if "" == self.id {
		id, err := self.generate()
		if nil != err || !validID.MatchString(id) {
			return false
		}
		self.id = id
	}
	lifetime := self.opts.Lifetime
	if opts.Lifetime > 0 {
		lifetime = opts.Lifetime
	}
	if self.id != self.inbound || lifetime > 0 {
		self.setCookie(self.id, lifetime)
	}
	self.active = true

	return true
}

// End deactivates the session, the id cookie is kept.
func (self *CookieLifecycle) End() bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	if !self.active {
		return false
	}
	self.active = false
	return true
}

// Regenerate issues a new id cookie for the active session.
func (self *CookieLifecycle) Regenerate(deleteOld bool) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	if !self.active {
		return false
	}
	id, err := self.generate()
	if nil != err || !validID.MatchString(id) {
		return false
	}
	self.id = id
	self.setCookie(id, self.opts.Lifetime)

	return true
}

func (self *CookieLifecycle) setCookie(id string, lifetime time.Duration) {
	if nil == self.w {
		return
	}
	ck := self.cookie(id)
	if lifetime > 0 {
		ck.Expires = time.Now().Add(lifetime)
		ck.MaxAge = int(lifetime / time.Second)
	}
	http.SetCookie(self.w, ck)
}

func (self *CookieLifecycle) clearCookie() {
	if nil == self.w {
		return
	}
	ck := self.cookie("")
	ck.Expires = time.Unix(0, 0)
	ck.MaxAge = -1
	http.SetCookie(self.w, ck)
}

func (self *CookieLifecycle) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     self.opts.Name,
		Value:    value,
		Path:     self.opts.Path,
		Domain:   self.opts.Domain,
		HttpOnly: true,
		Secure:   self.opts.Secure,
		SameSite: self.opts.SameSite,
	}
}

var _ session.Lifecycle = &CookieLifecycle{}
