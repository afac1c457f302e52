package lifecycle

import (
	"crypto/rand"
	"encoding/base64"
	"sync"

	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const idSize = 32

// IDGenerator returns a new session identifier.
type IDGenerator func() (string, error)

// RandomID returns 32 random bytes encoded with base64url.
func RandomID() (string, error) {
	buf := make([]byte, idSize)
	_, err := rand.Read(buf)
	if nil != err {
		return "", utils.WrapError(err, 0, session.Error, "failed generating session id")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Local is a session.Lifecycle for hosts that keep the session identifier in process,
// eg workers, CLIs or tests.
type Local struct {
	mut      sync.Mutex
	generate IDGenerator
	id       string
	active   bool
}

// NewLocal returns a Local that generates identifiers using gen, nil gen selects RandomID.
func NewLocal(gen IDGenerator) *Local {
	if nil == gen {
		gen = RandomID
	}
	return &Local{generate: gen}
}

// IsActive returns true if the session was started and not ended.
func (self *Local) IsActive() bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.active
}

// ID returns the current identifier.
func (self *Local) ID() string {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.id
}

// SetID sets the identifier used by the next Start, it fails if the session is active.
func (self *Local) SetID(id string) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	if self.active {
		return false
	}
	self.id = id
	return true
}

// Start activates the session, generating an identifier when none was set.
func (self *Local) Start(opts session.StartOptions) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	if self.active {
		return false
	}
	if "" != opts.ID {
		self.id = opts.ID
	}
	if "" == self.id {
		id, err := self.generate()
		if nil != err || "" == id {
			return false
		}
		self.id = id
	}
	self.active = true

	return true
}

// End deactivates the session, the identifier is kept.
func (self *Local) End() bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	if !self.active {
		return false
	}
	self.active = false
	return true
}

// Regenerate replaces the identifier of the active session.
func (self *Local) Regenerate(deleteOld bool) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	if !self.active {
		return false
	}
	id, err := self.generate()
	if nil != err || "" == id {
		return false
	}
	self.id = id

	return true
}

var _ session.Lifecycle = &Local{}
