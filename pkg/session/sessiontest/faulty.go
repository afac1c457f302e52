package sessiontest

import (
	"context"
	"sync"
	"time"

	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

// FaultyAdapter is a session.Adapter that fails after a certain number of operations.
//
// FaultyAdapter is provided to simplify testing of storage fault handling.
type FaultyAdapter struct {
	session.Adapter
	mut    sync.Mutex
	rlimit int
	wlimit int
	reads  int
	writes int
}

// NewFaultyAdapter returns a new FaultyAdapter that wraps a.
// The returned FaultyAdapter does not fail until a limit is set.
func NewFaultyAdapter(a session.Adapter) *FaultyAdapter {
	return &FaultyAdapter{Adapter: a, rlimit: -1, wlimit: -1}
}

// SetReadLimit sets the number of Read that succeed before Read starts failing.
// A negative limit removes the limit.
func (self *FaultyAdapter) SetReadLimit(limit int) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.rlimit = self.reads + limit
	if limit < 0 {
		self.rlimit = -1
	}
}

// SetWriteLimit sets the number of Write, Destroy & GC that succeed before they start failing.
// A negative limit removes the limit.
func (self *FaultyAdapter) SetWriteLimit(limit int) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.wlimit = self.writes + limit
	if limit < 0 {
		self.wlimit = -1
	}
}

// Calls returns the number of Read and Write/Destroy/GC calls received.
func (self *FaultyAdapter) Calls() (reads int, writes int) {
	self.mut.Lock()
	defer self.mut.Unlock()

	return self.reads, self.writes
}

func (self *FaultyAdapter) countRead() bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.reads += 1
	return self.rlimit >= 0 && self.reads > self.rlimit
}

func (self *FaultyAdapter) countWrite() bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.writes += 1
	return self.wlimit >= 0 && self.writes > self.wlimit
}

// Read errors with session.ErrUnavailable once the read limit is exceeded.
// Otherwise the record is read from the wrapped Adapter.
func (self *FaultyAdapter) Read(ctx context.Context, id string) ([]byte, error) {
	if self.countRead() {
		return nil, utils.NewError(0, session.ErrUnavailable, "test only")
	}
	return self.Adapter.Read(ctx, id)
}

// Write fails once the write limit is exceeded.
func (self *FaultyAdapter) Write(ctx context.Context, id string, data []byte) bool {
	if self.countWrite() {
		return false
	}
	return self.Adapter.Write(ctx, id, data)
}

// Destroy fails once the write limit is exceeded.
func (self *FaultyAdapter) Destroy(ctx context.Context, id string) bool {
	if self.countWrite() {
		return false
	}
	return self.Adapter.Destroy(ctx, id)
}

// GC fails once the write limit is exceeded.
func (self *FaultyAdapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	if self.countWrite() {
		return 0, false
	}
	return self.Adapter.GC(ctx, maxAge)
}

var _ session.Adapter = &FaultyAdapter{}
