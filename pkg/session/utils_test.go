package session

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// testLifecycle is an in process Lifecycle generating sequential ids.
type testLifecycle struct {
	id     string
	active bool
	count  int
}

func (self *testLifecycle) IsActive() bool { return self.active }
func (self *testLifecycle) ID() string     { return self.id }

func (self *testLifecycle) SetID(id string) bool {
	if self.active {
		return false
	}
	self.id = id
	return true
}

func (self *testLifecycle) Start(opts StartOptions) bool {
	if self.active {
		return false
	}
	if "" != opts.ID {
		self.id = opts.ID
	}
	if "" == self.id {
		self.id = self.next()
	}
	self.active = true
	return true
}

func (self *testLifecycle) End() bool {
	if !self.active {
		return false
	}
	self.active = false
	return true
}

func (self *testLifecycle) Regenerate(deleteOld bool) bool {
	if !self.active {
		return false
	}
	self.id = self.next()
	return true
}

func (self *testLifecycle) next() string {
	self.count += 1
	return "sid-" + strconv.Itoa(self.count)
}

var _ Lifecycle = &testLifecycle{}

// mapAdapter is an Adapter that keeps records in a map and counts operations.
type mapAdapter struct {
	mut       sync.Mutex
	records   map[string][]byte
	reads     int
	writes    int
	destroys  int
	failWrite bool
	failRead  bool
}

func newMapAdapter() *mapAdapter {
	return &mapAdapter{records: make(map[string][]byte)}
}

func (self *mapAdapter) Read(ctx context.Context, id string) ([]byte, error) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.reads += 1
	if self.failRead {
		return nil, newError(ErrUnavailable, "test only")
	}
	data, found := self.records[id]
	if !found {
		return nil, newError(ErrNotFound, "no record for %q", id)
	}
	return append([]byte(nil), data...), nil
}

func (self *mapAdapter) Write(ctx context.Context, id string, data []byte) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.writes += 1
	if self.failWrite {
		return false
	}
	self.records[id] = append([]byte(nil), data...)
	return true
}

func (self *mapAdapter) Destroy(ctx context.Context, id string) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.destroys += 1
	delete(self.records, id)
	return true
}

func (self *mapAdapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	return 0, true
}

func (self *mapAdapter) Close() error {
	return nil
}

func (self *mapAdapter) has(id string) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	_, found := self.records[id]
	return found
}

var _ Adapter = &mapAdapter{}

func startedStore(opts ...StoreOption) (*Store, *testLifecycle, *mapAdapter) {
	lc := &testLifecycle{}
	lc.Start(StartOptions{})
	adapter := newMapAdapter()
	store, err := NewStore(lc, adapter, opts...)
	if nil != err {
		panic(err)
	}
	return store, lc, adapter
}
