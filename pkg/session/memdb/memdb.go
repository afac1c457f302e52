package memdb

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const (
	numSlot = 16
)

type record struct {
	data    []byte
	written time.Time
}

type slot struct {
	mut   sync.RWMutex
	store map[string]record
}

// Adapter is a session.Adapter that keeps records in process memory.
//
// Records are spread over 16 slots each guarded by its own lock.
// Adapter does not survive process restarts, it is intended for single process hosts & tests.
type Adapter struct {
	slots [numSlot]slot
}

// New returns an empty Adapter.
func New() *Adapter {
	return &Adapter{}
}

func (self *Adapter) slot(id string) *slot {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &(self.slots[h.Sum32()%numSlot])
}

// Read returns a copy of the record stored for id.
func (self *Adapter) Read(ctx context.Context, id string) ([]byte, error) {
	slot := self.slot(id)
	slot.mut.RLock()
	defer slot.mut.RUnlock()

	rec, found := slot.store[id]
	if !found {
		return nil, utils.NewError(0, session.ErrNotFound, "no record for session")
	}

	return append([]byte(nil), rec.data...), nil
}

// Write stores a copy of data for id.
func (self *Adapter) Write(ctx context.Context, id string, data []byte) bool {
	if "" == id {
		return false
	}

	slot := self.slot(id)
	slot.mut.Lock()
	defer slot.mut.Unlock()

	if nil == slot.store {
		slot.store = make(map[string]record)
	}
	slot.store[id] = record{data: append([]byte(nil), data...), written: time.Now()}

	return true
}

// Destroy removes the record stored for id.
func (self *Adapter) Destroy(ctx context.Context, id string) bool {
	slot := self.slot(id)
	slot.mut.Lock()
	defer slot.mut.Unlock()

	delete(slot.store, id)
	return true
}

// GC removes records written more than maxAge ago.
func (self *Adapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	limit := time.Now().Add(-maxAge)
	var count int
	for i := range self.slots {
		slot := &(self.slots[i])
		slot.mut.Lock()
		for id, rec := range slot.store {
			if !rec.written.After(limit) {
				delete(slot.store, id)
				count += 1
			}
		}
		slot.mut.Unlock()
	}

	return count, true
}

// Len returns the number of records held by the Adapter.
func (self *Adapter) Len() int {
	var count int
	for i := range self.slots {
		slot := &(self.slots[i])
		slot.mut.RLock()
		count += len(slot.store)
		slot.mut.RUnlock()
	}
	return count
}

// Close is a no-op.
func (self *Adapter) Close() error {
	return nil
}

var _ session.Adapter = &Adapter{}
