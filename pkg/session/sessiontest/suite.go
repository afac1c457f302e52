// Package sessiontest provides helpers for testing session.Adapter implementations.
package sessiontest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/pkg/session"
	"code.kerpass.org/sessions/pkg/session/lifecycle"
)

// RunAdapterSuite checks that adapter honors the session.Adapter contract.
//
// adapter must be empty or hold records unrelated to the random ids used by the suite.
// RunAdapterSuite does not Close adapter.
func RunAdapterSuite(t *testing.T, adapter session.Adapter) {
	t.Helper()
	observability.SetTestDebugLogging(t)
	t.Run("ReadMissing", func(t *testing.T) { testReadMissing(t, adapter) })
	t.Run("WriteRead", func(t *testing.T) { testWriteRead(t, adapter) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, adapter) })
	t.Run("DestroyIdempotent", func(t *testing.T) { testDestroyIdempotent(t, adapter) })
	t.Run("GCKeepsFresh", func(t *testing.T) { testGCKeepsFresh(t, adapter) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, adapter) })
	t.Run("Manager", func(t *testing.T) { testManager(t, adapter) })
}

// NewID returns a random session id, it fails t if no id can be generated.
func NewID(t *testing.T) string {
	t.Helper()
	id, err := lifecycle.RandomID()
	if nil != err {
		t.Fatalf("failed generating id, got error %v", err)
	}
	return id
}

func testReadMissing(t *testing.T, adapter session.Adapter) {
	_, err := adapter.Read(context.Background(), NewID(t))
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Read of missing id, unexpected error %v", err)
	}
}

func testWriteRead(t *testing.T, adapter session.Adapter) {
	ctx := context.Background()
	id := NewID(t)
	data := []byte{0xa2, 0x01, 0x01, 0x02, 0xa0, 0x00, 0xff}

	if !adapter.Write(ctx, id, data) {
		t.Fatal("failed Write")
	}
	got, err := adapter.Read(ctx, id)
	if nil != err {
		t.Fatalf("failed Read, got error %v", err)
	}
	if !bytes.Equal(data, got) {
		t.Errorf("Read returned %x != %x", got, data)
	}
}

func testOverwrite(t *testing.T, adapter session.Adapter) {
	ctx := context.Background()
	id := NewID(t)

	adapter.Write(ctx, id, []byte("first version, longer than the second"))
	if !adapter.Write(ctx, id, []byte("second")) {
		t.Fatal("failed overwriting record")
	}
	got, err := adapter.Read(ctx, id)
	if nil != err {
		t.Fatalf("failed Read, got error %v", err)
	}
	if "second" != string(got) {
		t.Errorf("Read returned %q after overwrite", got)
	}
}

func testDestroyIdempotent(t *testing.T, adapter session.Adapter) {
	ctx := context.Background()
	id := NewID(t)

	if !adapter.Write(ctx, id, []byte("data")) {
		t.Fatal("failed Write")
	}
	for i := range 2 {
		if !adapter.Destroy(ctx, id) {
			t.Errorf("Destroy #%d failed", i+1)
		}
	}
	_, err := adapter.Read(ctx, id)
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Read after Destroy, unexpected error %v", err)
	}
	if !adapter.Destroy(ctx, NewID(t)) {
		t.Error("Destroy of never written id failed")
	}
}

func testGCKeepsFresh(t *testing.T, adapter session.Adapter) {
	ctx := context.Background()
	id := NewID(t)

	adapter.Write(ctx, id, []byte("fresh"))
	if _, ok := adapter.GC(ctx, 24*time.Hour); !ok {
		t.Error("GC failed")
	}
	if _, err := adapter.Read(ctx, id); nil != err {
		t.Errorf("GC removed fresh record, Read error %v", err)
	}
}

func testConcurrent(t *testing.T, adapter session.Adapter) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	base := NewID(t)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("%s-%d", base, i)
			data := []byte(id)
			if !adapter.Write(ctx, id, data) {
				errs <- fmt.Errorf("failed Write #%d", i)
				return
			}
			got, err := adapter.Read(ctx, id)
			if nil != err || !bytes.Equal(data, got) {
				errs <- fmt.Errorf("failed Read #%d, got %q, %v", i, got, err)
				return
			}
			adapter.Destroy(ctx, id)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func testManager(t *testing.T, adapter session.Adapter) {
	ctx := context.Background()
	lc := lifecycle.NewLocal(nil)
	mgr, err := session.NewManager(lc, adapter)
	if nil != err {
		t.Fatalf("failed NewManager, got error %v", err)
	}

	err = mgr.Start(ctx, session.StartOptions{})
	if nil != err {
		t.Fatalf("failed Start, got error %v", err)
	}
	err = mgr.Data().Set(ctx, "Greeting", "hello", session.WithTTL(time.Hour))
	if nil != err {
		t.Fatalf("failed Set, got error %v", err)
	}
	ok, err := mgr.End(ctx)
	if nil != err || !ok {
		t.Fatalf("failed End, got %v, %v", ok, err)
	}

	err = mgr.Start(ctx, session.StartOptions{})
	if nil != err {
		t.Fatalf("failed restarting session, got error %v", err)
	}
	if "hello" != session.GetAs(ctx, mgr.Data(), "greeting", "") {
		t.Error("resumed session lost its data")
	}

	ok, err = mgr.Destroy(ctx)
	if nil != err || !ok {
		t.Errorf("failed Destroy, got %v, %v", ok, err)
	}
}
