package sessiontest

import (
	"context"
	"errors"
	"testing"

	"code.kerpass.org/sessions/pkg/session"
	"code.kerpass.org/sessions/pkg/session/memdb"
)

func TestFaultyAdapterIsAdapter(t *testing.T) {
	RunAdapterSuite(t, NewFaultyAdapter(memdb.New()))
}

func TestFaultyAdapterLimits(t *testing.T) {
	ctx := context.Background()
	fa := NewFaultyAdapter(memdb.New())
	fa.SetWriteLimit(2)
	fa.SetReadLimit(1)

	if !fa.Write(ctx, "a", []byte("1")) || !fa.Write(ctx, "b", []byte("2")) {
		t.Fatal("write failed before limit")
	}
	if fa.Write(ctx, "c", []byte("3")) {
		t.Error("write succeeded after limit")
	}
	if fa.Destroy(ctx, "a") {
		t.Error("destroy succeeded after limit")
	}

	if _, err := fa.Read(ctx, "a"); nil != err {
		t.Errorf("read failed before limit, got error %v", err)
	}
	_, err := fa.Read(ctx, "a")
	if !errors.Is(err, session.ErrUnavailable) {
		t.Errorf("read after limit, unexpected error %v", err)
	}

	fa.SetWriteLimit(-1)
	if !fa.Write(ctx, "c", []byte("3")) {
		t.Error("write failed after limit removal")
	}
	reads, writes := fa.Calls()
	if 2 != reads || 5 != writes {
		t.Errorf("unexpected call counts %d, %d", reads, writes)
	}
}
