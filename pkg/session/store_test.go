package session

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"
)

func TestStoreTTL(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		store, _, _ := startedStore()

		err := store.Set(ctx, "token", "abc", WithTTL(time.Second))
		if nil != err {
			t.Fatalf("failed Set, got error %v", err)
		}
		if "abc" != GetAs(ctx, store, "token", "") {
			t.Fatal("fresh entry not found")
		}

		time.Sleep(time.Second)
		if !store.Has(ctx, "token") {
			t.Fatal("entry expired before its ttl elapsed")
		}

		time.Sleep(time.Second)
		if "none" != GetAs(ctx, store, "token", "none") {
			t.Error("expired entry returned")
		}
		if _, found := store.All(ctx)["token"]; found {
			t.Error("All returned expired entry")
		}
	})
}

func TestStoreAllEvictsExpired(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		store, _, _ := startedStore()

		_ = store.Set(ctx, "short", 1, WithTTL(time.Second))
		_ = store.Set(ctx, "long", 2, WithTTL(time.Hour))
		_ = store.Set(ctx, "forever", 3)

		time.Sleep(10 * time.Second)
		all := store.All(ctx)
		if 2 != len(all) {
			t.Errorf("All returned %d entries != 2", len(all))
		}
		if _, found := store.entries["short"]; found {
			t.Error("All did not evict expired entry")
		}
		if !store.Dirty() {
			t.Error("eviction did not mark the store dirty")
		}
	})
}

func TestStoreNoExpiry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		store, _, _ := startedStore()

		err := store.Set(ctx, "locale", "fr-FR")
		if nil != err {
			t.Fatalf("failed Set, got error %v", err)
		}
		time.Sleep(1000 * time.Hour)
		if "fr-FR" != GetAs(ctx, store, "locale", "") {
			t.Error("entry without ttl expired")
		}
	})
}

func TestStoreInvalidTTL(t *testing.T) {
	ctx := context.Background()
	store, _, _ := startedStore()

	for _, ttl := range []time.Duration{0, 500 * time.Millisecond, -time.Minute} {
		err := store.Set(ctx, "k", 1, WithTTL(ttl))
		if !errors.Is(err, ErrInvalidTTL) {
			t.Errorf("ttl %v, unexpected error %v", ttl, err)
		}
		if !errors.Is(err, ErrUsage) {
			t.Errorf("ttl %v, error does not wrap ErrUsage", ttl)
		}
	}
	if 0 != store.Len(ctx) {
		t.Error("invalid Set modified the store")
	}
}

func TestStoreKeyNormalization(t *testing.T) {
	ctx := context.Background()
	store, _, _ := startedStore()

	err := store.Set(ctx, "Foo", 1)
	if nil != err {
		t.Fatalf("failed Set, got error %v", err)
	}
	if 1 != GetAs(ctx, store, "foo", 0) {
		t.Error("Get(foo) did not return 1")
	}
	if 1 != GetAs(ctx, store, " FOO ", 0) {
		t.Error("Get( FOO ) did not return 1")
	}

	_ = store.Set(ctx, "FOO", 2)
	if 1 != store.Len(ctx) {
		t.Errorf("case variants created %d entries", store.Len(ctx))
	}
}

func TestStoreSetManyAtomic(t *testing.T) {
	ctx := context.Background()
	store, _, _ := startedStore()

	testcases := map[string]map[string]any{
		"empty key":    {"valid": 1, "  ": "bad"},
		"bad value":    {"valid": 1, "chan": make(chan int)},
		"only invalid": {"": 2},
	}
	for name, values := range testcases {
		err := store.SetMany(ctx, values)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: unexpected error %v", name, err)
		}
		if store.Has(ctx, "valid") {
			t.Errorf("%s: partial write of valid key", name)
		}
	}

	err := store.SetMany(ctx, map[string]any{"A": 1, "b": "two"}, WithTTL(time.Minute))
	if nil != err {
		t.Fatalf("failed SetMany, got error %v", err)
	}
	if 1 != GetAs(ctx, store, "a", 0) || "two" != GetAs(ctx, store, "B", "") {
		t.Error("SetMany entries not readable")
	}
}

func TestStorePull(t *testing.T) {
	ctx := context.Background()
	store, _, _ := startedStore()

	err := store.Set(ctx, "x", 42)
	if nil != err {
		t.Fatalf("failed Set, got error %v", err)
	}
	v, err := PullAs(ctx, store, "x", 0)
	if nil != err {
		t.Fatalf("failed Pull, got error %v", err)
	}
	if 42 != v {
		t.Errorf("Pull returned %d != 42", v)
	}
	if 0 != GetAs(ctx, store, "x", 0) {
		t.Error("pulled entry still readable")
	}

	found, err := store.Pull(ctx, "x", nil)
	if nil != err || found {
		t.Errorf("Pull of missing key returned %v, %v", found, err)
	}
}

func TestStorePullBadDestination(t *testing.T) {
	ctx := context.Background()
	store, _, _ := startedStore()

	_ = store.Set(ctx, "x", "text")
	var dst int
	_, err := store.Pull(ctx, "x", &dst)
	if nil == err {
		t.Fatal("Pull in mismatched destination did not fail")
	}
	if !store.Has(ctx, "x") {
		t.Error("failed Pull removed the entry")
	}
}

func TestStorePushRemove(t *testing.T) {
	ctx := context.Background()
	store, _, _ := startedStore()

	v, err := store.Push(ctx, "color", "blue")
	if nil != err || "blue" != v {
		t.Fatalf("failed Push, got %v, %v", v, err)
	}
	_ = store.Set(ctx, "size", 10)

	err = store.Remove(ctx, "COLOR", "missing")
	if nil != err {
		t.Fatalf("failed Remove, got error %v", err)
	}
	if store.Has(ctx, "color") {
		t.Error("removed key still present")
	}
	if !store.Has(ctx, "size") {
		t.Error("Remove deleted unrelated key")
	}
}

func TestStoreInactive(t *testing.T) {
	ctx := context.Background()
	lc := &testLifecycle{}
	adapter := newMapAdapter()
	store, err := NewStore(lc, adapter)
	if nil != err {
		t.Fatalf("failed NewStore, got error %v", err)
	}

	if store.Get(ctx, "k", nil) || store.Has(ctx, "k") || 0 != store.Len(ctx) {
		t.Error("inactive store returned data")
	}
	if 0 != adapter.reads {
		t.Errorf("inactive store read the adapter %d times", adapter.reads)
	}

	mutations := map[string]error{
		"Set":     store.Set(ctx, "k", 1),
		"SetMany": store.SetMany(ctx, map[string]any{"k": 1}),
		"Remove":  store.Remove(ctx, "k"),
		"Unset":   store.Unset(ctx),
	}
	_, mutations["Flush"] = store.Flush(ctx)
	_, mutations["Commit"] = store.Commit(ctx)
	for name, err := range mutations {
		if !errors.Is(err, ErrNotStarted) {
			t.Errorf("%s: unexpected error %v", name, err)
		}
	}
	if 0 != adapter.writes {
		t.Error("inactive store wrote the adapter")
	}
}

func TestStoreNilCollaborators(t *testing.T) {
	_, err := NewStore(nil, newMapAdapter())
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil Lifecycle, unexpected error %v", err)
	}
	_, err = NewStore(&testLifecycle{}, nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil Adapter, unexpected error %v", err)
	}
}

func TestStoreHydration(t *testing.T) {
	ctx := context.Background()
	store, lc, adapter := startedStore()

	codec := Codec{}
	data, err := codec.Encode(Map{"user": {Value: mustMarshal(t, codec, "bob")}})
	if nil != err {
		t.Fatalf("failed Encode, got error %v", err)
	}
	adapter.records[lc.ID()] = data

	if "bob" != GetAs(ctx, store, "user", "") {
		t.Error("hydrated entry not found")
	}
	_ = store.Has(ctx, "other")
	if 1 != adapter.reads {
		t.Errorf("adapter read %d times != 1", adapter.reads)
	}
}

func TestStoreHydrationFaults(t *testing.T) {
	ctx := context.Background()

	store, lc, adapter := startedStore()
	adapter.records[lc.ID()] = []byte{0xff, 0x00, 0x13}
	if 0 != store.Len(ctx) {
		t.Error("corrupted record did not load as empty session")
	}

	store, _, adapter = startedStore()
	adapter.failRead = true
	if 0 != store.Len(ctx) {
		t.Error("unavailable adapter did not load as empty session")
	}
	err := store.Set(ctx, "k", 1)
	if nil != err {
		t.Errorf("Set after read fault failed, got error %v", err)
	}
}

func TestStoreCommitKeepsUnreadRecord(t *testing.T) {
	ctx := context.Background()
	store, lc, adapter := startedStore()

	_ = store.Set(ctx, "user", "alice")
	if ok, err := store.Commit(ctx); !ok || nil != err {
		t.Fatalf("failed Commit, got (%v, %v)", ok, err)
	}
	saved := append([]byte(nil), adapter.records[lc.ID()]...)

	// read only request hitting a storage fault
	store.Reset()
	adapter.failRead = true
	if 0 != store.Len(ctx) {
		t.Error("unavailable adapter did not load as empty session")
	}
	writes := adapter.writes
	ok, err := store.Commit(ctx)
	if !ok || nil != err {
		t.Errorf("Commit returned (%v, %v)", ok, err)
	}
	if writes != adapter.writes {
		t.Error("Commit overwrote a record it could not read")
	}

	// storage is back
	store.Reset()
	adapter.failRead = false
	if "alice" != GetAs(ctx, store, "user", "<lost>") {
		t.Errorf("stored record lost, got %q", GetAs(ctx, store, "user", "<lost>"))
	}
	if string(saved) != string(adapter.records[lc.ID()]) {
		t.Error("stored record changed")
	}
}

func TestStoreCommitPersistsChangesAfterReadFault(t *testing.T) {
	ctx := context.Background()
	store, lc, adapter := startedStore()
	adapter.failRead = true

	_ = store.Set(ctx, "k", "v")
	if ok, _ := store.Commit(ctx); !ok || 1 != adapter.writes {
		t.Fatalf("modified session not persisted, writes %d", adapter.writes)
	}
	if !adapter.has(lc.ID()) {
		t.Error("no record after Commit")
	}

	store.Reset()
	if 0 != store.Len(ctx) {
		t.Error("unavailable adapter did not load as empty session")
	}
	if ok, _ := store.Flush(ctx); !ok || 2 != adapter.writes {
		t.Errorf("Flush not persisted, writes %d", adapter.writes)
	}
}

func TestStoreKeyWhitespaceCollides(t *testing.T) {
	ctx := context.Background()
	store, _, _ := startedStore()

	_ = store.Set(ctx, " Foo ", 1)
	_ = store.Set(ctx, "foo", 2)
	if 1 != store.Len(ctx) {
		t.Errorf("key variants created %d entries", store.Len(ctx))
	}
	if 2 != GetAs(ctx, store, " Foo ", 0) {
		t.Error("Get( Foo ) did not return the value set for foo")
	}
}

func TestStoreCommitAndFlush(t *testing.T) {
	ctx := context.Background()
	store, lc, adapter := startedStore()

	_ = store.Set(ctx, "k", "v")
	if 0 != adapter.writes {
		t.Error("Set wrote the adapter without write through")
	}
	ok, err := store.Commit(ctx)
	if nil != err || !ok {
		t.Fatalf("failed Commit, got %v, %v", ok, err)
	}
	if store.Dirty() {
		t.Error("store dirty after Commit")
	}

	m := Codec{}.Decode(adapter.records[lc.ID()])
	if _, found := m["k"]; !found {
		t.Error("committed record does not hold k")
	}

	ok, err = store.Flush(ctx)
	if nil != err || !ok {
		t.Fatalf("failed Flush, got %v, %v", ok, err)
	}
	if 0 != len(Codec{}.Decode(adapter.records[lc.ID()])) {
		t.Error("Flush did not persist empty map")
	}
	if 0 != store.Len(ctx) {
		t.Error("Flush did not clear memory")
	}

	adapter.failWrite = true
	_ = store.Set(ctx, "k", "v")
	ok, err = store.Commit(ctx)
	if nil != err || ok {
		t.Errorf("Commit with failing adapter returned %v, %v", ok, err)
	}
	if !store.Dirty() {
		t.Error("store not dirty after failed Commit")
	}
}

func TestStoreUnsetAndReset(t *testing.T) {
	ctx := context.Background()
	store, lc, adapter := startedStore()

	_ = store.Set(ctx, "k", "v")
	_, _ = store.Commit(ctx)

	err := store.Unset(ctx)
	if nil != err {
		t.Fatalf("failed Unset, got error %v", err)
	}
	if 0 != store.Len(ctx) {
		t.Error("Unset did not clear memory")
	}
	if 0 == len(Codec{}.Decode(adapter.records[lc.ID()])) {
		t.Error("Unset persisted before Commit")
	}

	store.Reset()
	if "v" != GetAs(ctx, store, "k", "") {
		t.Error("Reset did not discard the unset")
	}
}

func TestStoreWriteThrough(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		store, lc, adapter := startedStore(WithWriteThrough(true))

		_ = store.Set(ctx, "otp", "123456", WithTTL(time.Second))
		if 1 != adapter.writes {
			t.Fatalf("Set did %d writes != 1", adapter.writes)
		}

		time.Sleep(5 * time.Second)
		if store.Has(ctx, "otp") {
			t.Fatal("expired entry still present")
		}
		if 2 != adapter.writes {
			t.Errorf("eviction was not written through, %d writes", adapter.writes)
		}
		if _, found := (Codec{}).Decode(adapter.records[lc.ID()])["otp"]; found {
			t.Error("persisted record still holds evicted entry")
		}
	})
}

func TestStoreClockOption(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	store, _, _ := startedStore(WithClock(func() time.Time { return now }))

	_ = store.Set(ctx, "k", 1, WithTTL(90*time.Second+500*time.Millisecond))
	if now.Unix()+90 != store.entries["k"].ExpiresAt {
		t.Errorf("unexpected expiry %d", store.entries["k"].ExpiresAt)
	}
	now = now.Add(91 * time.Second)
	if store.Has(ctx, "k") {
		t.Error("entry not expired")
	}
}
