package backend

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"code.kerpass.org/sessions/pkg/config"
	"code.kerpass.org/sessions/pkg/session"
	"code.kerpass.org/sessions/pkg/session/httpsession"
	"code.kerpass.org/sessions/pkg/session/sessiontest"
)

func newConfig(t *testing.T, bc config.BackendConfig) *config.Config {
	t.Helper()
	cfg := &config.Config{Backend: bc}
	err := cfg.Validate()
	if nil != err {
		t.Fatalf("failed Validate, got error %v", err)
	}
	return cfg
}

func openAdapter(t *testing.T, cfg *config.Config) session.Adapter {
	t.Helper()
	adapter, err := OpenAdapter(context.Background(), cfg)
	if nil != err {
		t.Fatalf("failed OpenAdapter, got error %v", err)
	}
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	expected := []string{"cache", "cookie", "document", "file", "inproc", "memory", "relational"}
	if len(expected) != len(kinds) {
		t.Fatalf("registered kinds %v != %v", kinds, expected)
	}
	for i, kind := range expected {
		if kind != kinds[i] {
			t.Errorf("kind #%d %q != %q", i, kinds[i], kind)
		}
	}
}

func TestRegisterConflict(t *testing.T) {
	err := Register(config.KindFile, openFile)
	if nil == err {
		t.Error("duplicated kind registration did not fail")
	}
}

func TestOpenAdapters(t *testing.T) {
	mr, err := miniredis.Run()
	if nil != err {
		t.Fatalf("failed miniredis.Run, got error %v", err)
	}
	t.Cleanup(mr.Close)

	testcases := []struct {
		name string
		bc   func(dir string) config.BackendConfig
	}{
		{
			name: "inproc",
			bc: func(dir string) config.BackendConfig {
				return config.BackendConfig{Kind: config.KindInproc}
			},
		},
		{
			name: "file",
			bc: func(dir string) config.BackendConfig {
				return config.BackendConfig{Kind: config.KindFile, File: config.FileConfig{Dir: dir}}
			},
		},
		{
			name: "cache",
			bc: func(dir string) config.BackendConfig {
				return config.BackendConfig{Kind: config.KindCache, Cache: config.CacheConfig{Addr: mr.Addr()}}
			},
		},
		{
			name: "document",
			bc: func(dir string) config.BackendConfig {
				return config.BackendConfig{
					Kind:     config.KindDocument,
					Document: config.DocumentConfig{Path: filepath.Join(dir, "sessions.bolt")},
				}
			},
		},
		{
			name: "sqlite",
			bc: func(dir string) config.BackendConfig {
				return config.BackendConfig{
					Kind: config.KindRelational,
					Relational: config.RelationalConfig{
						Driver: config.DriverSQLite,
						DSN:    filepath.Join(dir, "sessions.db"),
					},
				}
			},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newConfig(t, tc.bc(t.TempDir()))
			sessiontest.RunAdapterSuite(t, openAdapter(t, cfg))
		})
	}
}

func TestOpenCacheUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if nil != err {
		t.Fatalf("failed miniredis.Run, got error %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	cfg := newConfig(t, config.BackendConfig{Kind: config.KindCache, Cache: config.CacheConfig{Addr: addr}})
	_, err = Open(context.Background(), cfg)
	if !errors.Is(err, session.ErrBackend) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestOpenMemcachedUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if nil != err {
		t.Fatalf("failed net.Listen, got error %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := newConfig(t, config.BackendConfig{
		Kind:  config.KindCache,
		Cache: config.CacheConfig{Driver: config.DriverMemcached, Addr: addr},
	})
	_, err = Open(context.Background(), cfg)
	if !errors.Is(err, session.ErrBackend) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestOpenFileMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	cfg := newConfig(t, config.BackendConfig{Kind: config.KindFile, File: config.FileConfig{Dir: dir}})
	_, err := Open(context.Background(), cfg)
	if !errors.Is(err, session.ErrBackend) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestOpenUnknownKind(t *testing.T) {
	cfg := &config.Config{Backend: config.BackendConfig{Kind: "tape"}}
	_, err := Open(context.Background(), cfg)
	if !errors.Is(err, session.ErrBackend) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestOpenAdapterRejectsCookie(t *testing.T) {
	cfg := newConfig(t, config.BackendConfig{
		Kind:   config.KindCookie,
		Cookie: config.CookieConfig{Secret: "not so secret"},
	})
	_, err := OpenAdapter(context.Background(), cfg)
	if !errors.Is(err, session.ErrBackend) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestCookieMiddleware(t *testing.T) {
	cfg := newConfig(t, config.BackendConfig{
		Kind:   config.KindMemory,
		Codec:  "json",
		Cookie: config.CookieConfig{Secret: "not so secret"},
	})
	cfg.Session.AutoStart = true

	b, err := Open(context.Background(), cfg)
	if nil != err {
		t.Fatalf("failed Open, got error %v", err)
	}
	defer b.Close()
	mw, err := Middleware(cfg, b)
	if nil != err {
		t.Fatalf("failed Middleware, got error %v", err)
	}

	var seen string
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mgr := httpsession.FromContext(r.Context())
		if "/login" == r.URL.Path {
			_ = mgr.Data().Set(r.Context(), "user", "dave")
		} else {
			seen = session.GetAs(r.Context(), mgr.Data(), "user", "")
		}
		io.WriteString(w, "ok")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, ck := range rec.Result().Cookies() {
		req.AddCookie(ck)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)

	if "dave" != seen {
		t.Errorf("session value %q != dave", seen)
	}
}

func TestManagerOptionsInvalidCodec(t *testing.T) {
	cfg := &config.Config{Backend: config.BackendConfig{Codec: "xml"}}
	_, err := ManagerOptions(cfg)
	if !errors.Is(err, session.ErrInvalidArgument) {
		t.Errorf("unexpected error %v", err)
	}
}
