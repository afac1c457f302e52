package httpsession

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"code.kerpass.org/sessions/pkg/session"
)

func TestCookieLifecycleInboundID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "inbound-id"})
	rec := httptest.NewRecorder()

	lc := NewCookieLifecycle(rec, req, CookieOptions{}, nil)
	if "inbound-id" != lc.ID() {
		t.Fatalf("inbound id not loaded, got %q", lc.ID())
	}
	if !lc.Start(session.StartOptions{}) {
		t.Fatal("failed Start")
	}
	if 0 != len(rec.Result().Cookies()) {
		t.Error("Start reissued an unchanged session cookie")
	}
}

func TestCookieLifecycleRejectsInvalidInbound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "bad.id"})
	lc := NewCookieLifecycle(httptest.NewRecorder(), req, CookieOptions{}, nil)
	if "" != lc.ID() {
		t.Errorf("invalid inbound id accepted, got %q", lc.ID())
	}
}

func TestCookieLifecycleIssuesCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	gen := func() (string, error) { return "generated", nil }
	lc := NewCookieLifecycle(rec, httptest.NewRequest(http.MethodGet, "/", nil), CookieOptions{Name: "sid", Secure: true}, gen)

	if !lc.Start(session.StartOptions{Lifetime: time.Hour}) {
		t.Fatal("failed Start")
	}
	ck := rec.Result().Cookies()[0]
	if "sid" != ck.Name || "generated" != ck.Value || 3600 != ck.MaxAge || !ck.Secure || !ck.HttpOnly {
		t.Errorf("unexpected cookie %+v", ck)
	}
	if lc.SetID("other") {
		t.Error("SetID succeeded on active session")
	}
}

func TestCookieLifecycleRegenerate(t *testing.T) {
	rec := httptest.NewRecorder()
	n := 0
	gen := func() (string, error) {
		n += 1
		return []string{"first", "second"}[n-1], nil
	}
	lc := NewCookieLifecycle(rec, nil, CookieOptions{}, gen)
	if lc.Regenerate(true) {
		t.Error("Regenerate succeeded on inactive session")
	}
	lc.Start(session.StartOptions{})
	if !lc.Regenerate(true) || "second" != lc.ID() {
		t.Fatalf("failed Regenerate, id is %q", lc.ID())
	}
	cookies := rec.Result().Cookies()
	if "second" != cookies[len(cookies)-1].Value {
		t.Error("Regenerate did not issue the new id")
	}
}

func TestCookieLifecycleStartRejectsInvalidID(t *testing.T) {
	lc := NewCookieLifecycle(httptest.NewRecorder(), nil, CookieOptions{}, nil)
	if lc.Start(session.StartOptions{ID: "../bad"}) {
		t.Error("Start accepted invalid id")
	}
	if lc.SetID("bad id") {
		t.Error("SetID accepted invalid id")
	}
}
