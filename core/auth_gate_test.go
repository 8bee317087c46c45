package core

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func basicHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func TestParseBasicAuth(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		wantUser string
		wantPass string
		wantOK   bool
	}{
		{"valid", basicHeader("alice", "secret"), "alice", "secret", true},
		{"lowercase scheme", strings.Replace(basicHeader("a", "b"), "Basic", "basic", 1), "a", "b", true},
		{"password with colon", basicHeader("alice", "se:cr:et"), "alice", "se:cr:et", true},
		{"empty password", basicHeader("alice", ""), "alice", "", true},
		{"missing colon", "Basic " + base64.StdEncoding.EncodeToString([]byte("nocolon")), "", "", false},
		{"bad base64", "Basic %%%", "", "", false},
		{"wrong scheme", "Bearer abcdef", "", "", false},
		{"empty", "", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, p, ok := ParseBasicAuth(tc.header)
			if ok != tc.wantOK || u != tc.wantUser || p != tc.wantPass {
				t.Fatalf("ParseBasicAuth(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tc.header, u, p, ok, tc.wantUser, tc.wantPass, tc.wantOK)
			}
		})
	}
}

func newTestAuthManager(t *testing.T, repo UserRepository, legacyUser, legacyPass string) *AuthManager {
	t.Helper()
	return NewAuthManager(NewSessionStore(time.Hour), NewCredentialResolver(repo, legacyUser, legacyPass), time.Hour)
}

func TestResolveDisabledAuth(t *testing.T) {
	m := newTestAuthManager(t, newFakeUserRepo(), "", "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	id, ok, err := m.Resolve(context.Background(), req, httptest.NewRecorder())
	if err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}
	if id != GuestIdentity() {
		t.Fatalf("identity = %+v, want guest", id)
	}
}

func TestResolveBasicPromotesToSession(t *testing.T) {
	m := newTestAuthManager(t, newFakeUserRepo(), "operator", "hunter2")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", basicHeader("operator", "hunter2"))
	w := httptest.NewRecorder()

	id, ok, err := m.Resolve(context.Background(), req, w)
	if err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}
	if !id.IsAdmin {
		t.Fatalf("legacy identity should be admin: %+v", id)
	}

	setCookie := w.Header().Get("Set-Cookie")
	if !strings.HasPrefix(setCookie, SessionCookieName+"=") {
		t.Fatalf("Basic success must set a session cookie, got %q", setCookie)
	}

	// the issued cookie must now resolve on its own, no Authorization header
	token := ParseCookie(setCookie, SessionCookieName)
	token = strings.SplitN(token, ";", 2)[0]
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Cookie", SessionCookieName+"="+token)

	id2, ok, err := m.Resolve(context.Background(), req2, httptest.NewRecorder())
	if err != nil || !ok {
		t.Fatalf("cookie resolve: ok=%v err=%v", ok, err)
	}
	if id2 != id {
		t.Fatalf("cookie identity %+v != basic identity %+v", id2, id)
	}
}

func TestResolveRejectsBadBasic(t *testing.T) {
	m := newTestAuthManager(t, newFakeUserRepo(), "operator", "hunter2")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", basicHeader("operator", "wrong"))
	w := httptest.NewRecorder()

	_, ok, err := m.Resolve(context.Background(), req, w)
	if err != nil {
		t.Fatalf("bad credentials must not be an error: %v", err)
	}
	if ok {
		t.Fatal("bad credentials resolved to an identity")
	}
	if w.Header().Get("Set-Cookie") != "" {
		t.Fatal("no cookie may be issued on failed auth")
	}
}

func TestLoginAndLogout(t *testing.T) {
	repo := newFakeUserRepo(&UserRecord{ID: 5, Username: "alice", PasswordHash: mustHash(t, "secret"), Enabled: true})
	m := newTestAuthManager(t, repo, "", "")

	w := httptest.NewRecorder()
	id, err := m.Login(context.Background(), w, "alice", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id.UserID != 5 {
		t.Fatalf("identity = %+v", id)
	}
	setCookie := w.Header().Get("Set-Cookie")
	token := strings.SplitN(ParseCookie(setCookie, SessionCookieName), ";", 2)[0]
	if token == "" {
		t.Fatalf("no session cookie in %q", setCookie)
	}

	// logout deletes the session and clears the cookie
	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.Header.Set("Cookie", SessionCookieName+"="+token)
	w2 := httptest.NewRecorder()
	m.Logout(req, w2)

	if got := w2.Header().Get("Set-Cookie"); !strings.Contains(got, "Max-Age=0") {
		t.Fatalf("logout must clear the cookie, got %q", got)
	}

	req3 := httptest.NewRequest(http.MethodGet, "/", nil)
	req3.Header.Set("Cookie", SessionCookieName+"="+token)
	if _, ok, _ := m.Resolve(context.Background(), req3, httptest.NewRecorder()); ok {
		t.Fatal("session survived logout")
	}

	// logging out again, or with no session at all, still succeeds
	m.Logout(httptest.NewRequest(http.MethodPost, "/api/logout", nil), httptest.NewRecorder())
}
