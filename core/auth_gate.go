package core

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// AuthManager orchestrates cookie decoding, the session store, and the
// credential resolver to answer "who is this request". It is constructed
// once at startup and injected into the router; there is no package-level
// instance.
type AuthManager struct {
	sessions *SessionStore
	resolver *CredentialResolver
	ttl      time.Duration
}

func NewAuthManager(sessions *SessionStore, resolver *CredentialResolver, ttl time.Duration) *AuthManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &AuthManager{sessions: sessions, resolver: resolver, ttl: ttl}
}

// Enabled exposes the resolver's enabled check to the router.
func (m *AuthManager) Enabled(ctx context.Context) (bool, error) {
	return m.resolver.Enabled(ctx)
}

// Mode exposes the resolver's mode switch to the router.
func (m *AuthManager) Mode(ctx context.Context) (AuthMode, error) {
	return m.resolver.Mode(ctx)
}

// Resolve authenticates a request. Order: disabled auth -> guest; session
// cookie; Basic header with session promotion. The bool is false when no
// identity could be established. A non-nil error means the credential store
// itself failed, not that credentials were wrong.
func (m *AuthManager) Resolve(ctx context.Context, r *http.Request, w http.ResponseWriter) (Identity, bool, error) {
	enabled, err := m.resolver.Enabled(ctx)
	if err != nil {
		return Identity{}, false, err
	}
	if !enabled {
		return GuestIdentity(), true, nil
	}

	token := ParseCookie(r.Header.Get("Cookie"), SessionCookieName)
	if sess, ok := m.sessions.Get(token); ok {
		return Identity{UserID: sess.UserID, Username: sess.Username, IsAdmin: sess.IsAdmin}, true, nil
	}

	username, password, ok := ParseBasicAuth(r.Header.Get("Authorization"))
	if !ok {
		return Identity{}, false, nil
	}
	id, err := m.resolver.Verify(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}

	// Promote the stateless Basic success into a session so the browser
	// keeps an authenticated cookie for subsequent requests.
	m.issueSession(w, id)
	return id, true, nil
}

// Login verifies credentials and, on success, creates a session and emits
// the Set-Cookie. Used by the explicit login endpoint.
func (m *AuthManager) Login(ctx context.Context, w http.ResponseWriter, username, password string) (Identity, error) {
	id, err := m.resolver.Verify(ctx, username, password)
	if err != nil {
		return Identity{}, err
	}
	m.issueSession(w, id)
	return id, nil
}

// Peek reports whether the request carries a live session, without basic
// auth fallback or cookie side effects. Used by public pages like /login to
// bounce already-signed-in visitors.
func (m *AuthManager) Peek(r *http.Request) (Identity, bool) {
	token := ParseCookie(r.Header.Get("Cookie"), SessionCookieName)
	if token == "" {
		return Identity{}, false
	}
	sess, ok := m.sessions.Get(token)
	if !ok {
		return Identity{}, false
	}
	return Identity{UserID: sess.UserID, Username: sess.Username, IsAdmin: sess.IsAdmin}, true
}

// Logout drops the current session, if any, and always clears the cookie.
// Safe to call with no session present.
func (m *AuthManager) Logout(r *http.Request, w http.ResponseWriter) {
	if token := ParseCookie(r.Header.Get("Cookie"), SessionCookieName); token != "" {
		m.sessions.Delete(token)
	}
	w.Header().Add("Set-Cookie", ClearSessionCookie())
}

func (m *AuthManager) issueSession(w http.ResponseWriter, id Identity) {
	token := m.sessions.Create(id.UserID, id.Username, id.IsAdmin)
	w.Header().Add("Set-Cookie", EncodeSessionCookie(token, m.ttl))
}

// ParseBasicAuth decodes an Authorization: Basic header. Any malformation
// (wrong scheme, bad base64, missing colon, non-UTF8) means "no credentials
// supplied" and is never surfaced as an error.
func ParseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	pair := string(decoded)
	if !utf8.ValidString(pair) {
		return "", "", false
	}
	idx := strings.IndexByte(pair, ':')
	if idx < 0 {
		return "", "", false
	}
	return pair[:idx], pair[idx+1:], true
}
