package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log"
	"sync"
	"time"
)

// Session binds an opaque token to an authenticated principal. The role flag
// is snapshotted at creation time and not re-derived from the credential
// store on later accesses.
type Session struct {
	Token      string
	UserID     int64
	Username   string
	IsAdmin    bool
	CreatedAt  time.Time
	LastAccess time.Time
}

// SessionStore is an in-memory table of active sessions with sliding
// expiration. Request handlers run on separate goroutines, so every map
// access happens under one coarse mutex; operations are short and never
// batched, so finer locking buys nothing.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a store with the given idle TTL (DefaultSessionTTL
// when ttl <= 0).
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// newSessionToken returns 32 bytes of crypto/rand encoded URL-safe.
func newSessionToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process cannot mint credentials at all.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Create inserts a new session and returns its token.
func (s *SessionStore) Create(userID int64, username string, isAdmin bool) string {
	token := newSessionToken()
	now := s.now()
	s.mu.Lock()
	s.sessions[token] = &Session{
		Token:      token,
		UserID:     userID,
		Username:   username,
		IsAdmin:    isAdmin,
		CreatedAt:  now,
		LastAccess: now,
	}
	s.mu.Unlock()
	return token
}

// Get looks up a token. Expired entries are purged on the spot (lazy expiry);
// live entries have LastAccess bumped so an active user is never logged out
// mid-session (sliding renewal). The returned value is a copy.
func (s *SessionStore) Get(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	if now.Sub(sess.LastAccess) > s.ttl {
		delete(s.sessions, token)
		return Session{}, false
	}
	sess.LastAccess = now
	return *sess, true
}

// Delete removes a session; deleting an unknown token is a no-op.
func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Len returns the number of stored sessions, expired or not.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes every expired entry and reports how many were dropped.
// Lazy expiry alone reclaims a stale session only if its token is looked up
// again, which never happens for abandoned browsers.
func (s *SessionStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, sess := range s.sessions {
		if now.Sub(sess.LastAccess) > s.ttl {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// RunSweeper periodically sweeps expired sessions until ctx is cancelled.
func (s *SessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Printf("session sweep removed %d expired sessions", n)
			}
		}
	}
}
