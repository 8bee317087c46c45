package core

import (
	"testing"
	"time"
)

// fakeClock drives the store's notion of time in tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(ttl time.Duration) (*SessionStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := NewSessionStore(ttl)
	s.now = clock.Now
	return s, clock
}

func TestSessionCreateAndGet(t *testing.T) {
	s, _ := newTestStore(24 * time.Hour)
	token := s.Create(7, "alice", true)
	if token == "" {
		t.Fatal("empty token")
	}

	sess, ok := s.Get(token)
	if !ok {
		t.Fatal("session not found")
	}
	if sess.UserID != 7 || sess.Username != "alice" || !sess.IsAdmin {
		t.Fatalf("unexpected session: %+v", sess)
	}

	token2 := s.Create(7, "alice", true)
	if token2 == token {
		t.Fatal("tokens must be unique per login")
	}
}

func TestSessionExpiry(t *testing.T) {
	s, clock := newTestStore(24 * time.Hour)
	token := s.Create(1, "bob", false)

	clock.Advance(24*time.Hour + time.Second)
	if _, ok := s.Get(token); ok {
		t.Fatal("expired session should not resolve")
	}
	// lazy expiry removed the entry
	if s.Len() != 0 {
		t.Fatalf("Len = %d after lazy expiry, want 0", s.Len())
	}
}

func TestSessionSlidingRenewal(t *testing.T) {
	s, clock := newTestStore(24 * time.Hour)
	token := s.Create(1, "bob", false)

	// touch the session every 23h; it must survive well past the ttl
	for i := 0; i < 4; i++ {
		clock.Advance(23 * time.Hour)
		if _, ok := s.Get(token); !ok {
			t.Fatalf("session expired after %d touches", i)
		}
	}
}

func TestSessionDeleteIdempotent(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	token := s.Create(1, "bob", false)
	s.Delete(token)
	s.Delete(token)
	s.Delete("never-existed")
	if _, ok := s.Get(token); ok {
		t.Fatal("deleted session still resolves")
	}
}

func TestSessionSweep(t *testing.T) {
	s, clock := newTestStore(time.Hour)
	old := s.Create(1, "old", false)
	clock.Advance(2 * time.Hour)
	fresh := s.Create(2, "fresh", false)

	if n := s.Sweep(); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if _, ok := s.Get(old); ok {
		t.Fatal("swept session still resolves")
	}
	if _, ok := s.Get(fresh); !ok {
		t.Fatal("fresh session was swept")
	}
}

func TestSessionGetReturnsCopy(t *testing.T) {
	s, _ := newTestStore(time.Hour)
	token := s.Create(1, "bob", false)
	sess, _ := s.Get(token)
	sess.IsAdmin = true

	again, _ := s.Get(token)
	if again.IsAdmin {
		t.Fatal("mutation of the returned session leaked into the store")
	}
}
