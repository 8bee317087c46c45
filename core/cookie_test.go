package core

import (
	"strings"
	"testing"
	"time"
)

func TestEncodeSessionCookie(t *testing.T) {
	got := EncodeSessionCookie("abc123", 24*time.Hour)
	want := "session_id=abc123; Path=/; HttpOnly; Max-Age=86400"
	if got != want {
		t.Fatalf("EncodeSessionCookie = %q, want %q", got, want)
	}
}

func TestClearSessionCookie(t *testing.T) {
	got := ClearSessionCookie()
	if !strings.Contains(got, "session_id=;") || !strings.Contains(got, "Max-Age=0") {
		t.Fatalf("ClearSessionCookie = %q", got)
	}
}

func TestParseCookie(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"single", "session_id=tok1", "tok1"},
		{"among others", "theme=dark; session_id=tok2; lang=en", "tok2"},
		{"leading spaces", "  session_id=tok3 ", "tok3"},
		{"value with equals", "session_id=a=b=c", "a=b=c"},
		{"missing", "theme=dark; lang=en", ""},
		{"empty header", "", ""},
		{"case sensitive", "Session_ID=tok4", ""},
		{"empty value", "session_id=", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseCookie(tc.header, SessionCookieName); got != tc.want {
				t.Fatalf("ParseCookie(%q) = %q, want %q", tc.header, got, tc.want)
			}
		})
	}
}
