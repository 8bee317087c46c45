package core

import (
	"fmt"
	"strings"
	"time"
)

// SessionCookieName is the fixed name under which the session token travels.
const SessionCookieName = "session_id"

// EncodeSessionCookie builds the Set-Cookie value binding token for ttl.
// The token is opaque to every other component.
func EncodeSessionCookie(token string, ttl time.Duration) string {
	return fmt.Sprintf("%s=%s; Path=/; HttpOnly; Max-Age=%d", SessionCookieName, token, int(ttl.Seconds()))
}

// ClearSessionCookie builds the Set-Cookie value that removes the session
// cookie on logout.
func ClearSessionCookie() string {
	return SessionCookieName + "=; Path=/; HttpOnly; Max-Age=0"
}

// ParseCookie extracts the value of name from a Cookie header. The header is
// split on ';', each pair on the first '='; the name match is case-sensitive
// and surrounding whitespace is tolerated. A missing or malformed header
// yields "" rather than an error.
func ParseCookie(header, name string) string {
	if header == "" || name == "" {
		return ""
	}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, name+"=") {
			continue
		}
		return part[len(name)+1:]
	}
	return ""
}
