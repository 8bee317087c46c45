package core

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	loginPath   = "/login"
	identityKey = "identity"
)

// publicPaths are reachable without any authentication attempt by
// construction: health check, login page/submission, logout.
var publicPaths = map[string]struct{}{
	"/health":     {},
	loginPath:     {},
	"/api/login":  {},
	"/api/logout": {},
}

// jsonAPIPaths always answer an unauthenticated caller with 401 JSON so
// frontend fetch code never has to parse an HTML redirect.
var jsonAPIPaths = map[string]struct{}{
	"/analysis": {},
	"/task":     {},
	"/tasks":    {},
}

func isPublicPath(path string) bool {
	if _, ok := publicPaths[path]; ok {
		return true
	}
	// Bot webhooks authenticate via their platform signing secret instead.
	return strings.HasPrefix(path, "/bot/")
}

// RequestIDMiddleware tags every request/response pair with a UUID for log
// correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// AuthMiddleware applies the auth gate to every non-public path and chooses
// the failure-response shape from the request kind and current auth mode.
// The allowlist check runs before any authentication attempt; role checks
// happen later, in AdminOnly, only after a successful resolution.
func AuthMiddleware(m *AuthManager, realm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isPublicPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		id, ok, err := m.Resolve(ctx, c.Request, c.Writer)
		if err != nil {
			// Credential store outage is a server fault, never a 401.
			respondError(c, http.StatusInternalServerError, "authentication backend unavailable")
			c.Abort()
			return
		}
		if !ok {
			rejectUnauthenticated(c, m, realm)
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

func rejectUnauthenticated(c *gin.Context, m *AuthManager, realm string) {
	defer c.Abort()

	if _, ok := jsonAPIPaths[c.Request.URL.Path]; ok {
		respondLoginRequired(c, "login required")
		return
	}

	mode, err := m.Mode(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "authentication backend unavailable")
		return
	}

	switch mode {
	case AuthModeMultiAccount:
		// Browsers land on the login page.
		c.Header("Location", loginPath)
		c.Data(http.StatusFound, htmlContentType, renderRedirectPage(loginPath))
	default:
		// Zero registered accounts: prompt the browser-native dialog.
		c.Header("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
		c.Data(http.StatusUnauthorized, htmlContentType, renderErrorPage(http.StatusUnauthorized, "Unauthorized", "This page requires authentication."))
	}
}

// AdminOnly requires an admin identity resolved by AuthMiddleware. Failure
// is a structured 403, never a silent downgrade to anonymous.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok || !id.IsAdmin {
			respondError(c, http.StatusForbidden, "admin privileges required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity stored by AuthMiddleware, if any.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
