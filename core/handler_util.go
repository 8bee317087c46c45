package core

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// respondError sends the unified failure payload {"success": false, "error": msg}.
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// respondLoginRequired is the 401 shape for JSON/API paths: it carries a
// login-location hint so programmatic clients never have to parse an HTML
// redirect.
func respondLoginRequired(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": message, "login_url": loginPath})
}
