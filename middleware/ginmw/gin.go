// Package ginmw provides Gin HTTP middleware that exposes the bearer
// credential of a request as session claims.
//
// The credential is read from the session cookie or the Authorization header
// and decoded with package token. Signatures are not verified here; the task
// API verifies every bearer it receives.
package ginmw

import (
	"net/http"
	"strings"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/token"
	"github.com/gin-gonic/gin"
)

// SessionCookie is the default name of the HttpOnly cookie carrying the bearer.
const SessionCookie = "todo_session"

// Context keys for storing session data in gin.Context.
const (
	KeyUserID     = "todo_user_id"
	KeyEmail      = "todo_email"
	KeyName       = "todo_name"
	KeyClaims     = "todo_claims"
	KeyCredential = "todo_credential"
)

// SessionOption configures Session middleware behavior.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	cookie        string
	excludedPaths map[string]bool
	now           func() time.Time
}

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) SessionOption {
	return func(cfg *sessionConfig) { cfg.cookie = name }
}

// WithExcludedPaths sets paths that skip session decoding (e.g. health checks).
func WithExcludedPaths(paths ...string) SessionOption {
	return func(cfg *sessionConfig) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) SessionOption {
	return func(cfg *sessionConfig) { cfg.now = now }
}

// Session returns Gin middleware that decodes the request's credential.
// A valid, unexpired credential is stored in the context (retrievable via
// GetUserID, GetClaims, etc.). Requests without one pass through untouched;
// chain RequireSession to reject them.
func Session(opts ...SessionOption) gin.HandlerFunc {
	cfg := &sessionConfig{
		cookie:        SessionCookie,
		excludedPaths: make(map[string]bool),
		now:           time.Now,
	}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		raw := extractBearerToken(c.Request)
		if raw == "" {
			raw, _ = c.Cookie(cfg.cookie)
		}
		if raw == "" {
			c.Next()
			return
		}

		claims, err := token.DecodeValid(raw, cfg.now())
		if err != nil || claims.Subject == "" {
			c.Next()
			return
		}

		c.Set(KeyClaims, claims)
		c.Set(KeyUserID, claims.Subject)
		c.Set(KeyEmail, claims.Email)
		c.Set(KeyName, claims.Name)
		c.Set(KeyCredential, raw)
		c.Request = c.Request.WithContext(todo.WithClaims(c.Request.Context(), claims))

		c.Next()
	}
}

// RequireSession responds with 401 unless Session stored claims for the request.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetClaims(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
			return
		}
		c.Next()
	}
}

// --- Context helpers ---

// GetUserID returns the signed-in user ID from the Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(KeyUserID)
}

// GetEmail returns the user's email from the Gin context.
func GetEmail(c *gin.Context) string {
	return c.GetString(KeyEmail)
}

// GetName returns the user's display name from the Gin context.
func GetName(c *gin.Context) string {
	return c.GetString(KeyName)
}

// GetCredential returns the raw bearer from the Gin context.
func GetCredential(c *gin.Context) string {
	return c.GetString(KeyCredential)
}

// GetClaims returns the decoded claims from the Gin context.
func GetClaims(c *gin.Context) *todo.Claims {
	v, _ := c.Get(KeyClaims)
	cl, _ := v.(*todo.Claims)
	return cl
}

// --- internal helpers ---

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
