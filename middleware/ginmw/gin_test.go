package ginmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func bearer(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"name":  "Alice",
		"exp":   exp.Unix(),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// newRouter records what the handler saw.
func newRouter(seen *string, opts ...SessionOption) *gin.Engine {
	r := gin.New()
	r.Use(Session(opts...))
	r.GET("/open", func(c *gin.Context) {
		*seen = GetUserID(c)
		c.Status(http.StatusOK)
	})
	r.GET("/private", RequireSession(), func(c *gin.Context) {
		*seen = GetUserID(c)
		if todo.ClaimsFromContext(c.Request.Context()) == nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"email": GetEmail(c), "name": GetName(c), "token": GetCredential(c)})
	})
	return r
}

func TestSession_BearerHeader(t *testing.T) {
	var seen string
	r := newRouter(&seen)
	tok := bearer(t, "user123", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if seen != "user123" {
		t.Errorf("user id = %q, want user123", seen)
	}
}

func TestSession_Cookie(t *testing.T) {
	var seen string
	r := newRouter(&seen)
	tok := bearer(t, "user123", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tok})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || seen != "user123" {
		t.Fatalf("status = %d, user id = %q", w.Code, seen)
	}
}

func TestSession_CustomCookieName(t *testing.T) {
	var seen string
	r := newRouter(&seen, WithCookieName("sid"))
	tok := bearer(t, "user123", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: tok})
	r.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "user123" {
		t.Errorf("user id = %q, want user123", seen)
	}
}

func TestSession_RejectedCredentials(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"malformed", "not-a-jwt"},
		{"expired", bearer(t, "user123", now.Add(-time.Minute))},
		{"no subject", bearer(t, "", now.Add(time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := "untouched"
			r := newRouter(&seen)

			req := httptest.NewRequest(http.MethodGet, "/open", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusOK || seen != "" {
				t.Errorf("open route: status = %d, user id = %q", w.Code, seen)
			}

			req = httptest.NewRequest(http.MethodGet, "/private", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w = httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("private route: status = %d, want 401", w.Code)
			}
		})
	}
}

func TestSession_Clock(t *testing.T) {
	var seen string
	exp := time.Now().Add(time.Hour)
	r := newRouter(&seen, WithClock(func() time.Time { return exp.Add(time.Second) }))

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("Authorization", "Bearer "+bearer(t, "user123", exp))
	r.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "" {
		t.Errorf("credential past expiry should be ignored, got user %q", seen)
	}
}

func TestSession_ExcludedPaths(t *testing.T) {
	var seen string
	r := newRouter(&seen, WithExcludedPaths("/open"))

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("Authorization", "Bearer "+bearer(t, "user123", time.Now().Add(time.Hour)))
	r.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "" {
		t.Errorf("excluded path should skip decoding, got user %q", seen)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header, want string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := extractBearerToken(req); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
