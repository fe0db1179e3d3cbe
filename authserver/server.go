// Package authserver serves the browser-facing authentication routes of the
// to-do web app: the signup proxy, credential and social sign-in, the
// session lookup and sign-out.
//
// The server keeps no user records. Credentials are checked by the task API;
// the bearer it issues is handed to the browser in an HttpOnly cookie.
package authserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/audit"
	"github.com/chimerakang/todo-go/federation"
	"github.com/chimerakang/todo-go/metrics"
	"github.com/chimerakang/todo-go/middleware/ginmw"
	"github.com/chimerakang/todo-go/token"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateCookie carries the federation state between sign-in and callback.
const StateCookie = "todo_oauth_state"

// Backend defines the task API calls the server depends on.
// *api.Client implements it.
type Backend interface {
	Login(ctx context.Context, email, password string) todo.Result[todo.AuthResponse]
	FederatedSignIn(ctx context.Context, claims todo.ProviderClaims) todo.Result[todo.AuthResponse]
}

// Server holds the routes and their dependencies.
type Server struct {
	apiURL     *url.URL
	backend    Backend
	httpClient *http.Client
	providers  map[string]todo.FederationProvider
	states     *federation.States

	logger   *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	audit    *audit.Logger

	corsOrigins  []string
	rateLimit    int
	limiter      *RateLimiter
	afterLogin   string
	afterLogout  string
	secureCookie bool
	now          func() time.Time

	engine *gin.Engine
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records sign-in outcomes on m and serves g at /metrics.
// A nil g leaves /metrics unregistered.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithAuditLogger sets the audit event sink.
func WithAuditLogger(a *audit.Logger) Option {
	return func(s *Server) { s.audit = a }
}

// WithFederation registers an external identity provider under providerID.
func WithFederation(providerID string, p todo.FederationProvider) Option {
	return func(s *Server) { s.providers[providerID] = p }
}

// WithHTTPClient sets the client used by the signup proxy.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpClient = c }
}

// WithCORSOrigins sets the origins allowed to call the routes with credentials.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithRateLimit sets credential and signup requests per minute per client.
// Zero disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) { s.rateLimit = perMinute }
}

// WithRedirects overrides the post-login and post-logout destinations.
func WithRedirects(afterLogin, afterLogout string) Option {
	return func(s *Server) {
		if afterLogin != "" {
			s.afterLogin = afterLogin
		}
		if afterLogout != "" {
			s.afterLogout = afterLogout
		}
	}
}

// WithSecureCookies marks cookies Secure. Enable behind https.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) { s.secureCookie = secure }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server proxying to the task API at apiURL.
func New(apiURL string, backend Backend, opts ...Option) (*Server, error) {
	if err := todo.ValidateAPIURL(apiURL); err != nil {
		return nil, fmt.Errorf("todo/authserver: %w", err)
	}
	u, _ := url.Parse(strings.TrimRight(apiURL, "/"))

	s := &Server{
		apiURL:      u,
		backend:     backend,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		providers:   make(map[string]todo.FederationProvider),
		corsOrigins: []string{"http://localhost:3000"},
		rateLimit:   20,
		afterLogin:  todo.DefaultAfterLogin,
		afterLogout: todo.DefaultAfterLogout,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.states = federation.NewStates(federation.DefaultStateTTL, s.now)
	if s.rateLimit > 0 {
		s.limiter = NewRateLimiter(s.rateLimit, 5*time.Minute)
	}
	s.engine = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Close stops background work.
func (s *Server) Close() error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	auth := r.Group("/api/auth")
	auth.Any("/signup", s.limited(s.handleSignup)...)
	auth.POST("/callback/credentials", s.limited(s.handleCredentials)...)
	auth.GET("/signin/:provider", s.handleSignIn)
	auth.GET("/callback/:provider", s.handleCallback)
	auth.GET("/session", ginmw.Session(ginmw.WithClock(s.now)), s.handleSession)
	auth.POST("/signout", ginmw.Session(ginmw.WithClock(s.now)), s.handleSignOut)
	return r
}

// limited prefixes h with the rate limiter when one is configured.
func (s *Server) limited(h gin.HandlerFunc) []gin.HandlerFunc {
	if s.limiter == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{s.limiter.Middleware(), h}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.InfoContext(c.Request.Context(), "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// --- signup proxy ---

// handleSignup forwards the body to the task API's signup endpoint and
// mirrors its status and JSON body.
func (s *Server) handleSignup(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"message": "Method not allowed"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	target := s.apiURL.JoinPath("api", "auth", "signup").String()
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		s.internalError(c, "build signup request", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.internalError(c, "signup proxy", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	var data json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		s.internalError(c, "decode signup response", err)
		return
	}

	ev := audit.Event{Action: audit.ActionSignup, Result: audit.ResultSuccess, IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
	if resp.StatusCode >= 300 {
		ev.Result = audit.ResultFailure
		ev.Error = http.StatusText(resp.StatusCode)
	}
	s.audit.Log(c.Request.Context(), ev)

	c.Data(resp.StatusCode, "application/json; charset=utf-8", data)
}

func (s *Server) internalError(c *gin.Context, what string, err error) {
	s.logger.ErrorContext(c.Request.Context(), what+" failed", slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
}

// --- credentials ---

type credentialsForm struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (s *Server) handleCredentials(c *gin.Context) {
	ctx := c.Request.Context()

	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		s.metrics.RecordAuthFailure("credentials", "malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "detail": err.Error()})
		return
	}
	form.Email = strings.TrimSpace(form.Email)
	if form.Email == "" || form.Password == "" {
		s.metrics.RecordAuthFailure("credentials", "validation")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email and password are required"})
		return
	}

	res := s.backend.Login(ctx, form.Email, form.Password)
	if !res.OK() {
		status := http.StatusUnauthorized
		reason := "invalid_credentials"
		if res.Status == 0 {
			status, reason = http.StatusBadGateway, "network"
		}
		s.metrics.RecordAuthFailure("credentials", reason)
		s.audit.Log(ctx, audit.Event{
			Action: audit.ActionLogin, Result: audit.ResultFailure, Email: form.Email,
			Error: res.Error, IP: c.ClientIP(), UserAgent: c.Request.UserAgent(),
		})
		c.JSON(status, gin.H{"error": res.Error})
		return
	}

	s.setSession(c, res.Data.AccessToken)
	s.metrics.RecordAuthSuccess("credentials")
	s.audit.Log(ctx, audit.Event{
		Action: audit.ActionLogin, Result: audit.ResultSuccess, UserID: res.Data.UserID,
		Email: form.Email, IP: c.ClientIP(), UserAgent: c.Request.UserAgent(),
	})
	c.JSON(http.StatusOK, gin.H{"ok": true, "url": s.afterLogin})
}

// --- federation ---

func (s *Server) handleSignIn(c *gin.Context) {
	providerID := c.Param("provider")
	p, ok := s.providers[providerID]
	if !ok {
		s.loginError(c, "OAuthSignin")
		return
	}

	state, err := s.states.Issue(providerID)
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "issue state failed", slog.Any("error", err))
		s.loginError(c, "OAuthSignin")
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/api/auth/callback",
		MaxAge:   int(federation.DefaultStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, p.AuthCodeURL(state))
}

func (s *Server) handleCallback(c *gin.Context) {
	ctx := c.Request.Context()
	providerID := c.Param("provider")

	http.SetCookie(c.Writer, &http.Cookie{Name: StateCookie, Path: "/api/auth/callback", MaxAge: -1, HttpOnly: true})

	fail := func(code string, err error) {
		s.metrics.RecordAuthFailure(providerID, "federation")
		s.audit.Log(ctx, audit.Event{
			Action: audit.ActionSocialLogin, Provider: providerID, Result: audit.ResultFailure,
			Error: todo.MessageOf(err), IP: c.ClientIP(), UserAgent: c.Request.UserAgent(),
		})
		s.logger.InfoContext(ctx, "social sign-in failed", slog.String("provider", providerID), slog.Any("error", err))
		s.loginError(c, code)
	}

	p, ok := s.providers[providerID]
	if !ok {
		fail("OAuthSignin", fmt.Errorf("unsupported provider %q", providerID))
		return
	}
	if e := c.Query("error"); e != "" {
		fail("AccessDenied", fmt.Errorf("provider returned %s", e))
		return
	}

	state := c.Query("state")
	cookie, _ := c.Cookie(StateCookie)
	if state == "" || cookie != state || !s.states.Redeem(providerID, state) {
		fail("OAuthCallback", fmt.Errorf("invalid or expired state"))
		return
	}

	claims, err := p.Exchange(ctx, c.Query("code"))
	if err != nil {
		fail("OAuthCallback", err)
		return
	}
	if claims.Provider == "" {
		claims.Provider = providerID
	}

	res := s.backend.FederatedSignIn(ctx, *claims)
	if !res.OK() {
		fail("OAuthCreateAccount", res.Err())
		return
	}

	s.setSession(c, res.Data.AccessToken)
	s.metrics.RecordAuthSuccess(providerID)
	s.audit.Log(ctx, audit.Event{
		Action: audit.ActionSocialLogin, Provider: providerID, Result: audit.ResultSuccess,
		UserID: res.Data.UserID, Email: claims.Email, IP: c.ClientIP(), UserAgent: c.Request.UserAgent(),
	})
	c.Redirect(http.StatusFound, s.afterLogin)
}

func (s *Server) loginError(c *gin.Context, code string) {
	c.Redirect(http.StatusFound, s.afterLogout+"?error="+url.QueryEscape(code))
}

// --- session ---

func (s *Server) handleSession(c *gin.Context) {
	claims := ginmw.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	resp := gin.H{
		"user": gin.H{
			"id":    claims.Subject,
			"email": claims.Email,
			"name":  claims.Name,
		},
		"accessToken": ginmw.GetCredential(c),
	}
	if !claims.ExpiresAt.IsZero() {
		resp["expires"] = claims.ExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSignOut(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     ginmw.SessionCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	s.audit.Log(c.Request.Context(), audit.Event{
		Action: audit.ActionLogout, Result: audit.ResultSuccess, UserID: ginmw.GetUserID(c),
		Email: ginmw.GetEmail(c), IP: c.ClientIP(), UserAgent: c.Request.UserAgent(),
	})
	c.JSON(http.StatusOK, gin.H{"url": s.afterLogout})
}

// setSession hands the bearer to the browser. The cookie expires with the
// credential when its expiry is readable.
func (s *Server) setSession(c *gin.Context, credential string) {
	cookie := &http.Cookie{
		Name:     ginmw.SessionCookie,
		Value:    credential,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if claims, err := token.Decode(credential); err == nil && !claims.ExpiresAt.IsZero() {
		cookie.Expires = claims.ExpiresAt
		if maxAge := int(claims.ExpiresAt.Sub(s.now()).Seconds()); maxAge > 0 {
			cookie.MaxAge = maxAge
		}
	}
	http.SetCookie(c.Writer, cookie)
}
