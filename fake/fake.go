// Package fake provides an in-memory implementation of the remote task API for testing.
//
// Serve it with httptest.NewServer(fake.NewServer(...)) and point api.New at
// the test server URL to exercise the client without a real backend.
package fake

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Option configures the fake server.
type Option func(*Server)

type user struct {
	id           string
	email        string
	name         string
	passwordHash []byte
	createdAt    time.Time
	updatedAt    time.Time
}

// Server is an in-memory task API. It implements http.Handler.
type Server struct {
	mu      sync.RWMutex
	users   map[string]*user                 // userID → user
	byEmail map[string]string                // email → userID
	tasks   map[string]map[string]*todo.Task // userID → taskID → task

	secret     []byte
	tokenTTL   time.Duration
	failLogins bool
	now        func() time.Time

	engine *gin.Engine
}

// WithUser adds a user with the given id, email and password.
func WithUser(id, email, password string) Option {
	return func(s *Server) {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			panic(fmt.Sprintf("fake: hash password: %v", err))
		}
		now := s.now()
		s.users[id] = &user{id: id, email: email, name: email, passwordHash: hash, createdAt: now, updatedAt: now}
		s.byEmail[email] = id
	}
}

// WithTask adds a task owned by userID.
func WithTask(userID string, task todo.Task) Option {
	return func(s *Server) {
		task.UserID = userID
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		if s.tasks[userID] == nil {
			s.tasks[userID] = make(map[string]*todo.Task)
		}
		s.tasks[userID][task.ID] = &task
	}
}

// WithTokenTTL sets the lifetime of issued bearer credentials. Default: 1 hour.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// WithSecret sets the HS256 signing secret for issued credentials.
func WithSecret(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

// NewServer creates an in-memory API server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		users:    make(map[string]*user),
		byEmail:  make(map[string]string),
		tasks:    make(map[string]map[string]*todo.Task),
		secret:   []byte("fake-secret"),
		tokenTTL: time.Hour,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.engine = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// FailLogins makes every login attempt fail with 401 while enabled.
func (s *Server) FailLogins(fail bool) {
	s.mu.Lock()
	s.failLogins = fail
	s.mu.Unlock()
}

// UserID returns the id registered for email, or "".
func (s *Server) UserID(email string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byEmail[email]
}

// UserCount returns the number of registered users.
func (s *Server) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// IssueToken returns a bearer credential for userID.
func (s *Server) IssueToken(userID string) (string, error) {
	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("fake: user %q not found", userID)
	}
	return s.sign(u)
}

func (s *Server) sign(u *user) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   u.id,
		"email": u.email,
		"name":  u.name,
		"iss":   "fake",
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/auth/login", s.handleLogin)
	r.POST("/auth/signup", s.handleSignup)
	r.POST("/api/auth/signup", s.handleSignup)
	r.POST("/auth/google-signin", s.handleGoogleSignIn)

	tasks := r.Group("/users/:user_id/tasks", s.requireOwner)
	tasks.GET("", s.handleListTasks)
	tasks.POST("", s.handleCreateTask)
	tasks.GET("/:task_id", s.handleGetTask)
	tasks.PUT("/:task_id", s.handleUpdateTask)
	tasks.PATCH("/:task_id/complete", s.handleCompleteTask)
	tasks.DELETE("/:task_id", s.handleDeleteTask)

	return r
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

// --- auth ---

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) authResponse(u *user) (gin.H, error) {
	tok, err := s.sign(u)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"access_token": tok,
		"token_type":   "bearer",
		"user_id":      u.id,
		"email":        u.email,
		"created_at":   u.createdAt.UTC().Format("2006-01-02T15:04:05.000000"),
		"updated_at":   u.updatedAt.UTC().Format("2006-01-02T15:04:05.000000"),
	}, nil
}

func (s *Server) handleLogin(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.RLock()
	fail := s.failLogins
	var u *user
	if id, ok := s.byEmail[req.Email]; ok {
		u = s.users[id]
	}
	s.mu.RUnlock()

	if fail || u == nil || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
		detail(c, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	resp, err := s.authResponse(u)
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSignup(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if !strings.Contains(req.Email, "@") {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"detail": []gin.H{{"loc": []string{"body", "email"}, "msg": "value is not a valid email address"}},
		})
		return
	}
	if len(req.Password) < 6 {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"detail": []gin.H{{"loc": []string{"body", "password"}, "msg": "Password must be at least 6 characters"}},
		})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[req.Email]; exists {
		detail(c, http.StatusConflict, fmt.Sprintf("Email %s is already registered", req.Email))
		return
	}
	now := s.now()
	name := req.Name
	if name == "" {
		name = req.Email
	}
	u := &user{id: uuid.NewString(), email: req.Email, name: name, passwordHash: hash, createdAt: now, updatedAt: now}
	s.users[u.id] = u
	s.byEmail[u.email] = u.id

	c.JSON(http.StatusOK, gin.H{"message": "User created successfully", "userId": u.id, "email": u.email})
}

type googleSignIn struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	GoogleID string `json:"google_id"`
}

func (s *Server) handleGoogleSignIn(c *gin.Context) {
	var req googleSignIn
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		detail(c, http.StatusUnprocessableEntity, "email is required")
		return
	}

	s.mu.Lock()
	var u *user
	if id, ok := s.byEmail[req.Email]; ok {
		u = s.users[id]
	} else {
		// Federated users never log in with a password; store a random one.
		buf := make([]byte, 32)
		_, _ = rand.Read(buf)
		hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(buf)[:64]), bcrypt.MinCost)
		if err != nil {
			s.mu.Unlock()
			detail(c, http.StatusInternalServerError, err.Error())
			return
		}
		now := s.now()
		u = &user{id: uuid.NewString(), email: req.Email, name: req.Name, passwordHash: hash, createdAt: now, updatedAt: now}
		s.users[u.id] = u
		s.byEmail[u.email] = u.id
	}
	s.mu.Unlock()

	resp, err := s.authResponse(u)
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

// --- tasks ---

func (s *Server) requireOwner(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || raw == "" {
		detail(c, http.StatusUnauthorized, "Not authenticated")
		return
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		detail(c, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	sub, _ := claims["sub"].(string)
	if sub != c.Param("user_id") {
		detail(c, http.StatusForbidden, "Not authorized to access this user's tasks")
		return
	}
	c.Next()
}

func (s *Server) findTask(c *gin.Context) (*todo.Task, bool) {
	userID, taskID := c.Param("user_id"), c.Param("task_id")
	t, ok := s.tasks[userID][taskID]
	if !ok {
		detail(c, http.StatusNotFound, fmt.Sprintf("Task %s not found", taskID))
		return nil, false
	}
	return t, true
}

func (s *Server) handleListTasks(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]todo.Task, 0, len(s.tasks[c.Param("user_id")]))
	for _, t := range s.tasks[c.Param("user_id")] {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b todo.Task) int {
		if n := a.CreatedAt.Compare(b.CreatedAt.Time); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var in todo.TaskInput
	if err := c.ShouldBindJSON(&in); err != nil || strings.TrimSpace(in.Title) == "" {
		detail(c, http.StatusUnprocessableEntity, "title is required")
		return
	}

	userID := c.Param("user_id")
	now := todo.Timestamp{Time: s.now().UTC()}
	t := &todo.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		Completed:   in.Completed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	if s.tasks[userID] == nil {
		s.tasks[userID] = make(map[string]*todo.Task)
	}
	s.tasks[userID][t.ID] = t
	out := *t
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetTask(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.findTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, *t)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var patch todo.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.findTask(c)
	if !ok {
		return
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Completed != nil {
		t.Completed = *patch.Completed
	}
	t.UpdatedAt = todo.Timestamp{Time: s.now().UTC()}
	c.JSON(http.StatusOK, *t)
}

func (s *Server) handleCompleteTask(c *gin.Context) {
	var body struct {
		Completed *bool `json:"completed"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.findTask(c)
	if !ok {
		return
	}
	if body.Completed != nil {
		t.Completed = *body.Completed
	}
	t.UpdatedAt = todo.Timestamp{Time: s.now().UTC()}
	c.JSON(http.StatusOK, *t)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.findTask(c); !ok {
		return
	}
	delete(s.tasks[c.Param("user_id")], c.Param("task_id"))
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted successfully"})
}
