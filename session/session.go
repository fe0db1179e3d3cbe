// Package session provides the Manager that owns "who is logged in".
//
// A Manager is constructed once, explicitly, and handed to every component
// that needs the current identity. It signs in with credentials or through a
// federation provider, persists the bearer credential and an identity
// snapshot in a todo.Store so the session survives restarts, and drives
// navigation after sign-in and sign-out.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/audit"
	"github.com/chimerakang/todo-go/federation"
	"github.com/chimerakang/todo-go/metrics"
	"github.com/chimerakang/todo-go/token"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
)

// Keys of the persisted session slot. Both are written together and cleared together.
const (
	KeyToken = "todo.auth.token"
	KeyUser  = "todo.auth.user"
)

// MinPasswordLength is the shortest password accepted by Signup.
const MinPasswordLength = 6

// Backend defines the remote calls the Manager depends on.
// *api.Client implements it.
type Backend interface {
	Login(ctx context.Context, email, password string) todo.Result[todo.AuthResponse]
	Signup(ctx context.Context, email, password, name string) todo.Result[todo.SignupResponse]
	FederatedSignIn(ctx context.Context, claims todo.ProviderClaims) todo.Result[todo.AuthResponse]

	// SetCredential attaches the bearer to later requests.
	SetCredential(token string)
	ClearCredential()
}

// Manager implements todo.SessionManager.
type Manager struct {
	backend     Backend
	store       todo.Store
	navigator   todo.Navigator
	logger      *slog.Logger
	metrics     *metrics.Metrics
	audit       *audit.Logger
	providers   map[string]todo.FederationProvider
	states      *federation.States
	afterLogin  string
	afterLogout string
	now         func() time.Time

	resolveGroup  singleflight.Group
	exchangeGroup singleflight.Group

	mu       sync.RWMutex
	identity *todo.Identity
	loading  bool

	listenersMu  sync.Mutex
	listeners    map[int]func(todo.SessionState)
	nextListener int
}

var _ todo.SessionManager = (*Manager)(nil)

// Option configures the Manager.
type Option func(*Manager)

// WithStore sets the durable session slot. Without one, sessions last for the
// life of the process.
func WithStore(s todo.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithNavigator sets where post-login and post-logout navigation goes.
func WithNavigator(n todo.Navigator) Option {
	return func(m *Manager) { m.navigator = n }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithAuditLogger sets the audit event sink.
func WithAuditLogger(a *audit.Logger) Option {
	return func(m *Manager) { m.audit = a }
}

// WithFederation registers an external identity provider under providerID.
func WithFederation(providerID string, p todo.FederationProvider) Option {
	return func(m *Manager) { m.providers[providerID] = p }
}

// WithRedirects overrides the post-login and post-logout destinations.
// Empty values keep the defaults.
func WithRedirects(afterLogin, afterLogout string) Option {
	return func(m *Manager) {
		if afterLogin != "" {
			m.afterLogin = afterLogin
		}
		if afterLogout != "" {
			m.afterLogout = afterLogout
		}
	}
}

// WithClock overrides the time source used for credential expiry and state lifetime.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager. It starts in the loading state until Resolve, or
// the first sign-in attempt, settles it.
func New(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:     backend,
		providers:   make(map[string]todo.FederationProvider),
		afterLogin:  todo.DefaultAfterLogin,
		afterLogout: todo.DefaultAfterLogout,
		now:         time.Now,
		loading:     true,
		listeners:   make(map[int]func(todo.SessionState)),
	}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m.states = federation.NewStates(federation.DefaultStateTTL, m.now)
	return m
}

// --- read model ---

// State returns a snapshot of the read model.
func (m *Manager) State() todo.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() todo.SessionState {
	return todo.SessionState{
		Identity:      m.identity.Clone(),
		Loading:       m.loading,
		Authenticated: m.identity != nil,
	}
}

// Identity returns the signed-in identity, or nil.
func (m *Manager) Identity() *todo.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity.Clone()
}

// IsAuthenticated reports whether an identity is present.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity != nil
}

// IsLoading reports whether the initial resolution is still pending.
func (m *Manager) IsLoading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Subscribe registers fn to receive the new state after every change.
// Listeners run synchronously on the goroutine that made the change.
func (m *Manager) Subscribe(fn func(todo.SessionState)) (cancel func()) {
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			delete(m.listeners, id)
			m.listenersMu.Unlock()
		})
	}
}

// apply replaces the identity, settles loading and notifies listeners when
// anything changed.
func (m *Manager) apply(identity *todo.Identity) {
	m.mu.Lock()
	changed := m.loading || m.identity != identity
	m.identity = identity
	m.loading = false
	state := m.stateLocked()
	m.mu.Unlock()

	m.metrics.SetAuthenticated(identity != nil)
	if changed {
		m.publish(state)
	}
}

// settle ends the loading state without touching the identity.
func (m *Manager) settle() {
	m.mu.Lock()
	if !m.loading {
		m.mu.Unlock()
		return
	}
	m.loading = false
	state := m.stateLocked()
	m.mu.Unlock()
	m.publish(state)
}

func (m *Manager) publish(state todo.SessionState) {
	m.listenersMu.Lock()
	fns := make([]func(todo.SessionState), 0, len(m.listeners))
	for i := 0; i < m.nextListener; i++ {
		if fn, ok := m.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// --- startup ---

// Resolve restores the session persisted by an earlier process. The
// credential must decode, must not be expired, and must belong to the
// persisted identity; otherwise both slots are cleared. Concurrent callers
// share one resolution.
func (m *Manager) Resolve(ctx context.Context) (todo.SessionState, error) {
	_, err, _ := m.resolveGroup.Do("resolve", func() (interface{}, error) {
		return nil, m.resolve(ctx)
	})
	return m.State(), err
}

func (m *Manager) resolve(ctx context.Context) error {
	if m.store == nil {
		m.settle()
		return nil
	}

	raw, err := m.store.Get(ctx, KeyToken)
	if errors.Is(err, todo.ErrNotFound) {
		m.clearSlots(ctx)
		m.apply(nil)
		return nil
	}
	if err != nil {
		m.storeError(ctx, "get", err)
		m.apply(nil)
		return fmt.Errorf("todo/session: read credential: %w", err)
	}

	identity, reason := m.restore(ctx, string(raw))
	if identity == nil {
		m.logger.InfoContext(ctx, "discarding persisted session", slog.String("reason", reason))
		m.clearSlots(ctx)
		m.backend.ClearCredential()
		m.apply(nil)
		m.audit.Log(ctx, audit.Event{Action: audit.ActionRestore, Result: audit.ResultFailure, Error: reason})
		return nil
	}

	m.backend.SetCredential(identity.Credential)
	m.apply(identity)
	m.logger.InfoContext(ctx, "session restored", slog.String("user_id", identity.ID))
	m.audit.Log(ctx, audit.Event{Action: audit.ActionRestore, Result: audit.ResultSuccess, UserID: identity.ID, Email: identity.Email})
	return nil
}

// restore validates a persisted credential against the identity snapshot.
// A nil identity comes with the reason it was rejected. Opaque credentials
// carry no claims, so they are kept only alongside a snapshot and left for
// the backend to reject.
func (m *Manager) restore(ctx context.Context, raw string) (*todo.Identity, string) {
	claims, err := token.DecodeValid(raw, m.now())
	opaque := false
	if err != nil {
		if !errors.Is(err, token.ErrMalformed) {
			return nil, "expired credential"
		}
		opaque = true
	}

	var identity *todo.Identity
	data, err := m.store.Get(ctx, KeyUser)
	switch {
	case err == nil:
		var snap todo.Identity
		if jsonErr := json.Unmarshal(data, &snap); jsonErr == nil && snap.ID != "" {
			identity = &snap
		}
	case !errors.Is(err, todo.ErrNotFound):
		m.storeError(ctx, "get", err)
	}

	switch {
	case opaque:
		if identity == nil {
			return nil, "malformed credential"
		}
	case identity == nil:
		identity = &todo.Identity{ID: claims.Subject, Email: claims.Email, Name: claims.Name}
	case claims.Subject != "" && claims.Subject != identity.ID:
		return nil, "credential subject does not match identity"
	}
	if identity.ID == "" {
		return nil, "credential has no subject"
	}
	identity.Credential = raw
	return identity, ""
}

// --- credentials ---

var validate = validator.New(validator.WithRequiredStructEnabled())

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type signupForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

// Login signs in with email and password and navigates to the post-login
// destination. Invalid input fails with *todo.ValidationError before any
// request; rejected credentials fail with *todo.AuthenticationError and leave
// the identity unchanged.
func (m *Manager) Login(ctx context.Context, email, password string) (*todo.Identity, error) {
	email = strings.TrimSpace(email)
	identity, err := m.login(ctx, email, password, "")
	m.settle()
	if err != nil {
		m.recordFailure(ctx, audit.ActionLogin, "credentials", "", email, err)
		return nil, err
	}
	m.recordSuccess(ctx, audit.ActionLogin, "credentials", "", identity)
	m.navigate(ctx, m.afterLogin)
	return identity.Clone(), nil
}

func (m *Manager) login(ctx context.Context, email, password, name string) (*todo.Identity, error) {
	if err := validate.Struct(loginForm{Email: email, Password: password}); err != nil {
		return nil, validationError(err)
	}

	res := m.backend.Login(ctx, email, password)
	if !res.OK() {
		var ae *todo.AuthenticationError
		if errors.As(res.Err(), &ae) {
			return nil, ae
		}
		return nil, &todo.AuthenticationError{Status: res.Status, Message: res.Error}
	}
	return m.establish(ctx, res.Data, profile{email: email, name: name})
}

// Signup creates an account and then signs in with the same credentials.
// A duplicate email fails with *todo.AccountExistsError. When the account is
// created but the follow-up sign-in fails, the error is
// *todo.AutoLoginAfterSignupError.
func (m *Manager) Signup(ctx context.Context, email, password, name string) (*todo.Identity, error) {
	email = strings.TrimSpace(email)
	identity, err := m.signup(ctx, email, password, strings.TrimSpace(name))
	m.settle()
	if err != nil {
		m.recordFailure(ctx, audit.ActionSignup, "signup", "", email, err)
		return nil, err
	}
	m.recordSuccess(ctx, audit.ActionSignup, "signup", "", identity)
	m.navigate(ctx, m.afterLogin)
	return identity.Clone(), nil
}

func (m *Manager) signup(ctx context.Context, email, password, name string) (*todo.Identity, error) {
	if err := validate.Struct(signupForm{Email: email, Password: password}); err != nil {
		return nil, validationError(err)
	}

	res := m.backend.Signup(ctx, email, password, name)
	if !res.OK() {
		return nil, res.Err()
	}
	m.logger.InfoContext(ctx, "account created", slog.String("user_id", res.Data.AccountID()))

	identity, err := m.login(ctx, email, password, name)
	if err != nil {
		return nil, &todo.AutoLoginAfterSignupError{Email: email, Err: err}
	}
	return identity, nil
}

// profile carries what the caller knows about the user beyond the sign-in
// response.
type profile struct {
	email string
	name  string
	image string
}

// establish turns a sign-in response into the current identity: the backend
// receives the credential, the slot is written, and listeners are notified.
func (m *Manager) establish(ctx context.Context, resp todo.AuthResponse, p profile) (*todo.Identity, error) {
	if resp.AccessToken == "" {
		return nil, &todo.AuthenticationError{Message: "Login failed"}
	}

	identity := &todo.Identity{
		ID:         resp.UserID,
		Email:      resp.Email,
		Image:      p.image,
		Credential: resp.AccessToken,
		CreatedAt:  resp.CreatedAt.Time,
		UpdatedAt:  resp.UpdatedAt.Time,
	}
	if claims, err := token.Decode(resp.AccessToken); err == nil {
		if identity.ID == "" {
			identity.ID = claims.Subject
		}
		if identity.Email == "" {
			identity.Email = claims.Email
		}
		identity.Name = claims.Name
	} else {
		m.logger.DebugContext(ctx, "credential is not a decodable JWT", slog.Any("error", err))
	}
	if identity.Email == "" {
		identity.Email = p.email
	}
	// Backends fall back to the email when no display name is known.
	if p.name != "" && (identity.Name == "" || identity.Name == identity.Email) {
		identity.Name = p.name
	}
	if identity.ID == "" {
		return nil, &todo.AuthenticationError{Message: "Login response carried no user id"}
	}

	m.backend.SetCredential(identity.Credential)
	m.persist(ctx, identity)
	m.apply(identity)
	return identity, nil
}

// --- federation ---

// LoginWithSocialProvider starts a federation flow: it issues a single-use
// state, navigates to the provider's consent screen and returns its URL.
func (m *Manager) LoginWithSocialProvider(ctx context.Context, providerID string) (string, error) {
	p, ok := m.providers[providerID]
	if !ok {
		err := &todo.FederationError{Provider: providerID, Message: "unsupported provider"}
		m.recordFailure(ctx, audit.ActionSocialLogin, providerID, providerID, "", err)
		return "", err
	}

	state, err := m.states.Issue(providerID)
	if err != nil {
		return "", &todo.FederationError{Provider: providerID, Message: "could not start sign-in", Err: err}
	}
	target := p.AuthCodeURL(state)
	m.logger.DebugContext(ctx, "starting social sign-in", slog.String("provider", providerID))
	m.navigate(ctx, target)
	return target, nil
}

// CompleteSocialLogin finishes a federation flow from its callback
// parameters. Duplicate deliveries of the same code and state share one
// exchange; a different state always goes through its own redemption.
func (m *Manager) CompleteSocialLogin(ctx context.Context, providerID, code, state string) (*todo.Identity, error) {
	v, err, _ := m.exchangeGroup.Do(providerID+"\x00"+code+"\x00"+state, func() (interface{}, error) {
		identity, err := m.completeSocial(ctx, providerID, code, state)
		m.settle()
		if err != nil {
			m.recordFailure(ctx, audit.ActionSocialLogin, providerID, providerID, "", err)
			return nil, err
		}
		m.recordSuccess(ctx, audit.ActionSocialLogin, providerID, providerID, identity)
		m.navigate(ctx, m.afterLogin)
		return identity, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*todo.Identity).Clone(), nil
}

func (m *Manager) completeSocial(ctx context.Context, providerID, code, state string) (*todo.Identity, error) {
	p, ok := m.providers[providerID]
	if !ok {
		return nil, &todo.FederationError{Provider: providerID, Message: "unsupported provider"}
	}
	if code == "" {
		return nil, &todo.FederationError{Provider: providerID, Message: "missing authorization code"}
	}
	if !m.states.Redeem(providerID, state) {
		return nil, &todo.FederationError{Provider: providerID, Message: "invalid or expired state"}
	}

	pc, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, &todo.FederationError{Provider: providerID, Message: "could not verify your account", Err: err}
	}
	if pc.Provider == "" {
		pc.Provider = providerID
	}

	res := m.backend.FederatedSignIn(ctx, *pc)
	if !res.OK() {
		var fe *todo.FederationError
		if errors.As(res.Err(), &fe) {
			return nil, fe
		}
		return nil, &todo.FederationError{Provider: providerID, Message: res.Error, Err: res.Err()}
	}

	identity, err := m.establish(ctx, res.Data, profile{email: pc.Email, name: pc.Name, image: pc.Picture})
	if err != nil {
		return nil, &todo.FederationError{Provider: providerID, Message: todo.MessageOf(err), Err: err}
	}
	return identity, nil
}

// --- logout ---

// Logout clears the identity, the persisted slot and the backend credential,
// then navigates to the unauthenticated entry point. It always succeeds.
func (m *Manager) Logout(ctx context.Context) {
	prev := m.Identity()

	m.backend.ClearCredential()
	m.clearSlots(ctx)
	m.apply(nil)

	ev := audit.Event{Action: audit.ActionLogout, Result: audit.ResultSuccess}
	if prev != nil {
		ev.UserID, ev.Email = prev.ID, prev.Email
		m.logger.InfoContext(ctx, "signed out", slog.String("user_id", prev.ID))
	}
	m.audit.Log(ctx, ev)
	m.navigate(ctx, m.afterLogout)
}

// --- side effects ---

func (m *Manager) navigate(ctx context.Context, dest string) {
	if m.navigator == nil || dest == "" {
		return
	}
	m.navigator.Navigate(ctx, dest)
}

// persist writes both slots. A failed write removes whatever was written so
// the slot never holds a credential without its identity.
func (m *Manager) persist(ctx context.Context, identity *todo.Identity) {
	if m.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	snap, err := json.Marshal(identity)
	if err != nil {
		m.storeError(ctx, "encode", err)
		return
	}
	if err := m.store.Set(ctx, KeyToken, []byte(identity.Credential)); err != nil {
		m.storeError(ctx, "set", err)
		m.clearSlots(ctx)
		return
	}
	if err := m.store.Set(ctx, KeyUser, snap); err != nil {
		m.storeError(ctx, "set", err)
		m.clearSlots(ctx)
	}
}

func (m *Manager) clearSlots(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.Delete(context.WithoutCancel(ctx), KeyToken, KeyUser); err != nil {
		m.storeError(ctx, "delete", err)
	}
}

func (m *Manager) storeError(ctx context.Context, op string, err error) {
	m.metrics.RecordStoreError(op)
	m.logger.WarnContext(ctx, "session store error", slog.String("op", op), slog.Any("error", err))
}

func (m *Manager) recordSuccess(ctx context.Context, action, method, provider string, identity *todo.Identity) {
	m.metrics.RecordAuthSuccess(method)
	m.logger.InfoContext(ctx, "signed in",
		slog.String("method", method),
		slog.String("user_id", identity.ID),
	)
	m.audit.Log(ctx, audit.Event{
		Action:   action,
		Provider: provider,
		Result:   audit.ResultSuccess,
		UserID:   identity.ID,
		Email:    identity.Email,
	})
}

func (m *Manager) recordFailure(ctx context.Context, action, method, provider, email string, err error) {
	reason := failureReason(err)
	m.metrics.RecordAuthFailure(method, reason)
	m.logger.InfoContext(ctx, "sign-in failed",
		slog.String("method", method),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
	m.audit.Log(ctx, audit.Event{
		Action:   action,
		Provider: provider,
		Result:   audit.ResultFailure,
		Email:    email,
		Error:    todo.MessageOf(err),
	})
}

func failureReason(err error) string {
	var (
		ve  *todo.ValidationError
		ae  *todo.AccountExistsError
		ale *todo.AutoLoginAfterSignupError
		fe  *todo.FederationError
		aue *todo.AuthenticationError
	)
	switch {
	case errors.Is(err, todo.ErrNetwork):
		return "network"
	case errors.As(err, &ale):
		return "auto_login"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ae):
		return "account_exists"
	case errors.As(err, &fe):
		return "federation"
	case errors.As(err, &aue):
		if aue.Message == todo.NetworkErrorMessage {
			return "network"
		}
		return "invalid_credentials"
	default:
		return "error"
	}
}

// validationError converts the first validator failure into a
// *todo.ValidationError with a message suitable for display.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &todo.ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "email":
		msg = "must be a valid email address"
	case "min":
		msg = fmt.Sprintf("must be at least %s characters", fe.Param())
	default:
		msg = "is invalid"
	}
	return &todo.ValidationError{Field: field, Message: msg}
}
