package todo

import "context"

// SessionManager owns "who is logged in".
// Implementations: session/ (backed by the API client).
type SessionManager interface {
	// Resolve performs the startup identity resolution from durable storage.
	Resolve(ctx context.Context) (SessionState, error)

	// Login signs in with email and password.
	Login(ctx context.Context, email, password string) (*Identity, error)

	// Signup creates an account and signs in with the same credentials.
	Signup(ctx context.Context, email, password, name string) (*Identity, error)

	// LoginWithSocialProvider starts a federation flow and returns the URL the
	// user must visit.
	LoginWithSocialProvider(ctx context.Context, providerID string) (string, error)

	// CompleteSocialLogin finishes a federation flow from its callback parameters.
	CompleteSocialLogin(ctx context.Context, providerID, code, state string) (*Identity, error)

	// Logout clears the identity. It always succeeds.
	Logout(ctx context.Context)

	// State returns the current read model.
	State() SessionState
}

// TaskService manages the signed-in user's tasks.
// Implementations: tasks/.
type TaskService interface {
	List(ctx context.Context) ([]Task, error)
	Get(ctx context.Context, taskID string) (*Task, error)
	Create(ctx context.Context, in TaskInput) (*Task, error)
	Update(ctx context.Context, taskID string, patch TaskPatch) (*Task, error)
	SetCompleted(ctx context.Context, taskID string, completed bool) (*Task, error)
	Delete(ctx context.Context, taskID string) error
}

// Store is the durable key/value slot that lets a session survive restarts.
// Implementations: store/ (memory, file, redis, sqlite).
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Close releases resources held by the store.
	Close() error
}

// Navigator moves the user interface to a destination (a path or a URL).
type Navigator interface {
	Navigate(ctx context.Context, destination string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, destination string)

// Navigate calls f.
func (f NavigatorFunc) Navigate(ctx context.Context, destination string) { f(ctx, destination) }

// FederationProvider is an external identity provider reached through an
// authorization-code redirect.
// Implementations: federation/ (Google).
type FederationProvider interface {
	// AuthCodeURL returns the URL that starts the flow for the given state.
	AuthCodeURL(state string) string

	// Exchange trades the callback code for the provider-asserted identity.
	Exchange(ctx context.Context, code string) (*ProviderClaims, error)
}
