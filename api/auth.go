package api

import (
	"context"
	"net/http"
	"strings"

	todo "github.com/chimerakang/todo-go"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// Login exchanges email and password for a bearer credential.
// The password leaves the process only in this request body.
func (c *Client) Login(ctx context.Context, email, password string) todo.Result[todo.AuthResponse] {
	return send[todo.AuthResponse](ctx, c, call{
		op:       "login",
		method:   http.MethodPost,
		segments: []string{"auth", "login"},
		body:     credentialsRequest{Email: email, Password: password},
		fallback: "Login failed",
		classify: func(status int, msg string) error {
			return &todo.AuthenticationError{Status: status, Message: msg}
		},
	})
}

// Signup creates an account. It does not sign in.
func (c *Client) Signup(ctx context.Context, email, password, name string) todo.Result[todo.SignupResponse] {
	return send[todo.SignupResponse](ctx, c, call{
		op:       "signup",
		method:   http.MethodPost,
		segments: []string{"auth", "signup"},
		body:     credentialsRequest{Email: email, Password: password, Name: name},
		fallback: "Signup failed",
		classify: func(status int, msg string) error {
			return classifySignup(email, status, msg)
		},
	})
}

func classifySignup(email string, status int, msg string) error {
	lower := strings.ToLower(msg)
	if status == http.StatusConflict || strings.Contains(lower, "already registered") || strings.Contains(lower, "already exists") {
		return &todo.AccountExistsError{Email: email, Message: msg}
	}
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return &todo.ValidationError{Message: msg}
	}
	return &todo.ResourceError{Op: "signup", Status: status, Message: msg}
}

type googleSignInRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	GoogleID string `json:"google_id"`
}

// FederatedSignIn exchanges provider-asserted claims for a local bearer
// credential. The backend creates the local user, keyed by email, when it
// does not exist yet.
func (c *Client) FederatedSignIn(ctx context.Context, claims todo.ProviderClaims) todo.Result[todo.AuthResponse] {
	if claims.Provider != "google" {
		return todo.Failure[todo.AuthResponse](&todo.FederationError{
			Provider: claims.Provider,
			Message:  "provider is not supported by the API",
			Err:      errUnsupportedProvider,
		}, 0)
	}
	if claims.Email == "" {
		return todo.Failure[todo.AuthResponse](&todo.FederationError{
			Provider: claims.Provider,
			Message:  "provider did not return an email",
		}, 0)
	}
	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	return send[todo.AuthResponse](ctx, c, call{
		op:       "federated_sign_in",
		method:   http.MethodPost,
		segments: []string{"auth", "google-signin"},
		body:     googleSignInRequest{Email: claims.Email, Name: name, GoogleID: claims.Subject},
		fallback: "Google sign-in failed",
		classify: func(status int, msg string) error {
			return &todo.FederationError{Provider: claims.Provider, Message: msg}
		},
	})
}
