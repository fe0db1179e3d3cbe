package todo

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Store when a key has no value.
	ErrNotFound = errors.New("todo: not found")

	// ErrNetwork is matched by every TransportError.
	ErrNetwork = errors.New("network error")
)

// NetworkErrorMessage is the message shown when a request never got a response.
const NetworkErrorMessage = "network error"

// ValidationError reports a missing or malformed input, detected before any
// network call or rejected by the backend's input policy.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthenticationError reports rejected credentials or a failed login call.
type AuthenticationError struct {
	Status  int
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return "authentication failed"
	}
	return e.Message
}

// AccountExistsError reports a signup for an email that is already registered.
type AccountExistsError struct {
	Email   string
	Message string
}

func (e *AccountExistsError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("account %s already exists", e.Email)
}

// AutoLoginAfterSignupError reports that the account was created but the
// login performed right after it failed. The account exists at this point.
type AutoLoginAfterSignupError struct {
	Email string
	Err   error
}

func (e *AutoLoginAfterSignupError) Error() string {
	return "Account created but login failed. Please try logging in."
}

func (e *AutoLoginAfterSignupError) Unwrap() error { return e.Err }

// FederationError reports a failed exchange with an external identity provider.
type FederationError struct {
	Provider string
	Message  string
	Err      error
}

func (e *FederationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "social sign-in failed"
	}
	if e.Provider == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *FederationError) Unwrap() error { return e.Err }

// TransportError reports a request that never received an HTTP response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return NetworkErrorMessage }

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes every TransportError match ErrNetwork.
func (e *TransportError) Is(target error) bool { return target == ErrNetwork }

// ResourceError reports a non-success status from a task endpoint.
type ResourceError struct {
	Op      string
	Status  int
	Message string
}

func (e *ResourceError) Error() string { return e.Message }

// MessageOf returns the message a UI should display for err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var te *TransportError
	if errors.As(err, &te) {
		return NetworkErrorMessage
	}
	return err.Error()
}
