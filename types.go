package todo

import (
	"strings"
	"time"
)

// Identity represents the signed-in principal held by the session manager.
type Identity struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Image      string    `json:"image,omitempty"`
	Credential string    `json:"-"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// Clone returns a copy that callers may keep without racing the manager.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// SessionState is the read model exposed to the UI layer.
type SessionState struct {
	Identity      *Identity
	Loading       bool
	Authenticated bool
}

// Claims represents the claims carried by a bearer credential.
type Claims struct {
	Subject   string
	Email     string
	Name      string
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Expired reports whether the credential has an expiry that is not after now.
func (c *Claims) Expired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// ProviderClaims is the identity asserted by an external federation provider.
type ProviderClaims struct {
	Provider string
	Subject  string
	Email    string
	Name     string
	Picture  string
}

// Task is a single to-do item owned by a user.
type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   Timestamp `json:"created_at,omitempty"`
	UpdatedAt   Timestamp `json:"updated_at,omitempty"`
}

// TaskInput is the body for creating a task.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
}

// TaskPatch is a partial task update. Nil fields are left untouched server-side.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// Message is the body returned by endpoints that only acknowledge an action.
type Message struct {
	Message string `json:"message"`
}

// AuthResponse is returned by the login and federated sign-in endpoints.
type AuthResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   Timestamp `json:"created_at,omitempty"`
	UpdatedAt   Timestamp `json:"updated_at,omitempty"`
}

// SignupResponse is returned by the signup endpoint. Backends disagree on the
// id field name, so both are accepted.
type SignupResponse struct {
	Message string `json:"message,omitempty"`
	UserID  string `json:"userId,omitempty"`
	ID      string `json:"id,omitempty"`
	Email   string `json:"email,omitempty"`
}

// AccountID returns whichever id field the backend populated.
func (r SignupResponse) AccountID() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.ID
}

// Timestamp decodes the ISO-8601 variants emitted by the backend, including
// timestamps without a zone offset.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}
