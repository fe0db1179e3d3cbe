package federation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	todo "github.com/chimerakang/todo-go"
)

type stubVerifier struct {
	claims *todo.ProviderClaims
	err    error
	got    string
}

func (s *stubVerifier) Verify(_ context.Context, idToken string) (*todo.ProviderClaims, error) {
	s.got = idToken
	return s.claims, s.err
}

func TestGoogle_AuthCodeURL(t *testing.T) {
	g := NewGoogle(GoogleConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:3000/api/auth/callback/google",
	}, WithVerifier(&stubVerifier{}))

	raw := g.AuthCodeURL("test-state-value")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if !strings.HasPrefix(raw, defaultGoogleAuthURL) {
		t.Errorf("URL = %q, want Google auth endpoint", raw)
	}

	q := u.Query()
	tests := []struct {
		param, want string
	}{
		{"client_id", "test-client-id"},
		{"redirect_uri", "http://localhost:3000/api/auth/callback/google"},
		{"state", "test-state-value"},
		{"response_type", "code"},
		{"scope", "openid email profile"},
	}
	for _, tt := range tests {
		if got := q.Get(tt.param); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.param, got, tt.want)
		}
	}
}

func TestGoogle_ExchangeWithIDToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error: %v", err)
		}
		if r.Form.Get("code") != "auth-code" || r.Form.Get("grant_type") != "authorization_code" {
			t.Errorf("form = %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at",
			"id_token":     "id.token.value",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	verifier := &stubVerifier{claims: &todo.ProviderClaims{Subject: "108", Email: "alice@example.com", Name: "Alice"}}
	g := NewGoogle(GoogleConfig{ClientID: "cid", ClientSecret: "secret", TokenURL: tokenServer.URL}, WithVerifier(verifier))

	claims, err := g.Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("Exchange() error: %v", err)
	}
	if verifier.got != "id.token.value" {
		t.Errorf("verifier got %q", verifier.got)
	}
	if claims.Provider != ProviderGoogle || claims.Email != "alice@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestGoogle_ExchangeRejectsBadIDToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at", "id_token": "forged"})
	}))
	defer tokenServer.Close()

	g := NewGoogle(GoogleConfig{TokenURL: tokenServer.URL}, WithVerifier(&stubVerifier{err: errors.New("bad signature")}))
	if _, err := g.Exchange(context.Background(), "code"); err == nil {
		t.Fatal("Exchange() expected error for rejected id token")
	}
}

func TestGoogle_ExchangeFallsBackToUserInfo(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "test-access-token", "token_type": "Bearer"})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":   "google-sub-12345",
			"email": "user@gmail.com",
			"name":  "Google User",
		})
	}))
	defer userInfoServer.Close()

	g := NewGoogle(GoogleConfig{TokenURL: tokenServer.URL, UserInfoURL: userInfoServer.URL}, WithVerifier(&stubVerifier{}))

	claims, err := g.Exchange(context.Background(), "code")
	if err != nil {
		t.Fatalf("Exchange() error: %v", err)
	}
	if claims.Subject != "google-sub-12345" || claims.Email != "user@gmail.com" || claims.Provider != ProviderGoogle {
		t.Errorf("claims = %+v", claims)
	}
}

func TestGoogle_ExchangeTokenEndpointError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	g := NewGoogle(GoogleConfig{TokenURL: tokenServer.URL}, WithVerifier(&stubVerifier{}))
	_, err := g.Exchange(context.Background(), "used-code")
	if err == nil || !strings.Contains(err.Error(), "invalid_grant") {
		t.Fatalf("Exchange() error = %v, want invalid_grant", err)
	}
}

func TestGoogle_ExchangeEmptyCode(t *testing.T) {
	g := NewGoogle(GoogleConfig{}, WithVerifier(&stubVerifier{}))
	if _, err := g.Exchange(context.Background(), ""); err == nil {
		t.Fatal("Exchange() expected error for empty code")
	}
}

func TestStates_SingleUse(t *testing.T) {
	s := NewStates(0, nil)

	state, err := s.Issue(ProviderGoogle)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if !s.Redeem(ProviderGoogle, state) {
		t.Fatal("first Redeem() should succeed")
	}
	if s.Redeem(ProviderGoogle, state) {
		t.Error("second Redeem() should fail")
	}
}

func TestStates_WrongProvider(t *testing.T) {
	s := NewStates(0, nil)
	state, _ := s.Issue(ProviderGoogle)

	if s.Redeem("github", state) {
		t.Error("Redeem() for another provider should fail")
	}
	if s.Len() != 0 {
		t.Error("a state redeemed for the wrong provider is burned")
	}
}

func TestStates_Expiry(t *testing.T) {
	now := time.Now()
	s := NewStates(time.Minute, func() time.Time { return now })

	state, _ := s.Issue(ProviderGoogle)
	now = now.Add(2 * time.Minute)

	if s.Redeem(ProviderGoogle, state) {
		t.Error("expired state should not redeem")
	}
}

func TestStates_IssuePrunesExpired(t *testing.T) {
	now := time.Now()
	s := NewStates(time.Minute, func() time.Time { return now })

	_, _ = s.Issue(ProviderGoogle)
	_, _ = s.Issue(ProviderGoogle)
	now = now.Add(2 * time.Minute)
	_, _ = s.Issue(ProviderGoogle)

	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestNewState_Unique(t *testing.T) {
	a, err := NewState()
	if err != nil {
		t.Fatalf("NewState() error: %v", err)
	}
	b, _ := NewState()
	if a == b || len(a) < 40 {
		t.Errorf("states %q and %q should be long and distinct", a, b)
	}
}
