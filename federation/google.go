// Package federation implements external identity providers reached through
// an OAuth 2.0 authorization-code redirect.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/chimerakang/todo-go/jwks"
)

// ProviderGoogle is the provider id registered for Google sign-in.
const ProviderGoogle = "google"

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// GoogleConfig configures the Google provider. The endpoint URLs default to
// Google's and are overridable for tests.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// IDTokenVerifier checks an OpenID Connect ID token. *jwks.Verifier implements it.
type IDTokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*todo.ProviderClaims, error)
}

// Google implements todo.FederationProvider for Google accounts.
type Google struct {
	config     GoogleConfig
	httpClient *http.Client
	verifier   IDTokenVerifier
}

var _ todo.FederationProvider = (*Google)(nil)

// Option configures the Google provider.
type Option func(*Google)

// WithHTTPClient sets the HTTP client used for the token and userinfo calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Google) { g.httpClient = c }
}

// WithVerifier sets the ID token verifier. Default: Google's JWKS with the
// client id as audience.
func WithVerifier(v IDTokenVerifier) Option {
	return func(g *Google) { g.verifier = v }
}

// NewGoogle creates a Google provider.
func NewGoogle(cfg GoogleConfig, opts ...Option) *Google {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultGoogleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultGoogleTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultGoogleUserInfoURL
	}

	g := &Google{
		config:     cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	if g.verifier == nil {
		g.verifier = jwks.NewGoogleVerifier(cfg.ClientID, jwks.WithHTTPClient(g.httpClient))
	}
	return g
}

// AuthCodeURL returns the consent screen URL for state.
func (g *Google) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {g.config.ClientID},
		"redirect_uri":  {g.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
		"prompt":        {"select_account"},
	}
	return g.config.AuthURL + "?" + params.Encode()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int32  `json:"expires_in"`
	IDToken     string `json:"id_token"`
}

type userInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Exchange trades the callback code for the asserted Google identity. The ID
// token is preferred; without one the userinfo endpoint is read.
func (g *Google) Exchange(ctx context.Context, code string) (*todo.ProviderClaims, error) {
	if code == "" {
		return nil, fmt.Errorf("todo/federation: authorization code is empty")
	}

	tok, err := g.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}

	if tok.IDToken != "" {
		claims, err := g.verifier.Verify(ctx, tok.IDToken)
		if err != nil {
			return nil, fmt.Errorf("todo/federation: verify id token: %w", err)
		}
		claims.Provider = ProviderGoogle
		return claims, nil
	}

	info, err := g.fetchUserInfo(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	return &todo.ProviderClaims{
		Provider: ProviderGoogle,
		Subject:  info.Sub,
		Email:    info.Email,
		Name:     info.Name,
		Picture:  info.Picture,
	}, nil
}

func (g *Google) exchangeToken(ctx context.Context, code string) (*tokenResponse, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {g.config.ClientID},
		"client_secret": {g.config.ClientSecret},
		"redirect_uri":  {g.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("todo/federation: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := g.do(req)
	if err != nil {
		return nil, fmt.Errorf("todo/federation: token request: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("todo/federation: token endpoint returned %d: %s", status, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("todo/federation: decode token response: %w", err)
	}
	if tok.AccessToken == "" && tok.IDToken == "" {
		return nil, fmt.Errorf("todo/federation: empty token response")
	}
	return &tok, nil
}

func (g *Google) fetchUserInfo(ctx context.Context, accessToken string) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("todo/federation: create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, status, err := g.do(req)
	if err != nil {
		return nil, fmt.Errorf("todo/federation: userinfo request: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("todo/federation: userinfo returned %d: %s", status, string(body))
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("todo/federation: decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("todo/federation: empty sub in userinfo")
	}
	return &info, nil
}

func (g *Google) do(req *http.Request) ([]byte, int, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
