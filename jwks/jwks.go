// Package jwks verifies OpenID Connect ID tokens against a JSON Web Key Set.
//
// RSA public keys are fetched from a standard JWKS endpoint (RFC 7517) and
// cached locally. Tokens are checked for an RS256 signature, expiry, issuer and
// audience, and the asserted identity is returned as todo.ProviderClaims.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"slices"
	"sync"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// Google's published key set and issuers.
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

var GoogleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// Verifier verifies ID tokens using JWKS public keys.
type Verifier struct {
	jwksURL         string
	httpClient      *http.Client
	refreshInterval time.Duration
	provider        string
	issuers         []string
	audience        string
	now             func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey // kid → public key
	lastFetch time.Time
}

// Option configures the Verifier.
type Option func(*Verifier)

// WithHTTPClient sets a custom HTTP client for fetching JWKS.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.httpClient = c }
}

// WithRefreshInterval sets how often cached keys are refreshed.
// Default: 1 hour.
func WithRefreshInterval(d time.Duration) Option {
	return func(v *Verifier) { v.refreshInterval = d }
}

// WithIssuers restricts the accepted "iss" values. Empty accepts any issuer.
func WithIssuers(issuers ...string) Option {
	return func(v *Verifier) { v.issuers = issuers }
}

// WithAudience requires "aud" to contain aud (the OAuth client id).
func WithAudience(aud string) Option {
	return func(v *Verifier) { v.audience = aud }
}

// WithProvider sets the provider name copied into returned claims.
func WithProvider(name string) Option {
	return func(v *Verifier) { v.provider = name }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a verifier for the key set at jwksURL.
func NewVerifier(jwksURL string, opts ...Option) *Verifier {
	v := &Verifier{
		jwksURL:         jwksURL,
		httpClient:      http.DefaultClient,
		refreshInterval: 1 * time.Hour,
		now:             time.Now,
		keys:            make(map[string]*rsa.PublicKey),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// NewGoogleVerifier creates a verifier for Google ID tokens issued to clientID.
func NewGoogleVerifier(clientID string, opts ...Option) *Verifier {
	base := []Option{
		WithProvider("google"),
		WithIssuers(GoogleIssuers...),
		WithAudience(clientID),
	}
	return NewVerifier(GoogleJWKSURL, append(base, opts...)...)
}

// Verify validates an ID token and returns the identity it asserts.
func (v *Verifier) Verify(ctx context.Context, idToken string) (*todo.ProviderClaims, error) {
	popts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		popts = append(popts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.NewParser(popts...).Parse(idToken, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		return v.getKey(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("todo/jwks: %w", err)
	}

	m, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("todo/jwks: invalid token claims")
	}

	iss, _ := m["iss"].(string)
	if len(v.issuers) > 0 && !slices.Contains(v.issuers, iss) {
		return nil, fmt.Errorf("todo/jwks: unexpected issuer %q", iss)
	}
	if !emailVerified(m) {
		return nil, fmt.Errorf("todo/jwks: email is not verified")
	}

	return v.toProviderClaims(m), nil
}

// getKey returns the RSA public key for the given kid, fetching/refreshing as needed.
func (v *Verifier) getKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, found := v.keys[kid]
	stale := v.now().Sub(v.lastFetch) > v.refreshInterval
	v.mu.RUnlock()

	if found && !stale {
		return key, nil
	}

	// Concurrent misses share one fetch.
	_, err, _ := v.group.Do("refresh", func() (interface{}, error) {
		return nil, v.refresh(ctx)
	})
	if err != nil {
		if found {
			return key, nil // use stale key if refresh fails
		}
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	if kid == "" && len(v.keys) == 1 {
		for _, k := range v.keys {
			return k, nil
		}
	}
	return nil, fmt.Errorf("todo/jwks: key not found for kid %q", kid)
}

// refresh fetches the JWKS from the configured URL and updates the cache.
func (v *Verifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("todo/jwks: create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("todo/jwks: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("todo/jwks: fetch returned status %d", resp.StatusCode)
	}

	var set keySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("todo/jwks: decode: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("todo/jwks: no valid RSA signing keys found")
	}

	v.mu.Lock()
	v.keys = keys
	v.lastFetch = v.now()
	v.mu.Unlock()

	return nil
}

type keySet struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k *jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// emailVerified treats a missing claim as verified. Google sends a bool,
// some providers send the string "true".
func emailVerified(m jwt.MapClaims) bool {
	switch v := m["email_verified"].(type) {
	case nil:
		return true
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

func (v *Verifier) toProviderClaims(m jwt.MapClaims) *todo.ProviderClaims {
	c := &todo.ProviderClaims{Provider: v.provider}
	c.Subject, _ = m["sub"].(string)
	c.Email, _ = m["email"].(string)
	c.Name, _ = m["name"].(string)
	c.Picture, _ = m["picture"].(string)
	return c
}
