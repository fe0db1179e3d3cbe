package token_test

import (
	"errors"
	"testing"
	"time"

	"github.com/chimerakang/todo-go/token"
	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}
	return s
}

func TestDecode_MapsClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := sign(t, jwt.MapClaims{
		"sub":   "user-1",
		"email": "a@example.com",
		"name":  "Ada",
		"iss":   "todo-api",
		"exp":   exp.Unix(),
	})

	c, err := token.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if c.Subject != "user-1" || c.Email != "a@example.com" || c.Name != "Ada" || c.Issuer != "todo-api" {
		t.Errorf("claims = %+v", c)
	}
	if !c.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", c.ExpiresAt, exp)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := token.Decode(raw)
		if !errors.Is(err, token.ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestDecodeValid_RejectsExpired(t *testing.T) {
	raw := sign(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Minute).Unix()})

	if _, err := token.DecodeValid(raw, time.Now()); err == nil {
		t.Fatal("DecodeValid() expected error for expired credential")
	}
	if _, err := token.Decode(raw); err != nil {
		t.Fatalf("Decode() should not check expiry, got %v", err)
	}
}

func TestDecodeValid_NoExpiry(t *testing.T) {
	raw := sign(t, jwt.MapClaims{"sub": "user-1"})
	c, err := token.DecodeValid(raw, time.Now())
	if err != nil {
		t.Fatalf("DecodeValid() error: %v", err)
	}
	if c.Subject != "user-1" {
		t.Errorf("Subject = %q", c.Subject)
	}
}
