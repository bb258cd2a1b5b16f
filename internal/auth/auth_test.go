package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Kief5555/fileserver/internal/files"
)

func TestTokenRoundTrip(t *testing.T) {
	a := New(nil, "test-secret")

	now := time.Now()
	claims := &Claims{
		UserID:   42,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "fileserver",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := a.validateToken(tokenStr)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if parsed.UserID != 42 || parsed.Username != "alice" {
		t.Errorf("claims = %+v", parsed)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	a := New(nil, "secret-a")
	b := New(nil, "secret-b")

	claims := &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.validateToken(tokenStr); err == nil {
		t.Error("token signed with wrong secret accepted")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	a := New(nil, "test-secret")

	claims := &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.validateToken(tokenStr); err == nil {
		t.Error("expired token accepted")
	}
}

func TestGenerateAPIKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey: %v", err)
		}
		if !strings.HasPrefix(key, apiKeyPrefix) {
			t.Fatalf("key %q missing %q prefix", key, apiKeyPrefix)
		}
		if seen[key] {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = true
	}
}

func TestHashAPIKey(t *testing.T) {
	h1 := HashAPIKey("fs_abc")
	h2 := HashAPIKey("fs_abc")
	h3 := HashAPIKey("fs_abd")

	if h1 != h2 {
		t.Error("hash is not deterministic")
	}
	if h1 == h3 {
		t.Error("distinct keys hash equal")
	}
	// sha256 hex
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
	if strings.HasPrefix(h1, apiKeyPrefix) {
		t.Error("stored hash leaks the key prefix")
	}
}

func TestCheckMutable(t *testing.T) {
	lookupErr := errors.New("query user: connection reset")

	tests := []struct {
		name    string
		isAdmin bool
		err     error
		want    error
	}{
		{"regular user", false, nil, nil},
		{"admin account", true, nil, ErrAdminImmutable},
		{"missing user", false, files.ErrNotFound, files.ErrNotFound},
		{"lookup failure", false, lookupErr, lookupErr},
		// A failed lookup wins over the admin flag; the flag value is
		// meaningless when the row could not be read.
		{"lookup failure with stale flag", true, lookupErr, lookupErr},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := checkMutable(tc.isAdmin, tc.err); !errors.Is(got, tc.want) {
				t.Errorf("checkMutable(%v, %v) = %v, want %v", tc.isAdmin, tc.err, got, tc.want)
			}
		})
	}
}
