package auth

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"apex/internal/domain"
	"apex/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims models.UserClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestSecretVerifier_VerifyToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	verifier, err := NewSecretVerifier("test-secret", logger)
	if err != nil {
		t.Fatalf("NewSecretVerifier: %v", err)
	}

	valid := models.UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "authenticated",
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	anon := valid
	anon.Role = "anon"

	noSubject := valid
	noSubject.Subject = ""

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid token", signToken(t, "test-secret", valid), false},
		{"wrong secret", signToken(t, "other-secret", valid), true},
		{"expired", signToken(t, "test-secret", expired), true},
		{"anonymous role", signToken(t, "test-secret", anon), true},
		{"missing subject", signToken(t, "test-secret", noSubject), true},
		{"garbage", "not-a-token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := verifier.VerifyToken(tt.token)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrUnauthorized) {
					t.Errorf("expected ErrUnauthorized, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.GetUserID() != "user-1" {
				t.Errorf("expected user-1, got %s", claims.GetUserID())
			}
		})
	}
}

func TestNewVerifier_RequiresConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if _, err := NewVerifier("", "", logger); err == nil {
		t.Error("expected error without JWKS URL or secret")
	}
	v, err := NewVerifier("", "secret", logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := v.(*SecretVerifier); !ok {
		t.Errorf("expected SecretVerifier, got %T", v)
	}
}
