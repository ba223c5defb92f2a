package auth

import (
	"errors"
	"log/slog"

	"apex/internal/domain"
	"apex/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
)

// SecretVerifier implements JWTVerifier for HS256 tokens signed with a shared secret.
type SecretVerifier struct {
	secret []byte
	logger *slog.Logger
}

// NewSecretVerifier creates an HS256 verifier
func NewSecretVerifier(secret string, logger *slog.Logger) (JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	return &SecretVerifier{secret: []byte(secret), logger: logger}, nil
}

// VerifyToken validates an HS256 token
func (v *SecretVerifier) VerifyToken(tokenString string) (*models.UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.UserClaims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		v.logger.Debug("token parse failed", "error", err)
		return nil, domain.ErrUnauthorized
	}

	return checkClaims(token, v.logger)
}

// Close is a no-op
func (v *SecretVerifier) Close() error {
	return nil
}

// NewVerifier picks the JWKS verifier when jwksURL is set and falls back to
// the shared-secret verifier otherwise.
func NewVerifier(jwksURL, secret string, logger *slog.Logger) (JWTVerifier, error) {
	if jwksURL != "" {
		return NewJWKSVerifier(jwksURL, logger)
	}
	if secret != "" {
		return NewSecretVerifier(secret, logger)
	}
	return nil, errors.New("either JWKS_URL or JWT_SECRET must be set")
}
