package auth

import "apex/internal/domain/models"

// JWTVerifier defines the interface for JWT token verification.
// The middleware and the WebSocket handshake only depend on this.
type JWTVerifier interface {
	// VerifyToken validates a JWT token string and returns the parsed claims.
	// Returns domain.ErrUnauthorized if the token is invalid, expired, or has an invalid signature.
	VerifyToken(tokenString string) (*models.UserClaims, error)

	// Close releases any resources held by the verifier.
	Close() error
}
