package errmap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"apex/internal/domain"
	"apex/internal/security"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, TypeInternal},
		{"unauthorized", fmt.Errorf("verify: %w", domain.ErrUnauthorized), TypeAuthentication},
		{"jwt expired", fmt.Errorf("parse: %w", jwt.ErrTokenExpired), TypeAuthentication},
		{"forbidden", domain.ErrForbidden, TypeAuthorization},
		{"not found", fmt.Errorf("thread x: %w", domain.ErrNotFound), TypeNotFound},
		{"no rows", fmt.Errorf("get: %w", pgx.ErrNoRows), TypeNotFound},
		{"service error", domain.NewServiceError("create_message", "message is empty"), TypeValidation},
		{"invalid transition", fmt.Errorf("x: %w", domain.ErrInvalidTransition), TypeConflict},
		{"busy", domain.ErrBusy, TypeConflict},
		{"deadline", fmt.Errorf("model: %w", context.DeadlineExceeded), TypeTimeout},
		{"canceled", context.Canceled, TypeAgentFailure},
		{"rate limited api", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, TypeRateLimit},
		{"provider outage", &openai.APIError{HTTPStatusCode: 503}, TypeServiceUnavailable},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, TypeNetwork},
		{"threat", &security.ThreatError{}, TypeSecurity},
		{"agent", fmt.Errorf("run: %w", domain.ErrAgentFailure), TypeAgentFailure},
		{"unknown", errors.New("pgx: syntax error at or near SELECT"), TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestMapper_CatalogueComplete(t *testing.T) {
	m, err := NewMapper()
	require.NoError(t, err)

	for _, typ := range AllTypes {
		out := m.ForType(typ)
		assert.Equal(t, typ, out.Type)
		assert.NotEmpty(t, out.Title, typ)
		assert.NotEmpty(t, out.Message, typ)
		assert.NotEmpty(t, out.Suggestions, typ)
	}
}

func TestMapper_NoTechnicalLeaks(t *testing.T) {
	m, err := NewMapper()
	require.NoError(t, err)

	banned := []string{"jwt", "sql", "stack", "pgx", "signature", "panic", "nil pointer", "postgres"}
	for _, typ := range AllTypes {
		out := m.ForType(typ)
		text := strings.ToLower(out.Title + " " + out.Message + " " + strings.Join(out.Suggestions, " "))
		for _, word := range banned {
			assert.NotContains(t, text, word, "catalogue entry %s mentions %q", typ, word)
		}
	}

	// The raw error text never reaches the user
	out := m.Map(errors.New("pgx: ERROR: relation \"dev_threads\" does not exist (SQLSTATE 42P01)"))
	assert.Equal(t, TypeInternal, out.Type)
	assert.NotContains(t, strings.ToLower(out.Message), "pgx")
	assert.Empty(t, out.Detail)
}

func TestMapper_ServiceErrorDetail(t *testing.T) {
	m, err := NewMapper()
	require.NoError(t, err)

	out := m.Map(fmt.Errorf("handle: %w", domain.NewServiceError("start_agent", "message cannot be empty")))
	assert.Equal(t, TypeValidation, out.Type)
	assert.Equal(t, "message cannot be empty", out.Detail)
	assert.True(t, out.Recoverable)
}
