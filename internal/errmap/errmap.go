// Package errmap turns internal errors into messages that are safe to show
// to end users, together with advice on what to do next.
package errmap

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"

	"apex/internal/domain"
	"apex/internal/security"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/sashabaranov/go-openai"
	"gopkg.in/yaml.v3"
)

// ErrorType is the user facing class of an error
type ErrorType string

const (
	TypeAuthentication     ErrorType = "authentication"
	TypeAuthorization      ErrorType = "authorization"
	TypeValidation         ErrorType = "validation"
	TypeNotFound           ErrorType = "not_found"
	TypeRateLimit          ErrorType = "rate_limit"
	TypeTimeout            ErrorType = "timeout"
	TypeNetwork            ErrorType = "network"
	TypeServiceUnavailable ErrorType = "service_unavailable"
	TypeAgentFailure       ErrorType = "agent_failure"
	TypeConflict           ErrorType = "conflict"
	TypeSecurity           ErrorType = "security"
	TypeInternal           ErrorType = "internal"
)

// AllTypes lists every ErrorType
var AllTypes = []ErrorType{
	TypeAuthentication, TypeAuthorization, TypeValidation, TypeNotFound,
	TypeRateLimit, TypeTimeout, TypeNetwork, TypeServiceUnavailable,
	TypeAgentFailure, TypeConflict, TypeSecurity, TypeInternal,
}

// UserFriendlyError is what clients receive instead of the raw error
type UserFriendlyError struct {
	Type        ErrorType `json:"error_type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Detail      string    `json:"detail,omitempty"`
	Suggestions []string  `json:"suggestions"`
	Recoverable bool      `json:"recoverable"`
}

type catalogEntry struct {
	Title       string   `yaml:"title"`
	Message     string   `yaml:"message"`
	Suggestions []string `yaml:"suggestions"`
	Recoverable bool     `yaml:"recoverable"`
}

//go:embed catalog.yaml
var catalogYAML []byte

// Mapper classifies errors and looks up their copy. Read-only after
// construction, so safe for concurrent use.
type Mapper struct {
	catalog map[ErrorType]catalogEntry
}

// NewMapper loads the embedded catalogue
func NewMapper() (*Mapper, error) {
	var raw map[ErrorType]catalogEntry
	if err := yaml.Unmarshal(catalogYAML, &raw); err != nil {
		return nil, fmt.Errorf("parse error catalogue: %w", err)
	}
	for _, t := range AllTypes {
		if _, ok := raw[t]; !ok {
			return nil, fmt.Errorf("error catalogue missing entry for %s", t)
		}
	}
	return &Mapper{catalog: raw}, nil
}

// Map converts err into its user facing form
func (m *Mapper) Map(err error) UserFriendlyError {
	t := Classify(err)
	out := m.ForType(t)

	// ServiceError messages are written for callers and safe to show
	var svcErr *domain.ServiceError
	if errors.As(err, &svcErr) {
		out.Detail = svcErr.Message
	}
	return out
}

// ForType returns the catalogue copy for t
func (m *Mapper) ForType(t ErrorType) UserFriendlyError {
	entry, ok := m.catalog[t]
	if !ok {
		t = TypeInternal
		entry = m.catalog[TypeInternal]
	}
	return UserFriendlyError{
		Type:        t,
		Title:       entry.Title,
		Message:     entry.Message,
		Suggestions: append([]string(nil), entry.Suggestions...),
		Recoverable: entry.Recoverable,
	}
}

// Classify picks the ErrorType for err
func Classify(err error) ErrorType {
	if err == nil {
		return TypeInternal
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var netErr net.Error

	switch {
	case errors.Is(err, security.ErrThreatDetected):
		return TypeSecurity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return TypeTimeout
	case errors.Is(err, domain.ErrUnauthorized), isJWTError(err):
		return TypeAuthentication
	case errors.Is(err, domain.ErrForbidden):
		return TypeAuthorization
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return TypeNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrBusy):
		return TypeConflict
	case errors.Is(err, domain.ErrValidation):
		return TypeValidation
	case errors.Is(err, domain.ErrRateLimited):
		return TypeRateLimit
	case errors.Is(err, domain.ErrUnavailable):
		return TypeServiceUnavailable
	case errors.As(err, &apiErr):
		return classifyStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		return classifyStatus(reqErr.HTTPStatusCode)
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return TypeTimeout
		}
		return TypeNetwork
	case errors.Is(err, domain.ErrAgentFailure), errors.Is(err, context.Canceled):
		return TypeAgentFailure
	}
	return TypeInternal
}

func classifyStatus(status int) ErrorType {
	switch {
	case status == 401:
		return TypeServiceUnavailable // our provider credentials, not the user's
	case status == 429:
		return TypeRateLimit
	case status == 408 || status == 504:
		return TypeTimeout
	case status >= 500:
		return TypeServiceUnavailable
	}
	return TypeAgentFailure
}

func isJWTError(err error) bool {
	return errors.Is(err, jwt.ErrTokenMalformed) ||
		errors.Is(err, jwt.ErrTokenExpired) ||
		errors.Is(err, jwt.ErrTokenNotValidYet) ||
		errors.Is(err, jwt.ErrTokenSignatureInvalid) ||
		errors.Is(err, jwt.ErrTokenUnverifiable) ||
		errors.Is(err, jwt.ErrTokenInvalidClaims)
}
