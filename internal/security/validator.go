package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"apex/internal/config"
	"apex/internal/domain"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,63}$`)

// InputValidator checks user supplied strings before they reach services
type InputValidator struct {
	maxMessageLength int
}

// NewInputValidator creates a validator; maxMessageLength <= 0 uses the default
func NewInputValidator(maxMessageLength int) *InputValidator {
	if maxMessageLength <= 0 {
		maxMessageLength = config.MaxMessageLength
	}
	return &InputValidator{maxMessageLength: maxMessageLength}
}

// validUTF8 rejects strings that are not valid UTF-8
var validUTF8 = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if !utf8.ValidString(s) {
		return errors.New("must be valid UTF-8")
	}
	return nil
})

// noControlChars rejects NUL and other control characters; newlines and
// tabs are allowed when multiline is set
func noControlChars(multiline bool) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		for _, r := range s {
			if multiline && (r == '\n' || r == '\r' || r == '\t') {
				continue
			}
			if unicode.IsControl(r) {
				return fmt.Errorf("must not contain control characters (found %U)", r)
			}
		}
		return nil
	})
}

// ValidateMessage checks chat message text
func (v *InputValidator) ValidateMessage(text string) error {
	err := validation.Validate(text,
		validation.By(func(value interface{}) error {
			if strings.TrimSpace(value.(string)) == "" {
				return errors.New("message cannot be empty")
			}
			return nil
		}),
		validUTF8,
		validation.RuneLength(1, v.maxMessageLength).Error(fmt.Sprintf("message must be at most %d characters", v.maxMessageLength)),
		noControlChars(true),
	)
	return wrap("message", err)
}

// ValidateTitle checks a thread title; empty titles are allowed
func (v *InputValidator) ValidateTitle(title string) error {
	err := validation.Validate(title,
		validUTF8,
		validation.RuneLength(0, config.MaxThreadTitleLength),
		noControlChars(false),
	)
	return wrap("title", err)
}

// ValidateEmail checks an email address
func (v *InputValidator) ValidateEmail(email string) error {
	return wrap("email", validation.Validate(email, validation.Required, is.EmailFormat))
}

// ValidateIdentifier checks names such as MCP server and tool names
func (v *InputValidator) ValidateIdentifier(name string) error {
	return wrap("name", validation.Validate(name,
		validation.Required,
		validation.Match(identifierPattern).Error("must be 1-64 letters, digits, '.', '_' or '-'"),
	))
}

// ValidateThreadID checks that id is a UUID
func (v *InputValidator) ValidateThreadID(id string) error {
	return wrap("thread_id", validation.Validate(id, validation.Required, is.UUID))
}

func wrap(field string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrValidation, field, err)
}
