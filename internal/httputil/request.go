package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"apex/internal/config"
)

var (
	// ErrBodyTooLarge is returned when a request body exceeds config.MaxRequestBodySize
	ErrBodyTooLarge = errors.New("request body too large")

	// ErrEmptyBody is returned when a JSON body was required but none was sent
	ErrEmptyBody = errors.New("request body is empty")
)

// ParseJSON decodes the request body into dest. Bodies are capped at
// config.MaxRequestBodySize; unknown fields are ignored so thread and
// message metadata can carry arbitrary keys.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, tooLarge.Limit)
		case errors.Is(err, io.EOF):
			return ErrEmptyBody
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}

// RespondParseError writes the problem response for a ParseJSON failure
func RespondParseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		RespondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrEmptyBody):
		RespondError(w, http.StatusBadRequest, "Request body is required")
	default:
		RespondError(w, http.StatusBadRequest, "Invalid request body")
	}
}
