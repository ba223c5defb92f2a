package httputil

import (
	"bytes"
	"encoding/json"
)

// OptionalString is a PATCH field (RFC 7396) that tells an absent member
// apart from an explicit null.
type OptionalString struct {
	Present bool
	Value   *string
}

// UnmarshalJSON only runs for members present in the document
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Present = true
	if string(bytes.TrimSpace(data)) == "null" {
		o.Value = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// Patch maps the field onto an update DTO: nil leaves the value unchanged,
// and both null and "" become an empty string that clears it.
func (o OptionalString) Patch() *string {
	if !o.Present {
		return nil
	}
	value := ""
	if o.Value != nil {
		value = *o.Value
	}
	return &value
}
