package models

import "time"

// Assistant is a configured agent persona runs execute with
type Assistant struct {
	ID           string                 `json:"id" db:"id"`
	Name         string                 `json:"name" db:"name"`
	Description  string                 `json:"description,omitempty" db:"description"`
	Model        string                 `json:"model" db:"model"`
	Instructions string                 `json:"instructions,omitempty" db:"instructions"`
	Tools        []string               `json:"tools,omitempty" db:"tools"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
}
