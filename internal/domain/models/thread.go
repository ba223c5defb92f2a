package models

import (
	"time"
)

// ThreadStatus is the lifecycle state of a conversation thread
type ThreadStatus string

const (
	ThreadStatusActive   ThreadStatus = "active"
	ThreadStatusArchived ThreadStatus = "archived"
)

// Metadata keys mirrored from the thread columns
const (
	MetaUserID = "user_id"
	MetaStatus = "status"
	MetaTitle  = "title"
)

// Thread is a conversation owned by a single user
type Thread struct {
	ID        string                 `json:"id" db:"id"`
	UserID    string                 `json:"user_id" db:"user_id"`
	Title     string                 `json:"title" db:"title"`
	Status    ThreadStatus           `json:"status" db:"status"`
	Metadata  map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time             `json:"deleted_at,omitempty" db:"deleted_at"`
}

// SyncMetadata copies user_id, status and title into Metadata so clients that
// only read the metadata object see the same values as the columns.
func (t *Thread) SyncMetadata() {
	if t.Metadata == nil {
		t.Metadata = make(map[string]interface{})
	}
	t.Metadata[MetaUserID] = t.UserID
	t.Metadata[MetaStatus] = string(t.Status)
	t.Metadata[MetaTitle] = t.Title
}

// IsOwnedBy reports whether userID owns the thread
func (t *Thread) IsOwnedBy(userID string) bool {
	return t.UserID == userID
}
