package domain

import "time"

// AuditAction enumerates the lifecycle actions recorded in the audit trail.
type AuditAction string

const (
	AuditStored           AuditAction = "stored"
	AuditAccessed         AuditAction = "accessed"
	AuditRotated          AuditAction = "rotated"
	AuditRefreshed        AuditAction = "refreshed"
	AuditProactiveRefresh AuditAction = "proactive_refresh"
	AuditRevoked          AuditAction = "revoked"
)

// AuditLogEntry is one append-only record of a credential lifecycle action.
// Entries are never updated or deleted.
type AuditLogEntry struct {
	ID           int64       `json:"id"`
	ConnectionID int64       `json:"connection_id"`
	UserID       int64       `json:"user_id"`
	Provider     string      `json:"provider"`
	Action       AuditAction `json:"action"`
	IP           string      `json:"ip,omitempty"`
	UserAgent    string      `json:"user_agent,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// RequestMeta carries optional caller metadata into audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}
