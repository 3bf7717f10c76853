package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions
const (
	AuditActionInitiated           = "initiated"
	AuditActionVerificationAttempt = "verification_attempt"
	AuditActionCompleted           = "completed"
	AuditActionTransferFailed      = "transfer_failed"
	AuditActionExpired             = "expired"
)

// AuditEntry is an append-only record of one purchase lifecycle event.
// Entries are never mutated or deleted; the audit trail is the source of
// truth for support and dispute resolution.
type AuditEntry struct {
	ID         uuid.UUID `json:"id"`
	PurchaseID string    `json:"purchase_id"`
	Action     string    `json:"action"`
	Details    any       `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
