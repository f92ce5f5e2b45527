package domain

import "time"

// SuppressionType enumerates why an address must never be sent to again.
type SuppressionType string

const (
	SuppressionUnsubscribe SuppressionType = "unsubscribe"
	SuppressionFBL         SuppressionType = "fbl"
	SuppressionBounce      SuppressionType = "bounce"
	SuppressionComplaint   SuppressionType = "complaint"
	SuppressionManual      SuppressionType = "manual"
)

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceBounceMailbox SuppressionSource = "bounce_mailbox"
	SourceFBLReport     SuppressionSource = "fbl_report"
	SourceManual        SuppressionSource = "manual"
	SourceAPI           SuppressionSource = "api"
)

// SuppressionEntry is a single entry on the account-wide suppression list.
// The email is stored normalized (lowercase, trimmed) and is the unique key.
type SuppressionEntry struct {
	ID           string            `json:"id" db:"id"`
	Email        string            `json:"email" db:"email"`
	Type         SuppressionType   `json:"type" db:"type"`
	Source       SuppressionSource `json:"source" db:"source"`
	Reason       string            `json:"reason,omitempty" db:"reason"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"-"`
	SuppressedAt time.Time         `json:"suppressed_at" db:"suppressed_at"`
}
