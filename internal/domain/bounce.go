package domain

import "time"

// BounceCategory is the classification assigned to a bounce notification.
type BounceCategory string

const (
	BounceHard    BounceCategory = "hard"
	BounceSoft    BounceCategory = "soft"
	BounceSpam    BounceCategory = "spam"
	BounceBlock   BounceCategory = "block"
	BounceUnknown BounceCategory = "unknown"
)

// Terminal reports whether the category permanently disqualifies the
// recipient. Terminal categories feed the suppression list.
func (c BounceCategory) Terminal() bool {
	return c == BounceHard || c == BounceSpam
}

// BounceStatus records whether a notification was classified successfully.
type BounceStatus string

const (
	BounceProcessed BounceStatus = "processed"
	BounceFailed    BounceStatus = "failed"
)

// RawBounceMessage is one message fetched from a bounce mailbox, before
// classification. MessageID is the mailbox-assigned identifier (IMAP UID or
// POP3 UIDL) scoped by credential, used for de-duplication downstream.
type RawBounceMessage struct {
	MessageID  string
	Raw        []byte
	ReceivedAt time.Time
}

// BounceRecord is the append-only log entry written for every processed
// notification. (DomainID, MessageID) is unique: reprocessing the same source
// message never double-counts.
type BounceRecord struct {
	ID          string         `json:"id" db:"id"`
	DomainID    string         `json:"domain_id" db:"domain_id"`
	MessageID   string         `json:"message_id" db:"message_id"`
	Sender      string         `json:"sender,omitempty" db:"sender"`
	Recipient   string         `json:"recipient,omitempty" db:"recipient"`
	Reason      string         `json:"reason,omitempty" db:"reason"`
	Category    BounceCategory `json:"category" db:"category"`
	Status      BounceStatus   `json:"status" db:"status"`
	Error       string         `json:"error,omitempty" db:"error"`
	RawMessage  []byte         `json:"-" db:"raw_message"`
	ProcessedAt time.Time      `json:"processed_at" db:"processed_at"`
}

// BounceCounts aggregates bounce log rows over a window, one input to the
// reputation scorer.
type BounceCounts struct {
	Hard    int `json:"hard"`
	Soft    int `json:"soft"`
	Spam    int `json:"spam"`
	Block   int `json:"block"`
	Unknown int `json:"unknown"`
}

// Total returns the number of notifications across all categories.
func (c BounceCounts) Total() int {
	return c.Hard + c.Soft + c.Spam + c.Block + c.Unknown
}
