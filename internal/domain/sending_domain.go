package domain

import "time"

// SendingDomain is the configuration view of a sending domain that this
// subsystem consumes. Rows are owned and edited by the account UI; the guard
// only reads them, except for the poller bookkeeping on credentials.
type SendingDomain struct {
	ID                 string        `json:"id" db:"id"`
	Name               string        `json:"name" db:"name"`
	BounceProcessing   bool          `json:"bounce_processing" db:"bounce_processing"`
	TrainingEnabled    bool          `json:"training_enabled" db:"training_enabled"`
	CheckInterval      time.Duration `json:"check_interval" db:"-"`
	LastBounceCheckAt  *time.Time    `json:"last_bounce_check_at,omitempty" db:"last_bounce_check_at"`
	RuleOverridesJSON  []byte        `json:"-" db:"rule_overrides"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
}
