package domain

import "time"

// RiskLevel buckets a reputation score for dashboards and alerting. The
// bucket thresholds are configuration, not domain constants.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ReputationSnapshot is the per-domain, per-calendar-date record of the
// computed reputation score and the rates that produced it. Re-running the
// scorer for the same date overwrites the snapshot.
type ReputationSnapshot struct {
	ID                string    `json:"id" db:"id"`
	DomainID          string    `json:"domain_id" db:"domain_id"`
	Date              time.Time `json:"date" db:"date"`
	Score             float64   `json:"score" db:"score"`
	Risk              RiskLevel `json:"risk" db:"risk"`
	BounceRate        float64   `json:"bounce_rate" db:"bounce_rate"`
	FBLRate           float64   `json:"fbl_rate" db:"fbl_rate"`
	SpamComplaintRate float64   `json:"spam_complaint_rate" db:"spam_complaint_rate"`
	DeliveryRate      float64   `json:"delivery_rate" db:"delivery_rate"`
	TotalSent         int       `json:"total_sent" db:"total_sent"`
	TotalBounced      int       `json:"total_bounced" db:"total_bounced"`
	TotalComplained   int       `json:"total_complained" db:"total_complained"`
	Diagnostics       string    `json:"diagnostics,omitempty" db:"diagnostics"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// DeliveryMetrics are the externally supplied counts for a scoring window.
// The sending pipeline reports them; this subsystem only reads them.
type DeliveryMetrics struct {
	Sent       int `json:"sent"`
	Delivered  int `json:"delivered"`
	Complaints int `json:"complaints"`
	FBLReports int `json:"fbl_reports"`
}
