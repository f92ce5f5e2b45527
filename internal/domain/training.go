package domain

import "time"

// TrainingStatus is the lifecycle state of a domain's adaptive-rate training.
type TrainingStatus string

const (
	TrainingWarmup    TrainingStatus = "warmup"
	TrainingActive    TrainingStatus = "active"
	TrainingPaused    TrainingStatus = "paused"
	TrainingCompleted TrainingStatus = "completed"
)

// TrainingConfig is the per-domain adaptive-control state. One row per
// domain, mutated every analysis cycle by the rate controller and never
// deleted — training is turned off by deactivating the row.
type TrainingConfig struct {
	ID                string         `json:"id" db:"id"`
	DomainID          string         `json:"domain_id" db:"domain_id"`
	DailyLimit        int            `json:"daily_limit" db:"daily_limit"`
	MinDailyLimit     int            `json:"min_daily_limit" db:"min_daily_limit"`
	MaxDailyLimit     int            `json:"max_daily_limit" db:"max_daily_limit"`
	WarmupDays        int            `json:"warmup_days" db:"warmup_days"`
	AnalysisFrequency time.Duration  `json:"analysis_frequency" db:"-"`
	LastAnalysisAt    *time.Time     `json:"last_analysis_at,omitempty" db:"last_analysis_at"`
	LastAdjustmentAt  *time.Time     `json:"last_adjustment_at,omitempty" db:"last_adjustment_at"`
	LastScore         float64        `json:"last_score" db:"last_score"`
	LastBounceRate    float64        `json:"last_bounce_rate" db:"last_bounce_rate"`
	LastFBLRate       float64        `json:"last_fbl_rate" db:"last_fbl_rate"`
	LastDeliveryRate  float64        `json:"last_delivery_rate" db:"last_delivery_rate"`
	LastDeltaPct      float64        `json:"last_delta_pct" db:"last_delta_pct"`
	Status            TrainingStatus `json:"status" db:"status"`
	Notes             string         `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// EffectiveLimit returns the limit exposed to the sending pipeline at the
// given instant. During warmup the stored limit is ramped linearly; the
// stored DailyLimit itself is never reduced by the ramp.
func (t TrainingConfig) EffectiveLimit(now time.Time) int {
	if t.WarmupDays <= 0 {
		return t.DailyLimit
	}
	days := now.Sub(t.CreatedAt).Hours() / 24
	if days >= float64(t.WarmupDays) {
		return t.DailyLimit
	}
	if days < 0 {
		days = 0
	}
	return int(float64(t.DailyLimit) * days / float64(t.WarmupDays))
}

// InWarmup reports whether the warmup ramp still applies at the given instant.
func (t TrainingConfig) InWarmup(now time.Time) bool {
	if t.WarmupDays <= 0 {
		return false
	}
	return now.Sub(t.CreatedAt).Hours()/24 < float64(t.WarmupDays)
}
