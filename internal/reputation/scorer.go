// Package reputation computes the per-domain composite reputation score from
// bounce, complaint, and delivery rates, and maintains the per-day snapshot
// history behind trend queries and rate adjustment.
package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/ignite/deliverability-guard/internal/service/bouncelog"
)

// Repository defines the data access contract for reputation history.
type Repository interface {
	// UpsertSnapshot writes the snapshot for (domainID, date), overwriting
	// any snapshot already stored for that date.
	UpsertSnapshot(ctx context.Context, s *domain.ReputationSnapshot) error

	// Latest returns the most recent snapshot for a domain, or nil.
	Latest(ctx context.Context, domainID string) (*domain.ReputationSnapshot, error)

	// Trend returns snapshots for a domain between two dates, oldest first.
	Trend(ctx context.Context, domainID string, from, to time.Time) ([]domain.ReputationSnapshot, error)
}

// RiskThresholds bucket a score into a risk level. Scores below High are
// high risk, below Medium are medium risk, the rest low. Thresholds are
// configuration, not business constants.
type RiskThresholds struct {
	High   float64 // below this: high risk
	Medium float64 // below this: medium risk
}

// DefaultRiskThresholds are used when configuration supplies none.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{High: 50, Medium: 80}
}

// Bucket maps a clamped score to its risk level.
func (rt RiskThresholds) Bucket(score float64) domain.RiskLevel {
	switch {
	case score < rt.High:
		return domain.RiskHigh
	case score < rt.Medium:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Rates are the percentage inputs to the score formula, each over the same
// trailing window.
type Rates struct {
	Bounce        float64
	FBL           float64
	SpamComplaint float64
	Delivery      float64
}

// Score applies the fixed scoring rule and clamps to [0, 100]. The weights
// are part of the published business rule: changing them silently would make
// historical snapshots incomparable.
func Score(r Rates) float64 {
	score := 100.0
	score -= r.Bounce * 2
	score -= r.FBL * 10
	score -= r.SpamComplaint * 15
	if r.Delivery > 95 {
		score += 5
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Scorer aggregates a domain's window metrics into a daily snapshot.
type Scorer struct {
	log        *bouncelog.Service
	repo       Repository
	thresholds RiskThresholds
}

// NewScorer creates a scorer over the bounce log and reputation history.
func NewScorer(log *bouncelog.Service, repo Repository, thresholds RiskThresholds) *Scorer {
	return &Scorer{log: log, repo: repo, thresholds: thresholds}
}

// Window is the trailing period the rates are computed over — typically
// "since last analysis", supplied by the scheduler.
type Window struct {
	From time.Time
	To   time.Time
}

// ScoreDomain computes and persists the snapshot for the window's end date.
// Delivery metrics come from the sending pipeline; bounce counts from the
// bounce log. Re-running for the same date overwrites that date's snapshot.
func (s *Scorer) ScoreDomain(ctx context.Context, domainID string, w Window, delivered domain.DeliveryMetrics) (*domain.ReputationSnapshot, error) {
	counts, err := s.log.Counts(ctx, domainID, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("bounce counts for %s: %w", domainID, err)
	}

	rates := computeRates(counts, delivered)
	score := Score(rates)

	snap := &domain.ReputationSnapshot{
		DomainID:          domainID,
		Date:              w.To.UTC().Truncate(24 * time.Hour),
		Score:             score,
		Risk:              s.thresholds.Bucket(score),
		BounceRate:        rates.Bounce,
		FBLRate:           rates.FBL,
		SpamComplaintRate: rates.SpamComplaint,
		DeliveryRate:      rates.Delivery,
		TotalSent:         delivered.Sent,
		TotalBounced:      counts.Total(),
		TotalComplained:   delivered.Complaints,
	}
	if err := s.repo.UpsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("store snapshot for %s: %w", domainID, err)
	}
	return snap, nil
}

// Latest returns the most recent snapshot for a domain.
func (s *Scorer) Latest(ctx context.Context, domainID string) (*domain.ReputationSnapshot, error) {
	return s.repo.Latest(ctx, domainID)
}

// Trend returns the snapshot series for a domain, oldest first.
func (s *Scorer) Trend(ctx context.Context, domainID string, from, to time.Time) ([]domain.ReputationSnapshot, error) {
	return s.repo.Trend(ctx, domainID, from, to)
}

// computeRates derives the percentage inputs. With nothing sent the rates
// are all zero: a quiet domain scores 100 and keeps its limit.
func computeRates(counts domain.BounceCounts, delivered domain.DeliveryMetrics) Rates {
	if delivered.Sent <= 0 {
		return Rates{}
	}
	sent := float64(delivered.Sent)
	return Rates{
		Bounce:        float64(counts.Hard+counts.Soft+counts.Block) / sent * 100,
		FBL:           float64(delivered.FBLReports) / sent * 100,
		SpamComplaint: float64(counts.Spam+delivered.Complaints) / sent * 100,
		Delivery:      float64(delivered.Delivered) / sent * 100,
	}
}
