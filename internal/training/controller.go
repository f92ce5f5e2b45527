// Package training implements the adaptive rate controller: per-domain
// daily-limit adjustment driven by the latest reputation score, with a
// linear warmup ramp overlaid on the externally visible limit.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ignite/deliverability-guard/internal/domain"
)

// Defaults applied when a training config leaves bounds unset.
const (
	DefaultMinDailyLimit = 20
	DefaultMaxDailyLimit = 10000
)

// ErrNotFound is returned when a domain has no training config.
var ErrNotFound = errors.New("training config not found")

// Repository defines the data access contract for training state.
type Repository interface {
	// ForDomain returns the domain's training config, or ErrNotFound.
	ForDomain(ctx context.Context, domainID string) (*domain.TrainingConfig, error)

	// Save persists the mutated config. Only the owning domain's cycle
	// writes a given row, so a plain update suffices.
	Save(ctx context.Context, tc *domain.TrainingConfig) error
}

// DeltaPct brackets a reputation score into the percentage change applied to
// the current daily limit. Deliberately reactive-only: each cycle depends on
// nothing but the latest score and the previous limit, so any historical
// limit can be reproduced from the snapshot history.
func DeltaPct(score float64) float64 {
	switch {
	case score >= 90:
		return 10
	case score >= 80:
		return 5
	case score >= 70:
		return 0
	case score >= 60:
		return -10
	default:
		return -20
	}
}

// Controller adjusts training configs from reputation snapshots.
type Controller struct {
	repo Repository
	now  func() time.Time
}

// NewController creates a rate controller.
func NewController(repo Repository) *Controller {
	return &Controller{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the controller's clock, primarily for tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Adjust applies one analysis cycle: bracket the snapshot's score into a
// delta, apply it to the current limit, clamp into the configured bounds,
// and persist the outcome alongside the inputs that produced it.
func (c *Controller) Adjust(ctx context.Context, tc *domain.TrainingConfig, snap *domain.ReputationSnapshot) (*domain.TrainingConfig, error) {
	if tc == nil {
		return nil, ErrNotFound
	}
	if snap == nil {
		return nil, fmt.Errorf("adjust %s: no reputation snapshot", tc.DomainID)
	}

	min := tc.MinDailyLimit
	if min <= 0 {
		min = DefaultMinDailyLimit
	}
	max := tc.MaxDailyLimit
	if max <= 0 {
		max = DefaultMaxDailyLimit
	}

	delta := DeltaPct(snap.Score)
	limit := tc.DailyLimit + int(math.Round(float64(tc.DailyLimit)*delta/100))
	if limit < min {
		limit = min
	}
	if limit > max {
		limit = max
	}

	now := c.now()
	tc.DailyLimit = limit
	tc.LastScore = snap.Score
	tc.LastBounceRate = snap.BounceRate
	tc.LastFBLRate = snap.FBLRate
	tc.LastDeliveryRate = snap.DeliveryRate
	tc.LastDeltaPct = delta
	tc.LastAnalysisAt = &now
	tc.LastAdjustmentAt = &now
	tc.UpdatedAt = now

	// Warmup graduates to active on its own; paused/completed rows are
	// filtered out before the controller runs.
	switch tc.Status {
	case domain.TrainingWarmup:
		if !tc.InWarmup(now) {
			tc.Status = domain.TrainingActive
		}
	case "":
		tc.Status = domain.TrainingActive
	}

	if err := c.repo.Save(ctx, tc); err != nil {
		return nil, fmt.Errorf("save training config for %s: %w", tc.DomainID, err)
	}
	return tc, nil
}

// EffectiveLimit returns the limit the sending pipeline must honor right
// now: the stored limit, ramped linearly while the domain is in warmup.
func (c *Controller) EffectiveLimit(ctx context.Context, domainID string) (int, error) {
	tc, err := c.repo.ForDomain(ctx, domainID)
	if err != nil {
		return 0, err
	}
	return tc.EffectiveLimit(c.now()), nil
}
