// Package bouncelog implements the append-only record of processed bounce
// notifications. One row per source message; rows are never mutated after
// creation and back both the audit trail and reputation statistics.
package bouncelog

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/deliverability-guard/internal/domain"
)

// Service wraps the bounce log repository with de-duplication semantics.
type Service struct {
	repo Repository
}

// NewService creates a bounce log service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record appends a bounce record unless one already exists for the same
// (domainID, messageID). Returns true if the record was written, false if it
// was a duplicate. Idempotent under at-least-once redelivery from the poller.
func (s *Service) Record(ctx context.Context, r *domain.BounceRecord) (bool, error) {
	if r.DomainID == "" || r.MessageID == "" {
		return false, fmt.Errorf("bounce record requires domain id and message id")
	}

	exists, err := s.repo.Exists(ctx, r.DomainID, r.MessageID)
	if err != nil {
		return false, fmt.Errorf("check bounce record: %w", err)
	}
	if exists {
		return false, nil
	}

	if r.ProcessedAt.IsZero() {
		r.ProcessedAt = time.Now().UTC()
	}
	if err := s.repo.Insert(ctx, r); err != nil {
		return false, fmt.Errorf("insert bounce record: %w", err)
	}
	return true, nil
}

// Counts aggregates a domain's processed records over [from, to).
func (s *Service) Counts(ctx context.Context, domainID string, from, to time.Time) (domain.BounceCounts, error) {
	return s.repo.CountsByCategory(ctx, domainID, from, to)
}

// Recent returns the latest records for a domain, newest first.
func (s *Service) Recent(ctx context.Context, domainID string, limit, offset int) ([]domain.BounceRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, domainID, limit, offset)
}
