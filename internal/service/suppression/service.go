package suppression

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/deliverability-guard/internal/domain"
)

// Service implements suppression business logic. It is safe for concurrent
// use: all writes go through keyed upserts in the repository.
type Service struct {
	repo Repository
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Normalize lowercases and trims an address. Every read and write path goes
// through this so casing/whitespace variants hit the same key.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsSuppressed checks whether an address should be blocked from sending.
// The sending pipeline calls this before every dispatch.
func (s *Service) IsSuppressed(ctx context.Context, email string) (bool, error) {
	return s.repo.IsSuppressed(ctx, Normalize(email))
}

// Suppress adds an address to the list. Re-suppressing an existing address
// updates type, source, reason, and metadata (last-write-wins) but never
// creates a second entry.
func (s *Service) Suppress(ctx context.Context, email string, typ domain.SuppressionType, source domain.SuppressionSource, reason string, metadata map[string]string) error {
	email = Normalize(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}

	return s.repo.Upsert(ctx, &domain.SuppressionEntry{
		Email:    email,
		Type:     typ,
		Source:   source,
		Reason:   reason,
		Metadata: metadata,
	})
}

// Remove deletes a suppression entry. Returns ErrNotFound if the address is
// not suppressed. There is no implicit removal anywhere else.
func (s *Service) Remove(ctx context.Context, email string) error {
	email = Normalize(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	return s.repo.Remove(ctx, email)
}

// List returns suppression entries matching the given filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.SuppressionEntry, int, error) {
	return s.repo.List(ctx, filter)
}

// Count returns the total number of suppressed addresses.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Stats returns aggregate counts grouped by type and source.
type Stats struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"by_type"`
	BySource map[string]int `json:"by_source"`
}

// GetStats computes suppression statistics for dashboards.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	entries, total, err := s.repo.List(ctx, ListFilter{Limit: 0})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:    total,
		ByType:   make(map[string]int),
		BySource: make(map[string]int),
	}
	for _, e := range entries {
		stats.ByType[string(e.Type)]++
		stats.BySource[string(e.Source)]++
	}
	return stats, nil
}
