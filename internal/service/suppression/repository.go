package suppression

import (
	"context"

	"github.com/ignite/deliverability-guard/internal/domain"
)

// Repository defines the data access contract for the suppression list.
type Repository interface {
	// IsSuppressed returns true if the normalized email is on the list.
	IsSuppressed(ctx context.Context, email string) (bool, error)

	// Upsert adds an email to the list or, if it already exists, overwrites
	// type, source, reason, and metadata (last-write-wins). The original
	// suppressed-at timestamp is preserved.
	Upsert(ctx context.Context, e *domain.SuppressionEntry) error

	// Remove deletes an entry. Returns ErrNotFound if it doesn't exist.
	Remove(ctx context.Context, email string) error

	// List returns entries matching the filter plus the total count.
	List(ctx context.Context, filter ListFilter) ([]domain.SuppressionEntry, int, error)

	// Count returns the total number of suppressed addresses.
	Count(ctx context.Context) (int, error)
}

// ListFilter controls pagination and filtering for suppression lists.
type ListFilter struct {
	Type   string
	Source string
	Search string
	Limit  int
	Offset int
}
