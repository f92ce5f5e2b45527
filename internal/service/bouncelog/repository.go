package bouncelog

import (
	"context"
	"time"

	"github.com/ignite/deliverability-guard/internal/domain"
)

// Repository defines the data access contract for the bounce log.
type Repository interface {
	// Exists reports whether a record for (domainID, messageID) is already
	// logged. The pair is the natural unique key of the log.
	Exists(ctx context.Context, domainID, messageID string) (bool, error)

	// Insert appends a record. Inserting a duplicate (domainID, messageID)
	// must be a no-op, not an error, so concurrent redelivery is safe.
	Insert(ctx context.Context, r *domain.BounceRecord) error

	// CountsByCategory aggregates processed records for a domain over
	// [from, to).
	CountsByCategory(ctx context.Context, domainID string, from, to time.Time) (domain.BounceCounts, error)

	// List returns recent records for a domain, newest first.
	List(ctx context.Context, domainID string, limit, offset int) ([]domain.BounceRecord, error)
}
