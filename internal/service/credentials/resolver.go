// Package credentials resolves which mailbox credential to poll for a domain
// and records per-cycle bookkeeping (last-checked timestamp, processed count,
// structured last error) on the chosen credential.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/deliverability-guard/internal/domain"
)

// ErrNotConfigured means neither a domain credential nor an account default
// exists. Callers treat this as skip-this-cycle, never as an alertable error.
var ErrNotConfigured = errors.New("no mailbox credential configured")

// ErrNotFound means the requested credential id does not exist.
var ErrNotFound = errors.New("mailbox credential not found")

// Repository defines the data access contract for mailbox credentials.
type Repository interface {
	// ActiveForDomain returns active credentials bound to the domain,
	// oldest first (created_at, then id) so resolution is deterministic.
	ActiveForDomain(ctx context.Context, domainID string) ([]domain.MailboxCredential, error)

	// ActiveDefaults returns active account-wide defaults (domain_id IS
	// NULL, is_default), oldest first.
	ActiveDefaults(ctx context.Context) ([]domain.MailboxCredential, error)

	// MarkChecked records a successful cycle: bumps last_checked_at,
	// increments processed_count by n, and clears any stored error.
	MarkChecked(ctx context.Context, credentialID string, processed int, at time.Time) error

	// SetError records a structured connectivity error on the credential.
	SetError(ctx context.Context, credentialID string, e domain.CredentialError) error

	// Get returns a credential by id without its secret material.
	Get(ctx context.Context, credentialID string) (*domain.MailboxCredential, error)
}

// Resolver selects the credential to poll for a domain.
type Resolver struct {
	repo Repository
}

// NewResolver creates a credential resolver.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the credential to poll for the domain: the domain's own
// active credential if one exists, otherwise the account's active default.
// When several qualify, the oldest wins. Returns ErrNotConfigured when
// neither exists.
func (r *Resolver) Resolve(ctx context.Context, domainID string) (*domain.MailboxCredential, error) {
	own, err := r.repo.ActiveForDomain(ctx, domainID)
	if err != nil {
		return nil, fmt.Errorf("load domain credentials: %w", err)
	}
	if c := Pick(own); c != nil {
		return c, nil
	}

	defaults, err := r.repo.ActiveDefaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("load default credentials: %w", err)
	}
	if c := Pick(defaults); c != nil {
		return c, nil
	}

	return nil, ErrNotConfigured
}

// Pick applies the tie-break over already-loaded candidates: first active
// entry in creation order. Exposed so the precedence rule is testable
// without a repository.
func Pick(candidates []domain.MailboxCredential) *domain.MailboxCredential {
	for i := range candidates {
		if candidates[i].IsActive {
			return &candidates[i]
		}
	}
	return nil
}

// RecordSuccess clears the error state and bumps the cycle counters after a
// clean poll.
func (r *Resolver) RecordSuccess(ctx context.Context, credentialID string, processed int) error {
	return r.repo.MarkChecked(ctx, credentialID, processed, time.Now().UTC())
}

// RecordFailure stores the structured error so the owning account can see
// why polling is failing. The error clears automatically on the next
// successful cycle.
func (r *Resolver) RecordFailure(ctx context.Context, credentialID, context_ string, cause error) error {
	return r.repo.SetError(ctx, credentialID, domain.CredentialError{
		Message:    cause.Error(),
		Context:    context_,
		OccurredAt: time.Now().UTC(),
	})
}
