package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/deliverability-guard/internal/domain"
)

// DomainRepo implements scheduler.DomainRepository against PostgreSQL.
type DomainRepo struct{ db *sql.DB }

// NewDomainRepo creates a Postgres-backed sending domain repository.
func NewDomainRepo(db *sql.DB) *DomainRepo { return &DomainRepo{db: db} }

func (r *DomainRepo) ListBounceEnabled(ctx context.Context) ([]domain.SendingDomain, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, bounce_processing, training_enabled,
		       check_interval_seconds, last_bounce_check_at,
		       COALESCE(rule_overrides,'{}'), created_at
		FROM sending_domains
		WHERE bounce_processing = true OR training_enabled = true
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []domain.SendingDomain
	for rows.Next() {
		var d domain.SendingDomain
		var intervalSeconds int64
		if err := rows.Scan(&d.ID, &d.Name, &d.BounceProcessing, &d.TrainingEnabled,
			&intervalSeconds, &d.LastBounceCheckAt, &d.RuleOverridesJSON, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		d.CheckInterval = time.Duration(intervalSeconds) * time.Second
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DomainRepo) MarkBounceChecked(ctx context.Context, domainID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sending_domains SET last_bounce_check_at = $1 WHERE id = $2
	`, at, domainID)
	if err != nil {
		return fmt.Errorf("mark domain checked: %w", err)
	}
	return nil
}

// DeliveryRepo reads the sending pipeline's per-domain delivery counters.
// The guard never writes this table.
type DeliveryRepo struct{ db *sql.DB }

// NewDeliveryRepo creates a Postgres-backed delivery metrics source.
func NewDeliveryRepo(db *sql.DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

func (r *DeliveryRepo) DeliveryWindow(ctx context.Context, domainID string, from, to time.Time) (domain.DeliveryMetrics, error) {
	var m domain.DeliveryMetrics
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(sent_count),0), COALESCE(SUM(delivered_count),0),
		       COALESCE(SUM(complaint_count),0), COALESCE(SUM(fbl_count),0)
		FROM delivery_stats
		WHERE domain_id = $1 AND stat_at >= $2 AND stat_at < $3
	`, domainID, from, to).Scan(&m.Sent, &m.Delivered, &m.Complaints, &m.FBLReports)
	if err != nil {
		return m, fmt.Errorf("delivery window: %w", err)
	}
	return m, nil
}
