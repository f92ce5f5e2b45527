package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/deliverability-guard/internal/domain"
)

// ReputationRepo implements reputation.Repository against PostgreSQL.
type ReputationRepo struct{ db *sql.DB }

// NewReputationRepo creates a Postgres-backed reputation history repository.
func NewReputationRepo(db *sql.DB) *ReputationRepo { return &ReputationRepo{db: db} }

func (r *ReputationRepo) UpsertSnapshot(ctx context.Context, s *domain.ReputationSnapshot) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reputation_snapshots
			(id, domain_id, date, score, risk, bounce_rate, fbl_rate,
			 spam_complaint_rate, delivery_rate, total_sent, total_bounced,
			 total_complained, diagnostics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (domain_id, date) DO UPDATE SET
			score = EXCLUDED.score,
			risk = EXCLUDED.risk,
			bounce_rate = EXCLUDED.bounce_rate,
			fbl_rate = EXCLUDED.fbl_rate,
			spam_complaint_rate = EXCLUDED.spam_complaint_rate,
			delivery_rate = EXCLUDED.delivery_rate,
			total_sent = EXCLUDED.total_sent,
			total_bounced = EXCLUDED.total_bounced,
			total_complained = EXCLUDED.total_complained,
			diagnostics = EXCLUDED.diagnostics
	`, s.ID, s.DomainID, s.Date, s.Score, s.Risk, s.BounceRate, s.FBLRate,
		s.SpamComplaintRate, s.DeliveryRate, s.TotalSent, s.TotalBounced,
		s.TotalComplained, s.Diagnostics)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `
	id, domain_id, date, score, risk, bounce_rate, fbl_rate,
	spam_complaint_rate, delivery_rate, total_sent, total_bounced,
	total_complained, COALESCE(diagnostics,''), created_at`

func (r *ReputationRepo) Latest(ctx context.Context, domainID string) (*domain.ReputationSnapshot, error) {
	s := &domain.ReputationSnapshot{}
	err := r.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM reputation_snapshots
		WHERE domain_id = $1
		ORDER BY date DESC
		LIMIT 1
	`, domainID).Scan(
		&s.ID, &s.DomainID, &s.Date, &s.Score, &s.Risk, &s.BounceRate,
		&s.FBLRate, &s.SpamComplaintRate, &s.DeliveryRate, &s.TotalSent,
		&s.TotalBounced, &s.TotalComplained, &s.Diagnostics, &s.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return s, nil
}

func (r *ReputationRepo) Trend(ctx context.Context, domainID string, from, to time.Time) ([]domain.ReputationSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM reputation_snapshots
		WHERE domain_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`, domainID, from, to)
	if err != nil {
		return nil, fmt.Errorf("snapshot trend: %w", err)
	}
	defer rows.Close()

	var out []domain.ReputationSnapshot
	for rows.Next() {
		var s domain.ReputationSnapshot
		if err := rows.Scan(
			&s.ID, &s.DomainID, &s.Date, &s.Score, &s.Risk, &s.BounceRate,
			&s.FBLRate, &s.SpamComplaintRate, &s.DeliveryRate, &s.TotalSent,
			&s.TotalBounced, &s.TotalComplained, &s.Diagnostics, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
