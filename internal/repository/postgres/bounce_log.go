package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/deliverability-guard/internal/domain"
)

// BounceLogRepo implements bouncelog.Repository against PostgreSQL.
type BounceLogRepo struct{ db *sql.DB }

// NewBounceLogRepo creates a Postgres-backed bounce log repository.
func NewBounceLogRepo(db *sql.DB) *BounceLogRepo { return &BounceLogRepo{db: db} }

func (r *BounceLogRepo) Exists(ctx context.Context, domainID, messageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bounce_records WHERE domain_id = $1 AND message_id = $2)
	`, domainID, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check bounce record: %w", err)
	}
	return exists, nil
}

func (r *BounceLogRepo) Insert(ctx context.Context, rec *domain.BounceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	// The (domain_id, message_id) unique index makes redelivery a no-op.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bounce_records
			(id, domain_id, message_id, sender, recipient, reason, category,
			 status, error, raw_message, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (domain_id, message_id) DO NOTHING
	`, rec.ID, rec.DomainID, rec.MessageID, rec.Sender, rec.Recipient,
		rec.Reason, rec.Category, rec.Status, rec.Error, rec.RawMessage, rec.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert bounce record: %w", err)
	}
	return nil
}

func (r *BounceLogRepo) CountsByCategory(ctx context.Context, domainID string, from, to time.Time) (domain.BounceCounts, error) {
	var c domain.BounceCounts
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, COUNT(*)
		FROM bounce_records
		WHERE domain_id = $1 AND status = 'processed'
		  AND processed_at >= $2 AND processed_at < $3
		GROUP BY category
	`, domainID, from, to)
	if err != nil {
		return c, fmt.Errorf("count bounces: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category domain.BounceCategory
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return c, fmt.Errorf("scan bounce count: %w", err)
		}
		switch category {
		case domain.BounceHard:
			c.Hard = n
		case domain.BounceSoft:
			c.Soft = n
		case domain.BounceSpam:
			c.Spam = n
		case domain.BounceBlock:
			c.Block = n
		default:
			c.Unknown += n
		}
	}
	return c, rows.Err()
}

func (r *BounceLogRepo) List(ctx context.Context, domainID string, limit, offset int) ([]domain.BounceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, domain_id, message_id, COALESCE(sender,''), COALESCE(recipient,''),
		       COALESCE(reason,''), category, status, COALESCE(error,''), processed_at
		FROM bounce_records
		WHERE domain_id = $1
		ORDER BY processed_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, domainID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bounce records: %w", err)
	}
	defer rows.Close()

	var out []domain.BounceRecord
	for rows.Next() {
		var rec domain.BounceRecord
		if err := rows.Scan(&rec.ID, &rec.DomainID, &rec.MessageID, &rec.Sender,
			&rec.Recipient, &rec.Reason, &rec.Category, &rec.Status, &rec.Error,
			&rec.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan bounce record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
