// Package postgres implements the repository contracts against PostgreSQL
// using database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/ignite/deliverability-guard/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM suppressions WHERE email = $1)
	`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

func (r *SuppressionRepo) Upsert(ctx context.Context, e *domain.SuppressionEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.SuppressedAt.IsZero() {
		e.SuppressedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO suppressions (id, email, type, source, reason, metadata, suppressed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO UPDATE SET
			type = EXCLUDED.type,
			source = EXCLUDED.source,
			reason = EXCLUDED.reason,
			metadata = EXCLUDED.metadata
	`, e.ID, e.Email, e.Type, e.Source, e.Reason, meta, e.SuppressedAt)
	if err != nil {
		return fmt.Errorf("upsert suppression: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) Remove(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM suppressions WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, f suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	where := ""
	args := []interface{}{}
	idx := 1
	add := func(clause string, val interface{}) {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(clause, idx)
		args = append(args, val)
		idx++
	}

	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Search != "" {
		add("email LIKE $%d", "%"+f.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM suppressions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	q := `
		SELECT id, email, type, source, COALESCE(reason,''), COALESCE(metadata,'{}'), suppressed_at
		FROM suppressions` + where + " ORDER BY suppressed_at DESC"
	// A non-positive limit means the whole list; stats aggregation reads it
	// unpaged.
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", idx, idx+1)
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionEntry
	for rows.Next() {
		var e domain.SuppressionEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.Email, &e.Type, &e.Source, &e.Reason, &meta, &e.SuppressedAt); err != nil {
			return nil, 0, fmt.Errorf("scan suppression: %w", err)
		}
		if len(meta) > 0 {
			json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *SuppressionRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suppressions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count suppressions: %w", err)
	}
	return n, nil
}
