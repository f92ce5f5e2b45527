package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/ignite/deliverability-guard/internal/training"
)

// TrainingRepo implements training.Repository against PostgreSQL.
type TrainingRepo struct{ db *sql.DB }

// NewTrainingRepo creates a Postgres-backed training config repository.
func NewTrainingRepo(db *sql.DB) *TrainingRepo { return &TrainingRepo{db: db} }

func (r *TrainingRepo) ForDomain(ctx context.Context, domainID string) (*domain.TrainingConfig, error) {
	tc := &domain.TrainingConfig{}
	var freqSeconds int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, domain_id, daily_limit, min_daily_limit, max_daily_limit,
		       warmup_days, analysis_frequency_seconds, last_analysis_at,
		       last_adjustment_at, last_score, last_bounce_rate, last_fbl_rate,
		       last_delivery_rate, last_delta_pct, status, COALESCE(notes,''),
		       created_at, updated_at
		FROM training_configs
		WHERE domain_id = $1
	`, domainID).Scan(
		&tc.ID, &tc.DomainID, &tc.DailyLimit, &tc.MinDailyLimit, &tc.MaxDailyLimit,
		&tc.WarmupDays, &freqSeconds, &tc.LastAnalysisAt,
		&tc.LastAdjustmentAt, &tc.LastScore, &tc.LastBounceRate, &tc.LastFBLRate,
		&tc.LastDeliveryRate, &tc.LastDeltaPct, &tc.Status, &tc.Notes,
		&tc.CreatedAt, &tc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, training.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get training config: %w", err)
	}
	tc.AnalysisFrequency = time.Duration(freqSeconds) * time.Second
	return tc, nil
}

func (r *TrainingRepo) Save(ctx context.Context, tc *domain.TrainingConfig) error {
	if tc.ID == "" {
		tc.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO training_configs
			(id, domain_id, daily_limit, min_daily_limit, max_daily_limit,
			 warmup_days, analysis_frequency_seconds, last_analysis_at,
			 last_adjustment_at, last_score, last_bounce_rate, last_fbl_rate,
			 last_delivery_rate, last_delta_pct, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
		ON CONFLICT (domain_id) DO UPDATE SET
			daily_limit = EXCLUDED.daily_limit,
			min_daily_limit = EXCLUDED.min_daily_limit,
			max_daily_limit = EXCLUDED.max_daily_limit,
			warmup_days = EXCLUDED.warmup_days,
			analysis_frequency_seconds = EXCLUDED.analysis_frequency_seconds,
			last_analysis_at = EXCLUDED.last_analysis_at,
			last_adjustment_at = EXCLUDED.last_adjustment_at,
			last_score = EXCLUDED.last_score,
			last_bounce_rate = EXCLUDED.last_bounce_rate,
			last_fbl_rate = EXCLUDED.last_fbl_rate,
			last_delivery_rate = EXCLUDED.last_delivery_rate,
			last_delta_pct = EXCLUDED.last_delta_pct,
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			updated_at = NOW()
	`, tc.ID, tc.DomainID, tc.DailyLimit, tc.MinDailyLimit, tc.MaxDailyLimit,
		tc.WarmupDays, int64(tc.AnalysisFrequency/time.Second), tc.LastAnalysisAt,
		tc.LastAdjustmentAt, tc.LastScore, tc.LastBounceRate, tc.LastFBLRate,
		tc.LastDeliveryRate, tc.LastDeltaPct, tc.Status, tc.Notes)
	if err != nil {
		return fmt.Errorf("save training config: %w", err)
	}
	return nil
}
