package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailsignal/internal/model"
)

type RiskRepository struct {
	db *pgxpool.Pool
}

func NewRiskRepository(db *pgxpool.Pool) *RiskRepository {
	return &RiskRepository{db: db}
}

// UpsertScores writes the cohort pass results, one row per account email.
func (r *RiskRepository) UpsertScores(ctx context.Context, scores []model.RiskScore) error {
	query := `
        INSERT INTO risk_scores (account_email, risk_score, risk_factors, last_calculated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (account_email) DO UPDATE SET
            risk_score         = EXCLUDED.risk_score,
            risk_factors       = EXCLUDED.risk_factors,
            last_calculated_at = EXCLUDED.last_calculated_at
    `
	for _, s := range scores {
		_, err := r.db.Exec(ctx, query,
			s.AccountEmail,
			s.Score,
			s.Factors,
			s.LastCalculatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert risk score: %w", err)
		}
	}
	return nil
}

// ListAll returns every risk score, highest risk first.
func (r *RiskRepository) ListAll(ctx context.Context) ([]model.RiskScore, error) {
	query := `
        SELECT account_email, risk_score, risk_factors, last_calculated_at
        FROM risk_scores
        ORDER BY risk_score DESC, account_email
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk scores: %w", err)
	}
	defer rows.Close()

	scores := []model.RiskScore{}
	for rows.Next() {
		var s model.RiskScore
		err := rows.Scan(
			&s.AccountEmail,
			&s.Score,
			&s.Factors,
			&s.LastCalculatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk score: %w", err)
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}
