package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsignal/internal/model"
)

type InsightRepository struct {
	db *pgxpool.Pool
}

func NewInsightRepository(db *pgxpool.Pool) *InsightRepository {
	return &InsightRepository{db: db}
}

// ReplaceForAccount atomically swaps an account's non-dismissed insights
// for the freshly generated list. Dismissed insights are preserved and
// never regenerated.
func (r *InsightRepository) ReplaceForAccount(ctx context.Context, accountEmail string, insights []model.Insight) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin insight replacement: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        DELETE FROM insights
        WHERE account_email = $1 AND dismissed = FALSE
    `, accountEmail)
	if err != nil {
		return fmt.Errorf("failed to delete stale insights: %w", err)
	}

	query := `
        INSERT INTO insights (
            account_email, insight_type, priority, title,
            description, suggested_action, dismissed, created_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
    `
	for _, ins := range insights {
		_, err := tx.Exec(ctx, query,
			ins.AccountEmail,
			string(ins.Type),
			string(ins.Priority),
			ins.Title,
			ins.Description,
			ins.SuggestedAction,
			ins.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert insight: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListByAccount returns an account's insights, non-dismissed first, newest
// first within each group.
func (r *InsightRepository) ListByAccount(ctx context.Context, accountEmail string) ([]model.Insight, error) {
	query := `
        SELECT account_email, insight_type, priority, title,
               description, suggested_action, dismissed, created_at
        FROM insights
        WHERE account_email = $1
        ORDER BY dismissed ASC, created_at DESC, id ASC
    `
	rows, err := r.db.Query(ctx, query, accountEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	insights := []model.Insight{}
	for rows.Next() {
		var ins model.Insight
		var insightType, priority string
		err := rows.Scan(
			&ins.AccountEmail,
			&insightType,
			&priority,
			&ins.Title,
			&ins.Description,
			&ins.SuggestedAction,
			&ins.Dismissed,
			&ins.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		ins.Type = model.InsightType(insightType)
		ins.Priority = model.InsightPriority(priority)
		insights = append(insights, ins)
	}
	return insights, rows.Err()
}

// Dismiss marks one insight as dismissed so regeneration skips it.
func (r *InsightRepository) Dismiss(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
        UPDATE insights SET dismissed = TRUE WHERE id = $1
    `, id)
	if err != nil {
		return fmt.Errorf("failed to dismiss insight: %w", err)
	}
	return nil
}
