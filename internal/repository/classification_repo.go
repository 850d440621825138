package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailsignal/internal/model"
	"mailsignal/pkg/metrics"
)

type ClassificationRepository struct {
	db *pgxpool.Pool
}

func NewClassificationRepository(db *pgxpool.Pool) *ClassificationRepository {
	return &ClassificationRepository{db: db}
}

// UpsertEvents inserts classified events with conflict-ignore on the
// message identity key. Returns the number of rows actually inserted, so
// callers can distinguish "nothing new" from "scan degraded". Safe to call
// repeatedly with the same rows.
func (r *ClassificationRepository) UpsertEvents(ctx context.Context, events []model.ClassifiedEvent) (int, error) {
	query := `
        INSERT INTO classified_events (
            account_id, account_email, mailbox_id, message_id,
            subject, sender, received_at,
            category, sub_category, confidence,
            extracted_code, extracted_amount, extracted_raw, pattern_matched
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT (account_id, mailbox_id, message_id) DO NOTHING
    `

	start := time.Now()
	inserted := 0
	for _, e := range events {
		tag, err := r.db.Exec(ctx, query,
			e.AccountID,
			e.AccountEmail,
			e.MailboxID,
			e.MessageID,
			e.Subject,
			e.Sender,
			e.ReceivedAt,
			string(e.Category),
			e.SubCategory,
			e.Confidence,
			e.Extracted.Code,
			e.Extracted.Amount,
			e.Extracted.Raw,
			e.PatternMatched,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to upsert classified event: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	metrics.RecordDBQueryDuration("upsert", "classified_events", time.Since(start))
	return inserted, nil
}

// ListByAccount returns the full classified history for one account,
// ascending by received timestamp.
func (r *ClassificationRepository) ListByAccount(ctx context.Context, accountEmail string) ([]model.ClassifiedEvent, error) {
	query := selectEvents + `
        WHERE account_email = $1
        ORDER BY received_at ASC
    `
	rows, err := r.db.Query(ctx, query, accountEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListAll returns every classified event across all accounts, used by the
// cohort risk pass.
func (r *ClassificationRepository) ListAll(ctx context.Context) ([]model.ClassifiedEvent, error) {
	query := selectEvents + `
        ORDER BY account_email, received_at ASC
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

const selectEvents = `
        SELECT account_id, account_email, mailbox_id, message_id,
               subject, sender, received_at,
               category, sub_category, confidence,
               extracted_code, extracted_amount, extracted_raw, pattern_matched
        FROM classified_events
`

type eventRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows eventRows) ([]model.ClassifiedEvent, error) {
	events := []model.ClassifiedEvent{}
	for rows.Next() {
		var e model.ClassifiedEvent
		var category string
		err := rows.Scan(
			&e.AccountID,
			&e.AccountEmail,
			&e.MailboxID,
			&e.MessageID,
			&e.Subject,
			&e.Sender,
			&e.ReceivedAt,
			&category,
			&e.SubCategory,
			&e.Confidence,
			&e.Extracted.Code,
			&e.Extracted.Amount,
			&e.Extracted.Raw,
			&e.PatternMatched,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Category = model.Category(category)
		events = append(events, e)
	}
	return events, rows.Err()
}
