package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ScanStatusRepository struct {
	db *pgxpool.Pool
}

func NewScanStatusRepository(db *pgxpool.Pool) *ScanStatusRepository {
	return &ScanStatusRepository{db: db}
}

// Cutoffs returns last_scanned_at per account id. Incremental policies use
// this as their cutoff; full-history policies ignore it.
func (r *ScanStatusRepository) Cutoffs(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.Query(ctx, `
        SELECT account_id, last_scanned_at FROM scan_status
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan status: %w", err)
	}
	defer rows.Close()

	cutoffs := make(map[string]time.Time)
	for rows.Next() {
		var accountID string
		var lastScannedAt time.Time
		if err := rows.Scan(&accountID, &lastScannedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		cutoffs[accountID] = lastScannedAt
	}
	return cutoffs, rows.Err()
}

// Touch records a completed scan for one account. Only accounts actually
// processed in the current run are touched.
func (r *ScanStatusRepository) Touch(ctx context.Context, accountID, accountEmail string, scannedAt time.Time) error {
	query := `
        INSERT INTO scan_status (account_id, account_email, last_scanned_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (account_id) DO UPDATE SET
            account_email   = EXCLUDED.account_email,
            last_scanned_at = EXCLUDED.last_scanned_at
    `
	if _, err := r.db.Exec(ctx, query, accountID, accountEmail, scannedAt); err != nil {
		return fmt.Errorf("failed to touch scan status: %w", err)
	}
	return nil
}
