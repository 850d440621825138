package model

import "time"

// RiskScore is the cohort-relative deactivation risk for one live account.
type RiskScore struct {
	AccountEmail     string    `json:"account_email"`
	Score            int       `json:"risk_score"`
	Factors          []string  `json:"risk_factors"`
	LastCalculatedAt time.Time `json:"last_calculated_at"`
}

// ScanStatus tracks the incremental-scan cutoff for one account. Only
// incremental policies honor the cutoff; full-history policies ignore it.
type ScanStatus struct {
	AccountID     string    `json:"account_id"`
	AccountEmail  string    `json:"account_email"`
	LastScannedAt time.Time `json:"last_scanned_at"`
}
