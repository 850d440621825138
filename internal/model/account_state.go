package model

import "time"

// LifecycleState is the closed set of account lifecycle states.
type LifecycleState string

const (
	StateUnknown     LifecycleState = "UNKNOWN"
	StateRegistered  LifecycleState = "REGISTERED"
	StateVerifying   LifecycleState = "VERIFYING"
	StateBGCPending  LifecycleState = "BGC_PENDING"
	StateBGCClear    LifecycleState = "BGC_CLEAR"
	StateBGCIssue    LifecycleState = "BGC_ISSUE"
	StateOnboarding  LifecycleState = "ONBOARDING"
	StateActive      LifecycleState = "ACTIVE"
	StateWarning     LifecycleState = "WARNING"
	StateDeactivated LifecycleState = "DEACTIVATED"
	StateAppealing   LifecycleState = "APPEALING"
)

// StateMetadata carries the category histogram and the key milestone dates
// the insight generator and risk scorer read.
type StateMetadata struct {
	CategoryCounts map[Category]int `json:"category_counts"`
	RegisteredAt   *time.Time       `json:"registered_at,omitempty"`
	BGCClearAt     *time.Time       `json:"bgc_clear_at,omitempty"`
	FirstActiveAt  *time.Time       `json:"first_active_at,omitempty"`
	DeactivatedAt  *time.Time       `json:"deactivated_at,omitempty"`
}

// AccountState is the materialized lifecycle view for one account. It is
// recomputed idempotently from the full classified history on every pass;
// it carries no independent source of truth.
type AccountState struct {
	AccountEmail    string         `json:"account_email"`
	CurrentState    LifecycleState `json:"current_state"`
	PreviousState   LifecycleState `json:"previous_state,omitempty"`
	StateConfidence float64        `json:"state_confidence"`
	LifecycleScore  int            `json:"lifecycle_score"`
	AnomalyFlags    []string       `json:"anomaly_flags"`
	EmailCount      int            `json:"email_count"`
	FirstEventAt    time.Time      `json:"first_event_at"`
	LastEventAt     time.Time      `json:"last_event_at"`
	Metadata        StateMetadata  `json:"metadata"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
