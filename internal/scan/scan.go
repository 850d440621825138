// Package scan drives the incremental mailbox scan: it pages the account
// population from the provider, classifies message batches, feeds the
// lifecycle state machine, regenerates insights and risk scores, and
// persists everything through idempotent upserts — all under a cooperative
// wall-clock budget.
package scan

import (
	"context"
	"errors"
	"time"

	"mailsignal/internal/model"
)

// ErrRunInProgress is returned when another run holds the scan lock.
var ErrRunInProgress = errors.New("scan run already in progress")

// Provider is the mail-provider collaborator. Pagination must be stable
// within one run: already-seen items do not shift between calls, and
// message pages are ordered newest first.
type Provider interface {
	ListAccounts(ctx context.Context, page int) ([]model.Account, bool, error)
	ListMailboxes(ctx context.Context, accountID string) ([]model.Mailbox, error)
	ListMessages(ctx context.Context, accountID, mailboxID string, page int) ([]model.Message, bool, error)
}

// EventStore persists classified events with conflict-ignore upserts.
type EventStore interface {
	UpsertEvents(ctx context.Context, events []model.ClassifiedEvent) (int, error)
	ListByAccount(ctx context.Context, accountEmail string) ([]model.ClassifiedEvent, error)
	ListAll(ctx context.Context) ([]model.ClassifiedEvent, error)
}

// StateStore persists the materialized account states.
type StateStore interface {
	Upsert(ctx context.Context, state model.AccountState) error
	ListAll(ctx context.Context) ([]model.AccountState, error)
}

// InsightStore replaces an account's non-dismissed insights per pass.
type InsightStore interface {
	ReplaceForAccount(ctx context.Context, accountEmail string, insights []model.Insight) error
}

// RiskStore persists the cohort risk pass.
type RiskStore interface {
	UpsertScores(ctx context.Context, scores []model.RiskScore) error
}

// StatusStore tracks the per-account incremental cutoff.
type StatusStore interface {
	Cutoffs(ctx context.Context) (map[string]time.Time, error)
	Touch(ctx context.Context, accountID, accountEmail string, scannedAt time.Time) error
}

// EventSink receives lifecycle events for downstream fan-out (the outbox).
type EventSink interface {
	Insert(ctx context.Context, aggregateID, routingKey string, payload any) error
}

// Guard is a once-only acquisition guard (redis-backed in production).
type Guard interface {
	AcquireOnce(ctx context.Context, scope, key string) bool
	Release(ctx context.Context, scope, key string)
}

// Stores bundles the persistence collaborators.
type Stores struct {
	Events   EventStore
	States   StateStore
	Insights InsightStore
	Risk     RiskStore
	Status   StatusStore
}

// Options tune one coordinator instance.
type Options struct {
	// BatchSize is the number of accounts per batch; batches run
	// sequentially, accounts within a batch concurrently.
	BatchSize int
	// Budget is the wall-clock limit for starting new batches. Checked
	// between batches only; an in-flight batch always completes.
	Budget time.Duration
	// Folders is the mailbox allow-list, matched case-insensitively by
	// substring against the folder path.
	Folders []string
}

// Result is the aggregate outcome of one run. Counts reflect confirmed
// writes only, never optimistic ones; a budget-exceeded run is a valid,
// resumable partial result, not an error.
type Result struct {
	RunID             string        `json:"run_id"`
	AccountsTotal     int           `json:"accounts_total"`
	AccountsScanned   int           `json:"accounts_scanned"`
	AccountsRemaining int           `json:"accounts_remaining"`
	MessagesFetched   int           `json:"messages_fetched"`
	Classified        int           `json:"classified"`
	Inserted          int           `json:"inserted"`
	StatesUpdated     int           `json:"states_updated"`
	InsightsWritten   int           `json:"insights_written"`
	RiskScored        int           `json:"risk_scored"`
	Errors            int           `json:"errors"`
	BudgetExceeded    bool          `json:"budget_exceeded"`
	Duration          time.Duration `json:"duration"`
}

// StateChangedPayload is published as account.state.changed.
type StateChangedPayload struct {
	AccountEmail   string    `json:"account_email"`
	PreviousState  string    `json:"previous_state"`
	CurrentState   string    `json:"current_state"`
	LifecycleScore int       `json:"lifecycle_score"`
	ChangedAt      time.Time `json:"changed_at"`
}

// InsightCreatedPayload is published as insight.created for urgent
// findings.
type InsightCreatedPayload struct {
	AccountEmail string    `json:"account_email"`
	InsightType  string    `json:"insight_type"`
	Priority     string    `json:"priority"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}
