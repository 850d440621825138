package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsignal/internal/model"
)

type AccountStateRepository struct {
	db *pgxpool.Pool
}

func NewAccountStateRepository(db *pgxpool.Pool) *AccountStateRepository {
	return &AccountStateRepository{db: db}
}

// Upsert writes the materialized state for one account, replacing any
// previous row. The state is fully recomputed each pass, so a plain
// overwrite is correct.
func (r *AccountStateRepository) Upsert(ctx context.Context, s model.AccountState) error {
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal state metadata: %w", err)
	}

	query := `
        INSERT INTO account_states (
            account_email, current_state, previous_state, state_confidence,
            lifecycle_score, anomaly_flags, email_count,
            first_event_at, last_event_at, metadata, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
        ON CONFLICT (account_email) DO UPDATE SET
            current_state    = EXCLUDED.current_state,
            previous_state   = EXCLUDED.previous_state,
            state_confidence = EXCLUDED.state_confidence,
            lifecycle_score  = EXCLUDED.lifecycle_score,
            anomaly_flags    = EXCLUDED.anomaly_flags,
            email_count      = EXCLUDED.email_count,
            first_event_at   = EXCLUDED.first_event_at,
            last_event_at    = EXCLUDED.last_event_at,
            metadata         = EXCLUDED.metadata,
            updated_at       = NOW()
    `

	_, err = r.db.Exec(ctx, query,
		s.AccountEmail,
		string(s.CurrentState),
		string(s.PreviousState),
		s.StateConfidence,
		s.LifecycleScore,
		s.AnomalyFlags,
		s.EmailCount,
		s.FirstEventAt,
		s.LastEventAt,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account state: %w", err)
	}
	return nil
}

// Get returns the state row for one account, nil when the account has not
// been scanned yet.
func (r *AccountStateRepository) Get(ctx context.Context, accountEmail string) (*model.AccountState, error) {
	query := selectStates + ` WHERE account_email = $1`

	var s model.AccountState
	var currentState, previousState string
	var metadata []byte
	err := r.db.QueryRow(ctx, query, accountEmail).Scan(
		&s.AccountEmail,
		&currentState,
		&previousState,
		&s.StateConfidence,
		&s.LifecycleScore,
		&s.AnomalyFlags,
		&s.EmailCount,
		&s.FirstEventAt,
		&s.LastEventAt,
		&metadata,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query account state: %w", err)
	}
	s.CurrentState = model.LifecycleState(currentState)
	s.PreviousState = model.LifecycleState(previousState)
	if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state metadata: %w", err)
	}
	return &s, nil
}

// ListAll returns every account state, used to build the cohort snapshot.
func (r *AccountStateRepository) ListAll(ctx context.Context) ([]model.AccountState, error) {
	rows, err := r.db.Query(ctx, selectStates+` ORDER BY account_email`)
	if err != nil {
		return nil, fmt.Errorf("failed to query account states: %w", err)
	}
	defer rows.Close()

	states := []model.AccountState{}
	for rows.Next() {
		var s model.AccountState
		var currentState, previousState string
		var metadata []byte
		err := rows.Scan(
			&s.AccountEmail,
			&currentState,
			&previousState,
			&s.StateConfidence,
			&s.LifecycleScore,
			&s.AnomalyFlags,
			&s.EmailCount,
			&s.FirstEventAt,
			&s.LastEventAt,
			&metadata,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account state: %w", err)
		}
		s.CurrentState = model.LifecycleState(currentState)
		s.PreviousState = model.LifecycleState(previousState)
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state metadata: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

const selectStates = `
        SELECT account_email, current_state, previous_state, state_confidence,
               lifecycle_score, anomaly_flags, email_count,
               first_event_at, last_event_at, metadata, updated_at
        FROM account_states
`
