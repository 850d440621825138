package util

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{"nil", nil, false, ""},
		{"no rows", pgx.ErrNoRows, false, "row_not_found"},
		{"duplicate key", errors.New(`duplicate key value violates unique constraint`), false, "duplicate_key"},
		{"db connection", errors.New("failed to connect to database: connection refused"), true, "db_connection_error"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"provider 5xx", fmt.Errorf("provider returned 5xx: 503"), true, "provider_server_error"},
		{"provider 4xx", fmt.Errorf("provider returned error: 404"), false, "provider_client_error"},
		{"breaker open", errors.New("circuit breaker is open"), true, "provider_unavailable"},
		{"unknown", errors.New("something odd"), false, "unknown_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, errType := IsRetryableError(tc.err)
			if retryable != tc.retryable {
				t.Fatalf("retryable: expected %v, got %v", tc.retryable, retryable)
			}
			if errType != tc.errType {
				t.Fatalf("type: expected %q, got %q", tc.errType, errType)
			}
		})
	}
}

func TestIsRetryableErrorWrapped(t *testing.T) {
	err := fmt.Errorf("fetch page: %w", fmt.Errorf("provider returned 5xx: 502"))
	retryable, errType := IsRetryableError(err)
	if !retryable || errType != "provider_server_error" {
		t.Fatalf("wrapped provider error misclassified: %v %q", retryable, errType)
	}
}
