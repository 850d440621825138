// Package provider implements the mail-provider collaborator contract:
// paginated accounts, mailboxes per account, and paginated messages per
// mailbox. The transport is HTTP/JSON behind a circuit breaker; the
// semantics the scanner consumes (stable pagination, has-next flags) are
// fixed here.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mailsignal/internal/model"
	"mailsignal/pkg/circuitbreaker"
	"mailsignal/pkg/config"
	"mailsignal/pkg/metrics"
	"mailsignal/pkg/trace"
)

type Client struct {
	baseURL    string
	apiToken   string
	pageSize   int
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
}

func NewClient(cfg config.ProviderConfig) *Client {
	cbConfig := circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		cb: circuitbreaker.NewCircuitBreaker(cbConfig),
	}
}

type accountsResponse struct {
	Accounts    []model.Account `json:"accounts"`
	HasNextPage bool            `json:"has_next_page"`
}

type mailboxesResponse struct {
	Mailboxes []model.Mailbox `json:"mailboxes"`
}

type messagesResponse struct {
	Messages    []model.Message `json:"messages"`
	HasNextPage bool            `json:"has_next_page"`
}

// ListAccounts fetches one page of the account population.
func (c *Client) ListAccounts(ctx context.Context, page int) ([]model.Account, bool, error) {
	var out accountsResponse
	url := fmt.Sprintf("%s/accounts?page=%d&page_size=%d", c.baseURL, page, c.pageSize)
	if err := c.getJSON(ctx, "/accounts", url, &out); err != nil {
		return nil, false, err
	}
	return out.Accounts, out.HasNextPage, nil
}

// ListMailboxes fetches all mailboxes of one account.
func (c *Client) ListMailboxes(ctx context.Context, accountID string) ([]model.Mailbox, error) {
	var out mailboxesResponse
	url := fmt.Sprintf("%s/accounts/%s/mailboxes", c.baseURL, accountID)
	if err := c.getJSON(ctx, "/mailboxes", url, &out); err != nil {
		return nil, err
	}
	return out.Mailboxes, nil
}

// ListMessages fetches one page of a mailbox, newest first. Page numbers
// are stable within a scan run: already-seen items do not shift between
// calls.
func (c *Client) ListMessages(ctx context.Context, accountID, mailboxID string, page int) ([]model.Message, bool, error) {
	var out messagesResponse
	url := fmt.Sprintf("%s/accounts/%s/mailboxes/%s/messages?page=%d&page_size=%d",
		c.baseURL, accountID, mailboxID, page, c.pageSize)
	if err := c.getJSON(ctx, "/messages", url, &out); err != nil {
		return nil, false, err
	}
	for i := range out.Messages {
		if out.Messages[i].AccountID == "" {
			out.Messages[i].AccountID = accountID
		}
		if out.Messages[i].MailboxID == "" {
			out.Messages[i].MailboxID = mailboxID
		}
	}
	return out.Messages, out.HasNextPage, nil
}

// getJSON executes one GET under breaker protection and decodes into out.
func (c *Client) getJSON(ctx context.Context, endpoint, url string, out any) error {
	return c.cb.Execute(func() error {
		start := time.Now()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiToken)
		}
		if runID := trace.FromContext(ctx); runID != "" {
			req.Header.Set(trace.HeaderName(), runID)
		}

		resp, err := c.httpClient.Do(req)
		latency := time.Since(start)
		if err != nil {
			metrics.RecordProviderCallLatency(endpoint, "error", latency)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			metrics.RecordProviderCallLatency(endpoint, "5xx", latency)
			return fmt.Errorf("provider returned 5xx: %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			metrics.RecordProviderCallLatency(endpoint, strconv.Itoa(resp.StatusCode), latency)
			return fmt.Errorf("provider returned error: %d", resp.StatusCode)
		}

		metrics.RecordProviderCallLatency(endpoint, "success", latency)
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
		return nil
	})
}
