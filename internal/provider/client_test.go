package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mailsignal/pkg/config"
	"mailsignal/pkg/trace"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.ProviderConfig{
		BaseURL:  baseURL,
		APIToken: "test-token",
		PageSize: 2,
	})
}

func TestListAccountsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("expected bearer auth, got %q", got)
		}
		if got := r.URL.Query().Get("page_size"); got != "2" {
			t.Fatalf("expected page_size 2, got %q", got)
		}
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"accounts":[{"id":"a1","email":"a@x.com"},{"id":"a2","email":"b@x.com"}],"has_next_page":true}`)
		case "2":
			fmt.Fprint(w, `{"accounts":[{"id":"a3","email":"c@x.com"}],"has_next_page":false}`)
		default:
			t.Fatalf("unexpected page %s", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	first, hasNext, err := c.ListAccounts(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 2 || !hasNext {
		t.Fatalf("expected full first page, got %d hasNext=%v", len(first), hasNext)
	}

	second, hasNext, err := c.ListAccounts(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 1 || hasNext {
		t.Fatalf("expected final page, got %d hasNext=%v", len(second), hasNext)
	}
	if second[0].Email != "c@x.com" {
		t.Fatalf("unexpected account: %+v", second[0])
	}
}

func TestListMessagesFillsIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/a1/mailboxes/m1/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"messages":[{"id":"msg1","subject":"Welcome to DoorDash","sender":"no-reply@doordash.com"}],"has_next_page":false}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	msgs, hasNext, err := c.ListMessages(context.Background(), "a1", "m1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hasNext {
		t.Fatal("expected single page")
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	if msgs[0].AccountID != "a1" || msgs[0].MailboxID != "m1" {
		t.Fatalf("expected identity backfill, got %+v", msgs[0])
	}
}

func TestClientPropagatesRunID(t *testing.T) {
	var gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = r.Header.Get(trace.HeaderName())
		fmt.Fprint(w, `{"mailboxes":[{"id":"m1","path":"INBOX"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := trace.WithContext(context.Background(), "run-abc123")

	if _, err := c.ListMailboxes(ctx, "a1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTrace != "run-abc123" {
		t.Fatalf("expected run id header, got %q", gotTrace)
	}
}

func TestClientServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	_, _, err := c.ListAccounts(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error on 500")
	}
	if !strings.Contains(err.Error(), "provider returned 5xx") {
		t.Fatalf("expected 5xx error, got %v", err)
	}
}

func TestClientClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	_, err := c.ListMailboxes(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if !strings.Contains(err.Error(), "provider returned error: 404") {
		t.Fatalf("expected client error, got %v", err)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	for i := 0; i < 3; i++ {
		if _, _, err := c.ListAccounts(context.Background(), 1); err == nil {
			t.Fatal("expected failure")
		}
	}

	// Threshold reached: the next call fails fast without touching the
	// server.
	_, _, err := c.ListAccounts(context.Background(), 1)
	if err == nil {
		t.Fatal("expected breaker to reject the call")
	}
	if !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Fatalf("expected open-breaker error, got %v", err)
	}
}
