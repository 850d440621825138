package scan

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailsignal/internal/model"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// --- fakes ---

type fakeProvider struct {
	mu        sync.Mutex
	accounts  []model.Account
	mailboxes map[string][]model.Mailbox
	// messages per accountID/mailboxID, newest first.
	messages      map[string][]model.Message
	pageSize      int
	failMailboxes map[string]error
	messageCalls  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		mailboxes:     make(map[string][]model.Mailbox),
		messages:      make(map[string][]model.Message),
		failMailboxes: make(map[string]error),
		pageSize:      100,
	}
}

func (p *fakeProvider) ListAccounts(_ context.Context, page int) ([]model.Account, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := (page - 1) * p.pageSize
	if start >= len(p.accounts) {
		return nil, false, nil
	}
	end := start + p.pageSize
	if end > len(p.accounts) {
		end = len(p.accounts)
	}
	return p.accounts[start:end], end < len(p.accounts), nil
}

func (p *fakeProvider) ListMailboxes(_ context.Context, accountID string) ([]model.Mailbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failMailboxes[accountID]; err != nil {
		return nil, err
	}
	return p.mailboxes[accountID], nil
}

func (p *fakeProvider) ListMessages(_ context.Context, accountID, mailboxID string, page int) ([]model.Message, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messageCalls++
	msgs := p.messages[accountID+"/"+mailboxID]
	start := (page - 1) * p.pageSize
	if start >= len(msgs) {
		return nil, false, nil
	}
	end := start + p.pageSize
	if end > len(msgs) {
		end = len(msgs)
	}
	return msgs[start:end], end < len(msgs), nil
}

type memStores struct {
	mu       sync.Mutex
	events   map[string]model.ClassifiedEvent
	states   map[string]model.AccountState
	insights map[string][]model.Insight
	risk     []model.RiskScore
	cutoffs  map[string]time.Time
}

func newMemStores() *memStores {
	return &memStores{
		events:   make(map[string]model.ClassifiedEvent),
		states:   make(map[string]model.AccountState),
		insights: make(map[string][]model.Insight),
		cutoffs:  make(map[string]time.Time),
	}
}

func (s *memStores) UpsertEvents(_ context.Context, events []model.ClassifiedEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, ev := range events {
		key := ev.AccountID + "/" + ev.MailboxID + "/" + ev.MessageID
		if _, ok := s.events[key]; ok {
			continue
		}
		s.events[key] = ev
		inserted++
	}
	return inserted, nil
}

func (s *memStores) ListByAccount(_ context.Context, accountEmail string) ([]model.ClassifiedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ClassifiedEvent
	for _, ev := range s.events {
		if ev.AccountEmail == accountEmail {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (s *memStores) ListAll(_ context.Context) ([]model.ClassifiedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ClassifiedEvent
	for _, ev := range s.events {
		out = append(out, ev)
	}
	return out, nil
}

type memStateStore struct{ s *memStores }

func (m memStateStore) Upsert(_ context.Context, state model.AccountState) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.states[state.AccountEmail] = state
	return nil
}

func (m memStateStore) ListAll(_ context.Context) ([]model.AccountState, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []model.AccountState
	for _, st := range m.s.states {
		out = append(out, st)
	}
	return out, nil
}

type memInsightStore struct{ s *memStores }

func (m memInsightStore) ReplaceForAccount(_ context.Context, accountEmail string, insights []model.Insight) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var kept []model.Insight
	for _, ins := range m.s.insights[accountEmail] {
		if ins.Dismissed {
			kept = append(kept, ins)
		}
	}
	m.s.insights[accountEmail] = append(kept, insights...)
	return nil
}

type memRiskStore struct{ s *memStores }

func (m memRiskStore) UpsertScores(_ context.Context, scores []model.RiskScore) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.risk = scores
	return nil
}

type memStatusStore struct{ s *memStores }

func (m memStatusStore) Cutoffs(_ context.Context) (map[string]time.Time, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := make(map[string]time.Time, len(m.s.cutoffs))
	for k, v := range m.s.cutoffs {
		out[k] = v
	}
	return out, nil
}

func (m memStatusStore) Touch(_ context.Context, accountID, _ string, scannedAt time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.cutoffs[accountID] = scannedAt
	return nil
}

type sinkRecord struct {
	aggregateID string
	routingKey  string
}

type fakeSink struct {
	mu      sync.Mutex
	inserts []sinkRecord
}

func (f *fakeSink) Insert(_ context.Context, aggregateID, routingKey string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, sinkRecord{aggregateID, routingKey})
	return nil
}

func (f *fakeSink) byKey(routingKey string) []sinkRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sinkRecord
	for _, r := range f.inserts {
		if r.routingKey == routingKey {
			out = append(out, r)
		}
	}
	return out
}

type fakeGuard struct {
	mu    sync.Mutex
	deny  bool
	taken map[string]bool
}

func newFakeGuard() *fakeGuard { return &fakeGuard{taken: make(map[string]bool)} }

func (g *fakeGuard) AcquireOnce(_ context.Context, scope, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deny {
		return false
	}
	full := scope + ":" + key
	if g.taken[full] {
		return false
	}
	g.taken[full] = true
	return true
}

func (g *fakeGuard) Release(_ context.Context, scope, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.taken, scope+":"+key)
}

// --- helpers ---

func stores(s *memStores) Stores {
	return Stores{
		Events:   s,
		States:   memStateStore{s},
		Insights: memInsightStore{s},
		Risk:     memRiskStore{s},
		Status:   memStatusStore{s},
	}
}

func msg(id, subject, sender string, receivedAt time.Time) model.Message {
	return model.Message{ID: id, Subject: subject, Sender: sender, ReceivedAt: receivedAt}
}

func singleAccountProvider(msgs ...model.Message) *fakeProvider {
	p := newFakeProvider()
	p.accounts = []model.Account{{ID: "a1", Email: "dasher@example.com"}}
	p.mailboxes["a1"] = []model.Mailbox{{ID: "m1", Path: "INBOX"}}
	p.messages["a1/m1"] = msgs
	return p
}

// --- tests ---

func TestRunIdempotentInserts(t *testing.T) {
	p := singleAccountProvider(
		msg("msg3", "Congrats on your first delivery!", "dash@doordash.com", base.AddDate(0, 0, 4)),
		msg("msg2", "Your background check is complete", "no-reply@checkr.com", base.AddDate(0, 0, 2)),
		msg("msg1", "Welcome to DoorDash", "no-reply@doordash.com", base),
	)
	mem := newMemStores()
	sink := &fakeSink{}
	c := NewCoordinator(p, stores(mem), sink, nil, nil, zap.NewNop(), Options{})

	first, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Inserted != 3 {
		t.Fatalf("expected 3 inserted, got %d", first.Inserted)
	}
	if first.StatesUpdated != 1 {
		t.Fatalf("expected 1 state update, got %d", first.StatesUpdated)
	}

	st := mem.states["dasher@example.com"]
	if st.CurrentState != model.StateActive {
		t.Fatalf("expected ACTIVE, got %s", st.CurrentState)
	}

	changes := sink.byKey("account.state.changed")
	if len(changes) != 1 || changes[0].aggregateID != "dasher@example.com" {
		t.Fatalf("expected one state change event, got %+v", changes)
	}

	// Second run: cutoff excludes everything, the upsert would dedup the
	// rest. Nothing new lands.
	second, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Inserted != 0 {
		t.Fatalf("re-scan must insert nothing, got %d", second.Inserted)
	}
	if got := mem.states["dasher@example.com"].CurrentState; got != model.StateActive {
		t.Fatalf("state must be stable across re-scans, got %s", got)
	}
}

func TestRunIncrementalCutoff(t *testing.T) {
	cutoff := base.AddDate(0, 0, 10)
	p := singleAccountProvider(
		msg("new1", "Your background check is complete", "no-reply@checkr.com", cutoff.Add(2*time.Hour)),
		msg("old1", "Welcome to DoorDash", "no-reply@doordash.com", cutoff.Add(-2*time.Hour)),
	)
	mem := newMemStores()
	mem.cutoffs["a1"] = cutoff
	c := NewCoordinator(p, stores(mem), nil, nil, nil, zap.NewNop(), Options{})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("only the post-cutoff message should land, got %d", res.Inserted)
	}
	if _, ok := mem.events["a1/m1/old1"]; ok {
		t.Fatal("pre-cutoff message must not be persisted by an incremental scan")
	}
	if _, ok := mem.events["a1/m1/new1"]; !ok {
		t.Fatal("post-cutoff message missing")
	}
}

func TestRunFullHistoryCatchesOldDeactivation(t *testing.T) {
	cutoff := base.AddDate(0, 0, 10)
	p := singleAccountProvider(
		msg("new1", "Weekly summary: 12 deliveries", "stats@doordash.com", cutoff.Add(2*time.Hour)),
		msg("old1", "Your account has been deactivated", "trust@doordash.com", cutoff.Add(-24*time.Hour)),
	)
	mem := newMemStores()
	mem.cutoffs["a1"] = cutoff

	// Known cleared, not deactivated: the full-history watch applies.
	clearAt := base
	mem.states["dasher@example.com"] = model.AccountState{
		AccountEmail: "dasher@example.com",
		CurrentState: model.StateActive,
		Metadata:     model.StateMetadata{BGCClearAt: &clearAt},
	}
	// Prior history already persisted by earlier runs.
	mem.events["a1/m1/clear"] = model.ClassifiedEvent{
		AccountID: "a1", AccountEmail: "dasher@example.com", MailboxID: "m1", MessageID: "clear",
		ReceivedAt: clearAt,
		Classification: model.Classification{
			Category: model.CategoryBGC, SubCategory: "bgc_clear",
		},
	}

	sink := &fakeSink{}
	c := NewCoordinator(p, stores(mem), sink, nil, nil, zap.NewNop(), Options{})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("expected the stats and the old deactivation, got %d", res.Inserted)
	}
	if _, ok := mem.events["a1/m1/old1"]; !ok {
		t.Fatal("full-history watch must catch the pre-cutoff deactivation")
	}
	if got := mem.states["dasher@example.com"].CurrentState; got != model.StateDeactivated {
		t.Fatalf("expected DEACTIVATED, got %s", got)
	}
	if changes := sink.byKey("account.state.changed"); len(changes) != 1 {
		t.Fatalf("expected a state change announcement, got %+v", changes)
	}
}

func TestRunSecondWaveAfterClearDiscovery(t *testing.T) {
	cutoff := base.AddDate(0, 0, 10)
	p := singleAccountProvider(
		msg("new1", "Your background check is complete", "no-reply@checkr.com", cutoff.Add(2*time.Hour)),
		msg("old1", "Your account has been deactivated", "trust@doordash.com", cutoff.Add(-24*time.Hour)),
	)
	mem := newMemStores()
	mem.cutoffs["a1"] = cutoff
	// Previously scanned, no clear known yet: full-history not in effect at
	// the start of the run.
	mem.states["dasher@example.com"] = model.AccountState{
		AccountEmail: "dasher@example.com",
		CurrentState: model.StateRegistered,
		Metadata:     model.StateMetadata{},
	}

	c := NewCoordinator(p, stores(mem), nil, nil, nil, zap.NewNop(), Options{})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// First wave lands the clear; the same-run second wave re-scans with
	// the full-history policy and lands the old deactivation.
	if res.Inserted != 2 {
		t.Fatalf("expected clear plus re-scanned deactivation, got %d", res.Inserted)
	}
	if _, ok := mem.events["a1/m1/old1"]; !ok {
		t.Fatal("second wave must catch the pre-cutoff deactivation in the same run")
	}
	if got := mem.states["dasher@example.com"].CurrentState; got != model.StateDeactivated {
		t.Fatalf("expected DEACTIVATED after the second wave, got %s", got)
	}
}

func TestRunFolderAllowList(t *testing.T) {
	p := newFakeProvider()
	p.accounts = []model.Account{{ID: "a1", Email: "dasher@example.com"}}
	p.mailboxes["a1"] = []model.Mailbox{
		{ID: "m1", Path: "INBOX"},
		{ID: "m2", Path: "Spam"},
	}
	p.messages["a1/m1"] = []model.Message{
		msg("in1", "Welcome to DoorDash", "no-reply@doordash.com", base),
	}
	p.messages["a1/m2"] = []model.Message{
		msg("sp1", "Your account has been deactivated", "scam@example.com", base),
	}
	mem := newMemStores()
	c := NewCoordinator(p, stores(mem), nil, nil, nil, zap.NewNop(), Options{Folders: []string{"inbox"}})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("spam folder must be excluded, got %d inserted", res.Inserted)
	}
	if _, ok := mem.events["a1/m2/sp1"]; ok {
		t.Fatal("message from excluded folder was persisted")
	}
}

func TestRunBudgetExceeded(t *testing.T) {
	p := newFakeProvider()
	for _, id := range []string{"a1", "a2", "a3"} {
		p.accounts = append(p.accounts, model.Account{ID: id, Email: id + "@example.com"})
		p.mailboxes[id] = []model.Mailbox{{ID: "m1", Path: "INBOX"}}
	}
	mem := newMemStores()
	c := NewCoordinator(p, stores(mem), nil, nil, nil, zap.NewNop(), Options{
		BatchSize: 1,
		Budget:    time.Nanosecond,
	})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("budget exhaustion is not an error, got %v", err)
	}
	if !res.BudgetExceeded {
		t.Fatal("expected budget_exceeded result")
	}
	if res.AccountsScanned+res.AccountsRemaining != res.AccountsTotal {
		t.Fatalf("scanned+remaining must cover the population: %+v", res)
	}
	if res.AccountsRemaining == 0 {
		t.Fatalf("expected deferred accounts, got %+v", res)
	}
}

func TestRunLockConflict(t *testing.T) {
	p := singleAccountProvider()
	mem := newMemStores()
	guard := newFakeGuard()
	guard.deny = true
	c := NewCoordinator(p, stores(mem), nil, guard, nil, zap.NewNop(), Options{})

	_, err := c.Run(context.Background())
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestRunAbsorbsMailboxFailure(t *testing.T) {
	p := newFakeProvider()
	p.accounts = []model.Account{
		{ID: "a1", Email: "broken@example.com"},
		{ID: "a2", Email: "fine@example.com"},
	}
	p.failMailboxes["a1"] = errors.New("provider returned 5xx: 503")
	p.mailboxes["a2"] = []model.Mailbox{{ID: "m1", Path: "INBOX"}}
	p.messages["a2/m1"] = []model.Message{
		msg("ok1", "Welcome to DoorDash", "no-reply@doordash.com", base),
	}
	mem := newMemStores()
	c := NewCoordinator(p, stores(mem), nil, nil, nil, zap.NewNop(), Options{})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("one broken account must not fail the run: %v", err)
	}
	if res.Errors == 0 {
		t.Fatal("expected the failure to be counted")
	}
	if _, ok := mem.events["a2/m1/ok1"]; !ok {
		t.Fatal("healthy account must still be scanned")
	}
	if got := mem.states["fine@example.com"].CurrentState; got != model.StateRegistered {
		t.Fatalf("expected REGISTERED for healthy account, got %s", got)
	}
}

func TestRunFailedAccountKeepsCutoff(t *testing.T) {
	// The clear arrives while the provider is broken for this account. If
	// the failed run advanced the cutoff anyway, the healed run's
	// incremental policy would skip the clear forever: it is not a
	// terminal category, so the full-history policy cannot rescue it.
	p := singleAccountProvider(
		msg("clear1", "Your background check is complete", "no-reply@checkr.com", base),
	)
	p.failMailboxes["a1"] = errors.New("provider returned 5xx: 503")
	mem := newMemStores()
	c := NewCoordinator(p, stores(mem), nil, nil, nil, zap.NewNop(), Options{})

	first, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Errors == 0 {
		t.Fatal("expected the provider failure to be counted")
	}
	if _, ok := mem.cutoffs["a1"]; ok {
		t.Fatal("cutoff must not advance for an account whose scan failed")
	}

	// Provider heals; the next run must still see the old clear.
	p.mu.Lock()
	delete(p.failMailboxes, "a1")
	p.mu.Unlock()

	second, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Inserted != 1 {
		t.Fatalf("expected the clear from the failed window, got %d inserted", second.Inserted)
	}
	if _, ok := mem.events["a1/m1/clear1"]; !ok {
		t.Fatal("pre-failure clear never landed")
	}
	if got := mem.states["dasher@example.com"].CurrentState; got != model.StateBGCClear {
		t.Fatalf("expected BGC_CLEAR after the healed run, got %s", got)
	}
	if _, ok := mem.cutoffs["a1"]; !ok {
		t.Fatal("clean run must advance the cutoff")
	}
}

func TestRunAnnounceDeduplicates(t *testing.T) {
	p := singleAccountProvider(
		msg("msg1", "Welcome to DoorDash", "no-reply@doordash.com", base),
	)
	mem := newMemStores()
	sink := &fakeSink{}
	announce := newFakeGuard()
	c := NewCoordinator(p, stores(mem), sink, nil, announce, zap.NewNop(), Options{})

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.byKey("account.state.changed")) != 1 {
		t.Fatalf("expected one announcement, got %+v", sink.inserts)
	}

	// Force a second analysis of the same change: wipe the stored state so
	// the run sees UNKNOWN -> REGISTERED again. The announce guard still
	// holds the key.
	mem.mu.Lock()
	delete(mem.states, "dasher@example.com")
	mem.mu.Unlock()

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(sink.byKey("account.state.changed")); got != 1 {
		t.Fatalf("announce guard must suppress the duplicate, got %d", got)
	}
}

func TestRunScoresCohort(t *testing.T) {
	clearAt := base.AddDate(0, 0, -40)
	p := singleAccountProvider(
		msg("clear1", "Your background check is complete", "no-reply@checkr.com", clearAt),
	)
	mem := newMemStores()
	c := NewCoordinator(p, stores(mem), nil, nil, nil, zap.NewNop(), Options{})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RiskScored != 1 {
		t.Fatalf("expected one scored account, got %d", res.RiskScored)
	}
	if len(mem.risk) != 1 || mem.risk[0].AccountEmail != "dasher@example.com" {
		t.Fatalf("unexpected risk rows: %+v", mem.risk)
	}
	if mem.risk[0].Score == 0 {
		t.Fatalf("a 40-day-old clear with no delivery must carry risk, got %+v", mem.risk[0])
	}
}
