package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailsignal/internal/classify"
	"mailsignal/internal/insight"
	"mailsignal/internal/lifecycle"
	"mailsignal/internal/model"
	"mailsignal/internal/risk"
	"mailsignal/pkg/logger"
	"mailsignal/pkg/metrics"
	"mailsignal/pkg/trace"
	"mailsignal/pkg/util"
)

type Coordinator struct {
	provider Provider
	stores   Stores
	sink     EventSink
	lock     Guard
	announce Guard
	logger   *zap.Logger
	opts     Options
}

// NewCoordinator wires one coordinator. sink, lock and announce may be nil
// (events are then not fanned out and runs are not serialized), which the
// tests rely on.
func NewCoordinator(provider Provider, stores Stores, sink EventSink, lock, announce Guard, log *zap.Logger, opts Options) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if len(opts.Folders) == 0 {
		opts.Folders = []string{"inbox"}
	}
	return &Coordinator{
		provider: provider,
		stores:   stores,
		sink:     sink,
		lock:     lock,
		announce: announce,
		logger:   log,
		opts:     opts,
	}
}

// Run executes one scan pass. A budget-exceeded run returns a partial but
// valid Result with no error: completed batches are fully committed and a
// later run resumes from the updated cutoffs.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	runID := trace.FromContext(ctx)
	if runID == "" {
		runID = trace.GenerateRunID()
		ctx = trace.WithContext(ctx, runID)
	}
	log := logger.WithTrace(ctx, c.logger)

	res := Result{RunID: runID}

	if c.lock != nil {
		if !c.lock.AcquireOnce(ctx, "scan", "run") {
			return res, ErrRunInProgress
		}
		defer c.lock.Release(ctx, "scan", "run")
	}

	now := time.Now()

	cutoffs, err := c.stores.Status.Cutoffs(ctx)
	if err != nil {
		log.Warn("Failed to load scan cutoffs, falling back to full scan", zap.Error(err))
		cutoffs = map[string]time.Time{}
		res.Errors++
	}

	knownStates, err := c.stores.States.ListAll(ctx)
	if err != nil {
		log.Warn("Failed to load known account states", zap.Error(err))
		res.Errors++
	}

	// Cohort snapshot: built once per run, updated in memory as states are
	// recomputed, and passed explicitly down the call chain.
	cohort := insight.BuildCohort(knownStates)
	stateByEmail := make(map[string]model.LifecycleState, len(knownStates))
	// Accounts known to have cleared BGC but not deactivated run the
	// full-history deactivation watch, which ignores the cutoff.
	fullHistory := make(map[string]bool)
	for _, s := range knownStates {
		stateByEmail[s.AccountEmail] = s.CurrentState
		if s.Metadata.BGCClearAt != nil && s.Metadata.DeactivatedAt == nil {
			fullHistory[s.AccountEmail] = true
		}
	}

	accounts, err := c.fetchAccounts(ctx, log)
	if err != nil {
		res.Duration = time.Since(start)
		metrics.RecordScanRunDuration("failed", res.Duration)
		return res, err
	}
	res.AccountsTotal = len(accounts)

	for batchStart := 0; batchStart < len(accounts); batchStart += c.opts.BatchSize {
		// Cooperative budget: checked between batches only. An in-flight
		// batch always runs to completion, so no account is left
		// half-scanned.
		if c.opts.Budget > 0 && time.Since(start) > c.opts.Budget {
			res.BudgetExceeded = true
			res.AccountsRemaining = len(accounts) - batchStart
			log.Warn("Wall-clock budget exceeded, stopping before next batch",
				zap.Int("scanned", res.AccountsScanned),
				zap.Int("remaining", res.AccountsRemaining),
			)
			break
		}

		end := batchStart + c.opts.BatchSize
		if end > len(accounts) {
			end = len(accounts)
		}
		batch := accounts[batchStart:end]

		results := c.scanBatch(ctx, log, batch, cutoffs, fullHistory)

		// Barrier re-scan: accounts whose first clear event surfaced in
		// this batch get their full-history watch immediately, before the
		// next batch starts.
		var rescan []model.Account
		for i, acct := range batch {
			if results[i].clearFound && !fullHistory[acct.Email] {
				fullHistory[acct.Email] = true
				rescan = append(rescan, acct)
			}
		}
		if len(rescan) > 0 {
			log.Info("Re-scanning accounts with newly discovered clear events",
				zap.Int("count", len(rescan)),
			)
			for _, r := range c.scanBatch(ctx, log, rescan, cutoffs, fullHistory) {
				res.MessagesFetched += r.fetched
				res.Classified += r.classified
				res.Inserted += r.inserted
				res.Errors += r.errors
			}
		}

		for i, acct := range batch {
			r := results[i]
			res.MessagesFetched += r.fetched
			res.Classified += r.classified
			res.Inserted += r.inserted
			res.Errors += r.errors

			c.analyzeAccount(ctx, log, now, acct, &cohort, stateByEmail, &res)

			// The cutoff only advances for cleanly scanned accounts. A
			// degraded scan keeps the previous cutoff so the next run
			// re-covers the window this one may have missed; a non-terminal
			// event skipped here would otherwise be lost for good.
			if r.errors > 0 {
				log.Warn("Keeping previous scan cutoff after degraded scan",
					zap.String("account", acct.Email),
					zap.Int("errors", r.errors),
				)
				continue
			}
			if err := c.stores.Status.Touch(ctx, acct.ID, acct.Email, now); err != nil {
				log.Warn("Failed to update scan cutoff",
					zap.String("account", acct.Email),
					zap.Error(err),
				)
				res.Errors++
			}
		}
		res.AccountsScanned += len(batch)
	}

	c.scoreCohort(ctx, log, now, &res)

	res.Duration = time.Since(start)
	outcome := "completed"
	if res.BudgetExceeded {
		outcome = "budget_exceeded"
	}
	metrics.RecordScanRunDuration(outcome, res.Duration)

	log.Info("Scan run finished",
		zap.String("outcome", outcome),
		zap.Int("accounts_total", res.AccountsTotal),
		zap.Int("accounts_scanned", res.AccountsScanned),
		zap.Int("accounts_remaining", res.AccountsRemaining),
		zap.Int("messages_fetched", res.MessagesFetched),
		zap.Int("classified", res.Classified),
		zap.Int("inserted", res.Inserted),
		zap.Int("states_updated", res.StatesUpdated),
		zap.Int("insights_written", res.InsightsWritten),
		zap.Int("risk_scored", res.RiskScored),
		zap.Int("errors", res.Errors),
		zap.Duration("duration", res.Duration),
	)

	return res, nil
}

// fetchAccounts pages the full account population. A failure partway
// through keeps the pages already fetched; a failure on the first page is
// fatal for the run.
func (c *Coordinator) fetchAccounts(ctx context.Context, log *zap.Logger) ([]model.Account, error) {
	var all []model.Account
	for page := 1; ; page++ {
		accounts, hasNext, err := c.provider.ListAccounts(ctx, page)
		if err != nil {
			if len(all) > 0 {
				log.Warn("Account pagination failed partway, continuing with fetched pages",
					zap.Int("page", page),
					zap.Error(err),
				)
				return all, nil
			}
			return nil, fmt.Errorf("failed to fetch account population: %w", err)
		}
		all = append(all, accounts...)
		if !hasNext {
			return all, nil
		}
	}
}

type accountResult struct {
	fetched    int
	classified int
	inserted   int
	clearFound bool
	errors     int
}

// scanBatch scans all accounts of one batch concurrently. Account tasks
// share no mutable state; each writes only its own slot.
func (c *Coordinator) scanBatch(ctx context.Context, log *zap.Logger, batch []model.Account, cutoffs map[string]time.Time, fullHistory map[string]bool) []accountResult {
	results := make([]accountResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, acct := range batch {
		i, acct := i, acct
		g.Go(func() error {
			results[i] = c.scanAccount(gctx, log, acct, cutoffs[acct.ID], fullHistory[acct.Email])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// scanAccount fetches and classifies one account's mailboxes. All failures
// are absorbed: a broken mailbox yields its partial findings, a broken
// account yields an errored (but counted) result.
func (c *Coordinator) scanAccount(ctx context.Context, log *zap.Logger, acct model.Account, cutoff time.Time, fullHistory bool) accountResult {
	var res accountResult

	mailboxes, err := c.provider.ListMailboxes(ctx, acct.ID)
	if err != nil {
		_, errType := util.IsRetryableError(err)
		log.Warn("Failed to list mailboxes, skipping account",
			zap.String("account", acct.Email),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		res.errors++
		metrics.IncrementAccountsScanned("failed")
		return res
	}

	allowed := filterMailboxes(mailboxes, c.opts.Folders)
	mbResults := make([]mailboxResult, len(allowed))
	g, gctx := errgroup.WithContext(ctx)
	for i, mb := range allowed {
		i, mb := i, mb
		g.Go(func() error {
			mbResults[i] = c.scanMailbox(gctx, log, acct, mb, cutoff, fullHistory)
			return nil
		})
	}
	_ = g.Wait()

	// Per-account dedup set, local to this task.
	seen := make(map[string]bool)
	var events []model.ClassifiedEvent
	for _, mr := range mbResults {
		res.fetched += mr.fetched
		res.classified += mr.classified
		res.errors += mr.errors
		for _, ev := range mr.events {
			key := ev.MailboxID + "/" + ev.MessageID
			if seen[key] {
				continue
			}
			seen[key] = true
			if ev.Category == model.CategoryBGC && ev.SubCategory == "bgc_clear" {
				res.clearFound = true
			}
			events = append(events, ev)
		}
	}

	if len(events) > 0 {
		inserted, err := c.stores.Events.UpsertEvents(ctx, events)
		// inserted reflects confirmed writes only.
		res.inserted = inserted
		if err != nil {
			log.Warn("Failed to persist classified events",
				zap.String("account", acct.Email),
				zap.Int("confirmed", inserted),
				zap.Error(err),
			)
			res.errors++
		}
	}

	metrics.IncrementAccountsScanned("success")
	return res
}

type mailboxResult struct {
	events     []model.ClassifiedEvent
	fetched    int
	classified int
	errors     int
}

// scanMailbox paginates one mailbox (pages are newest first) and applies
// both scan policies: the incremental policy takes messages past the
// cutoff and may stop paginating at the cutoff; the full-history policy
// takes terminal events regardless of the cutoff and keeps paginating
// while unresolved. The early-stop decision is local to this mailbox.
func (c *Coordinator) scanMailbox(ctx context.Context, log *zap.Logger, acct model.Account, mb model.Mailbox, cutoff time.Time, fullHistory bool) mailboxResult {
	var res mailboxResult
	foundTerminal := false

	for page := 1; ; page++ {
		msgs, hasNext, err := c.provider.ListMessages(ctx, acct.ID, mb.ID, page)
		if err != nil {
			// One failed page aborts only this mailbox's pagination; the
			// partial findings still count.
			_, errType := util.IsRetryableError(err)
			log.Warn("Mailbox page fetch failed, returning partial findings",
				zap.String("account", acct.Email),
				zap.String("mailbox", mb.Path),
				zap.Int("page", page),
				zap.String("error_type", errType),
				zap.Error(err),
			)
			res.errors++
			return res
		}

		res.fetched += len(msgs)
		reachedCutoff := false

		for _, msg := range msgs {
			classification := classify.Classify(msg.Subject, msg.Sender)
			res.classified++
			metrics.IncrementMessagesClassified(string(classification.Category))

			atOrBeforeCutoff := !cutoff.IsZero() && !msg.ReceivedAt.After(cutoff)
			if atOrBeforeCutoff {
				reachedCutoff = true
			}
			isTerminal := classification.Category == model.CategoryDeactivation ||
				classification.Category == model.CategoryAppeal
			if isTerminal {
				foundTerminal = true
			}

			if atOrBeforeCutoff && !(fullHistory && isTerminal) {
				continue
			}

			res.events = append(res.events, model.ClassifiedEvent{
				AccountID:      acct.ID,
				AccountEmail:   acct.Email,
				MailboxID:      mb.ID,
				MessageID:      msg.ID,
				Subject:        msg.Subject,
				Sender:         msg.Sender,
				ReceivedAt:     msg.ReceivedAt,
				Classification: classification,
			})
		}

		if !hasNext {
			return res
		}
		if reachedCutoff && (!fullHistory || foundTerminal) {
			return res
		}
	}
}

// analyzeAccount recomputes the materialized view for one account from its
// full persisted history, replaces its insights, and fans out change
// events through the outbox.
func (c *Coordinator) analyzeAccount(ctx context.Context, log *zap.Logger, now time.Time, acct model.Account, cohort *insight.Cohort, stateByEmail map[string]model.LifecycleState, res *Result) {
	history, err := c.stores.Events.ListByAccount(ctx, acct.Email)
	if err != nil {
		log.Warn("Failed to load classified history",
			zap.String("account", acct.Email),
			zap.Error(err),
		)
		res.Errors++
		return
	}
	if len(history) == 0 {
		return
	}

	state := lifecycle.Compute(acct.Email, history)
	if err := c.stores.States.Upsert(ctx, state); err != nil {
		log.Warn("Failed to persist account state",
			zap.String("account", acct.Email),
			zap.Error(err),
		)
		res.Errors++
	} else {
		res.StatesUpdated++
	}

	previous := stateByEmail[acct.Email]
	if previous == "" {
		previous = model.StateUnknown
	}
	if state.CurrentState != previous {
		c.announceStateChange(ctx, log, now, previous, state)
	}
	stateByEmail[acct.Email] = state.CurrentState
	cohort.States[acct.Email] = state.CurrentState

	insights := insight.Generate(now, state, history, *cohort)
	if err := c.stores.Insights.ReplaceForAccount(ctx, acct.Email, insights); err != nil {
		log.Warn("Failed to replace insights",
			zap.String("account", acct.Email),
			zap.Error(err),
		)
		res.Errors++
		return
	}
	res.InsightsWritten += len(insights)

	for _, ins := range insights {
		metrics.IncrementInsightsGenerated(string(ins.Type), string(ins.Priority))
		if ins.Priority == model.PriorityUrgent {
			c.announceInsight(ctx, log, ins)
		}
	}
}

func (c *Coordinator) announceStateChange(ctx context.Context, log *zap.Logger, now time.Time, previous model.LifecycleState, state model.AccountState) {
	if c.sink == nil {
		return
	}
	key := state.AccountEmail + ":" + string(state.CurrentState)
	if c.announce != nil && !c.announce.AcquireOnce(ctx, "state-change", key) {
		return
	}
	payload := StateChangedPayload{
		AccountEmail:   state.AccountEmail,
		PreviousState:  string(previous),
		CurrentState:   string(state.CurrentState),
		LifecycleScore: state.LifecycleScore,
		ChangedAt:      now,
	}
	if err := c.sink.Insert(ctx, state.AccountEmail, "account.state.changed", payload); err != nil {
		log.Warn("Failed to enqueue state change event",
			zap.String("account", state.AccountEmail),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) announceInsight(ctx context.Context, log *zap.Logger, ins model.Insight) {
	if c.sink == nil {
		return
	}
	key := ins.AccountEmail + ":" + ins.Title
	if c.announce != nil && !c.announce.AcquireOnce(ctx, "insight", key) {
		return
	}
	payload := InsightCreatedPayload{
		AccountEmail: ins.AccountEmail,
		InsightType:  string(ins.Type),
		Priority:     string(ins.Priority),
		Title:        ins.Title,
		Description:  ins.Description,
		CreatedAt:    ins.CreatedAt,
	}
	if err := c.sink.Insert(ctx, ins.AccountEmail, "insight.created", payload); err != nil {
		log.Warn("Failed to enqueue insight event",
			zap.String("account", ins.AccountEmail),
			zap.Error(err),
		)
	}
}

// scoreCohort runs the single cohort-wide risk pass.
func (c *Coordinator) scoreCohort(ctx context.Context, log *zap.Logger, now time.Time, res *Result) {
	allEvents, err := c.stores.Events.ListAll(ctx)
	if err != nil {
		log.Warn("Failed to load cohort events for risk scoring", zap.Error(err))
		res.Errors++
		return
	}
	scores := risk.ScoreCohort(now, allEvents)
	if len(scores) == 0 {
		return
	}
	if err := c.stores.Risk.UpsertScores(ctx, scores); err != nil {
		log.Warn("Failed to persist risk scores", zap.Error(err))
		res.Errors++
		return
	}
	res.RiskScored = len(scores)
}

func filterMailboxes(mailboxes []model.Mailbox, folders []string) []model.Mailbox {
	var allowed []model.Mailbox
	for _, mb := range mailboxes {
		path := strings.ToLower(mb.Path)
		for _, f := range folders {
			if strings.Contains(path, strings.ToLower(f)) {
				allowed = append(allowed, mb)
				break
			}
		}
	}
	return allowed
}
