// Package insight turns an account's lifecycle state, its classified
// history and the cohort context into a prioritized list of findings. Each
// heuristic is evaluated independently and appends zero or one insight;
// emission order mirrors the heuristic order, so callers can persist the
// list as-is.
package insight

import (
	"fmt"
	"time"

	"mailsignal/internal/model"
)

// Cohort is the explicitly passed cross-account snapshot, rebuilt once per
// scan run. It is never mutated by Generate.
type Cohort struct {
	// States maps account email to its current lifecycle state.
	States map[string]model.LifecycleState
	// MeanDaysToDeactivation is the cohort mean of (deactivation date -
	// bgc-clear date) over accounts that have both.
	MeanDaysToDeactivation float64
	// HasPairs reports whether any account contributed to the mean.
	HasPairs bool
}

// BuildCohort derives the snapshot from all known account states.
func BuildCohort(states []model.AccountState) Cohort {
	c := Cohort{States: make(map[string]model.LifecycleState, len(states))}
	var total float64
	var n int
	for _, s := range states {
		c.States[s.AccountEmail] = s.CurrentState
		if s.Metadata.BGCClearAt != nil && s.Metadata.DeactivatedAt != nil {
			total += s.Metadata.DeactivatedAt.Sub(*s.Metadata.BGCClearAt).Hours() / 24
			n++
		}
	}
	if n > 0 {
		c.MeanDaysToDeactivation = total / float64(n)
		c.HasPairs = true
	}
	return c
}

// Generate runs the heuristic battery for one account. events must be the
// full classified history; state is the freshly computed lifecycle view
// whose anomaly flags are passed through as insights.
func Generate(now time.Time, state model.AccountState, events []model.ClassifiedEvent, cohort Cohort) []model.Insight {
	g := &generator{now: now, state: state, events: events, cohort: cohort}

	g.staleBGC()
	g.missingFirstDelivery()
	g.rapidDeactivation()
	g.warningEscalation()
	g.dormantAccount()
	g.skippedOnboarding()
	g.deactivationWindow()
	g.flagPassthrough()
	g.allClear()

	return g.out
}

type generator struct {
	now    time.Time
	state  model.AccountState
	events []model.ClassifiedEvent
	cohort Cohort
	out    []model.Insight
}

func (g *generator) emit(t model.InsightType, p model.InsightPriority, title, description, action string) {
	g.out = append(g.out, model.Insight{
		AccountEmail:    g.state.AccountEmail,
		Type:            t,
		Priority:        p,
		Title:           title,
		Description:     description,
		SuggestedAction: action,
		CreatedAt:       g.now,
	})
}

func (g *generator) daysSince(t time.Time) float64 {
	return g.now.Sub(t).Hours() / 24
}

// staleBGC flags accounts stuck in BGC_PENDING.
func (g *generator) staleBGC() {
	if g.state.CurrentState != model.StateBGCPending {
		return
	}
	first := firstEventOfCategory(g.events, model.CategoryBGC)
	if first == nil {
		return
	}
	days := g.daysSince(first.ReceivedAt)
	switch {
	case days > 14:
		g.emit(model.InsightRisk, model.PriorityUrgent,
			"Background check stalled",
			fmt.Sprintf("Background check has been pending for %.0f days.", days),
			"Contact the screening provider to unblock the check")
	case days > 7:
		g.emit(model.InsightRisk, model.PriorityWarning,
			"Background check slow",
			fmt.Sprintf("Background check has been pending for %.0f days.", days),
			"Monitor for a clear or issue notice")
	}
}

// missingFirstDelivery flags cleared accounts with no kit signal.
func (g *generator) missingFirstDelivery() {
	if g.state.CurrentState != model.StateBGCClear && g.state.CurrentState != model.StateOnboarding {
		return
	}
	clearAt := g.state.Metadata.BGCClearAt
	if clearAt == nil {
		return
	}
	for _, ev := range g.events {
		if ev.Category == model.CategoryOnboarding && ev.SubCategory == "activation_kit" {
			return
		}
	}
	if g.daysSince(*clearAt) > 14 {
		g.emit(model.InsightAnomaly, model.PriorityWarning,
			"No first delivery after clear",
			fmt.Sprintf("Background check cleared %.0f days ago with no activation kit or delivery signal since.", g.daysSince(*clearAt)),
			"Verify the account completed onboarding")
	}
}

// rapidDeactivation flags accounts deactivated shortly after going active.
func (g *generator) rapidDeactivation() {
	if g.state.CurrentState != model.StateDeactivated {
		return
	}
	activeAt := g.state.Metadata.FirstActiveAt
	deactAt := g.state.Metadata.DeactivatedAt
	if activeAt == nil || deactAt == nil {
		return
	}
	gap := deactAt.Sub(*activeAt).Hours() / 24
	if gap < 7 {
		g.emit(model.InsightAnomaly, model.PriorityUrgent,
			"Rapid deactivation",
			fmt.Sprintf("Account was deactivated %.1f days after its first active signal.", gap),
			"Review the deactivation reason for fraud indicators")
	}
}

// warningEscalation predicts trouble from accumulating warnings.
func (g *generator) warningEscalation() {
	var total, recent int
	for _, ev := range g.events {
		if ev.Category != model.CategoryWarning {
			continue
		}
		total++
		if g.daysSince(ev.ReceivedAt) <= 30 {
			recent++
		}
	}
	if total < 2 {
		return
	}
	if recent >= 2 {
		g.emit(model.InsightPrediction, model.PriorityUrgent,
			"Warnings escalating",
			fmt.Sprintf("%d warnings in the last 30 days (%d total); deactivation often follows.", recent, total),
			"Pause the account's delivery volume until resolved")
		return
	}
	g.emit(model.InsightPrediction, model.PriorityWarning,
		"Multiple warnings on record",
		fmt.Sprintf("%d warning emails on record.", total),
		"")
}

// dormantAccount flags active accounts that have gone quiet.
func (g *generator) dormantAccount() {
	if g.state.CurrentState != model.StateActive || g.state.LastEventAt.IsZero() {
		return
	}
	days := g.daysSince(g.state.LastEventAt)
	switch {
	case days > 21:
		g.emit(model.InsightAnomaly, model.PriorityWarning,
			"Dormant active account",
			fmt.Sprintf("No email activity for %.0f days on an active account.", days),
			"Check whether the account is still delivering")
	case days > 14:
		g.emit(model.InsightAnomaly, model.PriorityInfo,
			"Low activity",
			fmt.Sprintf("No email activity for %.0f days.", days),
			"")
	}
}

// skippedOnboarding flags clear->active jumps with no onboarding trail.
func (g *generator) skippedOnboarding() {
	switch g.state.CurrentState {
	case model.StateActive, model.StateWarning, model.StateDeactivated:
	default:
		return
	}
	clearAt := g.state.Metadata.BGCClearAt
	activeAt := g.state.Metadata.FirstActiveAt
	if clearAt == nil || activeAt == nil {
		return
	}
	if g.state.Metadata.CategoryCounts[model.CategoryOnboarding] > 0 {
		return
	}
	if activeAt.Sub(*clearAt).Hours()/24 < 1 {
		g.emit(model.InsightAnomaly, model.PriorityInfo,
			"Skipped onboarding",
			"Account went active less than a day after clearing its background check with no onboarding emails.",
			"")
	}
}

// deactivationWindow predicts an approaching cohort deactivation window.
func (g *generator) deactivationWindow() {
	if g.state.CurrentState == model.StateDeactivated {
		return
	}
	var deactivated, terminalish int
	for _, s := range g.cohort.States {
		switch s {
		case model.StateDeactivated:
			deactivated++
			terminalish++
		case model.StateActive, model.StateWarning:
			terminalish++
		}
	}
	if terminalish == 0 {
		return
	}
	rate := float64(deactivated) / float64(terminalish)
	if rate <= 0.3 || !g.cohort.HasPairs {
		return
	}
	clearAt := g.state.Metadata.BGCClearAt
	if clearAt == nil {
		return
	}
	days := g.daysSince(*clearAt)
	mean := g.cohort.MeanDaysToDeactivation
	if days >= 0.8*mean && days <= 1.2*mean {
		g.emit(model.InsightPrediction, model.PriorityWarning,
			"Approaching cohort deactivation window",
			fmt.Sprintf("Account is %.0f days past clear; cohort deactivations cluster around %.0f days (rate %.0f%%).", days, mean, rate*100),
			"Watch the account closely over the coming days")
	}
}

// flagPassthrough surfaces every state-machine anomaly as its own insight.
func (g *generator) flagPassthrough() {
	for _, flag := range g.state.AnomalyFlags {
		g.emit(model.InsightAnomaly, model.PriorityInfo, "Lifecycle anomaly", flag, "")
	}
}

// allClear emits a single healthy marker when nothing else fired.
func (g *generator) allClear() {
	if len(g.out) > 0 || g.state.CurrentState != model.StateActive {
		return
	}
	g.emit(model.InsightAction, model.PriorityInfo,
		"Healthy progress",
		"Account is active with no anomalies detected.",
		"")
}

func firstEventOfCategory(events []model.ClassifiedEvent, cat model.Category) *model.ClassifiedEvent {
	var first *model.ClassifiedEvent
	for i := range events {
		if events[i].Category != cat {
			continue
		}
		if first == nil || events[i].ReceivedAt.Before(first.ReceivedAt) {
			first = &events[i]
		}
	}
	return first
}
