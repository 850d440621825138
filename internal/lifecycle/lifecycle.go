// Package lifecycle derives an account's current lifecycle state from its
// ordered classified event history. The walk is a deterministic
// finite-state process: identical input always yields identical output,
// and the resulting AccountState is a materialized view that can be
// recomputed from scratch on every pass.
package lifecycle

import (
	"fmt"
	"math"
	"sort"
	"time"

	"mailsignal/internal/model"
)

// statePriority orders candidate states. A transition is only accepted
// when the target outranks the current state (with the documented
// exceptions); DEACTIVATED outranks everything.
var statePriority = map[model.LifecycleState]int{
	model.StateUnknown:     0,
	model.StateRegistered:  10,
	model.StateVerifying:   20,
	model.StateBGCPending:  30,
	model.StateBGCIssue:    35,
	model.StateBGCClear:    40,
	model.StateOnboarding:  50,
	model.StateActive:      60,
	model.StateWarning:     70,
	model.StateAppealing:   90,
	model.StateDeactivated: 100,
}

// lifecycleScore is a fixed progress indicator per state: how far along a
// healthy lifecycle the state represents. ACTIVE scores highest, WARNING
// high but below ACTIVE, DEACTIVATED low.
var lifecycleScore = map[model.LifecycleState]int{
	model.StateUnknown:     0,
	model.StateDeactivated: 5,
	model.StateRegistered:  10,
	model.StateVerifying:   15,
	model.StateAppealing:   15,
	model.StateBGCIssue:    20,
	model.StateBGCPending:  25,
	model.StateBGCClear:    40,
	model.StateOnboarding:  50,
	model.StateWarning:     70,
	model.StateActive:      80,
}

// categoryTarget maps a category to its candidate state. PACKAGE, PAYMENT,
// PROMOTION, SYSTEM and OTHER have no mapping: they never change state but
// stay in history for insight purposes.
var categoryTarget = map[model.Category]model.LifecycleState{
	model.CategoryRegistration: model.StateRegistered,
	model.CategoryVerification: model.StateVerifying,
	model.CategoryOnboarding:   model.StateOnboarding,
	model.CategoryActive:       model.StateActive,
	model.CategoryWarning:      model.StateWarning,
	model.CategoryDeactivation: model.StateDeactivated,
	model.CategoryAppeal:       model.StateAppealing,
}

// bgcSubTarget refines the BGC category by sub_category.
var bgcSubTarget = map[string]model.LifecycleState{
	"bgc_started":    model.StateBGCPending,
	"bgc_processing": model.StateBGCPending,
	"checkr":         model.StateBGCPending,
	"bgc_clear":      model.StateBGCClear,
	"bgc_issue":      model.StateBGCIssue,
}

// relevantCategories maps a final state to the categories whose event count
// feeds the confidence formula.
var relevantCategories = map[model.LifecycleState][]model.Category{
	model.StateRegistered:  {model.CategoryRegistration},
	model.StateVerifying:   {model.CategoryVerification},
	model.StateBGCPending:  {model.CategoryBGC},
	model.StateBGCClear:    {model.CategoryBGC},
	model.StateBGCIssue:    {model.CategoryBGC},
	model.StateOnboarding:  {model.CategoryOnboarding},
	model.StateActive:      {model.CategoryActive},
	model.StateWarning:     {model.CategoryWarning, model.CategoryActive},
	model.StateDeactivated: {model.CategoryDeactivation},
	model.StateAppealing:   {model.CategoryAppeal, model.CategoryDeactivation},
}

// Compute walks the classified history and returns the materialized state.
// The input slice is not mutated; events are stable-sorted ascending by
// timestamp (malformed timestamps sort as epoch zero so the walk stays
// total over its input).
func Compute(accountEmail string, events []model.ClassifiedEvent) model.AccountState {
	sorted := make([]model.ClassifiedEvent, len(events))
	copy(sorted, events)
	for i := range sorted {
		if sorted[i].ReceivedAt.IsZero() {
			sorted[i].ReceivedAt = time.Unix(0, 0).UTC()
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReceivedAt.Before(sorted[j].ReceivedAt)
	})

	state := model.AccountState{
		AccountEmail: accountEmail,
		CurrentState: model.StateUnknown,
		EmailCount:   len(sorted),
		Metadata: model.StateMetadata{
			CategoryCounts: make(map[model.Category]int),
		},
		AnomalyFlags: []string{},
	}
	if len(sorted) > 0 {
		state.FirstEventAt = sorted[0].ReceivedAt
		state.LastEventAt = sorted[len(sorted)-1].ReceivedAt
	}

	current := model.StateUnknown
	var history []model.LifecycleState
	reachedActive := false

	for _, ev := range sorted {
		state.Metadata.CategoryCounts[ev.Category]++
		recordMilestone(&state.Metadata, ev)

		target, ok := targetFor(ev)
		if !ok {
			continue
		}

		switch {
		case target == model.StateDeactivated:
			// DEACTIVATED always wins unconditionally.
			history = append(history, current)
			current = model.StateDeactivated

		case target == model.StateAppealing:
			// Appeals only make sense after a deactivation; otherwise the
			// event stays in raw history but does not move state.
			if current == model.StateDeactivated {
				history = append(history, current)
				current = model.StateAppealing
			}

		case target == current:
			// Re-confirmation of the current state is a no-op, not an
			// anomaly.

		case statePriority[target] > statePriority[current] ||
			current == model.StateUnknown ||
			(current == model.StateWarning && target == model.StateActive):
			history = append(history, current)
			current = target

		default:
			// Rejected downgrade: state never regresses. Record it unless
			// the pair is a recognized benign oscillation.
			if !isBenignPair(current, target) {
				state.AnomalyFlags = append(state.AnomalyFlags,
					fmt.Sprintf("rejected state regression %s -> %s", current, target))
			}
		}

		if current == model.StateActive {
			reachedActive = true
		}
	}

	if reachedActive && state.Metadata.CategoryCounts[model.CategoryBGC] == 0 {
		state.AnomalyFlags = append(state.AnomalyFlags,
			"reached ACTIVE state with no BGC email in history")
	}

	state.CurrentState = current
	if len(history) > 0 {
		state.PreviousState = history[len(history)-1]
	}
	state.StateConfidence = confidence(current, state.Metadata.CategoryCounts)
	state.LifecycleScore = lifecycleScore[current]

	return state
}

func targetFor(ev model.ClassifiedEvent) (model.LifecycleState, bool) {
	if ev.Category == model.CategoryBGC {
		target, ok := bgcSubTarget[ev.SubCategory]
		return target, ok
	}
	// first_dash always forces ACTIVE; the generic ACTIVE mapping is the
	// same target, kept separate for clarity of intent.
	if ev.Category == model.CategoryActive && ev.SubCategory == "first_dash" {
		return model.StateActive, true
	}
	target, ok := categoryTarget[ev.Category]
	return target, ok
}

// isBenignPair reports whether a rejected transition is a recognized
// oscillation. The list is deliberately narrow: ACTIVE<->WARNING only,
// plus anything touching DEACTIVATED (those are handled by the dominance
// rule and the appeal gate, never as regressions).
func isBenignPair(current, target model.LifecycleState) bool {
	if current == model.StateDeactivated || target == model.StateDeactivated {
		return true
	}
	if current == model.StateActive && target == model.StateWarning {
		return true
	}
	if current == model.StateWarning && target == model.StateActive {
		return true
	}
	return false
}

func confidence(final model.LifecycleState, counts map[model.Category]int) float64 {
	relevant := 0
	for _, cat := range relevantCategories[final] {
		relevant += counts[cat]
	}
	c := 0.5 + 0.1*float64(relevant)
	if c > 1 {
		c = 1
	}
	return math.Round(c*100) / 100
}

func recordMilestone(md *model.StateMetadata, ev model.ClassifiedEvent) {
	ts := ev.ReceivedAt
	switch ev.Category {
	case model.CategoryRegistration:
		if md.RegisteredAt == nil {
			md.RegisteredAt = &ts
		}
	case model.CategoryBGC:
		if ev.SubCategory == "bgc_clear" && md.BGCClearAt == nil {
			md.BGCClearAt = &ts
		}
	case model.CategoryActive:
		if md.FirstActiveAt == nil {
			md.FirstActiveAt = &ts
		}
	case model.CategoryDeactivation:
		if md.DeactivatedAt == nil {
			md.DeactivatedAt = &ts
		}
	}
}
