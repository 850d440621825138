// Package risk scores still-live accounts against the cohort's observed
// time-to-deactivation. Scoring is a single batch pass over the whole
// classified corpus, not an incremental per-account update.
package risk

import (
	"fmt"
	"sort"
	"time"

	"mailsignal/internal/model"
)

// defaultMeanDays is used when no account in the cohort has both a clear
// and a deactivation date.
const defaultMeanDays = 30.0

type milestones struct {
	email         string
	clearAt       *time.Time
	deactivatedAt *time.Time
	firstDelivery *time.Time
}

// ScoreCohort computes a risk score for every account that has cleared its
// background check and is not yet deactivated. Deactivated accounts are
// skipped entirely. Results are ordered by account email for stable output.
func ScoreCohort(now time.Time, events []model.ClassifiedEvent) []model.RiskScore {
	byAccount := make(map[string]*milestones)
	get := func(email string) *milestones {
		m, ok := byAccount[email]
		if !ok {
			m = &milestones{email: email}
			byAccount[email] = m
		}
		return m
	}

	for i := range events {
		ev := &events[i]
		m := get(ev.AccountEmail)
		ts := ev.ReceivedAt
		switch {
		case ev.Category == model.CategoryBGC && ev.SubCategory == "bgc_clear":
			if m.clearAt == nil || ts.Before(*m.clearAt) {
				m.clearAt = &ts
			}
		case ev.Category == model.CategoryDeactivation:
			if m.deactivatedAt == nil || ts.Before(*m.deactivatedAt) {
				m.deactivatedAt = &ts
			}
		case ev.Category == model.CategoryActive:
			if m.firstDelivery == nil || ts.Before(*m.firstDelivery) {
				m.firstDelivery = &ts
			}
		}
	}

	mean := cohortMeanDays(byAccount)

	var scores []model.RiskScore
	for _, m := range byAccount {
		if m.clearAt == nil || m.deactivatedAt != nil {
			continue
		}
		scores = append(scores, scoreAccount(now, m, mean))
	}

	sort.Slice(scores, func(i, j int) bool {
		return scores[i].AccountEmail < scores[j].AccountEmail
	})
	return scores
}

func cohortMeanDays(byAccount map[string]*milestones) float64 {
	var total float64
	var n int
	for _, m := range byAccount {
		if m.clearAt != nil && m.deactivatedAt != nil {
			total += m.deactivatedAt.Sub(*m.clearAt).Hours() / 24
			n++
		}
	}
	if n == 0 {
		return defaultMeanDays
	}
	mean := total / float64(n)
	// Mis-ordered milestones (a deactivation timestamped before its clear)
	// can drag the mean to zero or below, which would make every ratio
	// negative or infinite.
	if mean <= 0 {
		return defaultMeanDays
	}
	return mean
}

func scoreAccount(now time.Time, m *milestones, mean float64) model.RiskScore {
	daysSinceClear := now.Sub(*m.clearAt).Hours() / 24
	ratio := daysSinceClear / mean

	score := 0
	factors := []string{}

	switch {
	case ratio >= 1.0:
		score += 40
		factors = append(factors, fmt.Sprintf(
			"days since clear (%.0f) at or past cohort mean deactivation ratio %.2f", daysSinceClear, ratio))
	case ratio >= 0.7:
		score += 25
		factors = append(factors, fmt.Sprintf(
			"days since clear (%.0f) nearing cohort mean, ratio %.2f", daysSinceClear, ratio))
	case ratio >= 0.4:
		score += 10
		factors = append(factors, fmt.Sprintf(
			"days since clear (%.0f) at mid cohort ratio %.2f", daysSinceClear, ratio))
	}

	if m.firstDelivery == nil && daysSinceClear >= 14 {
		score += 25
		factors = append(factors, fmt.Sprintf(
			"missing first delivery %.0f days after clear", daysSinceClear))
	}

	if daysSinceClear < 3 {
		score -= 15
		if score < 0 {
			score = 0
		}
		factors = append(factors, "recently cleared, risk discounted")
	}

	if score > 100 {
		score = 100
	}

	return model.RiskScore{
		AccountEmail:     m.email,
		Score:            score,
		Factors:          factors,
		LastCalculatedAt: now,
	}
}
