package model

import "time"

type InsightType string

const (
	InsightRisk       InsightType = "risk"
	InsightAnomaly    InsightType = "anomaly"
	InsightPrediction InsightType = "prediction"
	InsightAction     InsightType = "action"
)

type InsightPriority string

const (
	PriorityUrgent  InsightPriority = "urgent"
	PriorityWarning InsightPriority = "warning"
	PriorityInfo    InsightPriority = "info"
)

// Insight is one prioritized finding for an account. Non-dismissed insights
// are fully replaced on each analysis pass; dismissed ones are preserved.
type Insight struct {
	AccountEmail    string          `json:"account_email"`
	Type            InsightType     `json:"insight_type"`
	Priority        InsightPriority `json:"priority"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	SuggestedAction string          `json:"suggested_action,omitempty"`
	Dismissed       bool            `json:"dismissed"`
	CreatedAt       time.Time       `json:"created_at"`
}
