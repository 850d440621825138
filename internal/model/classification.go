package model

import "time"

// Category is the closed set of classification categories.
type Category string

const (
	CategoryRegistration Category = "REGISTRATION"
	CategoryVerification Category = "VERIFICATION"
	CategoryBGC          Category = "BGC"
	CategoryOnboarding   Category = "ONBOARDING"
	CategoryActive       Category = "ACTIVE"
	CategoryWarning      Category = "WARNING"
	CategoryDeactivation Category = "DEACTIVATION"
	CategoryAppeal       Category = "APPEAL"
	CategoryPackage      Category = "PACKAGE"
	CategoryPayment      Category = "PAYMENT"
	CategoryPromotion    Category = "PROMOTION"
	CategorySystem       Category = "SYSTEM"
	CategoryOther        Category = "OTHER"
)

// Extracted holds the handful of extraction shapes that actually occur.
// Raw keeps the untouched capture for anything a future rule extracts.
type Extracted struct {
	Code   string `json:"code,omitempty"`
	Amount string `json:"amount,omitempty"`
	Raw    string `json:"raw,omitempty"`
}

func (e Extracted) IsZero() bool {
	return e.Code == "" && e.Amount == "" && e.Raw == ""
}

// Classification is the derived label for one message. It is a pure
// function of (subject, sender): re-classifying the same message is
// deterministic and safe to upsert with conflict-ignore.
type Classification struct {
	Category       Category  `json:"category"`
	SubCategory    string    `json:"sub_category"`
	Confidence     float64   `json:"confidence"`
	Extracted      Extracted `json:"extracted"`
	PatternMatched string    `json:"pattern_matched,omitempty"` // diagnostic only
}

// ClassifiedEvent is one persisted classification row: message identity,
// label and timestamp. It is the unit the lifecycle state machine, the
// insight generator and the risk scorer all consume.
type ClassifiedEvent struct {
	AccountID    string    `json:"account_id"`
	AccountEmail string    `json:"account_email"`
	MailboxID    string    `json:"mailbox_id"`
	MessageID    string    `json:"message_id"`
	Subject      string    `json:"subject"`
	Sender       string    `json:"sender"`
	ReceivedAt   time.Time `json:"received_at"`
	Classification
}
