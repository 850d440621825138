package classify

import (
	"regexp"

	"mailsignal/internal/model"
)

// rule is one ordered classification rule. Sender and subject patterns are
// lowercase substrings; extract runs against the raw (non-lowercased)
// subject and its first capture group lands in the extracted data.
type rule struct {
	category    model.Category
	subCategory string
	senders     []string
	subjects    []string
	extract     *regexp.Regexp
	extractAs   string // "code" or "amount"
}

var (
	codePattern   = regexp.MustCompile(`(\d{4,8})`)
	amountPattern = regexp.MustCompile(`\$([0-9][0-9,]*(?:\.[0-9]{2})?)`)
)

// rules is evaluated top to bottom, first match wins. Order is the
// tie-break: more specific signals sit above the generic ones that would
// also match their subjects.
var rules = []rule{
	{
		category:    model.CategoryVerification,
		subCategory: "code",
		subjects:    []string{"verification code", "security code", "your code is", "one-time passcode", "confirm your email"},
		extract:     codePattern,
		extractAs:   "code",
	},
	{
		category:    model.CategoryDeactivation,
		subCategory: "deactivated",
		subjects:    []string{"account has been deactivated", "your account was deactivated", "deactivation notice", "no longer eligible to deliver"},
	},
	{
		category:    model.CategoryAppeal,
		subCategory: "appeal",
		subjects:    []string{"appeal", "reactivation request", "request a review of your deactivation"},
	},
	{
		category:    model.CategoryBGC,
		subCategory: "bgc_clear",
		subjects:    []string{"background check is complete", "background check cleared", "you're all clear", "passed your background check"},
	},
	{
		category:    model.CategoryBGC,
		subCategory: "bgc_issue",
		subjects:    []string{"issue with your background check", "pre-adverse action", "adverse action", "consider status"},
	},
	{
		category:    model.CategoryBGC,
		subCategory: "bgc_started",
		subjects:    []string{"background check has been initiated", "started your background check", "authorize your background check"},
	},
	{
		category:    model.CategoryBGC,
		subCategory: "bgc_processing",
		subjects:    []string{"background check is in progress", "still processing your background check", "background check update"},
	},
	{
		category:    model.CategoryBGC,
		subCategory: "checkr",
		senders:     []string{"checkr.com", "@checkr"},
		subjects:    []string{"background check"},
	},
	{
		category:    model.CategoryActive,
		subCategory: "first_dash",
		subjects:    []string{"congrats on your first delivery", "your first dash", "you completed your first"},
	},
	{
		category:    model.CategoryWarning,
		subCategory: "violation",
		subjects:    []string{"contract violation", "policy violation", "account under review", "final warning", "lateness warning"},
	},
	{
		category:    model.CategoryOnboarding,
		subCategory: "activation_kit",
		subjects:    []string{"activation kit", "welcome kit", "your kit has shipped", "get started delivering", "complete your onboarding"},
	},
	{
		category:    model.CategoryActive,
		subCategory: "dash_stats",
		subjects:    []string{"weekly summary", "your week in review", "delivery recap", "your dash stats"},
	},
	{
		category:    model.CategoryRegistration,
		subCategory: "welcome",
		senders:     []string{"no-reply@doordash", "welcome@doordash"},
		subjects:    []string{"welcome to doordash", "thanks for signing up", "finish signing up"},
	},
	{
		category:    model.CategoryPayment,
		subCategory: "payout",
		subjects:    []string{"payment has been sent", "direct deposit", "weekly pay", "you earned"},
		extract:     amountPattern,
		extractAs:   "amount",
	},
	{
		category:    model.CategoryPackage,
		subCategory: "shipment",
		senders:     []string{"fedex.com", "ups.com", "usps.com", "narvar.com"},
		subjects:    []string{"your package", "has shipped", "tracking number", "out for delivery"},
	},
	{
		category:    model.CategoryPromotion,
		subCategory: "promo",
		subjects:    []string{"promo", "bonus offer", "% off", "limited time", "earn extra"},
	},
	{
		category:    model.CategorySystem,
		subCategory: "system",
		senders:     []string{"mailer-daemon", "postmaster"},
		subjects:    []string{"delivery status notification", "password reset", "new login detected"},
	},
}
