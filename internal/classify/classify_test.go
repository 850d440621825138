package classify

import (
	"testing"

	"mailsignal/internal/model"
)

func TestClassifySubjectMatch(t *testing.T) {
	c := Classify("Welcome to DoorDash! Let's get you started", "info@example.com")

	if c.Category != model.CategoryRegistration {
		t.Fatalf("expected REGISTRATION, got %s", c.Category)
	}
	if c.SubCategory != "welcome" {
		t.Fatalf("expected sub-category welcome, got %s", c.SubCategory)
	}
	if c.Confidence != 1.0 {
		t.Fatalf("subject match should carry confidence 1.0, got %v", c.Confidence)
	}
	if c.PatternMatched != "subject:welcome to doordash" {
		t.Fatalf("unexpected matched pattern: %s", c.PatternMatched)
	}
}

func TestClassifySenderMatch(t *testing.T) {
	c := Classify("An update for you", "account-updates@checkr.com")

	if c.Category != model.CategoryBGC {
		t.Fatalf("expected BGC, got %s", c.Category)
	}
	if c.SubCategory != "checkr" {
		t.Fatalf("expected sub-category checkr, got %s", c.SubCategory)
	}
	if c.Confidence != 0.9 {
		t.Fatalf("sender match should carry confidence 0.9, got %v", c.Confidence)
	}
	if c.PatternMatched != "sender:checkr.com" {
		t.Fatalf("unexpected matched pattern: %s", c.PatternMatched)
	}
}

// A clear-result subject from a checkr sender must resolve to bgc_clear,
// not the generic checkr rule: the more specific rule sits higher in the
// table and first match wins.
func TestClassifyRuleOrderBreaksTies(t *testing.T) {
	c := Classify("Your background check is complete", "no-reply@checkr.com")

	if c.SubCategory != "bgc_clear" {
		t.Fatalf("expected the specific bgc_clear rule to win, got %s", c.SubCategory)
	}
	if c.Category != model.CategoryBGC {
		t.Fatalf("expected BGC, got %s", c.Category)
	}
}

func TestClassifyExtractsVerificationCode(t *testing.T) {
	c := Classify("Your verification code is 482913", "security@doordash.com")

	if c.Category != model.CategoryVerification {
		t.Fatalf("expected VERIFICATION, got %s", c.Category)
	}
	if c.Extracted.Code != "482913" {
		t.Fatalf("expected extracted code 482913, got %q", c.Extracted.Code)
	}
	if c.Extracted.Raw != "482913" {
		t.Fatalf("expected raw capture 482913, got %q", c.Extracted.Raw)
	}
}

func TestClassifyExtractsPayoutAmount(t *testing.T) {
	c := Classify("You earned $1,234.56 this week", "payments@doordash.com")

	if c.Category != model.CategoryPayment {
		t.Fatalf("expected PAYMENT, got %s", c.Category)
	}
	if c.Extracted.Amount != "1,234.56" {
		t.Fatalf("expected extracted amount 1,234.56, got %q", c.Extracted.Amount)
	}
}

func TestClassifyMatchIsCaseInsensitive(t *testing.T) {
	lower := Classify("contract violation on your account", "x@y.com")
	upper := Classify("CONTRACT VIOLATION ON YOUR ACCOUNT", "X@Y.COM")

	if lower.Category != model.CategoryWarning || upper.Category != model.CategoryWarning {
		t.Fatalf("case variants classified differently: %s vs %s", lower.Category, upper.Category)
	}
	if lower.SubCategory != upper.SubCategory {
		t.Fatalf("case variants hit different rules: %s vs %s", lower.SubCategory, upper.SubCategory)
	}
}

func TestClassifyUnmatchedFallsBack(t *testing.T) {
	c := Classify("Lunch on Friday?", "colleague@example.com")

	if c.Category != model.CategoryOther {
		t.Fatalf("expected OTHER, got %s", c.Category)
	}
	if c.SubCategory != "unclassified" {
		t.Fatalf("expected unclassified, got %s", c.SubCategory)
	}
	if c.Confidence != 0 {
		t.Fatalf("fallback must carry zero confidence, got %v", c.Confidence)
	}
	if !c.Extracted.IsZero() {
		t.Fatalf("fallback must not extract data, got %+v", c.Extracted)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	inputs := [][2]string{
		{"Your background check is complete", "no-reply@checkr.com"},
		{"Weekly summary: 42 deliveries", "stats@doordash.com"},
		{"Lunch on Friday?", "colleague@example.com"},
	}
	for _, in := range inputs {
		first := Classify(in[0], in[1])
		for i := 0; i < 5; i++ {
			again := Classify(in[0], in[1])
			if again != first {
				t.Fatalf("classification of %q not deterministic: %+v vs %+v", in[0], first, again)
			}
		}
	}
}
