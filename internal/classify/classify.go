// Package classify labels messages with lifecycle categories using an
// ordered first-match rule table. Classification is a pure function of
// (subject, sender): no shared state, safe for concurrent use, and the
// same input always produces the same output.
package classify

import (
	"strings"

	"mailsignal/internal/model"
)

const (
	senderConfidence  = 0.9
	subjectConfidence = 1.0
)

// Classify returns the classification for one message. Rules are tried in
// table order; within a rule sender patterns are checked before subject
// patterns. No match yields OTHER/unclassified with confidence 0.
func Classify(subject, sender string) model.Classification {
	subjectLower := strings.ToLower(subject)
	senderLower := strings.ToLower(sender)

	for _, r := range rules {
		for _, p := range r.senders {
			if strings.Contains(senderLower, p) {
				return buildResult(r, "sender:"+p, senderConfidence, subject)
			}
		}
		for _, p := range r.subjects {
			if strings.Contains(subjectLower, p) {
				return buildResult(r, "subject:"+p, subjectConfidence, subject)
			}
		}
	}

	return model.Classification{
		Category:    model.CategoryOther,
		SubCategory: "unclassified",
		Confidence:  0,
	}
}

func buildResult(r rule, pattern string, confidence float64, rawSubject string) model.Classification {
	c := model.Classification{
		Category:       r.category,
		SubCategory:    r.subCategory,
		Confidence:     confidence,
		PatternMatched: pattern,
	}

	if r.extract != nil {
		// Extraction runs against the raw subject so digits and casing
		// survive intact.
		if m := r.extract.FindStringSubmatch(rawSubject); len(m) > 1 {
			c.Extracted.Raw = m[1]
			switch r.extractAs {
			case "code":
				c.Extracted.Code = m[1]
			case "amount":
				c.Extracted.Amount = m[1]
			}
		}
	}

	return c
}
