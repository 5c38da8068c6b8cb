// Package redact scrubs personally identifying substrings from text before
// it is durably logged. Rules are an ordered, data-driven list of
// (pattern, placeholder) pairs applied independently, so a string carrying
// several PII classes has every instance of every class replaced and new
// classes can be added without touching call sites.
package redact

import (
	"regexp"
	"strings"
)

// Rule replaces every match of Pattern with Placeholder.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Placeholder string
}

// Rules is the ordered redaction cascade. Card and government-id rules run
// before the phone rule so their longer digit groups are consumed first.
// Placeholders must never themselves match any rule, which keeps Redact
// idempotent.
var Rules = []Rule{
	{
		Name:        "email",
		Pattern:     regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		Placeholder: "[EMAIL]",
	},
	{
		Name:        "payment_card",
		Pattern:     regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
		Placeholder: "[CARD]",
	},
	{
		Name:        "government_id",
		Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		Placeholder: "[GOV-ID]",
	},
	{
		Name:        "phone",
		Pattern:     regexp.MustCompile(`(\+?\d{1,2}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		Placeholder: "[PHONE]",
	},
	{
		Name:        "honorific_name",
		Pattern:     regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`),
		Placeholder: "[NAME]",
	},
}

// Ellipsis marks text shortened by Truncate.
const Ellipsis = "..."

// Redact replaces every PII match of every rule with that rule's placeholder.
// Pure and deterministic; empty input is returned unchanged.
func Redact(text string) string {
	if text == "" {
		return text
	}
	for _, r := range Rules {
		text = r.Pattern.ReplaceAllString(text, r.Placeholder)
	}
	return text
}

// Truncate bounds text to maxLen runes for storage, appending an ellipsis
// marker when it actually shortens. A no-op at or below the threshold.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	cut := maxLen - len(Ellipsis)
	if cut < 0 {
		cut = 0
	}
	return strings.TrimRight(string(runes[:cut]), " ") + Ellipsis
}
