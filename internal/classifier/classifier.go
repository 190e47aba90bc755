// Package classifier labels a notification as payer-side or
// payee-side using an ordered table of phrase rules.
//
// The table is evaluated by a single function: the first rule whose
// pattern matches wins with that rule's fixed confidence, so payer and
// payee phrasings can never tie. A message matching no rule is
// UNKNOWN at confidence 0.5 and is surfaced for operator triage.
package classifier

import (
	"regexp"

	"payment-reconciliation-service/internal/models"
)

// Classification is the outcome of classifying one message.
type Classification struct {
	Role       models.NotificationRole
	Confidence float64
	// Rule names the pattern that decided the role, for diagnostics.
	Rule string
}

// rule is one (predicate, role) pair in the ordered table.
type rule struct {
	name       string
	pattern    *regexp.Regexp
	role       models.NotificationRole
	confidence float64
}

const (
	matchedConfidence   = 0.9
	unmatchedConfidence = 0.5
)

// Payer rules are checked before payee rules; within each family the
// more specific phrasings come first.
var rules = []rule{
	{
		name:       "payer_transferred_phrase",
		pattern:    regexp.MustCompile(`(?i)\byou\s+have\s+transferred\b`),
		role:       models.RolePayer,
		confidence: matchedConfidence,
	},
	{
		name:       "payer_sent_phrase",
		pattern:    regexp.MustCompile(`(?i)\b(?:you\s+(?:have\s+)?sent|you\s+paid)\b`),
		role:       models.RolePayer,
		confidence: matchedConfidence,
	},
	{
		name:       "payer_debited_phrase",
		pattern:    regexp.MustCompile(`(?i)\b(?:has\s+been|account\s+is)\s+debited\b`),
		role:       models.RolePayer,
		confidence: matchedConfidence,
	},
	{
		name:       "payee_credited_phrase",
		pattern:    regexp.MustCompile(`(?i)\b(?:has\s+been|account\s+is)\s+credited\b`),
		role:       models.RolePayee,
		confidence: matchedConfidence,
	},
	{
		name:       "payee_received_phrase",
		pattern:    regexp.MustCompile(`(?i)\b(?:you\s+(?:have\s+)?received|we\s+(?:have\s+)?received)\b`),
		role:       models.RolePayee,
		confidence: matchedConfidence,
	},
	{
		name:       "payee_deposit_phrase",
		pattern:    regexp.MustCompile(`(?i)\bdeposit(?:ed)?\s+(?:of|to)\b`),
		role:       models.RolePayee,
		confidence: matchedConfidence,
	},
}

// Classify labels raw message text. The first matching rule
// short-circuits; no match yields UNKNOWN.
func Classify(text string) Classification {
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return Classification{Role: r.role, Confidence: r.confidence, Rule: r.name}
		}
	}
	return Classification{Role: models.RoleUnknown, Confidence: unmatchedConfidence}
}
