package agents

import (
	"regexp"
	"strings"
)

// EscalationKeywords mark replies that must be flagged for a human.
var EscalationKeywords = []string{"fraud", "legal", "harassment", "urgent", "escalate", "manager"}

var escalationPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(EscalationKeywords, "|") + `)\b`)

// Escalates reports whether the text contains an escalation keyword.
func Escalates(text string) bool {
	return escalationPattern.MatchString(text)
}

// NextAction returns a machine-readable hint for the caller's UI, or ""
// when no follow-up action applies.
func NextAction(profileName, query string) string {
	q := strings.ToLower(query)
	switch {
	case profileName == PaymentSupport && (strings.Contains(q, "emi") || strings.Contains(q, "due")):
		return "fetch_payment_info"
	case profileName == CustomerOnboarding && (strings.Contains(q, "loan") || strings.Contains(q, "apply")):
		return "initiate_loan_application"
	case profileName == Grievance && (strings.Contains(q, "urgent") || strings.Contains(q, "fraud")):
		return "escalate_to_human"
	}
	return ""
}
