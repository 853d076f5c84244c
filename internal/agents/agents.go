// Package agents routes free-text queries to specialized handling profiles.
package agents

import "regexp"

// Profile is a static handling persona: system instructions, a sampling
// temperature, and a match predicate over free text. Profiles are
// process-wide and immutable after construction.
type Profile struct {
	Name        string
	Temperature float64
	System      string

	// Match reports whether this profile should handle the query.
	// The last profile in a routing list must match everything.
	Match func(query string) bool
}

// Profile names.
const (
	PaymentSupport     = "PaymentSupportAgent"
	CustomerOnboarding = "CustomerOnboardingAgent"
	Grievance          = "GrievanceAgent"
	GeneralSupport     = "GeneralSupportAgent"
)

var (
	paymentPattern   = regexp.MustCompile(`(?i)\b(emi|payment|due|installment|pay|balance|amount)\b`)
	onboardPattern   = regexp.MustCompile(`(?i)\b(loan|apply|application|two wheeler|bike|scooter|documents|eligibility|amount|finance)\b`)
	grievancePattern = regexp.MustCompile(`(?i)\b(complaint|issue|problem|not working|trouble|wrong|error|fault|damaged)\b`)
)

// Default returns the standard routing list, evaluated in priority
// order. The catch-all GeneralSupportAgent is last.
func Default() []Profile {
	return []Profile{
		{
			Name:        PaymentSupport,
			Temperature: 0.5,
			System: `Payment Support Agent:
- Provide EMI due date & amount if asked.
- Keep answers short (<=3 sentences).
- Ask clarifying question only if required.
- If user asks to calculate EMI, request principal, rate (approx), and tenure.`,
			Match: paymentPattern.MatchString,
		},
		{
			Name:        CustomerOnboarding,
			Temperature: 0.6,
			System: `Customer Onboarding Agent:
Purpose: Collect borrower basics step-by-step for a two-wheeler or small loan.
Rules:
1. ONE question at a time.
2. Simple language for rural user; avoid jargon.
3. If user already gave a detail, do NOT ask again; move to next required field.
4. Fields to collect (in order): monthly income, occupation, desired amount, tenure months, purpose, documents readiness.
5. After all collected, provide a neat summary and ask for confirmation or corrections.
6. Use Indian Rupee context implicitly (do not ask for currency).
7. If user asks unrelated question mid-flow, briefly answer then return to next missing field.
8. If documents not ready, suggest gathering ID proof, address proof, income proof.
Tone: Helpful, respectful, concise.
Output format:
- For questions: "Step X of 6: <question>"
- For summary: start with "Summary:" then bullet list.`,
			Match: onboardPattern.MatchString,
		},
		{
			Name:        Grievance,
			Temperature: 0.6,
			System: `Grievance Agent:
- Be empathetic.
- Ask for issue description, product type, date of issue.
- Generate reference code CMP-#### when enough detail.
- If user expresses distress, acknowledge and reassure.`,
			Match: grievancePattern.MatchString,
		},
		{
			Name:        GeneralSupport,
			Temperature: 0.7,
			System: `General Support Agent:
- Provide helpful concise answers.
- If query is domain-specific (payments, onboarding, grievance), gently steer user to provide needed details.`,
			Match: func(string) bool { return true },
		},
	}
}

// Select evaluates profile predicates in list order and returns the
// first match. Pure classification: no side effects, same inputs always
// yield the same profile. The final profile is treated as a catch-all,
// so selection is total even if its predicate misbehaves.
func Select(query string, profiles []Profile) Profile {
	for _, p := range profiles {
		if p.Match != nil && p.Match(query) {
			return p
		}
	}
	return profiles[len(profiles)-1]
}
