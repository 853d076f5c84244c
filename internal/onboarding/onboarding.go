// Package onboarding drives the guided data-collection dialogue for
// loan applications: an ordered checklist of required fields, each with
// a prompt and an extractor that pulls values out of free text.
package onboarding

import (
	"fmt"
	"regexp"
	"strings"
)

// Extractor attempts to pull one field value out of text. On success it
// returns the normalized value and the text with the matched span
// removed, so fields later in the checklist cannot claim the same
// characters (a bare "25000" stated as income never doubles as the
// desired loan amount).
type Extractor func(text string) (value, remainder string, ok bool)

// Field is one required entry in the checklist.
type Field struct {
	Key      string // stable identifier, e.g. "income"
	Label    string // human label for the confirmation summary
	Question string // prompt shown when this field is the next gap
	Extract  Extractor
}

// State tracks collected values for one session. A value, once set, is
// never overwritten; there is no correction path.
type State struct {
	Values    map[string]string `json:"values"`
	LastAsked string            `json:"last_asked"`
	Completed bool              `json:"completed"`
}

// NewState returns an empty slot state.
func NewState() *State {
	return &State{Values: make(map[string]string)}
}

// SummarySentinel is stored in LastAsked once the confirmation summary
// has been shown, so it is emitted at most once.
const SummarySentinel = "Summary:"

// Engine runs the checklist state machine. It holds no per-session
// state and is safe for concurrent use.
type Engine struct {
	fields []Field
}

// NewEngine creates an engine over the given checklist. With no fields,
// the default loan checklist is used.
func NewEngine(fields ...Field) *Engine {
	if len(fields) == 0 {
		fields = Checklist()
	}
	return &Engine{fields: fields}
}

// Fields returns the checklist in order.
func (e *Engine) Fields() []Field {
	return e.fields
}

// Extract runs every still-unfilled field's extractor against text, in
// checklist order. Filled fields are skipped entirely, even when their
// extractor would match again. Completed is recomputed afterwards.
func (e *Engine) Extract(st *State, text string) {
	if st.Values == nil {
		st.Values = make(map[string]string)
	}
	working := text
	for _, f := range e.fields {
		if _, done := st.Values[f.Key]; done {
			continue
		}
		if v, rest, ok := f.Extract(working); ok {
			st.Values[f.Key] = v
			working = rest
		}
	}

	st.Completed = true
	for _, f := range e.fields {
		if _, done := st.Values[f.Key]; !done {
			st.Completed = false
			break
		}
	}
}

// NextQuestion scans the checklist in order and returns the zero-based
// step index and prompt of the first unfilled field. ok is false when
// every field has a value.
func (e *Engine) NextQuestion(st *State) (step int, question string, ok bool) {
	for i, f := range e.fields {
		if _, done := st.Values[f.Key]; !done {
			return i, f.Question, true
		}
	}
	return len(e.fields) - 1, "", false
}

// Advance post-processes a generated reply. When echoExtract is set the
// reply itself is first scanned for values (legacy behavior: models
// sometimes echo user answers back in structured form). Then, while the
// checklist is incomplete, the reply is overwritten with the next
// "Step k of N" prompt — unless that exact prompt was just asked, in
// which case the reply passes through so the user never sees the same
// question twice in a row. Once complete, the confirmation summary is
// emitted exactly once.
func (e *Engine) Advance(st *State, reply string, echoExtract bool) string {
	if echoExtract {
		e.Extract(st, reply)
	}

	if !st.Completed {
		step, question, ok := e.NextQuestion(st)
		if ok && st.LastAsked != question {
			st.LastAsked = question
			return fmt.Sprintf("Step %d of %d: %s", step+1, len(e.fields), question)
		}
		return reply
	}

	if !strings.HasPrefix(st.LastAsked, SummarySentinel) {
		st.LastAsked = SummarySentinel
		return SummarySentinel + "\n" + e.Summary(st) + "\nPlease confirm if this is correct."
	}
	return reply
}

// Summary renders the collected values as a confirmation list.
func (e *Engine) Summary(st *State) string {
	var b strings.Builder
	b.WriteString("Great. I have:\n")
	for _, f := range e.fields {
		v, done := st.Values[f.Key]
		display := "-"
		if done {
			display = v
			if f.Key == KeyDocumentsReady {
				switch v {
				case "true":
					display = "Yes"
				case "false":
					display = "No"
				}
			}
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.Label, display)
	}
	b.WriteString("If any detail is incorrect, please tell me which one to change.")
	return b.String()
}

// Checklist field keys.
const (
	KeyIncome         = "income"
	KeyOccupation     = "occupation"
	KeyDesiredAmount  = "desired_amount"
	KeyTenureMonths   = "tenure_months"
	KeyPurpose        = "purpose"
	KeyDocumentsReady = "documents_ready"
)

// Patterns builds a regex-backed extractor. Expressions are tried in
// order; the first match wins. The captured group (or the whole match
// when there is none) is passed through normalize, and the matched span
// is cut out of the returned remainder.
func Patterns(normalize func(string) string, exprs ...string) Extractor {
	compiled := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		compiled[i] = regexp.MustCompile(expr)
	}
	return func(text string) (string, string, bool) {
		for _, rx := range compiled {
			loc := rx.FindStringSubmatchIndex(text)
			if loc == nil {
				continue
			}
			// Prefer the first capture group when present and matched.
			start, end := loc[0], loc[1]
			if len(loc) >= 4 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			value := text[start:end]
			if normalize != nil {
				value = normalize(value)
			}
			return value, text[:loc[0]] + text[loc[1]:], true
		}
		return "", text, false
	}
}

var yesPattern = regexp.MustCompile(`(?i)yes|ready|yep`)

// normalizeBool maps an affirmation-like token to "true" or "false".
func normalizeBool(v string) string {
	if yesPattern.MatchString(v) {
		return "true"
	}
	return "false"
}

// Checklist returns the default loan onboarding checklist.
func Checklist() []Field {
	return []Field{
		{
			Key:      KeyIncome,
			Label:    "Monthly Income",
			Question: "What is your monthly income (approximate amount in INR)?",
			Extract: Patterns(nil,
				`(?i)\b(?:income|earning|salary)\D{0,10}(\d{4,7})\b`,
				`(?i)\b(\d{4,7})\s*(?:INR|rs|rupees)\b`,
			),
		},
		{
			Key:      KeyOccupation,
			Label:    "Occupation",
			Question: "What is your occupation? (e.g. farmer, salaried, self-employed, driver)",
			Extract: Patterns(strings.ToLower,
				`(?i)\b(farmer|salaried|self[-\s]?employed|driver|student|shopkeeper|business)\b`,
			),
		},
		{
			Key:      KeyDesiredAmount,
			Label:    "Desired Amount",
			Question: "How much loan amount do you want (in INR)?",
			Extract: Patterns(nil,
				`\b(\d{4,7})\b`,
			),
		},
		{
			Key:      KeyTenureMonths,
			Label:    "Tenure (months)",
			Question: "Preferred repayment period in months?",
			Extract: Patterns(nil,
				`(?i)\b(\d{1,3})\s*(?:months|month|m)\b`,
			),
		},
		{
			Key:      KeyPurpose,
			Label:    "Purpose",
			Question: "What is the purpose? (bike purchase, small business, education, farming, other)",
			Extract: Patterns(strings.ToLower,
				`(?i)\b(bike|two\s?wheeler|business|education|farm|farming|tractor|home|medical)\b`,
			),
		},
		{
			Key:      KeyDocumentsReady,
			Label:    "Documents Ready",
			Question: "Do you have your basic documents ready? (ID proof, address proof, income proof)",
			Extract: Patterns(normalizeBool,
				`(?i)\b(yes|no|yep|ready|not yet)\b`,
			),
		},
	}
}
