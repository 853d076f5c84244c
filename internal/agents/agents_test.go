package agents

import (
	"strings"
	"testing"

	"github.com/saathi-labs/saathi/internal/customer"
)

func TestSelect(t *testing.T) {
	profiles := Default()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"emi question", "when is my EMI due?", PaymentSupport},
		{"payment word", "I want to pay my installment", PaymentSupport},
		{"balance", "what is my outstanding balance", PaymentSupport},
		{"loan application", "I want to apply for a loan", CustomerOnboarding},
		{"bike finance", "can I get finance for a new scooter", CustomerOnboarding},
		{"documents", "which documents do I need", CustomerOnboarding},
		{"complaint", "I have a complaint about my bike", Grievance},
		{"not working", "the app is not working", Grievance},
		{"damaged", "my vehicle arrived damaged", Grievance},
		{"greeting", "hello, good morning", GeneralSupport},
		{"off topic", "what is the weather today", GeneralSupport},
		{"empty", "", GeneralSupport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tt.query, profiles)
			if got.Name != tt.want {
				t.Errorf("Select(%q) = %s, want %s", tt.query, got.Name, tt.want)
			}
		})
	}
}

func TestSelectDeterministic(t *testing.T) {
	profiles := Default()
	// "amount" matches both the payment and onboarding patterns;
	// priority order must make the outcome stable.
	for i := 0; i < 50; i++ {
		got := Select("what amount do I owe", profiles)
		if got.Name != PaymentSupport {
			t.Fatalf("iteration %d: Select = %s, want %s", i, got.Name, PaymentSupport)
		}
	}
}

func TestSelectTotal(t *testing.T) {
	// Even a degenerate catch-all predicate cannot make Select fail.
	profiles := []Profile{
		{Name: "never", Match: func(string) bool { return false }},
		{Name: "fallback", Match: func(string) bool { return false }},
	}
	if got := Select("anything", profiles); got.Name != "fallback" {
		t.Errorf("Select = %s, want fallback", got.Name)
	}
}

func TestNextAction(t *testing.T) {
	tests := []struct {
		profile string
		query   string
		want    string
	}{
		{PaymentSupport, "when is my emi due", "fetch_payment_info"},
		{PaymentSupport, "tell me a joke", ""},
		{CustomerOnboarding, "I want to apply for a loan", "initiate_loan_application"},
		{CustomerOnboarding, "what is my occupation", ""},
		{Grievance, "this is urgent, possible fraud", "escalate_to_human"},
		{Grievance, "minor issue with the seat", ""},
		{GeneralSupport, "emi due loan apply urgent", ""},
	}

	for _, tt := range tests {
		if got := NextAction(tt.profile, tt.query); got != tt.want {
			t.Errorf("NextAction(%s, %q) = %q, want %q", tt.profile, tt.query, got, tt.want)
		}
	}
}

func TestEscalates(t *testing.T) {
	if !Escalates("I will take legal action") {
		t.Error("legal should escalate")
	}
	if !Escalates("Please connect me to a MANAGER") {
		t.Error("keyword match should be case-insensitive")
	}
	if Escalates("my payment is delayed") {
		t.Error("plain payment text should not escalate")
	}
	if Escalates("the manageress was helpful") {
		t.Error("keyword must match on word boundaries")
	}
}

func TestSystemBlock(t *testing.T) {
	p := Default()[0]
	cust := customer.Context{
		Name: "Ravi", Language: "hi", LoanStatus: "active",
		EMIDueDate: "2026-09-05", EMIAmount: 2825,
	}
	block := SystemBlock(p, cust)

	for _, want := range []string{
		"Payment Support Agent:",
		"- Name: Ravi",
		"- LanguagePref: hi",
		"- LoanStatus: active",
		"- NextEMIDue: 2026-09-05",
		"₹2825",
		"Only one follow-up question at a time.",
	} {
		if !strings.Contains(block, want) {
			t.Errorf("system block missing %q:\n%s", want, block)
		}
	}

	// Empty due date renders as Unknown.
	block = SystemBlock(p, customer.Context{}.WithDefaults(""))
	if !strings.Contains(block, "- NextEMIDue: Unknown") {
		t.Errorf("empty due date should render Unknown:\n%s", block)
	}
}

func TestCustomerDefaults(t *testing.T) {
	c := customer.Context{}.WithDefaults("")
	if c.ID != "anonymous" || c.Name != "Customer" || c.Language != "en" || c.LoanStatus != "unknown" {
		t.Errorf("defaults = %+v", c)
	}

	// Request-level language overrides the context field.
	c = customer.Context{Language: "en"}.WithDefaults("ta")
	if c.Language != "ta" {
		t.Errorf("language = %q, want ta", c.Language)
	}
}
