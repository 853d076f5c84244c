package agents

import (
	"fmt"

	"github.com/saathi-labs/saathi/internal/customer"
)

// SystemBlock assembles the full system instructions for a turn: the
// profile's base instructions followed by the customer context block
// and shared response guidelines.
func SystemBlock(p Profile, cust customer.Context) string {
	due := cust.EMIDueDate
	if due == "" {
		due = "Unknown"
	}
	return fmt.Sprintf(`%s

Customer:
- Name: %s
- LanguagePref: %s
- LoanStatus: %s
- NextEMIDue: %s
- NextEMIAmount: ₹%.0f

Guidelines:
- Default to English unless user switches.
- Max 3 sentences per paragraph.
- Only one follow-up question at a time.
`, p.System, cust.Name, cust.Language, cust.LoanStatus, due, cust.EMIAmount)
}
