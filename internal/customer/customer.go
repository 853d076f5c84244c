// Package customer defines the customer context attached to every turn.
package customer

// Context describes the customer on whose behalf a turn is processed.
// It arrives with each request and is never stored server-side.
type Context struct {
	ID         string  `json:"customerId"`
	Name       string  `json:"name"`
	Language   string  `json:"language"`
	LoanStatus string  `json:"loanStatus"`
	EMIDueDate string  `json:"emiDueDate"`
	EMIAmount  float64 `json:"emiAmount"`
}

// WithDefaults fills absent fields so downstream components never see
// zero-value surprises.
func (c Context) WithDefaults(language string) Context {
	if c.ID == "" {
		c.ID = "anonymous"
	}
	if c.Name == "" {
		c.Name = "Customer"
	}
	if language != "" {
		c.Language = language
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.LoanStatus == "" {
		c.LoanStatus = "unknown"
	}
	return c
}
