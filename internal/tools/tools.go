// Package tools parses and executes declarative tool directives
// embedded in generated text.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/saathi-labs/saathi/internal/customer"
)

// Tool is a callable capability exposed to the model via inline
// directives.
type Tool struct {
	Name        string
	Description string
	Handler     func(ctx context.Context, args map[string]any, cust customer.Context) (any, error)
}

// Registry holds the static tool set.
type Registry struct {
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates a registry with the built-in tools registered.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
	r.registerBuiltins()
	return r
}

// Register adds a tool. Later registrations with the same name win.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Built-in tool result payloads. Structs keep the inline JSON rendering
// stable across runs.

type emiInfoResult struct {
	Amount float64 `json:"amount"`
	Due    string  `json:"due"`
}

type complaintResult struct {
	Reference string `json:"reference"`
	Category  string `json:"category"`
}

type emiCalcResult struct {
	Principal     float64 `json:"principal"`
	AnnualRate    float64 `json:"annualRate"`
	Months        int     `json:"months"`
	MonthlyEMI    float64 `json:"monthlyEmi"`
	TotalInterest float64 `json:"totalInterest"`
	TotalPayable  float64 `json:"totalPayable"`
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "emi_info",
		Description: "Fetch the customer's next EMI amount and due date.",
		Handler: func(ctx context.Context, args map[string]any, cust customer.Context) (any, error) {
			return emiInfoResult{Amount: cust.EMIAmount, Due: cust.EMIDueDate}, nil
		},
	})

	r.Register(&Tool{
		Name:        "create_complaint",
		Description: "Open a grievance and return its reference code.",
		Handler: func(ctx context.Context, args map[string]any, cust customer.Context) (any, error) {
			category := "general"
			if c, ok := args["category"].(string); ok && c != "" {
				category = c
			}
			return complaintResult{
				Reference: fmt.Sprintf("CMP-%04d", rand.IntN(9000)+1000),
				Category:  category,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "calc_emi",
		Description: "Compute a reducing-balance EMI from principal, annual rate, and term in months.",
		Handler: func(ctx context.Context, args map[string]any, cust customer.Context) (any, error) {
			principal := argNumber(args, "principal")
			annual := argNumber(args, "annualRate")
			months := argNumber(args, "months")
			if principal <= 0 || annual <= 0 || months <= 0 {
				return nil, fmt.Errorf("invalid_parameters")
			}
			return CalcEMI(principal, annual, int(months)), nil
		},
	})
}

// CalcEMI computes the standard reducing-balance EMI:
// emi = P·r·(1+r)^n / ((1+r)^n − 1) with r = annual rate / 12 / 100.
// The installment is rounded up to the next whole rupee so the
// scheduled payments always cover the balance; totals derive from the
// rounded installment.
func CalcEMI(principal, annualRate float64, months int) emiCalcResult {
	r := annualRate / 12 / 100
	pow := math.Pow(1+r, float64(months))
	emi := math.Ceil(principal * r * pow / (pow - 1))
	total := emi * float64(months)
	return emiCalcResult{
		Principal:     principal,
		AnnualRate:    annualRate,
		Months:        months,
		MonthlyEMI:    emi,
		TotalInterest: total - principal,
		TotalPayable:  total,
	}
}

// argNumber reads a JSON number argument, tolerating absent or
// non-numeric values by returning 0.
func argNumber(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
