package services

import (
	"errors"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/pos/internal/domain"
)

// ErrPricingInvalidTaxRate is returned when the configured tax rate is negative.
var ErrPricingInvalidTaxRate = errors.New("pricing: invalid tax rate")

const moneyPlaces = 2

// PricingEngine computes derived totals for a sale channel.
type PricingEngine struct {
	taxEnabled bool
	taxRate    decimal.Decimal
}

// PricingEngineDeps configures the channel tax policy.
type PricingEngineDeps struct {
	TaxEnabled bool
	TaxRate    decimal.Decimal
}

// NewPricingEngine validates the tax configuration.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.TaxRate.IsNegative() {
		return nil, ErrPricingInvalidTaxRate
	}
	return &PricingEngine{taxEnabled: deps.TaxEnabled, taxRate: deps.TaxRate}, nil
}

// TaxRate returns the effective rate, zero when tax is disabled for the channel.
func (e *PricingEngine) TaxRate() decimal.Decimal {
	if e == nil || !e.taxEnabled {
		return decimal.Zero
	}
	return e.taxRate
}

// Calculate derives the totals of a cart state.
func (e *PricingEngine) Calculate(state domain.CartState) domain.DerivedTotals {
	return CalculateTotals(state.Lines, state.Discount, e.TaxRate())
}

// CalculateTotals aggregates line totals before rounding. Only the tax amount and the grand total are
// rounded, each to two places.
func CalculateTotals(lines []domain.CartLine, discount, taxRate decimal.Decimal) domain.DerivedTotals {
	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		subtotal = subtotal.Add(line.LineTotal())
	}

	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if taxRate.IsNegative() {
		taxRate = decimal.Zero
	}

	applied := decimal.Min(discount, subtotal)
	base := decimal.Max(subtotal.Sub(applied), decimal.Zero)
	tax := base.Mul(taxRate).Round(moneyPlaces)
	total := base.Add(tax).Round(moneyPlaces)

	return domain.DerivedTotals{
		Subtotal:        subtotal,
		AppliedDiscount: applied,
		TaxableBase:     base,
		TaxRate:         taxRate,
		TaxAmount:       tax,
		Total:           total,
	}
}
