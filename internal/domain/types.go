package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog record as returned by the catalog service.
type Product struct {
	ID      string
	Name    string
	SKU     string
	Price   decimal.Decimal
	Stock   int
	Barcode string
	Brand   string
}

// CartLine stores a single product entry within the register cart.
type CartLine struct {
	ProductID    string
	Name         string
	SKU          string
	UnitPrice    decimal.Decimal
	Quantity     int
	StockCeiling int
	Barcode      string
	Brand        string
}

// LineTotal returns the unrounded extended price of the line.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartState is the in-progress sale owned by a single register session.
type CartState struct {
	Lines    []CartLine
	Discount decimal.Decimal
	Customer CustomerSelection
}

// IsEmpty reports whether the cart carries no lines.
func (s CartState) IsEmpty() bool {
	return len(s.Lines) == 0
}

// DerivedTotals are computed from a CartState on every read and never stored.
type DerivedTotals struct {
	Subtotal        decimal.Decimal
	AppliedDiscount decimal.Decimal
	TaxableBase     decimal.Decimal
	TaxRate         decimal.Decimal
	TaxAmount       decimal.Decimal
	Total           decimal.Decimal
}

// HeldOrderSnapshot is a server-persisted copy of a not-yet-finalized sale.
type HeldOrderSnapshot struct {
	ID         string
	Customer   CustomerSelection
	Lines      []CartLine
	Discount   decimal.Decimal
	OperatorID string
	TerminalID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PaymentMethod enumerates the tender types accepted at checkout.
type PaymentMethod string

const (
	// PaymentMethodCash is paid in notes and coins; change may be due.
	PaymentMethodCash PaymentMethod = "cash"
	// PaymentMethodCard covers debit and credit cards.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodVoucher covers gift cards and store vouchers.
	PaymentMethodVoucher PaymentMethod = "voucher"
	// PaymentMethodTransfer covers bank transfers.
	PaymentMethodTransfer PaymentMethod = "transfer"
	// PaymentMethodOther is any tender not listed above.
	PaymentMethodOther PaymentMethod = "other"
)

// ParsePaymentMethod resolves a method name case-insensitively.
func ParsePaymentMethod(value string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(value))) {
	case PaymentMethodCash:
		return PaymentMethodCash, true
	case PaymentMethodCard:
		return PaymentMethodCard, true
	case PaymentMethodVoucher:
		return PaymentMethodVoucher, true
	case PaymentMethodTransfer:
		return PaymentMethodTransfer, true
	case PaymentMethodOther:
		return PaymentMethodOther, true
	default:
		return "", false
	}
}

// PaymentIntent is created transiently at checkout and never persisted locally.
type PaymentIntent struct {
	Method         PaymentMethod
	Amount         decimal.Decimal
	AmountReceived *decimal.Decimal
	Reference      string
}

// ChangeDue returns the cash to hand back. Non-cash intents and exact cash
// payments yield zero.
func (p PaymentIntent) ChangeDue() decimal.Decimal {
	if p.Method != PaymentMethodCash || p.AmountReceived == nil {
		return decimal.Zero
	}
	change := p.AmountReceived.Sub(p.Amount)
	if change.IsNegative() {
		return decimal.Zero
	}
	return change
}

// SaleLine is a finalized line item.
type SaleLine struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Sale is the finalized record returned by the sales service.
type Sale struct {
	ID                string
	Number            int64
	Date              time.Time
	CustomerReference string
	Lines             []SaleLine
	Payments          []PaymentIntent
	Discount          decimal.Decimal
	Total             decimal.Decimal
	ChangeDue         decimal.Decimal
	IdempotencyKey    string
}

// Customer is an entry of the active customer directory.
type Customer struct {
	ID     string
	Name   string
	Email  string
	Phone  string
	Active bool
}
