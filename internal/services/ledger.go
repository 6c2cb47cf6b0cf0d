package services

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/pos/internal/domain"
)

// ErrLedgerInvalidPrice indicates a manual price override below zero.
var ErrLedgerInvalidPrice = errors.New("ledger: invalid price")

// ErrLedgerInvalidProduct indicates a product without an identifier.
var ErrLedgerInvalidProduct = errors.New("ledger: invalid product")

// Ledger is an immutable, ordered set of cart lines keyed by product id. Every mutation returns a new
// Ledger together with a flag reporting whether anything changed; the receiver is never modified.
type Ledger struct {
	lines []domain.CartLine
}

// NewLedger builds a ledger from existing lines, merging duplicate product ids and dropping lines
// whose quantity is below one.
func NewLedger(lines []domain.CartLine) Ledger {
	out := make([]domain.CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" || line.Quantity < 1 {
			continue
		}
		if line.StockCeiling < 0 {
			line.StockCeiling = 0
		}
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity = capQuantity(out[i].Quantity+line.Quantity, out[i].StockCeiling)
			continue
		}
		line.Quantity = capQuantity(line.Quantity, line.StockCeiling)
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return Ledger{lines: out}
}

// Lines returns a copy of the lines in display order.
func (l Ledger) Lines() []domain.CartLine {
	if len(l.lines) == 0 {
		return nil
	}
	out := make([]domain.CartLine, len(l.lines))
	copy(out, l.lines)
	return out
}

// Len returns the number of distinct lines.
func (l Ledger) Len() int {
	return len(l.lines)
}

// IsEmpty reports whether the ledger holds no lines.
func (l Ledger) IsEmpty() bool {
	return len(l.lines) == 0
}

// Line returns the line for productID.
func (l Ledger) Line(productID string) (domain.CartLine, bool) {
	i := l.indexOf(productID)
	if i < 0 {
		return domain.CartLine{}, false
	}
	return l.lines[i], true
}

// Add inserts product with quantity one, or increments the existing line up to the product's stock.
// The existing line keeps its unit price so manual overrides survive a re-scan. A re-scan reporting
// less stock than the line holds lowers the quantity to the new stock.
func (l Ledger) Add(product domain.Product) (Ledger, bool, error) {
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return l, false, ErrLedgerInvalidProduct
	}
	ceiling := product.Stock
	if ceiling < 0 {
		ceiling = 0
	}

	if i := l.indexOf(id); i >= 0 {
		current := l.lines[i]
		if atCeiling(current.Quantity, ceiling) {
			if current.StockCeiling == ceiling {
				return l, false, nil
			}
			return l.replace(i, func(line *domain.CartLine) {
				line.StockCeiling = ceiling
				line.Quantity = capQuantity(line.Quantity, ceiling)
			}), true, nil
		}
		return l.replace(i, func(line *domain.CartLine) {
			line.Quantity++
			line.StockCeiling = ceiling
		}), true, nil
	}

	next := l.clone(len(l.lines) + 1)
	next = append(next, domain.CartLine{
		ProductID:    id,
		Name:         strings.TrimSpace(product.Name),
		SKU:          strings.TrimSpace(product.SKU),
		UnitPrice:    product.Price,
		Quantity:     1,
		StockCeiling: ceiling,
		Barcode:      strings.TrimSpace(product.Barcode),
		Brand:        strings.TrimSpace(product.Brand),
	})
	return Ledger{lines: next}, true, nil
}

// Increment raises the quantity by one unless the line is at its stock ceiling. Unknown ids are ignored.
func (l Ledger) Increment(productID string) (Ledger, bool) {
	i := l.indexOf(productID)
	if i < 0 || atCeiling(l.lines[i].Quantity, l.lines[i].StockCeiling) {
		return l, false
	}
	return l.replace(i, func(line *domain.CartLine) { line.Quantity++ }), true
}

// Decrement lowers the quantity by one and removes the line when it would drop below one.
// Unknown ids are ignored.
func (l Ledger) Decrement(productID string) (Ledger, bool) {
	i := l.indexOf(productID)
	if i < 0 {
		return l, false
	}
	if l.lines[i].Quantity <= 1 {
		return l.removeAt(i), true
	}
	return l.replace(i, func(line *domain.CartLine) { line.Quantity-- }), true
}

// SetPrice overrides the unit price of a line independently of the catalog price.
func (l Ledger) SetPrice(productID string, price decimal.Decimal) (Ledger, bool, error) {
	if price.IsNegative() {
		return l, false, ErrLedgerInvalidPrice
	}
	i := l.indexOf(productID)
	if i < 0 {
		return l, false, nil
	}
	if l.lines[i].UnitPrice.Equal(price) {
		return l, false, nil
	}
	return l.replace(i, func(line *domain.CartLine) { line.UnitPrice = price }), true, nil
}

// Remove deletes the line for productID.
func (l Ledger) Remove(productID string) (Ledger, bool) {
	i := l.indexOf(productID)
	if i < 0 {
		return l, false
	}
	return l.removeAt(i), true
}

func (l Ledger) indexOf(productID string) int {
	id := strings.TrimSpace(productID)
	if id == "" {
		return -1
	}
	for i := range l.lines {
		if l.lines[i].ProductID == id {
			return i
		}
	}
	return -1
}

func (l Ledger) clone(capacity int) []domain.CartLine {
	out := make([]domain.CartLine, len(l.lines), capacity)
	copy(out, l.lines)
	return out
}

func (l Ledger) replace(i int, mutate func(*domain.CartLine)) Ledger {
	next := l.clone(len(l.lines))
	mutate(&next[i])
	return Ledger{lines: next}
}

func (l Ledger) removeAt(i int) Ledger {
	next := make([]domain.CartLine, 0, len(l.lines)-1)
	next = append(next, l.lines[:i]...)
	next = append(next, l.lines[i+1:]...)
	return Ledger{lines: next}
}

func atCeiling(quantity, ceiling int) bool {
	return ceiling > 0 && quantity >= ceiling
}

func capQuantity(quantity, ceiling int) int {
	if ceiling > 0 && quantity > ceiling {
		return ceiling
	}
	return quantity
}
