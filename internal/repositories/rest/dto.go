package rest

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/repositories"
)

type listEnvelope[T any] struct {
	Items []T `json:"items"`
}

type productPayload struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	SKU     string          `json:"sku"`
	Price   decimal.Decimal `json:"price"`
	Stock   *int            `json:"stock,omitempty"`
	Barcode string          `json:"barcode,omitempty"`
	Brand   string          `json:"brand,omitempty"`
}

func (p productPayload) toDomain() domain.Product {
	stock := 0
	if p.Stock != nil && *p.Stock > 0 {
		stock = *p.Stock
	}
	return domain.Product{
		ID:      strings.TrimSpace(p.ID),
		Name:    p.Name,
		SKU:     p.SKU,
		Price:   p.Price,
		Stock:   stock,
		Barcode: p.Barcode,
		Brand:   p.Brand,
	}
}

type cartLinePayload struct {
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku,omitempty"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     int             `json:"quantity"`
	StockCeiling int             `json:"stockCeiling"`
	Barcode      string          `json:"barcode,omitempty"`
	Brand        string          `json:"brand,omitempty"`
}

// heldOrderPayload mirrors the backend representation. A nil customerReference means no buyer was
// chosen; an empty one is the generic customer.
type heldOrderPayload struct {
	ID                string            `json:"id,omitempty"`
	CustomerReference *string           `json:"customerReference"`
	CustomerName      string            `json:"customerName,omitempty"`
	Lines             []cartLinePayload `json:"lines"`
	Discount          decimal.Decimal   `json:"discount"`
	OperatorID        string            `json:"operatorId,omitempty"`
	TerminalID        string            `json:"terminalId,omitempty"`
	CreatedAt         *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt         *time.Time        `json:"updatedAt,omitempty"`
}

func heldOrderFromDomain(snapshot domain.HeldOrderSnapshot) heldOrderPayload {
	payload := heldOrderPayload{
		ID:         snapshot.ID,
		Lines:      make([]cartLinePayload, 0, len(snapshot.Lines)),
		Discount:   snapshot.Discount,
		OperatorID: snapshot.OperatorID,
		TerminalID: snapshot.TerminalID,
		CreatedAt:  timePtr(snapshot.CreatedAt),
		UpdatedAt:  timePtr(snapshot.UpdatedAt),
	}
	if ref, ok := snapshot.Customer.Reference(); ok {
		payload.CustomerReference = &ref
		payload.CustomerName = snapshot.Customer.DisplayName
	}
	for _, line := range snapshot.Lines {
		payload.Lines = append(payload.Lines, cartLinePayload{
			ProductID:    line.ProductID,
			Name:         line.Name,
			SKU:          line.SKU,
			UnitPrice:    line.UnitPrice,
			Quantity:     line.Quantity,
			StockCeiling: line.StockCeiling,
			Barcode:      line.Barcode,
			Brand:        line.Brand,
		})
	}
	return payload
}

func (p heldOrderPayload) toDomain() domain.HeldOrderSnapshot {
	snapshot := domain.HeldOrderSnapshot{
		ID:         strings.TrimSpace(p.ID),
		Customer:   domain.CustomerSelectionFromReference(p.CustomerReference, p.CustomerName),
		Lines:      make([]domain.CartLine, 0, len(p.Lines)),
		Discount:   p.Discount,
		OperatorID: p.OperatorID,
		TerminalID: p.TerminalID,
	}
	if p.CreatedAt != nil {
		snapshot.CreatedAt = p.CreatedAt.UTC()
	}
	if p.UpdatedAt != nil {
		snapshot.UpdatedAt = p.UpdatedAt.UTC()
	}
	for _, line := range p.Lines {
		snapshot.Lines = append(snapshot.Lines, domain.CartLine{
			ProductID:    line.ProductID,
			Name:         line.Name,
			SKU:          line.SKU,
			UnitPrice:    line.UnitPrice,
			Quantity:     line.Quantity,
			StockCeiling: line.StockCeiling,
			Barcode:      line.Barcode,
			Brand:        line.Brand,
		})
	}
	return snapshot
}

type saleLinePayload struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type paymentPayload struct {
	Method         string           `json:"method"`
	Amount         decimal.Decimal  `json:"amount"`
	AmountReceived *decimal.Decimal `json:"amountReceived,omitempty"`
	Reference      string           `json:"reference,omitempty"`
}

type saleCreatePayload struct {
	Date              time.Time         `json:"date"`
	CustomerReference string            `json:"customerReference"`
	Lines             []saleLinePayload `json:"lines"`
	Payments          []paymentPayload  `json:"payments"`
	Discount          decimal.Decimal   `json:"discount"`
}

func saleCreateFromRequest(req repositories.SaleCreateRequest) saleCreatePayload {
	payload := saleCreatePayload{
		Date:              req.Date.UTC(),
		CustomerReference: req.CustomerReference,
		Lines:             make([]saleLinePayload, 0, len(req.Lines)),
		Payments:          make([]paymentPayload, 0, len(req.Payments)),
		Discount:          req.Discount,
	}
	for _, line := range req.Lines {
		payload.Lines = append(payload.Lines, saleLinePayload{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	for _, payment := range req.Payments {
		payload.Payments = append(payload.Payments, paymentPayload{
			Method:         string(payment.Method),
			Amount:         payment.Amount,
			AmountReceived: payment.AmountReceived,
			Reference:      payment.Reference,
		})
	}
	return payload
}

type salePayload struct {
	ID                string            `json:"id"`
	Number            int64             `json:"number"`
	Date              time.Time         `json:"date"`
	CustomerReference string            `json:"customerReference"`
	Lines             []saleLinePayload `json:"lines"`
	Payments          []paymentPayload  `json:"payments"`
	Discount          decimal.Decimal   `json:"discount"`
	Total             decimal.Decimal   `json:"total"`
}

func (p salePayload) toDomain() domain.Sale {
	sale := domain.Sale{
		ID:                p.ID,
		Number:            p.Number,
		Date:              p.Date.UTC(),
		CustomerReference: p.CustomerReference,
		Discount:          p.Discount,
		Total:             p.Total,
	}
	for _, line := range p.Lines {
		sale.Lines = append(sale.Lines, domain.SaleLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	for _, payment := range p.Payments {
		method, ok := domain.ParsePaymentMethod(payment.Method)
		if !ok {
			method = domain.PaymentMethodOther
		}
		sale.Payments = append(sale.Payments, domain.PaymentIntent{
			Method:         method,
			Amount:         payment.Amount,
			AmountReceived: payment.AmountReceived,
			Reference:      payment.Reference,
		})
	}
	return sale
}

type customerPayload struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

func (p customerPayload) toDomain() domain.Customer {
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	return domain.Customer{
		ID:     strings.TrimSpace(p.ID),
		Name:   p.Name,
		Email:  p.Email,
		Phone:  p.Phone,
		Active: active,
	}
}

func timePtr(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}
