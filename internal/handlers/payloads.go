package handlers

import (
	"time"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/services"
)

type viewPayload struct {
	Lines            []linePayload            `json:"lines"`
	Discount         string                   `json:"discount"`
	Customer         customerSelectionPayload `json:"customer"`
	Totals           totalsPayload            `json:"totals"`
	HeldOrderID      string                   `json:"heldOrderId,omitempty"`
	AutoSavePending  bool                     `json:"autoSavePending"`
	CheckoutInFlight bool                     `json:"checkoutInFlight"`
}

type linePayload struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	SKU          string `json:"sku,omitempty"`
	UnitPrice    string `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	StockCeiling int    `json:"stockCeiling"`
	LineTotal    string `json:"lineTotal"`
	Barcode      string `json:"barcode,omitempty"`
	Brand        string `json:"brand,omitempty"`
}

type customerSelectionPayload struct {
	Kind        string `json:"kind"`
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type totalsPayload struct {
	Subtotal        string `json:"subtotal"`
	AppliedDiscount string `json:"appliedDiscount"`
	TaxableBase     string `json:"taxableBase"`
	TaxRate         string `json:"taxRate"`
	TaxAmount       string `json:"taxAmount"`
	Total           string `json:"total"`
}

type productPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	SKU     string `json:"sku,omitempty"`
	Price   string `json:"price"`
	Stock   int    `json:"stock"`
	Barcode string `json:"barcode,omitempty"`
	Brand   string `json:"brand,omitempty"`
}

type heldOrderPayload struct {
	ID         string                   `json:"id"`
	Customer   customerSelectionPayload `json:"customer"`
	Lines      []linePayload            `json:"lines"`
	Discount   string                   `json:"discount"`
	OperatorID string                   `json:"operatorId,omitempty"`
	TerminalID string                   `json:"terminalId,omitempty"`
	CreatedAt  *time.Time               `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time               `json:"updatedAt,omitempty"`
}

type salePayload struct {
	ID                string            `json:"id"`
	Number            int64             `json:"number"`
	Date              time.Time         `json:"date"`
	CustomerReference string            `json:"customerReference"`
	Lines             []saleLinePayload `json:"lines"`
	Payments          []paymentPayload  `json:"payments"`
	Discount          string            `json:"discount"`
	Total             string            `json:"total"`
	ChangeDue         string            `json:"changeDue"`
}

type saleLinePayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type paymentPayload struct {
	Method         string  `json:"method"`
	Amount         string  `json:"amount"`
	AmountReceived *string `json:"amountReceived,omitempty"`
	Reference      string  `json:"reference,omitempty"`
}

type customerPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type scanResponse struct {
	Product *productPayload `json:"product"`
	View    viewPayload     `json:"view"`
}

type holdResponse struct {
	HeldOrder heldOrderPayload `json:"heldOrder"`
	View      viewPayload      `json:"view"`
}

type checkoutResponse struct {
	Sale salePayload `json:"sale"`
	View viewPayload `json:"view"`
}

type createCustomerResponse struct {
	Customer customerPayload `json:"customer"`
	View     viewPayload     `json:"view"`
}

type heldOrderListResponse struct {
	Items []heldOrderPayload `json:"items"`
}

type productListResponse struct {
	Items []productPayload `json:"items"`
}

type customerListResponse struct {
	Items []customerPayload `json:"items"`
}

func buildViewPayload(view services.RegisterView) viewPayload {
	return viewPayload{
		Lines:    buildLinePayloads(view.State.Lines),
		Discount: view.State.Discount.StringFixed(2),
		Customer: buildCustomerSelectionPayload(view.State.Customer),
		Totals: totalsPayload{
			Subtotal:        view.Totals.Subtotal.StringFixed(2),
			AppliedDiscount: view.Totals.AppliedDiscount.StringFixed(2),
			TaxableBase:     view.Totals.TaxableBase.StringFixed(2),
			TaxRate:         view.Totals.TaxRate.String(),
			TaxAmount:       view.Totals.TaxAmount.StringFixed(2),
			Total:           view.Totals.Total.StringFixed(2),
		},
		HeldOrderID:      view.HeldOrderID,
		AutoSavePending:  view.AutoSavePending,
		CheckoutInFlight: view.CheckoutInFlight,
	}
}

func buildLinePayloads(lines []domain.CartLine) []linePayload {
	out := make([]linePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, linePayload{
			ProductID:    line.ProductID,
			Name:         line.Name,
			SKU:          line.SKU,
			UnitPrice:    line.UnitPrice.StringFixed(2),
			Quantity:     line.Quantity,
			StockCeiling: line.StockCeiling,
			LineTotal:    line.LineTotal().StringFixed(2),
			Barcode:      line.Barcode,
			Brand:        line.Brand,
		})
	}
	return out
}

func buildCustomerSelectionPayload(selection domain.CustomerSelection) customerSelectionPayload {
	kind := string(selection.Kind)
	if kind == "" {
		kind = "unset"
	}
	return customerSelectionPayload{Kind: kind, ID: selection.ID, DisplayName: selection.DisplayName}
}

func buildProductPayload(p domain.Product) productPayload {
	return productPayload{
		ID:      p.ID,
		Name:    p.Name,
		SKU:     p.SKU,
		Price:   p.Price.StringFixed(2),
		Stock:   p.Stock,
		Barcode: p.Barcode,
		Brand:   p.Brand,
	}
}

func buildHeldOrderPayload(s domain.HeldOrderSnapshot) heldOrderPayload {
	return heldOrderPayload{
		ID:         s.ID,
		Customer:   buildCustomerSelectionPayload(s.Customer),
		Lines:      buildLinePayloads(s.Lines),
		Discount:   s.Discount.StringFixed(2),
		OperatorID: s.OperatorID,
		TerminalID: s.TerminalID,
		CreatedAt:  optionalTime(s.CreatedAt),
		UpdatedAt:  optionalTime(s.UpdatedAt),
	}
}

func buildSalePayload(sale domain.Sale) salePayload {
	payload := salePayload{
		ID:                sale.ID,
		Number:            sale.Number,
		Date:              sale.Date.UTC(),
		CustomerReference: sale.CustomerReference,
		Lines:             make([]saleLinePayload, 0, len(sale.Lines)),
		Payments:          make([]paymentPayload, 0, len(sale.Payments)),
		Discount:          sale.Discount.StringFixed(2),
		Total:             sale.Total.StringFixed(2),
		ChangeDue:         sale.ChangeDue.StringFixed(2),
	}
	for _, line := range sale.Lines {
		payload.Lines = append(payload.Lines, saleLinePayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
		})
	}
	for _, payment := range sale.Payments {
		p := paymentPayload{
			Method:    string(payment.Method),
			Amount:    payment.Amount.StringFixed(2),
			Reference: payment.Reference,
		}
		if payment.AmountReceived != nil {
			received := payment.AmountReceived.StringFixed(2)
			p.AmountReceived = &received
		}
		payload.Payments = append(payload.Payments, p)
	}
	return payload
}

func buildCustomerPayload(c domain.Customer) customerPayload {
	return customerPayload{ID: c.ID, Name: c.Name, Email: c.Email, Phone: c.Phone}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
