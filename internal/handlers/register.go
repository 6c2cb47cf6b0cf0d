package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/platform/httpx"
	"github.com/hanko-field/pos/internal/services"
)

// RegisterHandlers exposes the register session over HTTP.
type RegisterHandlers struct {
	register services.RegisterService
}

// NewRegisterHandlers constructs the register endpoints.
func NewRegisterHandlers(register services.RegisterService) *RegisterHandlers {
	return &RegisterHandlers{register: register}
}

// Routes wires the register, held-order, catalog and customer endpoints.
func (h *RegisterHandlers) Routes(r chi.Router) {
	r.Route("/register", func(rr chi.Router) {
		rr.Get("/", h.getView)
		rr.Post("/scan", h.scan)
		rr.Post("/lines", h.addLine)
		rr.Post("/lines/{productId}/increment", h.increment)
		rr.Post("/lines/{productId}/decrement", h.decrement)
		rr.Put("/lines/{productId}/price", h.setPrice)
		rr.Delete("/lines/{productId}", h.removeLine)
		rr.Put("/discount", h.setDiscount)
		rr.Put("/customer", h.selectCustomer)
		rr.Post("/clear", h.clear)
		rr.Post("/hold", h.hold)
		rr.Post("/checkout", h.checkout)
	})
	r.Get("/held-orders", h.listHeldOrders)
	r.Post("/held-orders/{heldOrderId}/resume", h.resume)
	r.Delete("/held-orders/{heldOrderId}", h.deleteHeldOrder)
	r.Get("/catalog/search", h.search)
	r.Get("/customers", h.listCustomers)
	r.Post("/customers", h.createCustomer)
}

func (h *RegisterHandlers) getView(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(h.register.View()))
}

type scanRequest struct {
	Code string `json:"code"`
}

func (h *RegisterHandlers) scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req scanRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}

	product, view, err := h.register.ScanCode(ctx, req.Code)
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	if product == nil {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "no product matches the scanned code", http.StatusNotFound))
		return
	}
	p := buildProductPayload(*product)
	httpx.WriteJSON(w, http.StatusOK, scanResponse{Product: &p, View: buildViewPayload(view)})
}

type addLineRequest struct {
	Product productRequest `json:"product"`
}

type productRequest struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	SKU     string           `json:"sku"`
	Price   *decimal.Decimal `json:"price"`
	Stock   int              `json:"stock"`
	Barcode string           `json:"barcode"`
	Brand   string           `json:"brand"`
}

func (h *RegisterHandlers) addLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addLineRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Product.Price == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product.price is required", http.StatusBadRequest))
		return
	}
	view, err := h.register.AddProduct(domain.Product{
		ID:      req.Product.ID,
		Name:    req.Product.Name,
		SKU:     req.Product.SKU,
		Price:   *req.Product.Price,
		Stock:   req.Product.Stock,
		Barcode: req.Product.Barcode,
		Brand:   req.Product.Brand,
	})
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(view))
}

func (h *RegisterHandlers) increment(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(h.register.Increment(chi.URLParam(r, "productId"))))
}

func (h *RegisterHandlers) decrement(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(h.register.Decrement(chi.URLParam(r, "productId"))))
}

func (h *RegisterHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(h.register.Remove(chi.URLParam(r, "productId"))))
}

type priceRequest struct {
	Price *decimal.Decimal `json:"price"`
}

func (h *RegisterHandlers) setPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req priceRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Price == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "price is required", http.StatusBadRequest))
		return
	}
	view, err := h.register.SetPrice(chi.URLParam(r, "productId"), *req.Price)
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(view))
}

type discountRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

func (h *RegisterHandlers) setDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req discountRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Amount == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount is required", http.StatusBadRequest))
		return
	}
	view, err := h.register.SetDiscount(*req.Amount)
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(view))
}

type customerSelectionRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (h *RegisterHandlers) selectCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req customerSelectionRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	var selection domain.CustomerSelection
	switch domain.CustomerSelectionKind(strings.ToLower(strings.TrimSpace(req.Kind))) {
	case domain.CustomerUnset, "unset":
		selection = domain.UnsetCustomer()
	case domain.CustomerGeneric:
		selection = domain.GenericCustomer()
	case domain.CustomerIdentified:
		if strings.TrimSpace(req.ID) == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "id is required for identified customers", http.StatusBadRequest))
			return
		}
		// Loads the directory on first use so the id can be resolved.
		if _, err := h.register.Customers(ctx, ""); err != nil {
			writeRegisterError(ctx, w, err)
			return
		}
		selection = domain.CustomerSelection{Kind: domain.CustomerIdentified, ID: strings.TrimSpace(req.ID)}
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "kind must be unset, generic or identified", http.StatusBadRequest))
		return
	}

	view, err := h.register.SelectCustomer(selection)
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(view))
}

func (h *RegisterHandlers) clear(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(h.register.Clear(r.Context())))
}

func (h *RegisterHandlers) hold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot, err := h.register.Hold(ctx)
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, holdResponse{
		HeldOrder: buildHeldOrderPayload(snapshot),
		View:      buildViewPayload(h.register.View()),
	})
}

type checkoutRequest struct {
	Payment *paymentRequest `json:"payment"`
}

type paymentRequest struct {
	Method         string           `json:"method"`
	AmountReceived *decimal.Decimal `json:"amountReceived"`
	Reference      string           `json:"reference"`
}

func (h *RegisterHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req checkoutRequest
	if !decodeBody(w, r, &req, true) {
		return
	}

	var payment *services.PaymentInput
	if req.Payment != nil {
		payment = &services.PaymentInput{
			Method:         req.Payment.Method,
			AmountReceived: req.Payment.AmountReceived,
			Reference:      req.Payment.Reference,
		}
	}

	sale, err := h.register.Checkout(ctx, payment)
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, checkoutResponse{
		Sale: buildSalePayload(sale),
		View: buildViewPayload(h.register.View()),
	})
}

func (h *RegisterHandlers) listHeldOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if strings.EqualFold(r.URL.Query().Get("refresh"), "true") {
		if err := h.register.RefreshHeldOrders(ctx); err != nil {
			writeRegisterError(ctx, w, err)
			return
		}
	}
	orders := h.register.HeldOrders()
	payload := heldOrderListResponse{Items: make([]heldOrderPayload, 0, len(orders))}
	for _, order := range orders {
		payload.Items = append(payload.Items, buildHeldOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *RegisterHandlers) resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.register.Resume(ctx, chi.URLParam(r, "heldOrderId"))
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildViewPayload(view))
}

func (h *RegisterHandlers) deleteHeldOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.register.DeleteHeldOrder(ctx, chi.URLParam(r, "heldOrderId")); err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RegisterHandlers) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	products, err := h.register.Search(ctx, r.URL.Query().Get("q"))
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	payload := productListResponse{Items: make([]productPayload, 0, len(products))}
	for _, product := range products {
		payload.Items = append(payload.Items, buildProductPayload(product))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *RegisterHandlers) listCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customers, err := h.register.Customers(ctx, r.URL.Query().Get("q"))
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	payload := customerListResponse{Items: make([]customerPayload, 0, len(customers))}
	for _, customer := range customers {
		payload.Items = append(payload.Items, buildCustomerPayload(customer))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

type createCustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (h *RegisterHandlers) createCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createCustomerRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	customer, view, err := h.register.QuickCreateCustomer(ctx, req.Name, req.Email, req.Phone)
	if err != nil {
		writeRegisterError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createCustomerResponse{
		Customer: buildCustomerPayload(customer),
		View:     buildViewPayload(view),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if err := httpx.DecodeJSON(r, dst, optional); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func writeRegisterError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrRegisterInvalidInput),
		errors.Is(err, services.ErrHeldOrderInvalidInput),
		errors.Is(err, services.ErrCustomerInvalidInput),
		errors.Is(err, services.ErrCheckoutInvalidPayment):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrRegisterEmptyCart), errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutCustomerRequired):
		httpx.WriteError(ctx, w, httpx.NewError("customer_required", "select a customer or the generic buyer", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutInsufficientPayment):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_payment", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutRejected):
		httpx.WriteError(ctx, w, httpx.NewError("sale_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrRegisterCustomerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", "customer not found", http.StatusNotFound))
	case errors.Is(err, services.ErrHeldOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("held_order_not_found", "held order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", "a checkout is already in progress", http.StatusConflict))
	case errors.Is(err, services.ErrHeldOrderConflict), errors.Is(err, services.ErrCustomerConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogUnavailable),
		errors.Is(err, services.ErrCheckoutUnavailable),
		errors.Is(err, services.ErrHeldOrderUnavailable),
		errors.Is(err, services.ErrCustomerUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", err.Error(), http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_canceled", "request canceled", http.StatusRequestTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("register_error", "register operation failed", http.StatusInternalServerError))
	}
}
