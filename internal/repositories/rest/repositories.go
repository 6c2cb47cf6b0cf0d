package rest

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/repositories"
)

// CatalogRepository reads products from the backend catalog.
type CatalogRepository struct {
	client *Client
}

// NewCatalogRepository constructs a CatalogRepository.
func NewCatalogRepository(client *Client) (*CatalogRepository, error) {
	if client == nil {
		return nil, errors.New("catalog repository: client is required")
	}
	return &CatalogRepository{client: client}, nil
}

// LookupByCode fetches the product carrying an exact barcode.
func (r *CatalogRepository) LookupByCode(ctx context.Context, code string) (domain.Product, error) {
	var payload productPayload
	err := r.client.sendJSON(ctx, request{
		op:       "catalog.lookup",
		method:   http.MethodGet,
		endpoint: endpointPath("products", "barcode", strings.TrimSpace(code)),
	}, &payload, http.StatusOK)
	if err != nil {
		return domain.Product{}, err
	}
	return payload.toDomain(), nil
}

// Search matches products by name or SKU.
func (r *CatalogRepository) Search(ctx context.Context, term string) ([]domain.Product, error) {
	var payload listEnvelope[productPayload]
	err := r.client.sendJSON(ctx, request{
		op:       "catalog.search",
		method:   http.MethodGet,
		endpoint: "/products",
		query:    url.Values{"search": []string{strings.TrimSpace(term)}},
	}, &payload, http.StatusOK)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(payload.Items))
	for _, item := range payload.Items {
		products = append(products, item.toDomain())
	}
	return products, nil
}

// HeldOrderRepository persists held orders through the backend.
type HeldOrderRepository struct {
	client *Client
}

// NewHeldOrderRepository constructs a HeldOrderRepository.
func NewHeldOrderRepository(client *Client) (*HeldOrderRepository, error) {
	if client == nil {
		return nil, errors.New("held order repository: client is required")
	}
	return &HeldOrderRepository{client: client}, nil
}

// List returns the operator's held orders.
func (r *HeldOrderRepository) List(ctx context.Context) ([]domain.HeldOrderSnapshot, error) {
	var payload listEnvelope[heldOrderPayload]
	err := r.client.sendJSON(ctx, request{
		op:       "held_orders.list",
		method:   http.MethodGet,
		endpoint: "/held-orders",
	}, &payload, http.StatusOK)
	if err != nil {
		return nil, err
	}
	snapshots := make([]domain.HeldOrderSnapshot, 0, len(payload.Items))
	for _, item := range payload.Items {
		snapshots = append(snapshots, item.toDomain())
	}
	return snapshots, nil
}

// Upsert creates the snapshot with POST when it has no id and replaces it with PUT otherwise.
func (r *HeldOrderRepository) Upsert(ctx context.Context, snapshot domain.HeldOrderSnapshot) (domain.HeldOrderSnapshot, error) {
	body := heldOrderFromDomain(snapshot)
	req := request{
		op:       "held_orders.create",
		method:   http.MethodPost,
		endpoint: "/held-orders",
		body:     body,
	}
	if id := strings.TrimSpace(snapshot.ID); id != "" {
		req.op = "held_orders.update"
		req.method = http.MethodPut
		req.endpoint = endpointPath("held-orders", id)
	}

	var payload heldOrderPayload
	if err := r.client.sendJSON(ctx, req, &payload, http.StatusOK, http.StatusCreated); err != nil {
		return domain.HeldOrderSnapshot{}, err
	}
	saved := payload.toDomain()
	if saved.ID == "" {
		saved.ID = strings.TrimSpace(snapshot.ID)
	}
	return saved, nil
}

// Delete removes a held order.
func (r *HeldOrderRepository) Delete(ctx context.Context, id string) error {
	return r.client.sendJSON(ctx, request{
		op:       "held_orders.delete",
		method:   http.MethodDelete,
		endpoint: endpointPath("held-orders", strings.TrimSpace(id)),
	}, nil, http.StatusOK, http.StatusNoContent)
}

// SalesRepository submits finalized sales.
type SalesRepository struct {
	client *Client
}

// NewSalesRepository constructs a SalesRepository.
func NewSalesRepository(client *Client) (*SalesRepository, error) {
	if client == nil {
		return nil, errors.New("sales repository: client is required")
	}
	return &SalesRepository{client: client}, nil
}

// Create posts the sale. The idempotency key lets the backend collapse retried submissions.
func (r *SalesRepository) Create(ctx context.Context, req repositories.SaleCreateRequest) (domain.Sale, error) {
	var payload salePayload
	err := r.client.sendJSON(ctx, request{
		op:       "sales.create",
		method:   http.MethodPost,
		endpoint: "/sales",
		body:     saleCreateFromRequest(req),
		headers:  map[string]string{headerIdempotencyKey: strings.TrimSpace(req.IdempotencyKey)},
	}, &payload, http.StatusOK, http.StatusCreated)
	if err != nil {
		return domain.Sale{}, err
	}
	return payload.toDomain(), nil
}

// CustomerRepository reads and creates customers through the backend.
type CustomerRepository struct {
	client *Client
}

// NewCustomerRepository constructs a CustomerRepository.
func NewCustomerRepository(client *Client) (*CustomerRepository, error) {
	if client == nil {
		return nil, errors.New("customer repository: client is required")
	}
	return &CustomerRepository{client: client}, nil
}

// ListActive returns active customers.
func (r *CustomerRepository) ListActive(ctx context.Context) ([]domain.Customer, error) {
	var payload listEnvelope[customerPayload]
	err := r.client.sendJSON(ctx, request{
		op:       "customers.list",
		method:   http.MethodGet,
		endpoint: "/customers",
		query:    url.Values{"active": []string{"true"}},
	}, &payload, http.StatusOK)
	if err != nil {
		return nil, err
	}
	customers := make([]domain.Customer, 0, len(payload.Items))
	for _, item := range payload.Items {
		customer := item.toDomain()
		if !customer.Active {
			continue
		}
		customers = append(customers, customer)
	}
	return customers, nil
}

// Create registers a customer.
func (r *CustomerRepository) Create(ctx context.Context, req repositories.CustomerCreateRequest) (domain.Customer, error) {
	var payload customerPayload
	err := r.client.sendJSON(ctx, request{
		op:       "customers.create",
		method:   http.MethodPost,
		endpoint: "/customers",
		body: customerPayload{
			Name:  req.Name,
			Email: req.Email,
			Phone: req.Phone,
		},
	}, &payload, http.StatusOK, http.StatusCreated)
	if err != nil {
		return domain.Customer{}, err
	}
	return payload.toDomain(), nil
}

var (
	_ repositories.CatalogRepository   = (*CatalogRepository)(nil)
	_ repositories.HeldOrderRepository = (*HeldOrderRepository)(nil)
	_ repositories.SalesRepository     = (*SalesRepository)(nil)
	_ repositories.CustomerRepository  = (*CustomerRepository)(nil)
)
