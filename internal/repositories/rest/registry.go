package rest

import (
	"context"
	"errors"

	"github.com/hanko-field/pos/internal/repositories"
)

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithHeldOrders replaces the backend held-order store, e.g. with the Firestore repository. The
// closer, when non-nil, runs on Close.
func WithHeldOrders(repo repositories.HeldOrderRepository, closer func(context.Context) error) RegistryOption {
	return func(r *Registry) {
		if repo == nil {
			return
		}
		r.heldOrders = repo
		if closer != nil {
			r.closers = append(r.closers, closer)
		}
	}
}

// Registry wires every repository onto a shared Client.
type Registry struct {
	client     *Client
	catalog    repositories.CatalogRepository
	heldOrders repositories.HeldOrderRepository
	sales      repositories.SalesRepository
	customers  repositories.CustomerRepository
	closers    []func(context.Context) error
}

// NewRegistry builds the backend repositories.
func NewRegistry(client *Client, opts ...RegistryOption) (*Registry, error) {
	if client == nil {
		return nil, errors.New("rest registry: client is required")
	}
	catalog, err := NewCatalogRepository(client)
	if err != nil {
		return nil, err
	}
	held, err := NewHeldOrderRepository(client)
	if err != nil {
		return nil, err
	}
	sales, err := NewSalesRepository(client)
	if err != nil {
		return nil, err
	}
	customers, err := NewCustomerRepository(client)
	if err != nil {
		return nil, err
	}

	registry := &Registry{
		client:     client,
		catalog:    catalog,
		heldOrders: held,
		sales:      sales,
		customers:  customers,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry, nil
}

// Client returns the shared backend client.
func (r *Registry) Client() *Client { return r.client }

// Catalog implements repositories.Registry.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// HeldOrders implements repositories.Registry.
func (r *Registry) HeldOrders() repositories.HeldOrderRepository { return r.heldOrders }

// Sales implements repositories.Registry.
func (r *Registry) Sales() repositories.SalesRepository { return r.sales }

// Customers implements repositories.Registry.
func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }

// Close releases resources owned by substituted repositories.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, closer := range r.closers {
		if err := closer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ repositories.Registry = (*Registry)(nil)
