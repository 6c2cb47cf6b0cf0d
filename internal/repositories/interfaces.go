package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/pos/internal/domain"
)

// Registry exposes the remote collaborators consumed by the register.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	HeldOrders() HeldOrderRepository
	Sales() SalesRepository
	Customers() CustomerRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository resolves products by scan code or free-text search.
type CatalogRepository interface {
	// LookupByCode returns the product with an exact barcode match. Should return a RepositoryError with
	// IsNotFound when no product carries the code.
	LookupByCode(ctx context.Context, code string) (domain.Product, error)
	// Search matches name or SKU. Cancelling ctx abandons the request.
	Search(ctx context.Context, term string) ([]domain.Product, error)
}

// HeldOrderRepository persists in-progress cart snapshots for the current operator.
type HeldOrderRepository interface {
	List(ctx context.Context) ([]domain.HeldOrderSnapshot, error)
	// Upsert creates the snapshot when ID is empty and replaces it otherwise. Last writer wins.
	Upsert(ctx context.Context, snapshot domain.HeldOrderSnapshot) (domain.HeldOrderSnapshot, error)
	Delete(ctx context.Context, id string) error
}

// SalesRepository finalizes sales.
type SalesRepository interface {
	Create(ctx context.Context, req SaleCreateRequest) (domain.Sale, error)
}

// CustomerRepository reads and extends the customer directory.
type CustomerRepository interface {
	ListActive(ctx context.Context) ([]domain.Customer, error)
	Create(ctx context.Context, req CustomerCreateRequest) (domain.Customer, error)
}

// SaleCreateRequest is the payload submitted to the sales service.
type SaleCreateRequest struct {
	Date              time.Time
	CustomerReference string
	Lines             []SaleLineRequest
	Payments          []domain.PaymentIntent
	Discount          decimal.Decimal
	IdempotencyKey    string
}

// SaleLineRequest is a single line of a SaleCreateRequest.
type SaleLineRequest struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// CustomerCreateRequest captures the quick-create fields.
type CustomerCreateRequest struct {
	Name  string
	Email string
	Phone string
}

// IsNotFound reports whether err carries a not-found RepositoryError.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict RepositoryError.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries an unavailable RepositoryError.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
