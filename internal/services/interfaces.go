package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/pos/internal/domain"
)

// RegisterService exposes the register session to transport layers.
type RegisterService interface {
	View() RegisterView
	ScanCode(ctx context.Context, code string) (*domain.Product, RegisterView, error)
	AddProduct(product domain.Product) (RegisterView, error)
	Increment(productID string) RegisterView
	Decrement(productID string) RegisterView
	SetPrice(productID string, price decimal.Decimal) (RegisterView, error)
	Remove(productID string) RegisterView
	SetDiscount(amount decimal.Decimal) (RegisterView, error)
	SelectCustomer(selection domain.CustomerSelection) (RegisterView, error)
	Clear(ctx context.Context) RegisterView
	Hold(ctx context.Context) (domain.HeldOrderSnapshot, error)
	Resume(ctx context.Context, id string) (RegisterView, error)
	HeldOrders() []domain.HeldOrderSnapshot
	RefreshHeldOrders(ctx context.Context) error
	DeleteHeldOrder(ctx context.Context, id string) error
	Checkout(ctx context.Context, payment *PaymentInput) (domain.Sale, error)
	Search(ctx context.Context, term string) ([]domain.Product, error)
	Customers(ctx context.Context, query string) ([]domain.Customer, error)
	QuickCreateCustomer(ctx context.Context, name, email, phone string) (domain.Customer, RegisterView, error)
}

var _ RegisterService = (*Register)(nil)
