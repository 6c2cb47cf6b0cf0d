package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/platform/textutil"
	"github.com/hanko-field/pos/internal/repositories"
)

const maxPaymentReferenceLength = 120

var (
	// ErrCheckoutEmptyCart indicates checkout was attempted without lines.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutCustomerRequired indicates neither a customer nor the generic buyer was selected.
	ErrCheckoutCustomerRequired = errors.New("checkout: customer selection required")
	// ErrCheckoutInvalidPayment indicates an unknown method or a malformed amount.
	ErrCheckoutInvalidPayment = errors.New("checkout: invalid payment")
	// ErrCheckoutInsufficientPayment indicates the cash received does not cover the total.
	ErrCheckoutInsufficientPayment = errors.New("checkout: insufficient payment")
	// ErrCheckoutInProgress indicates another submission is still outstanding.
	ErrCheckoutInProgress = errors.New("checkout: submission in progress")
	// ErrCheckoutRejected indicates the sales service refused the sale.
	ErrCheckoutRejected = errors.New("checkout: rejected")
	// ErrCheckoutUnavailable indicates the sales service could not be reached.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// PaymentInput is the tender chosen by the operator.
type PaymentInput struct {
	Method         string
	AmountReceived *decimal.Decimal
	Reference      string
}

// SubmitSaleCommand carries everything needed to finalize the current cart.
type SubmitSaleCommand struct {
	Lines    []domain.CartLine
	Discount decimal.Decimal
	Totals   domain.DerivedTotals
	Customer domain.CustomerSelection
	Payment  *PaymentInput
}

// CheckoutServiceDeps wires the dependencies required by the checkout submitter.
type CheckoutServiceDeps struct {
	Sales       repositories.SalesRepository
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
}

// CheckoutService validates and submits sales. At most one submission is outstanding at a time.
type CheckoutService struct {
	sales    repositories.SalesRepository
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	newID    func() string
	inFlight atomic.Bool
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (*CheckoutService, error) {
	if deps.Sales == nil {
		return nil, errors.New("checkout service: sales repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &CheckoutService{
		sales: deps.Sales,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  idGen,
	}, nil
}

// InFlight reports whether a submission is outstanding.
func (s *CheckoutService) InFlight() bool {
	return s != nil && s.inFlight.Load()
}

// Submit validates the command locally and creates the sale. Validation failures never reach the
// sales service.
func (s *CheckoutService) Submit(ctx context.Context, cmd SubmitSaleCommand) (domain.Sale, error) {
	if s == nil || s.sales == nil {
		return domain.Sale{}, ErrCheckoutUnavailable
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return domain.Sale{}, ErrCheckoutInProgress
	}
	defer s.inFlight.Store(false)

	payment, err := validateCheckout(cmd)
	if err != nil {
		return domain.Sale{}, err
	}

	customerRef, _ := cmd.Customer.Reference()
	req := repositories.SaleCreateRequest{
		Date:              s.now(),
		CustomerReference: customerRef,
		Lines:             make([]repositories.SaleLineRequest, 0, len(cmd.Lines)),
		Discount:          cmd.Totals.AppliedDiscount,
		IdempotencyKey:    s.newID(),
	}
	for _, line := range cmd.Lines {
		req.Lines = append(req.Lines, repositories.SaleLineRequest{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	if payment != nil {
		req.Payments = []domain.PaymentIntent{*payment}
	}

	sale, err := s.sales.Create(ctx, req)
	if err != nil {
		s.logger(ctx, "checkout.create_sale_failed", map[string]any{
			"idempotencyKey": req.IdempotencyKey,
			"lines":          len(req.Lines),
			"total":          cmd.Totals.Total.StringFixed(moneyPlaces),
			"error":          err.Error(),
		})
		return domain.Sale{}, translateCheckoutError(err)
	}

	if sale.Date.IsZero() {
		sale.Date = req.Date
	}
	if len(sale.Lines) == 0 {
		sale.Lines = saleLinesFromCart(cmd.Lines)
	}
	if len(sale.Payments) == 0 && payment != nil {
		sale.Payments = []domain.PaymentIntent{*payment}
	}
	if sale.Total.IsZero() {
		sale.Total = cmd.Totals.Total
	}
	sale.CustomerReference = customerRef
	sale.IdempotencyKey = req.IdempotencyKey
	if payment != nil {
		sale.ChangeDue = payment.ChangeDue()
	}

	s.logger(ctx, "checkout.sale_created", map[string]any{
		"saleId": sale.ID,
		"number": sale.Number,
		"total":  sale.Total.StringFixed(moneyPlaces),
	})
	return sale, nil
}

func validateCheckout(cmd SubmitSaleCommand) (*domain.PaymentIntent, error) {
	if len(cmd.Lines) == 0 {
		return nil, ErrCheckoutEmptyCart
	}
	if !cmd.Customer.IsSet() {
		return nil, ErrCheckoutCustomerRequired
	}
	if cmd.Payment == nil {
		return nil, nil
	}

	method, ok := domain.ParsePaymentMethod(cmd.Payment.Method)
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q", ErrCheckoutInvalidPayment, cmd.Payment.Method)
	}
	intent := &domain.PaymentIntent{
		Method:    method,
		Amount:    cmd.Totals.Total,
		Reference: textutil.PlainText(cmd.Payment.Reference, maxPaymentReferenceLength),
	}

	if method == domain.PaymentMethodCash && cmd.Payment.AmountReceived != nil {
		received := *cmd.Payment.AmountReceived
		if received.IsNegative() {
			return nil, fmt.Errorf("%w: amount received is negative", ErrCheckoutInvalidPayment)
		}
		if received.LessThan(cmd.Totals.Total) {
			return nil, fmt.Errorf("%w: received %s, total %s", ErrCheckoutInsufficientPayment,
				received.StringFixed(moneyPlaces), cmd.Totals.Total.StringFixed(moneyPlaces))
		}
		intent.AmountReceived = &received
	}
	return intent, nil
}

func saleLinesFromCart(lines []domain.CartLine) []domain.SaleLine {
	out := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, domain.SaleLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return out
}

func translateCheckoutError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsUnavailable() {
			return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrCheckoutRejected, err)
	}
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}
