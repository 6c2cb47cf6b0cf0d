package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/repositories"
)

func newTestCheckout(t *testing.T, sales *stubSalesRepository) *CheckoutService {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.FixedZone("JST", 9*3600))
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Sales:       sales,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01HZXKEY" },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

func checkoutCommand(total string, payment *PaymentInput) SubmitSaleCommand {
	return SubmitSaleCommand{
		Lines:    []domain.CartLine{{ProductID: "P1", Name: "Tea", UnitPrice: dec(total), Quantity: 1}},
		Totals:   domain.DerivedTotals{Subtotal: dec(total), Total: dec(total)},
		Customer: domain.GenericCustomer(),
		Payment:  payment,
	}
}

func TestCheckoutServiceValidation(t *testing.T) {
	cases := []struct {
		name    string
		cmd     SubmitSaleCommand
		wantErr error
	}{
		{
			name:    "empty cart",
			cmd:     SubmitSaleCommand{Customer: domain.GenericCustomer()},
			wantErr: ErrCheckoutEmptyCart,
		},
		{
			name: "customer unset",
			cmd: func() SubmitSaleCommand {
				cmd := checkoutCommand("100", nil)
				cmd.Customer = domain.UnsetCustomer()
				return cmd
			}(),
			wantErr: ErrCheckoutCustomerRequired,
		},
		{
			name:    "unknown method",
			cmd:     checkoutCommand("100", &PaymentInput{Method: "barter"}),
			wantErr: ErrCheckoutInvalidPayment,
		},
		{
			name:    "cash short",
			cmd:     checkoutCommand("100", &PaymentInput{Method: "cash", AmountReceived: decPtr("50")}),
			wantErr: ErrCheckoutInsufficientPayment,
		},
		{
			name:    "cash negative",
			cmd:     checkoutCommand("100", &PaymentInput{Method: "Cash", AmountReceived: decPtr("-1")}),
			wantErr: ErrCheckoutInvalidPayment,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sales := &stubSalesRepository{}
			svc := newTestCheckout(t, sales)

			_, err := svc.Submit(context.Background(), tc.cmd)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if sales.calls() != 0 {
				t.Fatalf("expected no remote call, got %d", sales.calls())
			}
		})
	}
}

func TestCheckoutServiceCashAccepted(t *testing.T) {
	cases := []struct {
		name     string
		received *string
		change   string
	}{
		{name: "exact", received: strPtr("100"), change: "0"},
		{name: "implied exact", received: nil, change: "0"},
		{name: "change due", received: strPtr("120"), change: "20"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sales := &stubSalesRepository{}
			svc := newTestCheckout(t, sales)
			payment := &PaymentInput{Method: "cash"}
			if tc.received != nil {
				payment.AmountReceived = decPtr(*tc.received)
			}

			sale, err := svc.Submit(context.Background(), checkoutCommand("100", payment))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !sale.ChangeDue.Equal(dec(tc.change)) {
				t.Fatalf("expected change %s, got %s", tc.change, sale.ChangeDue)
			}
			if sales.calls() != 1 {
				t.Fatalf("expected one remote call, got %d", sales.calls())
			}
		})
	}
}

func TestCheckoutServiceBuildsRequest(t *testing.T) {
	sales := &stubSalesRepository{}
	svc := newTestCheckout(t, sales)

	cmd := checkoutCommand("42.50", &PaymentInput{Method: "card", Reference: "<i>auth</i> 778899"})
	cmd.Customer = domain.IdentifiedCustomer("cust-7", "Ada")
	cmd.Totals.AppliedDiscount = dec("2.50")

	sale, err := svc.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := sales.requests[0]
	if req.CustomerReference != "cust-7" {
		t.Fatalf("expected customer reference cust-7, got %q", req.CustomerReference)
	}
	if req.Date.Location() != time.UTC || req.Date.Hour() != 3 {
		t.Fatalf("expected UTC submission time, got %v", req.Date)
	}
	if req.IdempotencyKey != "01HZXKEY" || sale.IdempotencyKey != "01HZXKEY" {
		t.Fatalf("expected idempotency key to propagate, got %q / %q", req.IdempotencyKey, sale.IdempotencyKey)
	}
	if len(req.Lines) != 1 || req.Lines[0].ProductID != "P1" || req.Lines[0].Quantity != 1 || !req.Lines[0].UnitPrice.Equal(dec("42.50")) {
		t.Fatalf("unexpected lines %+v", req.Lines)
	}
	if len(req.Payments) != 1 {
		t.Fatalf("expected a single payment, got %d", len(req.Payments))
	}
	payment := req.Payments[0]
	if payment.Method != domain.PaymentMethodCard || !payment.Amount.Equal(dec("42.50")) || payment.Reference != "auth 778899" {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if !req.Discount.Equal(dec("2.50")) {
		t.Fatalf("expected discount 2.50, got %s", req.Discount)
	}
	if sale.Number == 0 || len(sale.Lines) != 1 || !sale.Total.Equal(dec("42.50")) {
		t.Fatalf("expected sale to be completed from request, got %+v", sale)
	}
}

func TestCheckoutServiceGenericCustomerWithoutPayment(t *testing.T) {
	sales := &stubSalesRepository{}
	svc := newTestCheckout(t, sales)

	if _, err := svc.Submit(context.Background(), checkoutCommand("5", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := sales.requests[0]
	if req.CustomerReference != "" || len(req.Payments) != 0 {
		t.Fatalf("expected generic sale without payments, got %+v", req)
	}
}

func TestCheckoutServiceRejectsConcurrentSubmit(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	sales := &stubSalesRepository{
		createFunc: func(ctx context.Context, req repositories.SaleCreateRequest) (domain.Sale, error) {
			close(started)
			<-release
			return domain.Sale{ID: "sale-1", Number: 1}, nil
		},
	}
	svc := newTestCheckout(t, sales)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(context.Background(), checkoutCommand("10", nil))
		done <- err
	}()
	<-started

	if !svc.InFlight() {
		t.Fatalf("expected submission to be in flight")
	}
	if _, err := svc.Submit(context.Background(), checkoutCommand("10", nil)); !errors.Is(err, ErrCheckoutInProgress) {
		t.Fatalf("expected ErrCheckoutInProgress, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sales.calls() != 1 {
		t.Fatalf("expected exactly one remote call, got %d", sales.calls())
	}
	if svc.InFlight() {
		t.Fatalf("expected flag to clear after completion")
	}
}

func TestCheckoutServiceTranslatesRepositoryErrors(t *testing.T) {
	cases := []struct {
		name    string
		repoErr error
		want    error
	}{
		{name: "unavailable", repoErr: repositoryErrorStub{unavailable: true}, want: ErrCheckoutUnavailable},
		{name: "conflict", repoErr: repositoryErrorStub{conflict: true}, want: ErrCheckoutRejected},
		{name: "transport", repoErr: errors.New("dial tcp: refused"), want: ErrCheckoutUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sales := &stubSalesRepository{
				createFunc: func(context.Context, repositories.SaleCreateRequest) (domain.Sale, error) {
					return domain.Sale{}, tc.repoErr
				},
			}
			svc := newTestCheckout(t, sales)
			if _, err := svc.Submit(context.Background(), checkoutCommand("10", nil)); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func strPtr(value string) *string {
	return &value
}
