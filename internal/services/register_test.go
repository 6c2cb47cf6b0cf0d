package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/pos/internal/domain"
)

func TestRegisterScenarioTotals(t *testing.T) {
	f := newRegisterFixture("0.08")
	r := f.register

	if _, err := r.AddProduct(product("P1", "10", 5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Increment("P1")
	view, err := r.SetDiscount(dec("5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !view.Totals.Subtotal.Equal(dec("20")) || !view.Totals.TaxAmount.Equal(dec("1.20")) || !view.Totals.Total.Equal(dec("16.20")) {
		t.Fatalf("unexpected totals %+v", view.Totals)
	}
	if !view.AutoSavePending {
		t.Fatalf("expected auto-save to be armed after mutations")
	}
}

func TestRegisterAutoSaveReusesSnapshotID(t *testing.T) {
	f := newRegisterFixture("")
	r := f.register

	for i := 0; i < 4; i++ {
		if _, err := r.AddProduct(product("P1", "2", 0)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f.clock.Advance(5 * time.Second)
	}
	f.clock.Advance(25 * time.Second)
	if f.held.upsertCount() != 1 {
		t.Fatalf("expected one upsert after the burst, got %d", f.held.upsertCount())
	}
	first := f.held.lastUpsert()
	if first.ID != "" || len(first.Lines) != 1 || first.Lines[0].Quantity != 4 {
		t.Fatalf("unexpected first snapshot %+v", first)
	}
	if first.OperatorID != "op-1" || first.TerminalID != "till-1" {
		t.Fatalf("expected operator and terminal on snapshot, got %+v", first)
	}
	if got := r.View().HeldOrderID; got != "H1" {
		t.Fatalf("expected session to adopt H1, got %q", got)
	}

	r.Decrement("P1")
	f.clock.Advance(DefaultAutoSaveInterval)
	if f.held.upsertCount() != 2 || f.held.lastUpsert().ID != "H1" {
		t.Fatalf("expected second save to upsert H1, got %+v", f.held.lastUpsert())
	}
	if len(r.HeldOrders()) != 1 {
		t.Fatalf("expected a single held order, got %d", len(r.HeldOrders()))
	}
}

func TestRegisterNoopMutationDoesNotRearm(t *testing.T) {
	f := newRegisterFixture("")
	r := f.register

	r.Increment("missing")
	r.Decrement("missing")
	if r.View().AutoSavePending {
		t.Fatalf("no-op mutations must not arm auto-save")
	}
}

func TestRegisterDecrementToEmptyCancelsAutoSave(t *testing.T) {
	f := newRegisterFixture("")
	r := f.register

	if _, err := r.AddProduct(product("P1", "2", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	view := r.Decrement("P1")
	if view.AutoSavePending {
		t.Fatalf("expected empty cart to cancel auto-save")
	}
	f.clock.Advance(time.Minute)
	if f.held.upsertCount() != 0 {
		t.Fatalf("expected no upsert for an empty cart, got %d", f.held.upsertCount())
	}
}

func TestRegisterClearWhilePendingSavesNothing(t *testing.T) {
	f := newRegisterFixture("")
	r := f.register

	if _, err := r.AddProduct(product("P1", "2", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.SetDiscount(dec("1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	view := r.Clear(context.Background())
	if !view.State.IsEmpty() || !view.State.Discount.IsZero() || view.State.Customer.IsSet() {
		t.Fatalf("expected a reset cart, got %+v", view.State)
	}

	f.clock.Advance(5 * time.Minute)
	if f.held.upsertCount() != 0 {
		t.Fatalf("expected zero upserts, got %d", f.held.upsertCount())
	}
}

func TestRegisterClearDiscardsAutoSavedSnapshot(t *testing.T) {
	f := newRegisterFixture("")
	r := f.register

	if _, err := r.AddProduct(product("P1", "2", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.clock.Advance(DefaultAutoSaveInterval)
	r.Clear(context.Background())

	if len(f.held.deletes) != 1 || f.held.deletes[0] != "H1" {
		t.Fatalf("expected H1 to be discarded, got %v", f.held.deletes)
	}
	if len(r.HeldOrders()) != 0 {
		t.Fatalf("expected held list to be empty, got %+v", r.HeldOrders())
	}
}

func TestRegisterHold(t *testing.T) {
	f := newRegisterFixture("")
	r := f.register

	if _, err := r.AddProduct(product("P1", "2", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.SelectCustomer(domain.GenericCustomer()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := r.Hold(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID == "" || saved.Customer.Kind != domain.CustomerGeneric {
		t.Fatalf("unexpected held snapshot %+v", saved)
	}
	view := r.View()
	if !view.State.IsEmpty() || view.AutoSavePending {
		t.Fatalf("expected cleared cart without pending save, got %+v", view)
	}
	f.clock.Advance(time.Minute)
	if f.held.upsertCount() != 1 {
		t.Fatalf("expected only the hold upsert, got %d", f.held.upsertCount())
	}
	if len(r.HeldOrders()) != 1 {
		t.Fatalf("expected held list to contain the hold, got %+v", r.HeldOrders())
	}

	if _, err := r.Hold(context.Background()); !errors.Is(err, ErrRegisterEmptyCart) {
		t.Fatalf("expected empty hold to fail, got %v", err)
	}
}

func TestRegisterHoldFailureKeepsCart(t *testing.T) {
	f := newRegisterFixture("")
	f.held.upsertErr = repositoryErrorStub{unavailable: true}
	r := f.register

	if _, err := r.AddProduct(product("P1", "2", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Hold(context.Background()); !errors.Is(err, ErrHeldOrderUnavailable) {
		t.Fatalf("expected ErrHeldOrderUnavailable, got %v", err)
	}
	view := r.View()
	if view.State.IsEmpty() {
		t.Fatalf("expected cart to survive a failed hold")
	}
	if !view.AutoSavePending {
		t.Fatalf("expected auto-save to be re-armed after a failed hold")
	}

	f.held.mu.Lock()
	f.held.upsertErr = nil
	f.held.mu.Unlock()
	f.clock.Advance(DefaultAutoSaveInterval)

	if got := f.held.upsertCount(); got != 2 {
		t.Fatalf("expected the failed hold plus one auto-save, got %d upserts", got)
	}
	if saved := f.held.lastUpsert(); len(saved.Lines) != 1 || saved.Lines[0].ProductID != "P1" {
		t.Fatalf("expected auto-save of the kept cart, got %+v", saved)
	}
}

func TestRegisterResumeOverwritesCart(t *testing.T) {
	f := newRegisterFixture("")
	f.held.seed(domain.HeldOrderSnapshot{
		ID:       "H7",
		Customer: domain.IdentifiedCustomer("c1", "Ada"),
		Discount: dec("1.5"),
		Lines: []domain.CartLine{
			{ProductID: "A", UnitPrice: dec("1"), Quantity: 1},
			{ProductID: "B", UnitPrice: dec("2"), Quantity: 2},
			{ProductID: "C", UnitPrice: dec("3"), Quantity: 3},
		},
	})
	r := f.register

	for _, id := range []string{"X", "Y"} {
		if _, err := r.AddProduct(product(id, "9", 0)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	view, err := r.Resume(context.Background(), "H7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.State.Lines) != 3 {
		t.Fatalf("expected exactly the 3 snapshot lines, got %d", len(view.State.Lines))
	}
	for i, id := range []string{"A", "B", "C"} {
		if view.State.Lines[i].ProductID != id {
			t.Fatalf("expected line %d to be %s, got %s", i, id, view.State.Lines[i].ProductID)
		}
	}
	if !view.State.Discount.Equal(dec("1.5")) || view.State.Customer.ID != "c1" {
		t.Fatalf("expected discount and customer from snapshot, got %+v", view.State)
	}
	if len(f.held.deletes) != 1 || f.held.deletes[0] != "H7" {
		t.Fatalf("expected H7 to be deleted on resume, got %v", f.held.deletes)
	}
}

func TestRegisterResumeFailureLeavesCart(t *testing.T) {
	f := newRegisterFixture("")
	r := f.register
	if _, err := r.AddProduct(product("X", "9", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.Resume(context.Background(), "missing"); !errors.Is(err, ErrHeldOrderNotFound) {
		t.Fatalf("expected ErrHeldOrderNotFound, got %v", err)
	}
	if r.View().State.Lines[0].ProductID != "X" {
		t.Fatalf("expected cart untouched")
	}
}

func TestRegisterCheckout(t *testing.T) {
	f := newRegisterFixture("0.10")
	r := f.register

	var completed []domain.Sale
	r.OnSaleCompleted(func(_ context.Context, sale domain.Sale) {
		completed = append(completed, sale)
	})

	if _, err := r.AddProduct(product("P1", "50", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.clock.Advance(DefaultAutoSaveInterval)
	if _, err := r.SelectCustomer(domain.GenericCustomer()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	listsBefore := f.held.listCalls

	sale, err := r.Checkout(context.Background(), &PaymentInput{Method: "cash", AmountReceived: decPtr("60")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sale.Total.Equal(dec("55")) || !sale.ChangeDue.Equal(dec("5")) {
		t.Fatalf("unexpected sale totals %+v", sale)
	}
	if len(completed) != 1 || completed[0].ID != sale.ID {
		t.Fatalf("expected completion callback with the sale, got %+v", completed)
	}
	view := r.View()
	if !view.State.IsEmpty() || view.AutoSavePending || view.HeldOrderID != "" {
		t.Fatalf("expected reset session, got %+v", view)
	}
	if f.held.listCalls <= listsBefore {
		t.Fatalf("expected held list refresh after checkout")
	}
	if len(f.held.deletes) != 1 || f.held.deletes[0] != "H1" {
		t.Fatalf("expected auto-saved snapshot to be discarded, got %v", f.held.deletes)
	}
	f.clock.Advance(time.Minute)
	if f.held.upsertCount() != 1 {
		t.Fatalf("expected no save after checkout, got %d", f.held.upsertCount())
	}
}

func TestRegisterCheckoutValidationKeepsCart(t *testing.T) {
	f := newRegisterFixture("")
	r := f.register

	if _, err := r.Checkout(context.Background(), nil); !errors.Is(err, ErrCheckoutEmptyCart) {
		t.Fatalf("expected ErrCheckoutEmptyCart, got %v", err)
	}
	if _, err := r.AddProduct(product("P1", "100", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Checkout(context.Background(), nil); !errors.Is(err, ErrCheckoutCustomerRequired) {
		t.Fatalf("expected ErrCheckoutCustomerRequired, got %v", err)
	}
	if _, err := r.SelectCustomer(domain.GenericCustomer()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.Checkout(context.Background(), &PaymentInput{Method: "cash", AmountReceived: decPtr("50")})
	if !errors.Is(err, ErrCheckoutInsufficientPayment) {
		t.Fatalf("expected ErrCheckoutInsufficientPayment, got %v", err)
	}
	if f.sales.calls() != 0 {
		t.Fatalf("expected no remote call, got %d", f.sales.calls())
	}
	if r.View().State.IsEmpty() {
		t.Fatalf("expected cart to survive validation failures")
	}
}

func TestRegisterSelectCustomer(t *testing.T) {
	f := newRegisterFixture("")
	f.customers.customers = seededCustomers()
	r := f.register

	if _, err := r.SelectCustomer(domain.IdentifiedCustomer("c2", "")); !errors.Is(err, ErrRegisterCustomerNotFound) {
		t.Fatalf("expected unknown customer before load, got %v", err)
	}
	customers, err := r.Customers(context.Background(), "bob")
	if err != nil || len(customers) != 1 {
		t.Fatalf("expected bob, got %+v %v", customers, err)
	}
	view, err := r.SelectCustomer(domain.IdentifiedCustomer("c2", "ignored"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.State.Customer.DisplayName != "Bob Stone" {
		t.Fatalf("expected display name from directory, got %+v", view.State.Customer)
	}
}

func TestRegisterQuickCreateSelectsCustomer(t *testing.T) {
	f := newRegisterFixture("")
	r := f.register

	customer, view, err := r.QuickCreateCustomer(context.Background(), "Dana", "dana@example.org", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.State.Customer.Kind != domain.CustomerIdentified || view.State.Customer.ID != customer.ID {
		t.Fatalf("expected created customer to be selected, got %+v", view.State.Customer)
	}
}

func TestRegisterScanCode(t *testing.T) {
	f := newRegisterFixture("")
	f.catalog.lookupFunc = func(_ context.Context, code string) (domain.Product, error) {
		if code == "490" {
			return product("P1", "3", 0), nil
		}
		return domain.Product{}, repositoryErrorStub{notFound: true}
	}
	r := f.register

	found, view, err := r.ScanCode(context.Background(), "490")
	if err != nil || found == nil || len(view.State.Lines) != 1 {
		t.Fatalf("expected product to be added, got %+v %+v %v", found, view.State, err)
	}
	missing, view, err := r.ScanCode(context.Background(), "000")
	if err != nil || missing != nil || len(view.State.Lines) != 1 {
		t.Fatalf("expected no match to leave cart unchanged, got %+v %v", missing, err)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	f := newRegisterFixture("")
	r := f.register

	if _, err := r.SetDiscount(dec("-1")); !errors.Is(err, ErrRegisterInvalidInput) {
		t.Fatalf("expected negative discount to fail, got %v", err)
	}
	if _, err := r.AddProduct(product("P1", "1", 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.SetPrice("P1", dec("-2")); !errors.Is(err, ErrRegisterInvalidInput) {
		t.Fatalf("expected negative price to fail, got %v", err)
	}
	if _, err := r.SelectCustomer(domain.CustomerSelection{Kind: "vip"}); !errors.Is(err, ErrRegisterInvalidInput) {
		t.Fatalf("expected unknown selection kind to fail, got %v", err)
	}
}
