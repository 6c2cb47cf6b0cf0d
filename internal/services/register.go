package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/pos/internal/domain"
)

var (
	// ErrRegisterInvalidInput indicates the caller supplied invalid input.
	ErrRegisterInvalidInput = errors.New("register: invalid input")
	// ErrRegisterEmptyCart indicates the operation needs at least one line.
	ErrRegisterEmptyCart = errors.New("register: cart is empty")
	// ErrRegisterCustomerNotFound indicates the selected customer is not in the directory.
	ErrRegisterCustomerNotFound = errors.New("register: customer not found")
)

// RegisterDeps wires the components composed by a register session.
type RegisterDeps struct {
	Catalog    *CatalogLookup
	HeldOrders *HeldOrderSynchronizer
	Checkout   *CheckoutService
	Customers  *CustomerDirectory
	Pricing    *PricingEngine
	OperatorID string
	TerminalID string
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

// RegisterView is a consistent read of the session state together with its derived totals.
type RegisterView struct {
	State            domain.CartState
	Totals           domain.DerivedTotals
	HeldOrderID      string
	AutoSavePending  bool
	CheckoutInFlight bool
}

// SaleCompletedFunc is notified after a sale was finalized and the cart reset.
type SaleCompletedFunc func(ctx context.Context, sale domain.Sale)

// Register is a single point-of-sale session. It exclusively owns the cart state; all mutations go
// through its methods and are applied in call order. Network calls never run under the state lock.
type Register struct {
	catalog    *CatalogLookup
	held       *HeldOrderSynchronizer
	checkout   *CheckoutService
	customers  *CustomerDirectory
	pricing    *PricingEngine
	operatorID string
	terminalID string
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)

	mu       sync.Mutex
	ledger   Ledger
	discount decimal.Decimal
	customer domain.CustomerSelection
	// heldID is the snapshot this session auto-saves into; empty until the first save returns.
	heldID        string
	heldCreatedAt time.Time
	// epoch changes whenever the cart stops being the same sale: clear, hold, resume, checkout.
	epoch uint64

	listenersMu sync.RWMutex
	listeners   []SaleCompletedFunc
}

// NewRegister constructs a Register and attaches it to the held-order synchronizer.
func NewRegister(deps RegisterDeps) (*Register, error) {
	if deps.Catalog == nil {
		return nil, errors.New("register: catalog lookup is required")
	}
	if deps.HeldOrders == nil {
		return nil, errors.New("register: held order synchronizer is required")
	}
	if deps.Checkout == nil {
		return nil, errors.New("register: checkout service is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("register: customer directory is required")
	}
	pricing := deps.Pricing
	if pricing == nil {
		pricing = &PricingEngine{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	r := &Register{
		catalog:    deps.Catalog,
		held:       deps.HeldOrders,
		checkout:   deps.Checkout,
		customers:  deps.Customers,
		pricing:    pricing,
		operatorID: strings.TrimSpace(deps.OperatorID),
		terminalID: strings.TrimSpace(deps.TerminalID),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
	deps.HeldOrders.Attach(r)
	return r, nil
}

// Start warms the session caches: customers and held orders. Failures are reported but leave the
// register usable.
func (r *Register) Start(ctx context.Context) error {
	var errs []error
	if err := r.customers.Load(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.held.Refresh(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close stops background work.
func (r *Register) Close() {
	r.held.Cancel()
}

// OnSaleCompleted registers a completion callback.
func (r *Register) OnSaleCompleted(fn SaleCompletedFunc) {
	if fn == nil {
		return
	}
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// View returns the current state and totals.
func (r *Register) View() RegisterView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// ScanCode resolves a scanned or typed code and adds the product. A nil product means no match; the
// view is returned unchanged in that case.
func (r *Register) ScanCode(ctx context.Context, code string) (*domain.Product, RegisterView, error) {
	product, err := r.catalog.Resolve(ctx, code)
	if err != nil {
		return nil, r.View(), err
	}
	if product == nil {
		return nil, r.View(), nil
	}
	view, err := r.AddProduct(*product)
	if err != nil {
		return nil, view, err
	}
	return product, view, nil
}

// AddProduct adds one unit of product.
func (r *Register) AddProduct(product domain.Product) (RegisterView, error) {
	var addErr error
	view := r.mutate(func() bool {
		next, changed, err := r.ledger.Add(product)
		if err != nil {
			addErr = err
			return false
		}
		r.ledger = next
		return changed
	})
	if addErr != nil {
		return view, fmt.Errorf("%w: %v", ErrRegisterInvalidInput, addErr)
	}
	return view, nil
}

// Increment raises a line quantity by one, capped at its stock ceiling.
func (r *Register) Increment(productID string) RegisterView {
	return r.mutate(func() bool {
		next, changed := r.ledger.Increment(productID)
		r.ledger = next
		return changed
	})
}

// Decrement lowers a line quantity by one, removing the line below one.
func (r *Register) Decrement(productID string) RegisterView {
	return r.mutate(func() bool {
		next, changed := r.ledger.Decrement(productID)
		r.ledger = next
		return changed
	})
}

// SetPrice overrides the unit price of a line.
func (r *Register) SetPrice(productID string, price decimal.Decimal) (RegisterView, error) {
	var priceErr error
	view := r.mutate(func() bool {
		next, changed, err := r.ledger.SetPrice(productID, price)
		if err != nil {
			priceErr = err
			return false
		}
		r.ledger = next
		return changed
	})
	if priceErr != nil {
		return view, fmt.Errorf("%w: %v", ErrRegisterInvalidInput, priceErr)
	}
	return view, nil
}

// Remove deletes a line.
func (r *Register) Remove(productID string) RegisterView {
	return r.mutate(func() bool {
		next, changed := r.ledger.Remove(productID)
		r.ledger = next
		return changed
	})
}

// SetDiscount replaces the order-level discount. The pricing engine caps it at the subtotal.
func (r *Register) SetDiscount(amount decimal.Decimal) (RegisterView, error) {
	if amount.IsNegative() {
		return r.View(), fmt.Errorf("%w: discount must not be negative", ErrRegisterInvalidInput)
	}
	return r.mutate(func() bool {
		if r.discount.Equal(amount) {
			return false
		}
		r.discount = amount
		return true
	}), nil
}

// SelectCustomer assigns the buyer. Identified selections must exist in the directory.
func (r *Register) SelectCustomer(selection domain.CustomerSelection) (RegisterView, error) {
	switch selection.Kind {
	case domain.CustomerUnset, domain.CustomerGeneric:
		selection = domain.CustomerSelection{Kind: selection.Kind}
	case domain.CustomerIdentified:
		customer, ok := r.customers.Find(selection.ID)
		if !ok {
			return r.View(), ErrRegisterCustomerNotFound
		}
		selection = domain.IdentifiedCustomer(customer.ID, customer.Name)
	default:
		return r.View(), fmt.Errorf("%w: unknown customer selection %q", ErrRegisterInvalidInput, selection.Kind)
	}
	return r.mutate(func() bool {
		if r.customer == selection {
			return false
		}
		r.customer = selection
		return true
	}), nil
}

// Customers loads the directory on first use and filters it.
func (r *Register) Customers(ctx context.Context, query string) ([]domain.Customer, error) {
	if err := r.customers.Load(ctx); err != nil {
		return nil, err
	}
	return r.customers.Filter(query), nil
}

// QuickCreateCustomer creates a customer and selects it.
func (r *Register) QuickCreateCustomer(ctx context.Context, name, email, phone string) (domain.Customer, RegisterView, error) {
	customer, err := r.customers.QuickCreate(ctx, name, email, phone)
	if err != nil {
		return domain.Customer{}, r.View(), err
	}
	view, err := r.SelectCustomer(domain.IdentifiedCustomer(customer.ID, customer.Name))
	if err != nil {
		return customer, view, err
	}
	return customer, view, nil
}

// Search runs a free-text catalog search.
func (r *Register) Search(ctx context.Context, term string) ([]domain.Product, error) {
	return r.catalog.Search(ctx, term)
}

// Clear empties the cart, resets discount and customer, cancels the pending auto-save and discards the
// session's auto-saved snapshot.
func (r *Register) Clear(ctx context.Context) RegisterView {
	r.mu.Lock()
	stale := r.resetLocked()
	view := r.viewLocked()
	r.mu.Unlock()

	r.discardStale(ctx, stale)
	return view
}

// Hold pushes the cart as a held order right away and clears it. Failures leave the cart untouched.
func (r *Register) Hold(ctx context.Context) (domain.HeldOrderSnapshot, error) {
	r.mu.Lock()
	if r.ledger.IsEmpty() {
		r.mu.Unlock()
		return domain.HeldOrderSnapshot{}, ErrRegisterEmptyCart
	}
	draft := r.draftLocked()
	r.mu.Unlock()

	saved, err := r.held.Hold(ctx, draft)
	if err != nil {
		return domain.HeldOrderSnapshot{}, err
	}

	r.mu.Lock()
	stale := r.resetLocked()
	r.mu.Unlock()
	if stale != saved.ID {
		r.discardStale(ctx, stale)
	}

	r.logger(ctx, "register.held", map[string]any{
		"heldOrderId": saved.ID,
		"lines":       len(saved.Lines),
	})
	return saved, nil
}

// Resume loads a held order, overwriting the current cart entirely.
func (r *Register) Resume(ctx context.Context, id string) (RegisterView, error) {
	snapshot, err := r.held.Resume(ctx, id)
	if err != nil {
		return r.View(), err
	}

	view := r.mutate(func() bool {
		r.ledger = NewLedger(snapshot.Lines)
		r.discount = snapshot.Discount
		if r.discount.IsNegative() {
			r.discount = decimal.Zero
		}
		r.customer = snapshot.Customer
		r.heldID = ""
		r.heldCreatedAt = time.Time{}
		r.epoch++
		return true
	})
	r.logger(ctx, "register.resumed", map[string]any{
		"heldOrderId": snapshot.ID,
		"lines":       len(snapshot.Lines),
	})
	return view, nil
}

// HeldOrders returns the cached held-order list.
func (r *Register) HeldOrders() []domain.HeldOrderSnapshot {
	return r.held.List()
}

// RefreshHeldOrders reloads the held-order list.
func (r *Register) RefreshHeldOrders(ctx context.Context) error {
	return r.held.Refresh(ctx)
}

// DeleteHeldOrder removes a held order.
func (r *Register) DeleteHeldOrder(ctx context.Context, id string) error {
	if err := r.held.Delete(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	if r.heldID != "" && r.heldID == strings.TrimSpace(id) {
		r.heldID = ""
		r.heldCreatedAt = time.Time{}
	}
	r.mu.Unlock()
	return nil
}

// Checkout finalizes the cart. On success the cart is reset, held orders are refreshed and completion
// callbacks fire.
func (r *Register) Checkout(ctx context.Context, payment *PaymentInput) (domain.Sale, error) {
	r.mu.Lock()
	cmd := SubmitSaleCommand{
		Lines:    r.ledger.Lines(),
		Discount: r.discount,
		Customer: r.customer,
		Payment:  payment,
	}
	cmd.Totals = r.pricing.Calculate(r.stateLocked())
	r.mu.Unlock()

	sale, err := r.checkout.Submit(ctx, cmd)
	if err != nil {
		return domain.Sale{}, err
	}

	r.mu.Lock()
	stale := r.resetLocked()
	r.mu.Unlock()

	if stale != "" {
		r.held.Discard(ctx, stale)
	}
	if err := r.held.Refresh(ctx); err != nil {
		r.logger(ctx, "held_order.refresh_failed", map[string]any{"error": err.Error()})
	}
	r.notify(ctx, sale)
	return sale, nil
}

// AutoSaveDraft implements AutoSaveSource.
func (r *Register) AutoSaveDraft() (domain.HeldOrderSnapshot, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ledger.IsEmpty() {
		return domain.HeldOrderSnapshot{}, r.epoch, false
	}
	return r.draftLocked(), r.epoch, true
}

// AutoSaved implements AutoSaveSource.
func (r *Register) AutoSaved(epoch uint64, saved domain.HeldOrderSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return false
	}
	r.heldID = saved.ID
	if r.heldCreatedAt.IsZero() {
		r.heldCreatedAt = saved.CreatedAt
	}
	return true
}

func (r *Register) mutate(fn func() bool) RegisterView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn() {
		r.held.Touch(r.ledger.IsEmpty())
	}
	return r.viewLocked()
}

// resetLocked empties the cart and starts a new epoch. It returns the auto-saved snapshot id that no
// longer belongs to the session.
func (r *Register) resetLocked() string {
	stale := r.heldID
	r.ledger = Ledger{}
	r.discount = decimal.Zero
	r.customer = domain.UnsetCustomer()
	r.heldID = ""
	r.heldCreatedAt = time.Time{}
	r.epoch++
	r.held.Cancel()
	return stale
}

func (r *Register) discardStale(ctx context.Context, id string) {
	if id == "" {
		return
	}
	r.held.Discard(ctx, id)
	if err := r.held.Refresh(ctx); err != nil {
		r.logger(ctx, "held_order.refresh_failed", map[string]any{
			"heldOrderId": id,
			"error":       err.Error(),
		})
	}
}

func (r *Register) notify(ctx context.Context, sale domain.Sale) {
	r.listenersMu.RLock()
	listeners := make([]SaleCompletedFunc, len(r.listeners))
	copy(listeners, r.listeners)
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, sale)
	}
}

func (r *Register) stateLocked() domain.CartState {
	return domain.CartState{
		Lines:    r.ledger.Lines(),
		Discount: r.discount,
		Customer: r.customer,
	}
}

func (r *Register) viewLocked() RegisterView {
	state := r.stateLocked()
	return RegisterView{
		State:            state,
		Totals:           r.pricing.Calculate(state),
		HeldOrderID:      r.heldID,
		AutoSavePending:  r.held.AutoSavePending(),
		CheckoutInFlight: r.checkout.InFlight(),
	}
}

func (r *Register) draftLocked() domain.HeldOrderSnapshot {
	now := r.now()
	created := r.heldCreatedAt
	if created.IsZero() {
		created = now
	}
	return domain.HeldOrderSnapshot{
		ID:         r.heldID,
		Customer:   r.customer,
		Lines:      r.ledger.Lines(),
		Discount:   r.discount,
		OperatorID: r.operatorID,
		TerminalID: r.terminalID,
		CreatedAt:  created,
		UpdatedAt:  now,
	}
}
