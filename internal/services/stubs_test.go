package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/platform/schedule"
	"github.com/hanko-field/pos/internal/repositories"
)

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repositoryErrorStub) Error() string     { return "repository error" }
func (e repositoryErrorStub) IsNotFound() bool    { return e.notFound }
func (e repositoryErrorStub) IsConflict() bool    { return e.conflict }
func (e repositoryErrorStub) IsUnavailable() bool { return e.unavailable }

type stubCatalogRepository struct {
	mu         sync.Mutex
	lookupFunc func(ctx context.Context, code string) (domain.Product, error)
	searchFunc func(ctx context.Context, term string) ([]domain.Product, error)
	lookups    []string
	searches   []string
}

func (s *stubCatalogRepository) LookupByCode(ctx context.Context, code string) (domain.Product, error) {
	s.mu.Lock()
	s.lookups = append(s.lookups, code)
	fn := s.lookupFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, code)
	}
	return domain.Product{}, repositoryErrorStub{notFound: true}
}

func (s *stubCatalogRepository) Search(ctx context.Context, term string) ([]domain.Product, error) {
	s.mu.Lock()
	s.searches = append(s.searches, term)
	fn := s.searchFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, term)
	}
	return nil, nil
}

func (s *stubCatalogRepository) searchTerms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.searches...)
}

// memoryHeldOrderRepository assigns ids H1, H2, ... and records every call.
type memoryHeldOrderRepository struct {
	mu         sync.Mutex
	items      []domain.HeldOrderSnapshot
	upserts    []domain.HeldOrderSnapshot
	deletes    []string
	listCalls  int
	nextID     int
	upsertErr  error
	deleteErr  error
	listErr    error
	upsertHook func(domain.HeldOrderSnapshot)
}

func (m *memoryHeldOrderRepository) List(context.Context) ([]domain.HeldOrderSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.HeldOrderSnapshot(nil), m.items...), nil
}

func (m *memoryHeldOrderRepository) Upsert(_ context.Context, snapshot domain.HeldOrderSnapshot) (domain.HeldOrderSnapshot, error) {
	m.mu.Lock()
	m.upserts = append(m.upserts, snapshot)
	hook := m.upsertHook
	if m.upsertErr != nil {
		err := m.upsertErr
		m.mu.Unlock()
		return domain.HeldOrderSnapshot{}, err
	}
	if snapshot.ID == "" {
		m.nextID++
		snapshot.ID = fmt.Sprintf("H%d", m.nextID)
	}
	replaced := false
	for i := range m.items {
		if m.items[i].ID == snapshot.ID {
			m.items[i] = snapshot
			replaced = true
		}
	}
	if !replaced {
		m.items = append(m.items, snapshot)
	}
	m.mu.Unlock()
	if hook != nil {
		hook(snapshot)
	}
	return snapshot, nil
}

func (m *memoryHeldOrderRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, id)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for i := range m.items {
		if m.items[i].ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return repositoryErrorStub{notFound: true}
}

func (m *memoryHeldOrderRepository) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.upserts)
}

func (m *memoryHeldOrderRepository) lastUpsert() domain.HeldOrderSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.upserts) == 0 {
		return domain.HeldOrderSnapshot{}
	}
	return m.upserts[len(m.upserts)-1]
}

func (m *memoryHeldOrderRepository) seed(snapshots ...domain.HeldOrderSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, snapshots...)
}

type stubSalesRepository struct {
	mu         sync.Mutex
	createFunc func(ctx context.Context, req repositories.SaleCreateRequest) (domain.Sale, error)
	requests   []repositories.SaleCreateRequest
}

func (s *stubSalesRepository) Create(ctx context.Context, req repositories.SaleCreateRequest) (domain.Sale, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	fn := s.createFunc
	count := len(s.requests)
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return domain.Sale{ID: fmt.Sprintf("sale-%d", count), Number: int64(1000 + count)}, nil
}

func (s *stubSalesRepository) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type stubCustomerRepository struct {
	mu         sync.Mutex
	customers  []domain.Customer
	listCalls  int
	listErr    error
	listHook   func(ctx context.Context) error
	createFunc func(ctx context.Context, req repositories.CustomerCreateRequest) (domain.Customer, error)
}

func (s *stubCustomerRepository) ListActive(ctx context.Context) ([]domain.Customer, error) {
	if s.listHook != nil {
		if err := s.listHook(ctx); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]domain.Customer(nil), s.customers...), nil
}

func (s *stubCustomerRepository) Create(ctx context.Context, req repositories.CustomerCreateRequest) (domain.Customer, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, req)
	}
	return domain.Customer{ID: "cust-new", Name: req.Name, Email: req.Email, Phone: req.Phone}, nil
}

type logEntry struct {
	event  string
	fields map[string]any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (c *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, logEntry{event: event, fields: fields})
}

func (c *captureLogger) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

type registerFixture struct {
	clock     *schedule.Manual
	catalog   *stubCatalogRepository
	held      *memoryHeldOrderRepository
	sales     *stubSalesRepository
	customers *stubCustomerRepository
	logs      *captureLogger
	sync      *HeldOrderSynchronizer
	register  *Register
}

func newRegisterFixture(taxRate string) *registerFixture {
	f := &registerFixture{
		clock:     schedule.NewManual(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)),
		catalog:   &stubCatalogRepository{},
		held:      &memoryHeldOrderRepository{},
		sales:     &stubSalesRepository{},
		customers: &stubCustomerRepository{},
		logs:      &captureLogger{},
	}

	lookup, err := NewCatalogLookup(CatalogLookupDeps{Repository: f.catalog, Logger: f.logs.log})
	if err != nil {
		panic(err)
	}
	f.sync, err = NewHeldOrderSynchronizer(HeldOrderSynchronizerDeps{
		Repository: f.held,
		Scheduler:  f.clock,
		Logger:     f.logs.log,
	})
	if err != nil {
		panic(err)
	}
	checkout, err := NewCheckoutService(CheckoutServiceDeps{
		Sales:       f.sales,
		Clock:       f.clock.Now,
		Logger:      f.logs.log,
		IDGenerator: func() string { return "idem-1" },
	})
	if err != nil {
		panic(err)
	}
	directory, err := NewCustomerDirectory(CustomerDirectoryDeps{Repository: f.customers, Logger: f.logs.log})
	if err != nil {
		panic(err)
	}
	pricing, err := NewPricingEngine(PricingEngineDeps{TaxEnabled: taxRate != "", TaxRate: dec(orZero(taxRate))})
	if err != nil {
		panic(err)
	}
	f.register, err = NewRegister(RegisterDeps{
		Catalog:    lookup,
		HeldOrders: f.sync,
		Checkout:   checkout,
		Customers:  directory,
		Pricing:    pricing,
		OperatorID: "op-1",
		TerminalID: "till-1",
		Clock:      f.clock.Now,
		Logger:     f.logs.log,
	})
	if err != nil {
		panic(err)
	}
	return f
}

func orZero(value string) string {
	if value == "" {
		return "0"
	}
	return value
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func product(id, price string, stock int) domain.Product {
	return domain.Product{ID: id, Name: "Product " + id, SKU: "SKU-" + id, Price: dec(price), Stock: stock}
}
