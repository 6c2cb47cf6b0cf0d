package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/platform/textutil"
	"github.com/hanko-field/pos/internal/repositories"
)

const (
	maxCustomerNameLength  = 120
	maxCustomerEmailLength = 254
	maxCustomerPhoneLength = 32
	directoryLoadKey       = "active"

	defaultDirectoryLoadTimeout = 10 * time.Second
)

var (
	// ErrCustomerInvalidInput indicates a quick-create request without a name or with a malformed email.
	ErrCustomerInvalidInput = errors.New("customers: invalid input")
	// ErrCustomerUnavailable indicates the customer service could not be reached.
	ErrCustomerUnavailable = errors.New("customers: unavailable")
	// ErrCustomerConflict indicates the customer service rejected a duplicate.
	ErrCustomerConflict = errors.New("customers: conflict")
)

// CustomerDirectoryDeps wires the customer repository.
type CustomerDirectoryDeps struct {
	Repository repositories.CustomerRepository
	// LoadTimeout bounds a shared directory load. Defaults to 10s.
	LoadTimeout time.Duration
	Logger      func(context.Context, string, map[string]any)
}

// CustomerDirectory caches the active customers for the session and filters them locally.
type CustomerDirectory struct {
	repo        repositories.CustomerRepository
	loadTimeout time.Duration
	logger      func(context.Context, string, map[string]any)
	group       singleflight.Group

	mu        sync.RWMutex
	loaded    bool
	customers []domain.Customer
}

// NewCustomerDirectory constructs a CustomerDirectory.
func NewCustomerDirectory(deps CustomerDirectoryDeps) (*CustomerDirectory, error) {
	if deps.Repository == nil {
		return nil, errors.New("customer directory: repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	loadTimeout := deps.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = defaultDirectoryLoadTimeout
	}
	return &CustomerDirectory{
		repo:        deps.Repository,
		loadTimeout: loadTimeout,
		logger:      logger,
	}, nil
}

// Load fetches the active customers unless they were already loaded. Concurrent callers share a
// single request.
func (d *CustomerDirectory) Load(ctx context.Context) error {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if loaded {
		return nil
	}
	return d.Reload(ctx)
}

// Reload replaces the cache with a fresh copy of the active customers. The shared load is detached
// from any single caller; a caller whose ctx ends stops waiting without failing the others.
func (d *CustomerDirectory) Reload(ctx context.Context) error {
	results := d.group.DoChan(directoryLoadKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.loadTimeout)
		defer cancel()
		customers, err := d.repo.ListActive(loadCtx)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.customers = cloneCustomers(customers)
		d.loaded = true
		d.mu.Unlock()
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-results:
		if res.Err != nil {
			d.logger(ctx, "customers.load_failed", map[string]any{"error": res.Err.Error()})
			return translateCustomerError(res.Err)
		}
		return nil
	}
}

// Loaded reports whether the cache holds a loaded customer set.
func (d *CustomerDirectory) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// Filter returns customers whose name, email or phone contains query, ignoring case. A blank query
// returns every cached customer.
func (d *CustomerDirectory) Filter(query string) []domain.Customer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query = strings.TrimSpace(query)
	if query == "" {
		return cloneCustomers(d.customers)
	}
	// cases.Caser is not safe for concurrent use.
	fold := cases.Fold()
	needle := fold.String(query)
	var out []domain.Customer
	for _, customer := range d.customers {
		if matchesCustomer(fold, customer, needle) {
			out = append(out, customer)
		}
	}
	return out
}

// Find returns the cached customer with id.
func (d *CustomerDirectory) Find(id string) (domain.Customer, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Customer{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, customer := range d.customers {
		if customer.ID == id {
			return customer, true
		}
	}
	return domain.Customer{}, false
}

// QuickCreate creates a customer remotely and appends it to the cache without a reload.
func (d *CustomerDirectory) QuickCreate(ctx context.Context, name, email, phone string) (domain.Customer, error) {
	req := repositories.CustomerCreateRequest{
		Name:  textutil.PlainText(name, maxCustomerNameLength),
		Email: strings.ToLower(textutil.PlainText(email, maxCustomerEmailLength)),
		Phone: textutil.PlainText(phone, maxCustomerPhoneLength),
	}
	if req.Name == "" || req.Email == "" {
		return domain.Customer{}, ErrCustomerInvalidInput
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return domain.Customer{}, fmt.Errorf("%w: email: %v", ErrCustomerInvalidInput, err)
	}

	created, err := d.repo.Create(ctx, req)
	if err != nil {
		d.logger(ctx, "customers.create_failed", map[string]any{"error": err.Error()})
		return domain.Customer{}, translateCustomerError(err)
	}
	if created.Name == "" {
		created.Name = req.Name
	}
	if created.Email == "" {
		created.Email = req.Email
	}
	if created.Phone == "" {
		created.Phone = req.Phone
	}
	created.Active = true

	d.mu.Lock()
	d.customers = append(d.customers, created)
	d.mu.Unlock()
	return created, nil
}

func matchesCustomer(fold cases.Caser, customer domain.Customer, needle string) bool {
	for _, field := range []string{customer.Name, customer.Email, customer.Phone} {
		if field != "" && strings.Contains(fold.String(field), needle) {
			return true
		}
	}
	return false
}

func translateCustomerError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return fmt.Errorf("%w: %v", ErrCustomerConflict, err)
	}
	return fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
}

func cloneCustomers(customers []domain.Customer) []domain.Customer {
	if len(customers) == 0 {
		return nil
	}
	out := make([]domain.Customer, len(customers))
	copy(out, customers)
	return out
}
