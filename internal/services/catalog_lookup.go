package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/platform/schedule"
	"github.com/hanko-field/pos/internal/repositories"
)

var errCatalogRepositoryRequired = errors.New("catalog lookup: repository is required")

// ErrCatalogUnavailable indicates the catalog service could not answer.
var ErrCatalogUnavailable = errors.New("catalog lookup: unavailable")

// DefaultSearchDebounce is the quiet period before a free-text search is issued.
const DefaultSearchDebounce = 300 * time.Millisecond

// CatalogLookupDeps wires the catalog repository.
type CatalogLookupDeps struct {
	Repository repositories.CatalogRepository
	Logger     func(context.Context, string, map[string]any)
}

// CatalogLookup resolves scan codes and search terms to products.
type CatalogLookup struct {
	repo   repositories.CatalogRepository
	logger func(context.Context, string, map[string]any)
}

// NewCatalogLookup constructs a CatalogLookup.
func NewCatalogLookup(deps CatalogLookupDeps) (*CatalogLookup, error) {
	if deps.Repository == nil {
		return nil, errCatalogRepositoryRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CatalogLookup{repo: deps.Repository, logger: logger}, nil
}

// Resolve tries an exact barcode match first and falls back to a search, taking the first hit.
// A nil product with a nil error means nothing matched. Unexpected barcode failures are logged and
// do not prevent the fallback.
func (c *CatalogLookup) Resolve(ctx context.Context, code string) (*domain.Product, error) {
	if c == nil || c.repo == nil {
		return nil, ErrCatalogUnavailable
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	product, err := c.repo.LookupByCode(ctx, code)
	switch {
	case err == nil:
		return &product, nil
	case repositories.IsNotFound(err):
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		c.logger(ctx, "catalog.lookup_failed", map[string]any{
			"code":  code,
			"error": err.Error(),
		})
	}

	results, err := c.Search(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	first := results[0]
	return &first, nil
}

// Search matches products by name or SKU. A blank term yields no results and no remote call.
func (c *CatalogLookup) Search(ctx context.Context, term string) ([]domain.Product, error) {
	if c == nil || c.repo == nil {
		return nil, ErrCatalogUnavailable
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	results, err := c.repo.Search(ctx, term)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return results, nil
}

// SearchSessionDeps configures a debounced search session.
type SearchSessionDeps struct {
	Lookup    *CatalogLookup
	Scheduler schedule.Scheduler
	Delay     time.Duration
	// Timeout bounds each search request; zero leaves it unbounded.
	Timeout time.Duration
	// OnResults, when set, receives every applied result set.
	OnResults func(term string, results []domain.Product)
	Logger    func(context.Context, string, map[string]any)
}

// SearchSession debounces keystrokes into searches. Each update supersedes the previous one: the
// pending timer is re-armed, the in-flight request is cancelled, and a late response is discarded
// unless its generation is still current.
type SearchSession struct {
	lookup    *CatalogLookup
	timer     *schedule.Timer
	delay     time.Duration
	timeout   time.Duration
	onResults func(string, []domain.Product)
	logger    func(context.Context, string, map[string]any)

	mu         sync.Mutex
	generation uint64
	term       string
	results    []domain.Product
	cancel     context.CancelFunc
	closed     bool
}

// NewSearchSession constructs a SearchSession.
func NewSearchSession(deps SearchSessionDeps) (*SearchSession, error) {
	if deps.Lookup == nil {
		return nil, errors.New("search session: lookup is required")
	}
	delay := deps.Delay
	if delay <= 0 {
		delay = DefaultSearchDebounce
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SearchSession{
		lookup:    deps.Lookup,
		timer:     schedule.NewTimer(deps.Scheduler),
		delay:     delay,
		timeout:   deps.Timeout,
		onResults: deps.OnResults,
		logger:    logger,
	}, nil
}

// Update records a new search term. A blank term clears the results immediately without a call.
func (s *SearchSession) Update(term string) {
	term = strings.TrimSpace(term)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	generation := s.generation
	s.term = term
	s.cancelInFlightLocked()
	if term == "" {
		s.results = nil
		s.mu.Unlock()
		s.timer.Cancel()
		s.publish(term, nil)
		return
	}
	s.mu.Unlock()

	s.timer.Arm(s.delay, func() { s.run(generation, term) })
}

// Results returns the most recently applied result set.
func (s *SearchSession) Results() []domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProducts(s.results)
}

// Term returns the current search term.
func (s *SearchSession) Term() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// Close cancels the pending timer and any in-flight request.
func (s *SearchSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.generation++
	s.cancelInFlightLocked()
	s.mu.Unlock()
	s.timer.Cancel()
}

func (s *SearchSession) run(generation uint64, term string) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	results, err := s.lookup.Search(ctx, term)
	cancel()

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		return
	}
	s.cancel = nil
	if err != nil {
		s.mu.Unlock()
		s.logger(ctx, "catalog.search_failed", map[string]any{
			"term":  term,
			"error": err.Error(),
		})
		return
	}
	s.results = cloneProducts(results)
	s.mu.Unlock()

	s.publish(term, results)
}

func (s *SearchSession) cancelInFlightLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *SearchSession) publish(term string, results []domain.Product) {
	if s.onResults != nil {
		s.onResults(term, cloneProducts(results))
	}
}

func cloneProducts(products []domain.Product) []domain.Product {
	if len(products) == 0 {
		return nil
	}
	out := make([]domain.Product, len(products))
	copy(out, products)
	return out
}
