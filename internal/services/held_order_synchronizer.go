package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/platform/schedule"
	"github.com/hanko-field/pos/internal/repositories"
)

var errHeldOrderRepositoryRequired = errors.New("held orders: repository is required")

var (
	// ErrHeldOrderInvalidInput indicates a missing identifier or an empty snapshot.
	ErrHeldOrderInvalidInput = errors.New("held orders: invalid input")
	// ErrHeldOrderNotFound indicates the snapshot does not exist or was already resumed.
	ErrHeldOrderNotFound = errors.New("held orders: not found")
	// ErrHeldOrderConflict indicates the store rejected a concurrent write.
	ErrHeldOrderConflict = errors.New("held orders: conflict")
	// ErrHeldOrderUnavailable indicates the held-order store could not be reached.
	ErrHeldOrderUnavailable = errors.New("held orders: unavailable")
)

const (
	// DefaultAutoSaveInterval is the quiet period after the last cart change before a snapshot is pushed.
	DefaultAutoSaveInterval = 30 * time.Second
	defaultRemoteTimeout    = 10 * time.Second
)

// AutoSaveSource supplies the cart draft pushed by the auto-save loop.
type AutoSaveSource interface {
	// AutoSaveDraft returns the current snapshot and the session epoch it was taken at. ok is false
	// when there is nothing to save.
	AutoSaveDraft() (draft domain.HeldOrderSnapshot, epoch uint64, ok bool)
	// AutoSaved receives the stored snapshot. It returns false when the session moved on since epoch
	// and the snapshot is no longer owned by it.
	AutoSaved(epoch uint64, saved domain.HeldOrderSnapshot) bool
}

// HeldOrderSynchronizerDeps wires the held-order store and timer.
type HeldOrderSynchronizerDeps struct {
	Repository    repositories.HeldOrderRepository
	Scheduler     schedule.Scheduler
	Interval      time.Duration
	RemoteTimeout time.Duration
	Logger        func(context.Context, string, map[string]any)
}

// HeldOrderSynchronizer keeps the remote held-order store in step with the register. It owns the
// auto-save timer and a cached list of held snapshots.
type HeldOrderSynchronizer struct {
	repo     repositories.HeldOrderRepository
	timer    *schedule.Timer
	interval time.Duration
	timeout  time.Duration
	logger   func(context.Context, string, map[string]any)

	// writes serialises upserts and deletes so a slow auto-save cannot land after a newer hold.
	writes sync.Mutex

	mu     sync.RWMutex
	source AutoSaveSource
	held   []domain.HeldOrderSnapshot
}

// NewHeldOrderSynchronizer constructs a HeldOrderSynchronizer.
func NewHeldOrderSynchronizer(deps HeldOrderSynchronizerDeps) (*HeldOrderSynchronizer, error) {
	if deps.Repository == nil {
		return nil, errHeldOrderRepositoryRequired
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}
	timeout := deps.RemoteTimeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &HeldOrderSynchronizer{
		repo:     deps.Repository,
		timer:    schedule.NewTimer(deps.Scheduler),
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Attach binds the auto-save source.
func (s *HeldOrderSynchronizer) Attach(source AutoSaveSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
}

// Touch reacts to a cart mutation: an empty cart cancels the pending auto-save, anything else
// re-arms it for the full interval.
func (s *HeldOrderSynchronizer) Touch(empty bool) {
	if empty {
		s.timer.Cancel()
		return
	}
	s.timer.Arm(s.interval, s.autoSave)
}

// Cancel drops the pending auto-save.
func (s *HeldOrderSynchronizer) Cancel() {
	s.timer.Cancel()
}

// AutoSavePending reports whether an auto-save is armed.
func (s *HeldOrderSynchronizer) AutoSavePending() bool {
	return s.timer.Pending()
}

// Hold pushes the snapshot immediately, bypassing the debounce. Failures propagate and re-arm the
// auto-save.
func (s *HeldOrderSynchronizer) Hold(ctx context.Context, draft domain.HeldOrderSnapshot) (domain.HeldOrderSnapshot, error) {
	if len(draft.Lines) == 0 {
		return domain.HeldOrderSnapshot{}, fmt.Errorf("%w: cart is empty", ErrHeldOrderInvalidInput)
	}
	s.timer.Cancel()

	s.writes.Lock()
	saved, err := s.repo.Upsert(ctx, draft)
	s.writes.Unlock()
	if err != nil {
		// The cart stays dirty, so it goes back under auto-save.
		s.timer.Arm(s.interval, s.autoSave)
		return domain.HeldOrderSnapshot{}, translateHeldOrderError(err)
	}

	if err := s.Refresh(ctx); err != nil {
		s.logger(ctx, "held_order.refresh_failed", map[string]any{
			"heldOrderId": saved.ID,
			"error":       err.Error(),
		})
	}
	return saved, nil
}

// Resume removes the snapshot from the store and returns it so the caller can load it. The cached list
// is consulted first and refreshed once when the id is unknown.
func (s *HeldOrderSynchronizer) Resume(ctx context.Context, id string) (domain.HeldOrderSnapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.HeldOrderSnapshot{}, ErrHeldOrderInvalidInput
	}

	snapshot, ok := s.find(id)
	if !ok {
		if err := s.Refresh(ctx); err != nil {
			return domain.HeldOrderSnapshot{}, err
		}
		snapshot, ok = s.find(id)
		if !ok {
			return domain.HeldOrderSnapshot{}, ErrHeldOrderNotFound
		}
	}

	if err := s.delete(ctx, id); err != nil {
		return domain.HeldOrderSnapshot{}, err
	}
	s.forget(id)

	if err := s.Refresh(ctx); err != nil {
		s.logger(ctx, "held_order.refresh_failed", map[string]any{
			"heldOrderId": id,
			"error":       err.Error(),
		})
	}
	return snapshot, nil
}

// Delete removes a held snapshot and refreshes the list.
func (s *HeldOrderSynchronizer) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrHeldOrderInvalidInput
	}
	if err := s.delete(ctx, id); err != nil {
		return err
	}
	s.forget(id)
	if err := s.Refresh(ctx); err != nil {
		s.logger(ctx, "held_order.refresh_failed", map[string]any{
			"heldOrderId": id,
			"error":       err.Error(),
		})
	}
	return nil
}

// Discard deletes the session's own auto-saved snapshot once it became stale. Failures are logged.
func (s *HeldOrderSynchronizer) Discard(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	err := s.delete(ctx, id)
	if err != nil && !errors.Is(err, ErrHeldOrderNotFound) {
		s.logger(ctx, "held_order.discard_failed", map[string]any{
			"heldOrderId": id,
			"error":       err.Error(),
		})
		return
	}
	s.forget(id)
}

// Refresh reloads the cached held-order list, newest first.
func (s *HeldOrderSynchronizer) Refresh(ctx context.Context) error {
	items, err := s.repo.List(ctx)
	if err != nil {
		return translateHeldOrderError(err)
	}
	sorted := cloneSnapshots(items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return latest(sorted[i]).After(latest(sorted[j]))
	})

	s.mu.Lock()
	s.held = sorted
	s.mu.Unlock()
	return nil
}

// List returns the cached held orders.
func (s *HeldOrderSynchronizer) List() []domain.HeldOrderSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshots(s.held)
}

func (s *HeldOrderSynchronizer) autoSave() {
	s.mu.RLock()
	source := s.source
	s.mu.RUnlock()
	if source == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.writes.Lock()
	draft, epoch, ok := source.AutoSaveDraft()
	if !ok || len(draft.Lines) == 0 {
		s.writes.Unlock()
		return
	}
	saved, err := s.repo.Upsert(ctx, draft)
	if err != nil {
		s.writes.Unlock()
		s.logger(ctx, "held_order.autosave_failed", map[string]any{
			"heldOrderId": draft.ID,
			"lines":       len(draft.Lines),
			"error":       err.Error(),
		})
		// Retry after another full interval unless a newer change already re-armed the timer.
		if !s.timer.Pending() {
			s.timer.Arm(s.interval, s.autoSave)
		}
		return
	}
	owned := source.AutoSaved(epoch, saved)
	if !owned && draft.ID == "" && saved.ID != "" {
		// The cart was held, cleared or checked out while this save was in flight.
		if err := s.repo.Delete(ctx, saved.ID); err != nil && !repositories.IsNotFound(err) {
			s.logger(ctx, "held_order.discard_failed", map[string]any{
				"heldOrderId": saved.ID,
				"error":       err.Error(),
			})
		}
	}
	s.writes.Unlock()

	if err := s.Refresh(ctx); err != nil {
		s.logger(ctx, "held_order.refresh_failed", map[string]any{
			"heldOrderId": saved.ID,
			"error":       err.Error(),
		})
	}
}

func (s *HeldOrderSynchronizer) delete(ctx context.Context, id string) error {
	s.writes.Lock()
	defer s.writes.Unlock()
	if err := s.repo.Delete(ctx, id); err != nil {
		return translateHeldOrderError(err)
	}
	return nil
}

func (s *HeldOrderSynchronizer) find(id string) (domain.HeldOrderSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snapshot := range s.held {
		if snapshot.ID == id {
			return cloneSnapshot(snapshot), true
		}
	}
	return domain.HeldOrderSnapshot{}, false
}

func (s *HeldOrderSynchronizer) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.held[:0]
	for _, snapshot := range s.held {
		if snapshot.ID != id {
			kept = append(kept, snapshot)
		}
	}
	s.held = kept
}

func translateHeldOrderError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrHeldOrderUnavailable, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrHeldOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrHeldOrderConflict, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrHeldOrderUnavailable, err)
}

func latest(snapshot domain.HeldOrderSnapshot) time.Time {
	if snapshot.UpdatedAt.After(snapshot.CreatedAt) {
		return snapshot.UpdatedAt
	}
	return snapshot.CreatedAt
}

func cloneSnapshot(snapshot domain.HeldOrderSnapshot) domain.HeldOrderSnapshot {
	if snapshot.Lines != nil {
		lines := make([]domain.CartLine, len(snapshot.Lines))
		copy(lines, snapshot.Lines)
		snapshot.Lines = lines
	}
	return snapshot
}

func cloneSnapshots(snapshots []domain.HeldOrderSnapshot) []domain.HeldOrderSnapshot {
	if len(snapshots) == 0 {
		return nil
	}
	out := make([]domain.HeldOrderSnapshot, len(snapshots))
	for i, snapshot := range snapshots {
		out[i] = cloneSnapshot(snapshot)
	}
	return out
}
