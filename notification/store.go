package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/byteness/saccoguard/approval"
)

// NotifyStore wraps an approval.Store and fires notifications on state
// transitions. It implements approval.Store, delegating to the wrapped
// store and firing events only after a write has committed.
//
// Events are delivered on their own goroutine; delivery errors are logged
// and never fail the write. Wait blocks until in-flight deliveries finish.
type NotifyStore struct {
	store    approval.Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewNotifyStore creates a new NotifyStore wrapping the given store.
// A nil notifier drops every event.
func NewNotifyStore(store approval.Store, notifier Notifier, logger *slog.Logger) *NotifyStore {
	if notifier == nil {
		notifier = Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyStore{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Create stores a new workflow and fires EventWorkflowCreated on success.
func (s *NotifyStore) Create(ctx context.Context, wf *approval.Workflow) error {
	if err := s.store.Create(ctx, wf); err != nil {
		return err
	}
	s.notify(ctx, EventWorkflowCreated, wf, wf.InitiatorID)
	return nil
}

// Get retrieves a workflow by ID. No notification is fired.
func (s *NotifyStore) Get(ctx context.Context, id string) (*approval.Workflow, error) {
	return s.store.Get(ctx, id)
}

// Update performs the version-guarded write and fires an event when it
// moved the workflow out of PENDING.
func (s *NotifyStore) Update(ctx context.Context, wf *approval.Workflow, expectedVersion int64) error {
	old, err := s.store.Get(ctx, wf.ID)
	if err != nil {
		// Without the prior state no transition can be detected.
		return s.store.Update(ctx, wf, expectedVersion)
	}
	if err := s.store.Update(ctx, wf, expectedVersion); err != nil {
		return err
	}

	if old.Status != approval.StatusPending {
		return nil
	}
	if eventType, actor, ok := TransitionEvent(wf); ok {
		s.notify(ctx, eventType, wf, actor)
	}
	return nil
}

// ListByStatus delegates to the wrapped store.
func (s *NotifyStore) ListByStatus(ctx context.Context, q approval.ListQuery) (*approval.Page, error) {
	return s.store.ListByStatus(ctx, q)
}

// Wait blocks until all pending deliveries have returned.
func (s *NotifyStore) Wait() {
	s.wg.Wait()
}

func (s *NotifyStore) notify(ctx context.Context, eventType EventType, wf *approval.Workflow, actor string) {
	event := NewEvent(eventType, wf.Clone(), actor, s.now())
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.notifier.Notify(ctx, event); err != nil {
			s.logger.Warn("notification failed",
				"event", string(eventType),
				"workflow_id", wf.ID,
				"error", err,
			)
		}
	}()
}
