package notification

import (
	"context"
	"errors"
	"fmt"
)

// Notifier delivers workflow events to one backend.
type Notifier interface {
	Notify(ctx context.Context, event *Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event *Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Nop drops every event. NotifyStore uses it when no notifier is configured.
var Nop Notifier = NotifierFunc(func(context.Context, *Event) error { return nil })

// MultiNotifier fans an event out to several backends. A failing backend
// does not stop delivery to the others.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier skips nil notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify delivers to every backend and joins their failures.
func (m *MultiNotifier) Notify(ctx context.Context, event *Event) error {
	var errs []error
	for i, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %s for %s: %w", i, event.Type, workflowID(event), err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of backends.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Filter forwards only selected event types, e.g. to page a treasurer on
// approvals without forwarding every created workflow.
type Filter struct {
	next  Notifier
	types map[EventType]struct{}
}

// NewFilter returns a Filter over next. Unknown event types are an error.
func NewFilter(next Notifier, types ...EventType) (*Filter, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("filter needs at least one event type")
	}
	f := &Filter{next: next, types: make(map[EventType]struct{}, len(types))}
	for _, t := range types {
		if !t.IsValid() {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		f.types[t] = struct{}{}
	}
	return f, nil
}

// Notify forwards event if its type was selected.
func (f *Filter) Notify(ctx context.Context, event *Event) error {
	if _, ok := f.types[event.Type]; !ok {
		return nil
	}
	return f.next.Notify(ctx, event)
}

func workflowID(event *Event) string {
	if event.Workflow == nil {
		return "-"
	}
	return event.Workflow.ID
}
