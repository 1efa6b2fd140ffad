// Package events delivers catalog lifecycle notifications to in-process subscribers.
package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
	// ErrHandlerPanic wraps a panic raised by a handler.
	ErrHandlerPanic = errors.New("event handler panicked")
)

// Lifecycle event types.
const (
	TypeSyncCommitted     = "sync_committed"
	TypeSyncFailed        = "sync_failed"
	TypeVersionRolledBack = "version_rolled_back"
	TypeVersionDeleted    = "version_deleted"
)

// AllTypes lists every lifecycle event type.
var AllTypes = []string{TypeSyncCommitted, TypeSyncFailed, TypeVersionRolledBack, TypeVersionDeleted}

// Event is a workflow lifecycle notification.
type Event struct {
	Type       string                 // one of the Type* constants
	WorkflowID int64                  // local workflow id, 0 when the workflow was never stored
	OccurredAt time.Time              // set by Publish when zero
	Data       map[string]interface{} // version ids, hashes, error codes
}

// EventHandler defines the interface for handling events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(ctx context.Context, event Event) error

// Handle implements the EventHandler interface.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription identifies one registered handler.
type Subscription uint64

// wildcard is the registry key of handlers that receive every event type.
const wildcard = "*"

type subscriber struct {
	id      Subscription
	handler EventHandler
}

// EventBus dispatches events to subscribers on the publishing goroutine.
// Type subscribers run first, then wildcard subscribers, each in subscription order.
type EventBus struct {
	mu         sync.RWMutex
	subs       map[string][]subscriber
	nextID     Subscription
	closed     bool
	errHandler func(event Event, err error)
	logger     *zap.Logger
	now        func() time.Time
}

// EventBusOption defines functional options for configuring EventBus.
type EventBusOption func(*EventBus)

// WithErrorHandler sets the function every handler error is reported to.
func WithErrorHandler(handler func(event Event, err error)) EventBusOption {
	return func(eb *EventBus) { eb.errHandler = handler }
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *zap.Logger) EventBusOption {
	return func(eb *EventBus) {
		if logger != nil {
			eb.logger = logger
		}
	}
}

// WithClock sets the clock used to stamp events.
func WithClock(now func() time.Time) EventBusOption {
	return func(eb *EventBus) { eb.now = now }
}

// NewEventBus creates an EventBus. Handler errors are logged unless
// WithErrorHandler replaces the default handler.
func NewEventBus(options ...EventBusOption) *EventBus {
	eb := &EventBus{
		subs:   make(map[string][]subscriber),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, option := range options {
		option(eb)
	}
	if eb.errHandler == nil {
		eb.errHandler = eb.logError
	}
	return eb
}

// Subscribe registers handler for one event type.
func (eb *EventBus) Subscribe(eventType string, handler EventHandler) Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	eb.subs[eventType] = append(eb.subs[eventType], subscriber{id: eb.nextID, handler: handler})
	return eb.nextID
}

// SubscribeFunc registers a function for one event type.
func (eb *EventBus) SubscribeFunc(eventType string, fn func(ctx context.Context, event Event) error) Subscription {
	return eb.Subscribe(eventType, EventHandlerFunc(fn))
}

// SubscribeAll registers handler for every event type.
func (eb *EventBus) SubscribeAll(handler EventHandler) Subscription {
	return eb.Subscribe(wildcard, handler)
}

// Unsubscribe removes a handler. It reports whether the subscription existed.
func (eb *EventBus) Unsubscribe(id Subscription) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for typ, subs := range eb.subs {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			eb.subs[typ] = append(subs[:i:i], subs[i+1:]...)
			if len(eb.subs[typ]) == 0 {
				delete(eb.subs, typ)
			}
			return true
		}
	}
	return false
}

// HasSubscribers reports whether an event of eventType would reach any handler.
func (eb *EventBus) HasSubscribers(eventType string) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType])+len(eb.subs[wildcard]) > 0
}

// Types returns the event types with a dedicated subscriber, sorted.
func (eb *EventBus) Types() []string {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	out := make([]string, 0, len(eb.subs))
	for typ := range eb.subs {
		if typ != wildcard {
			out = append(out, typ)
		}
	}
	sort.Strings(out)
	return out
}

// Publish runs the handlers of event and returns their combined errors.
// Every handler error, panics included, is also passed to the error handler.
// A failing handler does not stop the ones after it.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	eb.mu.RLock()
	if eb.closed {
		eb.mu.RUnlock()
		return ErrBusClosed
	}
	targets := make([]subscriber, 0, len(eb.subs[event.Type])+len(eb.subs[wildcard]))
	targets = append(targets, eb.subs[event.Type]...)
	targets = append(targets, eb.subs[wildcard]...)
	eb.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNoHandler
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = eb.now()
	}

	var errs error
	for _, s := range targets {
		if err := eb.deliver(ctx, s.handler, event); err != nil {
			eb.errHandler(event, err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (eb *EventBus) deliver(ctx context.Context, h EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panicked",
				zap.String("type", event.Type),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.Handle(ctx, event)
}

// Close closes the bus. Later publishes fail with ErrBusClosed.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.closed = true
}

func (eb *EventBus) logError(event Event, err error) {
	eb.logger.Error("event handler failed",
		zap.String("type", event.Type),
		zap.Int64("workflowID", event.WorkflowID),
		zap.Error(err))
}
