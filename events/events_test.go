package events

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func recorder(order *[]string, name string) EventHandler {
	return EventHandlerFunc(func(ctx context.Context, event Event) error {
		*order = append(*order, name)
		return nil
	})
}

func TestEventBus_DeliveryOrder(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	var order []string
	eb.SubscribeAll(recorder(&order, "audit"))
	eb.Subscribe(TypeSyncCommitted, recorder(&order, "first"))
	eb.Subscribe(TypeSyncCommitted, recorder(&order, "second"))
	eb.Subscribe(TypeSyncFailed, recorder(&order, "failed"))

	if err := eb.Publish(context.Background(), Event{Type: TypeSyncCommitted}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	want := []string{"first", "second", "audit"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}

	order = nil
	if err := eb.Publish(context.Background(), Event{Type: TypeVersionDeleted}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"audit"}) {
		t.Fatalf("Expected only the wildcard handler, got %v", order)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	var order []string
	eb.Subscribe(TypeVersionDeleted, recorder(&order, "first"))
	second := eb.Subscribe(TypeVersionDeleted, recorder(&order, "second"))
	eb.Subscribe(TypeVersionDeleted, recorder(&order, "third"))

	if !eb.Unsubscribe(second) {
		t.Fatal("Unsubscribe should return true for an existing subscription")
	}
	if eb.Unsubscribe(second) {
		t.Fatal("Unsubscribe should return false the second time")
	}
	if err := eb.Publish(context.Background(), Event{Type: TypeVersionDeleted}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"first", "third"}) {
		t.Fatalf("Expected remaining handlers in subscription order, got %v", order)
	}
}

func TestEventBus_Publish(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	eb := NewEventBus(WithClock(func() time.Time { return at }))
	defer eb.Close()

	var got Event
	eb.SubscribeFunc(TypeSyncCommitted, func(ctx context.Context, event Event) error {
		got = event
		return nil
	})

	err := eb.Publish(context.Background(), Event{
		Type:       TypeSyncCommitted,
		WorkflowID: 123,
		Data:       map[string]interface{}{"versionNo": 2},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if got.WorkflowID != 123 || got.Data["versionNo"] != 2 {
		t.Fatalf("Unexpected event %+v", got)
	}
	if !got.OccurredAt.Equal(at) {
		t.Fatalf("Expected event stamped at %v, got %v", at, got.OccurredAt)
	}

	earlier := at.Add(-time.Hour)
	if err := eb.Publish(context.Background(), Event{Type: TypeSyncCommitted, OccurredAt: earlier}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !got.OccurredAt.Equal(earlier) {
		t.Fatalf("Expected the given timestamp to be kept, got %v", got.OccurredAt)
	}
}

func TestEventBus_PublishCombinesErrors(t *testing.T) {
	var reported []error
	eb := NewEventBus(WithErrorHandler(func(event Event, err error) {
		reported = append(reported, err)
	}))
	defer eb.Close()

	calls := 0
	eb.SubscribeFunc(TypeSyncFailed, func(ctx context.Context, event Event) error {
		calls++
		return errors.New("first failed")
	})
	eb.SubscribeFunc(TypeSyncFailed, func(ctx context.Context, event Event) error {
		calls++
		panic("boom")
	})
	eb.SubscribeFunc(TypeSyncFailed, func(ctx context.Context, event Event) error {
		calls++
		return nil
	})

	err := eb.Publish(context.Background(), Event{Type: TypeSyncFailed})
	if calls != 3 {
		t.Fatalf("Expected every handler to run, got %d calls", calls)
	}
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("Expected 2 combined errors, got %v", err)
	}
	if !errors.Is(errs[1], ErrHandlerPanic) {
		t.Fatalf("Expected the panic to surface as ErrHandlerPanic, got %v", errs[1])
	}
	if len(reported) != 2 {
		t.Fatalf("Expected 2 reported errors, got %d", len(reported))
	}
}

func TestEventBus_PublishNoHandlers(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	err := eb.Publish(context.Background(), Event{Type: "unknown_event"})
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("Expected ErrNoHandler, got %v", err)
	}
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	eb := NewEventBus()
	eb.SubscribeAll(EventHandlerFunc(func(ctx context.Context, event Event) error { return nil }))
	eb.Close()

	err := eb.Publish(context.Background(), Event{Type: TypeSyncCommitted})
	if !errors.Is(err, ErrBusClosed) {
		t.Fatalf("Expected ErrBusClosed, got %v", err)
	}
}

func TestEventBus_HasSubscribers(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	if eb.HasSubscribers(TypeVersionRolledBack) {
		t.Fatal("HasSubscribers should return false without subscriptions")
	}

	id := eb.Subscribe(TypeVersionRolledBack, EventHandlerFunc(func(ctx context.Context, event Event) error { return nil }))
	if !eb.HasSubscribers(TypeVersionRolledBack) {
		t.Fatal("HasSubscribers should return true after subscription")
	}
	if !reflect.DeepEqual(eb.Types(), []string{TypeVersionRolledBack}) {
		t.Fatalf("Unexpected types %v", eb.Types())
	}

	eb.Unsubscribe(id)
	if eb.HasSubscribers(TypeVersionRolledBack) {
		t.Fatal("HasSubscribers should return false after unsubscribe")
	}

	eb.SubscribeAll(EventHandlerFunc(func(ctx context.Context, event Event) error { return nil }))
	if !eb.HasSubscribers(TypeVersionRolledBack) {
		t.Fatal("A wildcard subscriber should count for every type")
	}
	if len(eb.Types()) != 0 {
		t.Fatalf("Wildcard subscriptions are not listed as types, got %v", eb.Types())
	}
}

func TestEventBus_CancelledContext(t *testing.T) {
	eb := NewEventBus()
	defer eb.Close()

	called := false
	eb.SubscribeFunc(TypeSyncCommitted, func(ctx context.Context, event Event) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eb.Publish(ctx, Event{Type: TypeSyncCommitted})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled error, got %v", err)
	}
	if called {
		t.Fatal("Handler should not run for a cancelled context")
	}
}
