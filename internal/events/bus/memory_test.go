package bus

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := b.Subscribe("session.output", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	event := NewEvent("session.output", "test", map[string]any{"output": "hello"})
	if err := b.Publish(ctx, "session.output", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, e.ID)
		}
	default:
		t.Fatal("Expected event to be delivered synchronously")
	}
}

func TestMemoryEventBus_Wildcard(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	var count int32
	sub, err := b.Subscribe("session.*", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	ctx := context.Background()
	for _, subject := range []string{"session.started", "session.stopped", "change.proposed"} {
		if err := b.Publish(ctx, subject, NewEvent(subject, "test", nil)); err != nil {
			t.Fatalf("Publish %s failed: %v", subject, err)
		}
	}

	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("Expected 2 wildcard deliveries, got %d", got)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	var count int32
	sub, err := b.Subscribe("session.started", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after unsubscribe")
	}

	if err := b.Publish(context.Background(), "session.started", NewEvent("session.started", "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("Expected no deliveries after unsubscribe, got %d", got)
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)

	if !b.IsConnected() {
		t.Fatal("Expected new bus to be connected")
	}

	b.Close()

	if b.IsConnected() {
		t.Error("Expected closed bus to report disconnected")
	}
	if err := b.Publish(context.Background(), "session.started", NewEvent("session.started", "test", nil)); err == nil {
		t.Error("Expected publish on closed bus to fail")
	}
	if _, err := b.Subscribe("session.started", func(ctx context.Context, event *Event) error { return nil }); err == nil {
		t.Error("Expected subscribe on closed bus to fail")
	}
}
