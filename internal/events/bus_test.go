package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/arlo/taskdeck/internal/task"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	event := TaskCreatedEvent{
		ID:        "task-1",
		Repo:      "owner/repo",
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskCreated {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskCreated, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	event := TaskStatusChangedEvent{
		ID:        "task-2",
		From:      task.StatusReceived,
		To:        task.StatusAnalyzing,
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	// Both channels should receive the event
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	// Subscribe with buffer size 1
	ch := bus.Subscribe(TopicTask, 1)

	// Publish 10 events - should not deadlock
	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			event := TaskCreatedEvent{
				ID:        fmt.Sprintf("task-%d", i),
				Repo:      "owner/repo",
				Timestamp: time.Now(),
			}
			bus.Publish(TopicTask, event)
		}
		done <- true
	}()

	// Publisher should complete immediately (non-blocking)
	select {
	case <-done:
		// Success - publisher didn't block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	// Verify we received at least one event (buffer size 1)
	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}

	// The other 9 publishes overflowed the buffer
	if bus.Dropped() != 9 {
		t.Errorf("expected 9 dropped events, got %d", bus.Dropped())
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(TopicTask, 10)

	// Close the bus
	bus.Close()

	// Channel should be closed (range loop should exit immediately)
	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	// This should not panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	event := TaskCreatedEvent{
		ID:        "task-1",
		Repo:      "owner/repo",
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTask, event)

	// Channel is closed, so we shouldn't receive anything
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
		// Expected - channel closed, no data
	}
}

// TestMultipleTopics verifies topic isolation.
func TestMultipleTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	depCh := bus.Subscribe(TopicDependency, 10)

	taskEvent := TaskCreatedEvent{
		ID:        "task-1",
		Repo:      "owner/repo",
		Timestamp: time.Now(),
	}

	depEvent := DependencyResolvedEvent{
		ID:           "task-2",
		DependencyID: "dep-1",
		Timestamp:    time.Now(),
	}

	bus.Publish(TopicTask, taskEvent)
	bus.Publish(TopicDependency, depEvent)

	// Task channel should receive task event
	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskCreated {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	// Dependency channel should receive dependency event
	select {
	case received := <-depCh:
		if received.EventType() != EventTypeDepResolved {
			t.Errorf("dependency channel: expected dependency event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("dependency channel: timeout waiting for event")
	}

	// Task channel should NOT have the dependency event
	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}

	// Dependency channel should NOT have the task event
	select {
	case <-depCh:
		t.Error("dependency channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	taskEvent := TaskStatusChangedEvent{
		ID:        "task-1",
		From:      task.StatusPROpen,
		To:        task.StatusMerged,
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTask, taskEvent)

	depEvent := DependencyStatusChangedEvent{
		ID:        "task-2",
		From:      task.DerivedPending,
		To:        task.DerivedReady,
		Timestamp: time.Now(),
	}
	bus.Publish(TopicDependency, depEvent)

	// SubscribeAll channel should receive both events
	receivedTypes := make(map[string]bool)

	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	// Verify we received both types
	if !receivedTypes[EventTypeTaskStatusChanged] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeDepStatusChanged] {
		t.Error("SubscribeAll did not receive dependency event")
	}

	// Should not have any more events
	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no more events
	}
}
