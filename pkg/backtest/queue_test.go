package backtest

import (
	"testing"
	"time"
)

func TestEventQueueOrdersByTimestampThenPriorityThenFIFO(t *testing.T) {
	q := NewEventQueue()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	// Same timestamp, out-of-priority-order insertion: must pop MarketData,
	// Signal, Order, Fill regardless of push order.
	q.Push(&Event{Timestamp: t0, Priority: EventFill})
	q.Push(&Event{Timestamp: t0, Priority: EventOrder})
	q.Push(&Event{Timestamp: t0, Priority: EventMarketData})
	q.Push(&Event{Timestamp: t0, Priority: EventSignal})
	// Later timestamp, higher priority should still come after.
	q.Push(&Event{Timestamp: t1, Priority: EventMarketData})

	want := []EventKind{EventMarketData, EventSignal, EventOrder, EventFill, EventMarketData}
	for i, w := range want {
		if q.IsEmpty() {
			t.Fatalf("queue emptied early at step %d", i)
		}
		got := q.Pop()
		if got.Priority != w {
			t.Errorf("step %d: got priority %v, want %v", i, got.Priority, w)
		}
	}
	if !q.IsEmpty() {
		t.Errorf("queue should be empty after draining all events")
	}
}

func TestEventQueueFIFOWithinSamePriorityAndTimestamp(t *testing.T) {
	q := NewEventQueue()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		q.Push(&Event{Timestamp: t0, Priority: EventSignal, Signal: &Signal{Symbol: string(rune('A' + i))}})
	}
	for i := 0; i < 5; i++ {
		ev := q.Pop()
		want := string(rune('A' + i))
		if ev.Signal.Symbol != want {
			t.Errorf("pop %d: got symbol %s, want %s (FIFO tie-break violated)", i, ev.Signal.Symbol, want)
		}
	}
}

func TestEventQueuePeekDoesNotRemove(t *testing.T) {
	q := NewEventQueue()
	if q.Peek() != nil {
		t.Errorf("Peek on empty queue should return nil")
	}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q.Push(&Event{Timestamp: t0, Priority: EventMarketData})
	first := q.Peek()
	if first == nil {
		t.Fatalf("Peek should return the pending event")
	}
	if q.Len() != 1 {
		t.Errorf("Peek must not remove the event, queue len = %d, want 1", q.Len())
	}
}

func TestEventQueueClear(t *testing.T) {
	q := NewEventQueue()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q.Push(&Event{Timestamp: t0, Priority: EventMarketData})
	q.Push(&Event{Timestamp: t0, Priority: EventSignal})
	q.Clear()
	if !q.IsEmpty() {
		t.Errorf("Clear should empty the queue")
	}
}

func TestMarketClockNeverMovesBackward(t *testing.T) {
	var c MarketClock
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	c.Advance(t1)
	if !c.Now().Equal(t1) {
		t.Fatalf("Now() = %v, want %v", c.Now(), t1)
	}
	c.Advance(t0)
	if !c.Now().Equal(t1) {
		t.Errorf("Advance to an earlier time must be a no-op, Now() = %v, want %v", c.Now(), t1)
	}
}
