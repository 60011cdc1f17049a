package backtest

import (
	"container/heap"
	"time"
)

// EventKind tags what an Event carries.
type EventKind int

// Priorities fix the causal order of same-timestamp events: market data must
// be observed before a strategy can react to it, a signal must exist before
// it becomes an order, and an order must exist before it can be filled.
const (
	EventMarketData EventKind = iota + 1
	EventSignal
	EventOrder
	EventFill
)

// Event is one entry in the EventQueue.
type Event struct {
	Timestamp time.Time
	Priority  EventKind
	Seq       int64 // insertion sequence, breaks ties FIFO

	Bar    *Bar
	Signal *Signal
	Order  *Order
	Fill   *Fill
}

// eventHeap implements container/heap.Interface, ordered by
// (Timestamp, Priority, Seq) ascending.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if !h[i].Timestamp.Equal(h[j].Timestamp) {
		return h[i].Timestamp.Before(h[j].Timestamp)
	}
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// EventQueue is a deterministic min-heap of timestamped simulation events.
// It is not safe for concurrent use; each backtest run owns an exclusive
// EventQueue for its duration.
type EventQueue struct {
	heap eventHeap
	seq  int64
}

// NewEventQueue returns an empty queue.
func NewEventQueue() *EventQueue {
	q := &EventQueue{heap: make(eventHeap, 0, 256)}
	heap.Init(&q.heap)
	return q
}

// Push inserts an event, stamping it with the next insertion sequence.
func (q *EventQueue) Push(e *Event) {
	e.Seq = q.seq
	q.seq++
	heap.Push(&q.heap, e)
}

// Pop removes and returns the earliest event. Callers must check IsEmpty first;
// Pop on an empty queue panics, mirroring container/heap's own contract.
func (q *EventQueue) Pop() *Event {
	return heap.Pop(&q.heap).(*Event)
}

// Peek returns the earliest event without removing it, or nil if empty.
func (q *EventQueue) Peek() *Event {
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0]
}

// IsEmpty reports whether the queue has no events.
func (q *EventQueue) IsEmpty() bool {
	return len(q.heap) == 0
}

// Len reports the number of pending events.
func (q *EventQueue) Len() int {
	return len(q.heap)
}

// Clear removes all pending events but preserves the insertion-sequence counter.
func (q *EventQueue) Clear() {
	q.heap = q.heap[:0]
}

// MarketClock tracks the "current" simulation time as events are drained,
// giving the engine and its collaborators a single source of truth for "now".
type MarketClock struct {
	now time.Time
}

// Advance moves the clock forward to t. It never moves backward; advancing to
// an earlier time is a no-op, since the EventQueue already guarantees
// monotonic dispatch.
func (c *MarketClock) Advance(t time.Time) {
	if t.After(c.now) {
		c.now = t
	}
}

// Now returns the current simulation time.
func (c *MarketClock) Now() time.Time {
	return c.now
}
