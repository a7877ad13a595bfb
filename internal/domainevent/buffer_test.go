package domainevent

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func TestBufferPreservesRegistrationOrder(t *testing.T) {
	node := mustNode(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	aggregateID := node.Generate()

	var buffer Buffer
	first := New(node, now, "product.created", "product", aggregateID, nil)
	second := New(node, now, "product.price_changed", "product", aggregateID, nil)
	third := New(node, now, "product.stock_reserved", "product", aggregateID, nil)
	buffer.Record(first)
	buffer.Record(second)
	buffer.Record(third)

	if got := buffer.Len(); got != 3 {
		t.Fatalf("expected 3 pending facts, got %d", got)
	}

	drained := buffer.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained facts, got %d", len(drained))
	}
	want := []snowflake.ID{first.EventID, second.EventID, third.EventID}
	for i, e := range drained {
		if e.EventID != want[i] {
			t.Fatalf("fact %d out of order: got %s want %s", i, e.EventID, want[i])
		}
	}
}

func TestBufferDrainClearsAndNeverReturnsTwice(t *testing.T) {
	node := mustNode(t)
	now := time.Now()

	var buffer Buffer
	buffer.Record(New(node, now, "order.placed", "order", node.Generate(), nil))

	if got := len(buffer.Drain()); got != 1 {
		t.Fatalf("first drain returned %d facts", got)
	}
	if got := len(buffer.Drain()); got != 0 {
		t.Fatalf("second drain returned %d facts, want 0", got)
	}
	if buffer.Len() != 0 {
		t.Fatalf("buffer not empty after drain")
	}
}

func TestBufferDiscard(t *testing.T) {
	node := mustNode(t)
	now := time.Now()

	var buffer Buffer
	buffer.Record(New(node, now, "order.placed", "order", node.Generate(), nil))
	buffer.Discard()

	if got := len(buffer.Drain()); got != 0 {
		t.Fatalf("discard left %d facts behind", got)
	}
}

func TestNewStampsIdentityAndCorrelation(t *testing.T) {
	node := mustNode(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	aggregateID := node.Generate()

	correlation := NewCorrelationID(now)
	e := New(node, now, "order.placed", "order", aggregateID, map[string]any{"total_cents": int64(100)},
		WithCorrelation(correlation, "cause-1"))

	if e.EventID == 0 {
		t.Fatal("event id not assigned")
	}
	if e.AggregateID != aggregateID || e.AggregateType != "order" {
		t.Fatalf("aggregate identity wrong: %+v", e)
	}
	if !e.OccurredAt.Equal(now) {
		t.Fatalf("occurred_at = %v, want %v", e.OccurredAt, now)
	}
	if e.CorrelationID != correlation || e.CausationID != "cause-1" {
		t.Fatalf("correlation not applied: %+v", e)
	}

	other := New(node, now, "order.paid", "order", aggregateID, nil)
	if other.EventID == e.EventID {
		t.Fatal("event ids must be unique")
	}
	if other.Payload == nil {
		t.Fatal("nil payload should normalize to an empty map")
	}
}

func TestCorrelateChainsBatch(t *testing.T) {
	node := mustNode(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	aggregateID := node.Generate()

	events := []Event{
		New(node, now, "product.created", "product", aggregateID, nil),
		New(node, now, "product.stock_reserved", "product", aggregateID, nil),
		New(node, now, "product.stock_released", "product", aggregateID, nil),
	}

	correlation := NewCorrelationID(now)
	Correlate(events, correlation)

	for i, e := range events {
		if e.CorrelationID != correlation {
			t.Fatalf("event %d correlation = %q, want %q", i, e.CorrelationID, correlation)
		}
	}
	if events[0].CausationID != "" {
		t.Fatalf("first event causation = %q, want none", events[0].CausationID)
	}
	if events[1].CausationID != events[0].EventID.String() {
		t.Fatalf("event 1 causation = %q, want %s", events[1].CausationID, events[0].EventID)
	}
	if events[2].CausationID != events[1].EventID.String() {
		t.Fatalf("event 2 causation = %q, want %s", events[2].CausationID, events[1].EventID)
	}
}

func TestCorrelatePreservesExistingChain(t *testing.T) {
	node := mustNode(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	upstream := NewCorrelationID(now)
	events := []Event{
		New(node, now, "order.placed", "order", node.Generate(), nil,
			WithCorrelation(upstream, "cause-1")),
	}

	Correlate(events, NewCorrelationID(now.Add(time.Second)))

	if events[0].CorrelationID != upstream || events[0].CausationID != "cause-1" {
		t.Fatalf("upstream chain overwritten: %+v", events[0])
	}
}
