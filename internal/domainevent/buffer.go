package domainevent

// Buffer collects the facts produced during one logical operation on a single
// aggregate instance. The aggregate owns its buffer exclusively; an aggregate
// instance is scoped to one operation and must not be shared across goroutines.
type Buffer struct {
	events []Event
}

// Record appends a fact in registration order.
func (b *Buffer) Record(e Event) {
	b.events = append(b.events, e)
}

// Drain returns the accumulated facts in registration order and clears the
// buffer. A fact is never returned twice.
func (b *Buffer) Drain() []Event {
	out := b.events
	b.events = nil
	return out
}

// Discard clears the buffer without returning anything. Used when the
// operation that produced the facts is abandoned.
func (b *Buffer) Discard() {
	b.events = nil
}

// Len reports the number of pending facts.
func (b *Buffer) Len() int {
	return len(b.events)
}
