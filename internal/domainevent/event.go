package domainevent

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
)

// Event is an immutable domain fact recorded by an aggregate before it is
// submitted to the event log. The sequence number is assigned by the log at
// append time, never here.
type Event struct {
	EventID       snowflake.ID
	EventType     string
	AggregateID   snowflake.ID
	AggregateType string
	Payload       map[string]any
	OccurredAt    time.Time
	CorrelationID string
	CausationID   string
}

// Option customizes an event at construction time.
type Option func(*Event)

// WithCorrelation links the event to a causal chain across contexts.
func WithCorrelation(correlationID, causationID string) Option {
	return func(e *Event) {
		e.CorrelationID = strings.TrimSpace(correlationID)
		e.CausationID = strings.TrimSpace(causationID)
	}
}

// New stamps a fresh event with a generated identifier and business time.
func New(genID *snowflake.Node, now time.Time, eventType, aggregateType string, aggregateID snowflake.ID, payload map[string]any, opts ...Option) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	e := Event{
		EventID:       genID.Generate(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Payload:       payload,
		OccurredAt:    now.UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// NewCorrelationID mints a lexicographically sortable correlation identifier.
func NewCorrelationID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now.UTC()), ulid.DefaultEntropy()).String()
}

// Correlate stamps one causal chain onto a drained batch: every event carries
// the correlation id, and each event after the first is marked as caused by
// the one before it. Events that already carry a correlation id keep their
// chain untouched.
func Correlate(events []Event, correlationID string) {
	causation := ""
	for i := range events {
		if events[i].CorrelationID == "" {
			WithCorrelation(correlationID, causation)(&events[i])
		}
		causation = events[i].EventID.String()
	}
}
