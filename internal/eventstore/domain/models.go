package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// StoredEvent is one immutable row of the append-only event log. Once a
// sequence number is assigned, (event_id, sequence_number, payload) never
// change.
type StoredEvent struct {
	SequenceNumber int64             `gorm:"primaryKey;autoIncrement:false" json:"sequence_number"`
	EventID        snowflake.ID      `gorm:"not null;uniqueIndex:ux_events_event_id" json:"event_id"`
	EventType      string            `gorm:"type:text;not null;index" json:"event_type"`
	AggregateID    snowflake.ID      `gorm:"not null;index:idx_events_aggregate,priority:2" json:"aggregate_id"`
	AggregateType  string            `gorm:"type:text;not null;index:idx_events_aggregate,priority:1" json:"aggregate_type"`
	Payload        datatypes.JSONMap `gorm:"type:jsonb;not null" json:"payload"`
	OccurredAt     time.Time         `gorm:"not null" json:"occurred_at"`
	CorrelationID  *string           `gorm:"type:text" json:"correlation_id,omitempty"`
	CausationID    *string           `gorm:"type:text" json:"causation_id,omitempty"`
	RecordedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"recorded_at"`
}

// TableName sets the database table name.
func (StoredEvent) TableName() string { return "events" }

// EventSequence is the single-row counter that serializes sequence assignment
// across all appenders.
type EventSequence struct {
	ID    int   `gorm:"primaryKey"`
	Value int64 `gorm:"not null"`
}

// TableName sets the database table name.
func (EventSequence) TableName() string { return "event_sequence" }

// AggregateSnapshot bounds replay cost when reconstructing aggregate state
// from history. One row per snapshot point.
type AggregateSnapshot struct {
	AggregateID    snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"aggregate_id"`
	SequenceNumber int64             `gorm:"primaryKey;autoIncrement:false" json:"sequence_number"`
	AggregateType  string            `gorm:"type:text;not null" json:"aggregate_type"`
	State          datatypes.JSONMap `gorm:"type:jsonb;not null" json:"state"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (AggregateSnapshot) TableName() string { return "aggregate_snapshots" }
