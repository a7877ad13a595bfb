package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Subscription tracks how far a named consumer has progressed through the
// event log. last_processed_sequence is monotonically non-decreasing and
// starts at 0.
type Subscription struct {
	SubscriberName        string     `gorm:"primaryKey;type:text" json:"subscriber_name"`
	LastProcessedSequence int64      `gorm:"not null;default:0" json:"last_processed_sequence"`
	LastProcessedAt       *time.Time `gorm:"" json:"last_processed_at,omitempty"`
	CreatedAt             time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Processing log entry statuses.
const (
	ProcessingStatusProcessed  = "processed"
	ProcessingStatusFailed     = "failed"
	ProcessingStatusDeadLetter = "dead_letter"
)

// ProcessingLogEntry is the idempotency ledger: one row per (event, consumer)
// pair. A row in processed or dead_letter state is authoritative for "already
// consumed"; failed rows only annotate retries in flight.
type ProcessingLogEntry struct {
	EventID        snowflake.ID `gorm:"primaryKey;autoIncrement:false;uniqueIndex:ux_processing_log_dedupe,priority:1" json:"event_id"`
	SubscriberName string       `gorm:"primaryKey;type:text;uniqueIndex:ux_processing_log_dedupe,priority:2" json:"subscriber_name"`
	Status         string       `gorm:"type:text;not null" json:"status"`
	Attempts       int          `gorm:"not null;default:0" json:"attempts"`
	LastError      *string      `gorm:"type:text" json:"last_error,omitempty"`
	ProcessedAt    *time.Time   `gorm:"" json:"processed_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ProcessingLogEntry) TableName() string { return "processing_log" }

// Consumed reports whether this entry settles the event for its subscriber.
func (e ProcessingLogEntry) Consumed() bool {
	return e.Status == ProcessingStatusProcessed || e.Status == ProcessingStatusDeadLetter
}
