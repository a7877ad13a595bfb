package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindSubscription(ctx context.Context, db *gorm.DB, name string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, db *gorm.DB) ([]*Subscription, error)

	// AdvanceCursor moves the cursor forward with a conditional update and
	// reports whether a row changed. The caller maps "no row changed" onto
	// ErrStaleAdvance or ErrNotFound.
	AdvanceCursor(ctx context.Context, db *gorm.DB, name string, toSequence int64, at time.Time) (bool, error)

	FindEntry(ctx context.Context, db *gorm.DB, eventID snowflake.ID, name string) (*ProcessingLogEntry, error)
	FindEntries(ctx context.Context, db *gorm.DB, eventIDs []snowflake.ID, name string) ([]*ProcessingLogEntry, error)
	InsertEntry(ctx context.Context, db *gorm.DB, entry *ProcessingLogEntry) error
	UpdateEntryStatus(ctx context.Context, db *gorm.DB, eventID snowflake.ID, name, fromStatus, toStatus string, lastError *string, at time.Time) (bool, error)
	IncrementAttempts(ctx context.Context, db *gorm.DB, eventID snowflake.ID, name string, lastError string, at time.Time) error
}
