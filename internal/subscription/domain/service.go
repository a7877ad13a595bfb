package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	// ErrStaleAdvance signals a cursor advance that is not strictly forward.
	// It indicates two dispatch cycles raced for the same subscriber, which
	// the single-owner execution model is supposed to prevent.
	ErrStaleAdvance = errors.New("stale_cursor_advance")

	ErrNotFound          = errors.New("not_found")
	ErrInvalidSubscriber = errors.New("invalid_subscriber")
)

type Service interface {
	// Register creates the cursor at 0 when absent. Idempotent.
	Register(ctx context.Context, name string) (*Subscription, error)

	CursorOf(ctx context.Context, name string) (int64, error)
	List(ctx context.Context) ([]*Subscription, error)

	// Advance moves the cursor strictly forward; ErrStaleAdvance otherwise.
	Advance(ctx context.Context, db *gorm.DB, name string, toSequence int64) error

	// SettledEntries returns ledger rows that settle the given events for the
	// subscriber (processed or dead-lettered).
	SettledEntries(ctx context.Context, name string, eventIDs []snowflake.ID) (map[snowflake.ID]ProcessingLogEntry, error)

	// MarkProcessed writes the ledger row and advances the cursor as one
	// atomic unit: both persist or neither does.
	MarkProcessed(ctx context.Context, name string, eventID snowflake.ID, toSequence int64) error

	// RecordFailure annotates the ledger with a failed attempt and returns
	// the attempt count so the dispatcher can apply its poison policy.
	RecordFailure(ctx context.Context, name string, eventID snowflake.ID, cause error) (int, error)

	// MarkDeadLetter parks the event for the subscriber and advances the
	// cursor past it, atomically.
	MarkDeadLetter(ctx context.Context, name string, eventID snowflake.ID, toSequence int64) error
}
