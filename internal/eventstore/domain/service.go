package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/domainevent"
	"gorm.io/gorm"
)

var (
	// ErrDataConflict signals an append that reuses an event id with different
	// content. Fatal to the append call, never retried automatically.
	ErrDataConflict = errors.New("event_data_conflict")

	// ErrAppendConflict signals a concurrent append raced on the same event id
	// inside a caller-owned transaction. The producing operation may retry.
	ErrAppendConflict = errors.New("event_append_conflict")

	ErrNotFound = errors.New("not_found")
)

type Service interface {
	// Append assigns sequence numbers to the batch and stores it. When tx is
	// nil the service runs its own transaction. Events whose id is already
	// stored with identical content are returned as previously assigned
	// instead of being re-inserted.
	Append(ctx context.Context, tx *gorm.DB, batch []domainevent.Event) ([]StoredEvent, error)

	// ReadAfter returns events with sequence strictly greater than
	// afterSequence, ascending, bounded by limit.
	ReadAfter(ctx context.Context, afterSequence int64, limit int) ([]StoredEvent, error)

	// Head returns the highest assigned sequence number, 0 for an empty log.
	Head(ctx context.Context) (int64, error)

	SaveSnapshot(ctx context.Context, aggregateID snowflake.ID, aggregateType string, sequence int64, state map[string]any) error
	LatestSnapshot(ctx context.Context, aggregateID snowflake.ID) (*AggregateSnapshot, error)

	// ReplayAggregate returns an aggregate's events after the given sequence,
	// in log order, for state reconstruction.
	ReplayAggregate(ctx context.Context, aggregateID snowflake.ID, afterSequence int64) ([]StoredEvent, error)
}
