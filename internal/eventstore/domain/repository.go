package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ReserveSequences advances the shared counter by n inside tx and returns
	// the last reserved value. The counter row lock serializes every appender
	// and, because it is held until commit, also serializes commit visibility:
	// no reader can observe sequence N while a lower uncommitted sequence
	// exists.
	ReserveSequences(ctx context.Context, tx *gorm.DB, n int) (int64, error)

	InsertEvent(ctx context.Context, tx *gorm.DB, event *StoredEvent) error
	FindByEventIDs(ctx context.Context, db *gorm.DB, eventIDs []snowflake.ID) ([]*StoredEvent, error)
	ReadAfter(ctx context.Context, db *gorm.DB, afterSequence int64, limit int) ([]*StoredEvent, error)
	HighestSequence(ctx context.Context, db *gorm.DB) (int64, error)
	ReadAggregateAfter(ctx context.Context, db *gorm.DB, aggregateID snowflake.ID, afterSequence int64) ([]*StoredEvent, error)

	InsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *AggregateSnapshot) error
	LatestSnapshot(ctx context.Context, db *gorm.DB, aggregateID snowflake.ID) (*AggregateSnapshot, error)
}
