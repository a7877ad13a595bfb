package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/eventstore/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ReserveSequences(ctx context.Context, tx *gorm.DB, n int) (int64, error) {
	if n <= 0 {
		return 0, errors.New("sequence reservation must be positive")
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE event_sequence SET value = value + ? WHERE id = 1`,
		n,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, errors.New("event_sequence row missing; run migrations")
	}

	var last int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT value FROM event_sequence WHERE id = 1`,
	).Scan(&last).Error; err != nil {
		return 0, err
	}
	return last, nil
}

func (r *repo) InsertEvent(ctx context.Context, tx *gorm.DB, event *domain.StoredEvent) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO events (
			sequence_number, event_id, event_type, aggregate_id, aggregate_type,
			payload, occurred_at, correlation_id, causation_id, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.SequenceNumber,
		event.EventID,
		event.EventType,
		event.AggregateID,
		event.AggregateType,
		event.Payload,
		event.OccurredAt,
		event.CorrelationID,
		event.CausationID,
		event.RecordedAt,
	).Error
}

func (r *repo) FindByEventIDs(ctx context.Context, db *gorm.DB, eventIDs []snowflake.ID) ([]*domain.StoredEvent, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var events []*domain.StoredEvent
	err := db.WithContext(ctx).
		Model(&domain.StoredEvent{}).
		Where("event_id IN ?", eventIDs).
		Order("sequence_number asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ReadAfter(ctx context.Context, db *gorm.DB, afterSequence int64, limit int) ([]*domain.StoredEvent, error) {
	var events []*domain.StoredEvent
	err := db.WithContext(ctx).
		Model(&domain.StoredEvent{}).
		Where("sequence_number > ?", afterSequence).
		Order("sequence_number asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) HighestSequence(ctx context.Context, db *gorm.DB) (int64, error) {
	var head int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(sequence_number), 0) FROM events`,
	).Scan(&head).Error
	if err != nil {
		return 0, err
	}
	return head, nil
}

func (r *repo) ReadAggregateAfter(ctx context.Context, db *gorm.DB, aggregateID snowflake.ID, afterSequence int64) ([]*domain.StoredEvent, error) {
	var events []*domain.StoredEvent
	err := db.WithContext(ctx).
		Model(&domain.StoredEvent{}).
		Where("aggregate_id = ? AND sequence_number > ?", aggregateID, afterSequence).
		Order("sequence_number asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) InsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *domain.AggregateSnapshot) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO aggregate_snapshots (
			aggregate_id, sequence_number, aggregate_type, state, created_at
		) VALUES (?, ?, ?, ?, ?)`,
		snapshot.AggregateID,
		snapshot.SequenceNumber,
		snapshot.AggregateType,
		snapshot.State,
		snapshot.CreatedAt,
	).Error
}

func (r *repo) LatestSnapshot(ctx context.Context, db *gorm.DB, aggregateID snowflake.ID) (*domain.AggregateSnapshot, error) {
	var snapshot domain.AggregateSnapshot
	err := db.WithContext(ctx).Raw(
		`SELECT aggregate_id, sequence_number, aggregate_type, state, created_at
		 FROM aggregate_snapshots
		 WHERE aggregate_id = ?
		 ORDER BY sequence_number DESC
		 LIMIT 1`,
		aggregateID,
	).Scan(&snapshot).Error
	if err != nil {
		return nil, err
	}
	if snapshot.AggregateID == 0 {
		return nil, nil
	}
	return &snapshot, nil
}
