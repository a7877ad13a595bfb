package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (subscriber_name, last_processed_sequence, last_processed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sub.SubscriberName,
		sub.LastProcessedSequence,
		sub.LastProcessedAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindSubscription(ctx context.Context, db *gorm.DB, name string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT subscriber_name, last_processed_sequence, last_processed_at, created_at, updated_at
		 FROM subscriptions WHERE subscriber_name = ?`,
		name,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.SubscriberName == "" {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) ListSubscriptions(ctx context.Context, db *gorm.DB) ([]*domain.Subscription, error) {
	var subs []*domain.Subscription
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Order("subscriber_name asc").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) AdvanceCursor(ctx context.Context, db *gorm.DB, name string, toSequence int64, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET last_processed_sequence = ?, last_processed_at = ?, updated_at = ?
		 WHERE subscriber_name = ? AND last_processed_sequence < ?`,
		toSequence,
		at,
		at,
		name,
		toSequence,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindEntry(ctx context.Context, db *gorm.DB, eventID snowflake.ID, name string) (*domain.ProcessingLogEntry, error) {
	var entry domain.ProcessingLogEntry
	err := db.WithContext(ctx).Raw(
		`SELECT event_id, subscriber_name, status, attempts, last_error, processed_at, created_at, updated_at
		 FROM processing_log WHERE event_id = ? AND subscriber_name = ?`,
		eventID,
		name,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.EventID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) FindEntries(ctx context.Context, db *gorm.DB, eventIDs []snowflake.ID, name string) ([]*domain.ProcessingLogEntry, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var entries []*domain.ProcessingLogEntry
	err := db.WithContext(ctx).
		Model(&domain.ProcessingLogEntry{}).
		Where("subscriber_name = ? AND event_id IN ?", name, eventIDs).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.ProcessingLogEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO processing_log (event_id, subscriber_name, status, attempts, last_error, processed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EventID,
		entry.SubscriberName,
		entry.Status,
		entry.Attempts,
		entry.LastError,
		entry.ProcessedAt,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Error
}

func (r *repo) UpdateEntryStatus(ctx context.Context, db *gorm.DB, eventID snowflake.ID, name, fromStatus, toStatus string, lastError *string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE processing_log
		 SET status = ?, last_error = ?, processed_at = ?, updated_at = ?
		 WHERE event_id = ? AND subscriber_name = ? AND status = ?`,
		toStatus,
		lastError,
		at,
		at,
		eventID,
		name,
		fromStatus,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) IncrementAttempts(ctx context.Context, db *gorm.DB, eventID snowflake.ID, name string, lastError string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE processing_log
		 SET attempts = attempts + 1, last_error = ?, updated_at = ?
		 WHERE event_id = ? AND subscriber_name = ?`,
		lastError,
		at,
		eventID,
		name,
	).Error
}
