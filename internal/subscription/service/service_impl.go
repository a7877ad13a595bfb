package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/clock"
	"github.com/smallbiznis/orderhub/internal/subscription/domain"
	"github.com/smallbiznis/orderhub/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type svc struct {
	db    *gorm.DB
	repo  domain.Repository
	log   *zap.Logger
	clock clock.Clock
}

func New(conn *gorm.DB, repo domain.Repository, log *zap.Logger, clk clock.Clock) domain.Service {
	return &svc{
		db:    conn,
		repo:  repo,
		log:   log.Named("subscription"),
		clock: clk,
	}
}

func (s *svc) Register(ctx context.Context, name string) (*domain.Subscription, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidSubscriber
	}

	now := s.clock.Now()
	sub := &domain.Subscription{
		SubscriberName:        name,
		LastProcessedSequence: 0,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	err := s.repo.InsertSubscription(ctx, s.db, sub)
	if err == nil {
		s.log.Info("subscriber registered", zap.String("subscriber", name))
		return sub, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, err
	}
	return s.repo.FindSubscription(ctx, s.db, name)
}

func (s *svc) CursorOf(ctx context.Context, name string) (int64, error) {
	sub, err := s.repo.FindSubscription(ctx, s.db, name)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		return 0, fmt.Errorf("%w: subscriber %s", domain.ErrNotFound, name)
	}
	return sub.LastProcessedSequence, nil
}

func (s *svc) List(ctx context.Context) ([]*domain.Subscription, error) {
	return s.repo.ListSubscriptions(ctx, s.db)
}

func (s *svc) Advance(ctx context.Context, conn *gorm.DB, name string, toSequence int64) error {
	if conn == nil {
		conn = s.db
	}
	ok, err := s.repo.AdvanceCursor(ctx, conn, name, toSequence, s.clock.Now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	sub, err := s.repo.FindSubscription(ctx, conn, name)
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("%w: subscriber %s", domain.ErrNotFound, name)
	}
	return fmt.Errorf("%w: subscriber %s cursor at %d, refused %d",
		domain.ErrStaleAdvance, name, sub.LastProcessedSequence, toSequence)
}

func (s *svc) SettledEntries(ctx context.Context, name string, eventIDs []snowflake.ID) (map[snowflake.ID]domain.ProcessingLogEntry, error) {
	entries, err := s.repo.FindEntries(ctx, s.db, eventIDs, name)
	if err != nil {
		return nil, err
	}
	settled := make(map[snowflake.ID]domain.ProcessingLogEntry, len(entries))
	for _, entry := range entries {
		if entry.Consumed() {
			settled[entry.EventID] = *entry
		}
	}
	return settled, nil
}

func (s *svc) MarkProcessed(ctx context.Context, name string, eventID snowflake.ID, toSequence int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.settleEntry(ctx, tx, name, eventID, domain.ProcessingStatusProcessed); err != nil {
			return err
		}
		return s.Advance(ctx, tx, name, toSequence)
	})
}

func (s *svc) RecordFailure(ctx context.Context, name string, eventID snowflake.ID, cause error) (int, error) {
	message := cause.Error()
	now := s.clock.Now()

	entry, err := s.repo.FindEntry(ctx, s.db, eventID, name)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		insert := &domain.ProcessingLogEntry{
			EventID:        eventID,
			SubscriberName: name,
			Status:         domain.ProcessingStatusFailed,
			Attempts:       1,
			LastError:      &message,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.InsertEntry(ctx, s.db, insert); err != nil {
			if db.IsDuplicateKeyErr(err) {
				// Another attempt annotated first; fold into it.
				return 0, s.repo.IncrementAttempts(ctx, s.db, eventID, name, message, now)
			}
			return 0, err
		}
		return 1, nil
	}
	if entry.Consumed() {
		return entry.Attempts, nil
	}
	if err := s.repo.IncrementAttempts(ctx, s.db, eventID, name, message, now); err != nil {
		return 0, err
	}
	return entry.Attempts + 1, nil
}

func (s *svc) MarkDeadLetter(ctx context.Context, name string, eventID snowflake.ID, toSequence int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.settleEntry(ctx, tx, name, eventID, domain.ProcessingStatusDeadLetter); err != nil {
			return err
		}
		return s.Advance(ctx, tx, name, toSequence)
	})
}

// settleEntry moves the ledger row for (event, subscriber) into a terminal
// status, creating the row when no failed attempt preceded it. Concurrent
// duplicate attempts fail safe to "already settled".
func (s *svc) settleEntry(ctx context.Context, tx *gorm.DB, name string, eventID snowflake.ID, status string) error {
	now := s.clock.Now()

	ok, err := s.repo.UpdateEntryStatus(ctx, tx, eventID, name, domain.ProcessingStatusFailed, status, nil, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	entry, err := s.repo.FindEntry(ctx, tx, eventID, name)
	if err != nil {
		return err
	}
	if entry != nil {
		if entry.Consumed() {
			return nil
		}
		_, err := s.repo.UpdateEntryStatus(ctx, tx, eventID, name, entry.Status, status, entry.LastError, now)
		return err
	}

	insert := &domain.ProcessingLogEntry{
		EventID:        eventID,
		SubscriberName: name,
		Status:         status,
		Attempts:       1,
		ProcessedAt:    &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertEntry(ctx, tx, insert); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	return nil
}
