package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/clock"
	"github.com/smallbiznis/orderhub/internal/domainevent"
	"github.com/smallbiznis/orderhub/internal/eventstore/domain"
	"github.com/smallbiznis/orderhub/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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
		log:   log.Named("eventstore"),
		clock: clk,
	}
}

func (s *svc) Append(ctx context.Context, tx *gorm.DB, batch []domainevent.Event) ([]domain.StoredEvent, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	if tx != nil {
		out, err := s.appendTx(ctx, tx, batch)
		if err != nil && db.IsDuplicateKeyErr(err) {
			// A concurrent append won the unique index race inside a
			// caller-owned transaction; the caller decides whether to retry
			// the whole business operation.
			return nil, fmt.Errorf("%w: %v", domain.ErrAppendConflict, err)
		}
		return out, err
	}

	out, err := s.appendOwnTx(ctx, batch)
	if err != nil && db.IsDuplicateKeyErr(err) {
		// Lost a same-event-id race; the winner's rows are committed now, so
		// a second pass resolves them through the duplicate check.
		return s.appendOwnTx(ctx, batch)
	}
	return out, err
}

func (s *svc) appendOwnTx(ctx context.Context, batch []domainevent.Event) ([]domain.StoredEvent, error) {
	var out []domain.StoredEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.appendTx(ctx, tx, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *svc) appendTx(ctx context.Context, tx *gorm.DB, batch []domainevent.Event) ([]domain.StoredEvent, error) {
	eventIDs := make([]snowflake.ID, 0, len(batch))
	for _, e := range batch {
		eventIDs = append(eventIDs, e.EventID)
	}

	existingRows, err := s.repo.FindByEventIDs(ctx, tx, eventIDs)
	if err != nil {
		return nil, err
	}
	existing := make(map[snowflake.ID]*domain.StoredEvent, len(existingRows))
	for _, row := range existingRows {
		existing[row.EventID] = row
	}

	newCount := 0
	for _, e := range batch {
		prev, ok := existing[e.EventID]
		if !ok {
			newCount++
			continue
		}
		if !contentMatches(prev, e) {
			return nil, fmt.Errorf("%w: event %s resubmitted with different content", domain.ErrDataConflict, e.EventID)
		}
	}

	var sequence int64
	if newCount > 0 {
		last, err := s.repo.ReserveSequences(ctx, tx, newCount)
		if err != nil {
			return nil, err
		}
		sequence = last - int64(newCount)
	}

	recordedAt := s.clock.Now()
	out := make([]domain.StoredEvent, 0, len(batch))
	for _, e := range batch {
		if prev, ok := existing[e.EventID]; ok {
			out = append(out, *prev)
			continue
		}
		sequence++
		stored := domain.StoredEvent{
			SequenceNumber: sequence,
			EventID:        e.EventID,
			EventType:      e.EventType,
			AggregateID:    e.AggregateID,
			AggregateType:  e.AggregateType,
			Payload:        datatypes.JSONMap(e.Payload),
			OccurredAt:     e.OccurredAt,
			CorrelationID:  optionalString(e.CorrelationID),
			CausationID:    optionalString(e.CausationID),
			RecordedAt:     recordedAt,
		}
		if err := s.repo.InsertEvent(ctx, tx, &stored); err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *svc) ReadAfter(ctx context.Context, afterSequence int64, limit int) ([]domain.StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.repo.ReadAfter(ctx, s.db, afterSequence, limit)
	if err != nil {
		return nil, err
	}
	return dereference(rows), nil
}

func (s *svc) Head(ctx context.Context) (int64, error) {
	return s.repo.HighestSequence(ctx, s.db)
}

func (s *svc) SaveSnapshot(ctx context.Context, aggregateID snowflake.ID, aggregateType string, sequence int64, state map[string]any) error {
	snapshot := domain.AggregateSnapshot{
		AggregateID:    aggregateID,
		SequenceNumber: sequence,
		AggregateType:  aggregateType,
		State:          datatypes.JSONMap(state),
		CreatedAt:      s.clock.Now(),
	}
	err := s.repo.InsertSnapshot(ctx, s.db, &snapshot)
	if err != nil && db.IsDuplicateKeyErr(err) {
		// Snapshot at this point already exists; replay reaches the same state.
		return nil
	}
	return err
}

func (s *svc) LatestSnapshot(ctx context.Context, aggregateID snowflake.ID) (*domain.AggregateSnapshot, error) {
	return s.repo.LatestSnapshot(ctx, s.db, aggregateID)
}

func (s *svc) ReplayAggregate(ctx context.Context, aggregateID snowflake.ID, afterSequence int64) ([]domain.StoredEvent, error) {
	rows, err := s.repo.ReadAggregateAfter(ctx, s.db, aggregateID, afterSequence)
	if err != nil {
		return nil, err
	}
	return dereference(rows), nil
}

func contentMatches(prev *domain.StoredEvent, e domainevent.Event) bool {
	if prev.EventType != e.EventType ||
		prev.AggregateID != e.AggregateID ||
		prev.AggregateType != e.AggregateType {
		return false
	}
	return payloadEqual(map[string]any(prev.Payload), e.Payload)
}

// payloadEqual compares payloads through canonical JSON so that a retried
// in-memory batch matches its stored counterpart despite scan-time type
// differences.
func payloadEqual(a, b map[string]any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func dereference(rows []*domain.StoredEvent) []domain.StoredEvent {
	out := make([]domain.StoredEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out
}
