package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/clock"
	"github.com/smallbiznis/orderhub/internal/domainevent"
	eventdomain "github.com/smallbiznis/orderhub/internal/eventstore/domain"
	"github.com/smallbiznis/orderhub/internal/observability/logger"
	"github.com/smallbiznis/orderhub/internal/order/domain"
	"github.com/smallbiznis/orderhub/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// snapshotEvery bounds replay cost: reconstructing a timeline with this many
// events past the last snapshot persists a fresh one.
const snapshotEvery = 20

type svc struct {
	db     *gorm.DB
	repo   domain.Repository
	refs   domain.ProductRefRepository
	events eventdomain.Service
	genID  *snowflake.Node
	log    *zap.Logger
	clock  clock.Clock
}

func New(conn *gorm.DB, repo domain.Repository, refs domain.ProductRefRepository, events eventdomain.Service, genID *snowflake.Node, log *zap.Logger, clk clock.Clock) domain.Service {
	return &svc{
		db:     conn,
		repo:   repo,
		refs:   refs,
		events: events,
		genID:  genID,
		log:    log.Named("order"),
		clock:  clk,
	}
}

func (s *svc) Place(ctx context.Context, input domain.PlaceOrderInput) (*domain.Order, error) {
	ids := make([]snowflake.ID, 0, len(input.Items))
	for _, item := range input.Items {
		ids = append(ids, item.ProductID)
	}
	refs, err := s.refs.FindByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}

	order, err := domain.PlaceNew(s.genID, s.clock.Now(), input.CustomerID, input.Items, refs)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, order); err != nil {
			return err
		}
		return s.appendEvents(ctx, tx, order.PendingEvents())
	})
	if err != nil {
		order.DiscardEvents()
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.Int64("total_cents", order.TotalCents),
	)
	return order, nil
}

func (s *svc) Get(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return order, nil
}

func (s *svc) List(ctx context.Context, page pagination.Pagination) ([]*domain.Order, error) {
	return s.repo.List(ctx, s.db, page)
}

func (s *svc) Pay(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	return s.mutate(ctx, id, func(order *domain.Order) error {
		return order.MarkPaid(s.genID, s.clock.Now())
	})
}

func (s *svc) Cancel(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	return s.mutate(ctx, id, func(order *domain.Order) error {
		return order.Cancel(s.genID, s.clock.Now())
	})
}

func (s *svc) History(ctx context.Context, id snowflake.ID) (*domain.History, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	history := &domain.History{
		OrderID: id,
		State:   map[string]any{},
	}

	snapshot, err := s.events.LatestSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	after := int64(0)
	if snapshot != nil {
		after = snapshot.SequenceNumber
		history.FromSnapshot = true
		history.SnapshotSequence = snapshot.SequenceNumber
		for key, value := range snapshot.State {
			history.State[key] = value
		}
	}

	events, err := s.events.ReplayAggregate(ctx, id, after)
	if err != nil {
		return nil, err
	}
	history.Events = events
	for _, event := range events {
		applyToState(history.State, event)
	}

	if len(events) >= snapshotEvery {
		last := events[len(events)-1].SequenceNumber
		if err := s.events.SaveSnapshot(ctx, id, domain.AggregateType, last, history.State); err != nil {
			logger.WithContext(ctx, s.log).Warn("order snapshot save failed",
				zap.String("order_id", id.String()),
				zap.Int64("sequence_number", last),
				zap.Error(err),
			)
		}
	}
	return history, nil
}

func (s *svc) mutate(ctx context.Context, id snowflake.ID, behavior func(*domain.Order) error) (*domain.Order, error) {
	var order *domain.Order

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}

		order = domain.Rehydrate(*state)
		if err := behavior(order); err != nil {
			return err
		}
		if err := s.repo.UpdateState(ctx, tx, order); err != nil {
			return err
		}
		return s.appendEvents(ctx, tx, order.PendingEvents())
	})
	if err != nil {
		if order != nil {
			order.DiscardEvents()
		}
		return nil, err
	}
	return order, nil
}

// appendEvents stamps the command's causal chain onto the drained facts and
// submits them to the log inside the caller's transaction.
func (s *svc) appendEvents(ctx context.Context, tx *gorm.DB, events []domainevent.Event) error {
	if len(events) == 0 {
		return nil
	}
	domainevent.Correlate(events, domainevent.NewCorrelationID(s.clock.Now()))
	_, err := s.events.Append(ctx, tx, events)
	return err
}

func applyToState(state map[string]any, event eventdomain.StoredEvent) {
	switch event.EventType {
	case domain.EventOrderPlaced:
		state["status"] = domain.StatusPlaced
		state["placed_at"] = event.OccurredAt
		for key, value := range event.Payload {
			state[key] = value
		}
	case domain.EventOrderPaid:
		state["status"] = domain.StatusPaid
		state["paid_at"] = event.OccurredAt
	case domain.EventOrderCancelled:
		state["status"] = domain.StatusCancelled
		state["cancelled_at"] = event.OccurredAt
	}
}
