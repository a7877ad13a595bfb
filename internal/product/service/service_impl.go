package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/clock"
	"github.com/smallbiznis/orderhub/internal/domainevent"
	eventdomain "github.com/smallbiznis/orderhub/internal/eventstore/domain"
	"github.com/smallbiznis/orderhub/internal/observability/logger"
	"github.com/smallbiznis/orderhub/internal/product/domain"
	"github.com/smallbiznis/orderhub/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type svc struct {
	db     *gorm.DB
	repo   domain.Repository
	events eventdomain.Service
	genID  *snowflake.Node
	log    *zap.Logger
	clock  clock.Clock
}

func New(conn *gorm.DB, repo domain.Repository, events eventdomain.Service, genID *snowflake.Node, log *zap.Logger, clk clock.Clock) domain.Service {
	return &svc{
		db:     conn,
		repo:   repo,
		events: events,
		genID:  genID,
		log:    log.Named("product"),
		clock:  clk,
	}
}

func (s *svc) Create(ctx context.Context, input domain.CreateProductInput) (*domain.Product, error) {
	product, err := domain.NewProduct(
		s.genID,
		s.clock.Now(),
		input.Name,
		input.Description,
		input.PriceCents,
		input.Currency,
		input.InitialStock,
	)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, product); err != nil {
			return err
		}
		return s.appendEvents(ctx, tx, product.PendingEvents())
	})
	if err != nil {
		product.DiscardEvents()
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("product created",
		zap.String("product_id", product.ID.String()),
		zap.String("slug", product.Slug),
	)
	return product, nil
}

func (s *svc) Get(ctx context.Context, id snowflake.ID) (*domain.Product, error) {
	product, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return product, nil
}

func (s *svc) List(ctx context.Context, page pagination.Pagination) ([]*domain.Product, error) {
	return s.repo.List(ctx, s.db, page)
}

func (s *svc) ChangePrice(ctx context.Context, id snowflake.ID, priceCents int64) (*domain.Product, error) {
	return s.mutate(ctx, id, func(product *domain.Product) error {
		return product.ChangePrice(s.genID, s.clock.Now(), priceCents)
	})
}

func (s *svc) ReserveStock(ctx context.Context, id snowflake.ID, quantity int64) (*domain.Product, error) {
	return s.mutate(ctx, id, func(product *domain.Product) error {
		return product.ReserveStock(s.genID, s.clock.Now(), quantity)
	})
}

func (s *svc) ReleaseStock(ctx context.Context, id snowflake.ID, quantity int64) (*domain.Product, error) {
	return s.mutate(ctx, id, func(product *domain.Product) error {
		return product.ReleaseStock(s.genID, s.clock.Now(), quantity)
	})
}

// mutate loads the aggregate, applies one behavior and commits the state
// change together with the facts it produced.
func (s *svc) mutate(ctx context.Context, id snowflake.ID, behavior func(*domain.Product) error) (*domain.Product, error) {
	var product *domain.Product

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}

		product = domain.Rehydrate(*state)
		if err := behavior(product); err != nil {
			return err
		}
		if err := s.repo.UpdateState(ctx, tx, product); err != nil {
			return err
		}
		return s.appendEvents(ctx, tx, product.PendingEvents())
	})
	if err != nil {
		if product != nil {
			product.DiscardEvents()
		}
		return nil, err
	}
	return product, nil
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
