package rollup

import (
	"context"
	"encoding/json"

	"github.com/smallbiznis/orderhub/internal/clock"
	eventdomain "github.com/smallbiznis/orderhub/internal/eventstore/domain"
	"github.com/smallbiznis/orderhub/internal/observability/logger"
	orderdomain "github.com/smallbiznis/orderhub/internal/order/domain"
	"github.com/smallbiznis/orderhub/internal/reporting/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubscriberName identifies the rollup consumer in the subscription registry
// and the processing log.
const SubscriberName = "reporting-rollup"

// Rollup folds order events into per-day stats. It progresses independently
// of every other subscriber; a stall here never delays the projector. The
// processing log filters redelivery in steady state; a crash between apply
// and settle can recount one event into a day bucket, which the rollup
// tolerates as approximate.
type Rollup struct {
	db    *gorm.DB
	repo  domain.Repository
	log   *zap.Logger
	clock clock.Clock
}

func New(conn *gorm.DB, repo domain.Repository, log *zap.Logger, clk clock.Clock) *Rollup {
	return &Rollup{
		db:    conn,
		repo:  repo,
		log:   log.Named("reporting.rollup"),
		clock: clk,
	}
}

func (r *Rollup) SubscriberName() string { return SubscriberName }

func (r *Rollup) Handle(ctx context.Context, event eventdomain.StoredEvent) error {
	if event.AggregateType != orderdomain.AggregateType {
		return nil
	}

	day := event.OccurredAt.UTC().Format("2006-01-02")
	currency := payloadString(event.Payload, "currency")
	if currency == "" {
		currency = "USD"
	}
	now := r.clock.Now()

	var err error
	switch event.EventType {
	case orderdomain.EventOrderPlaced:
		err = r.repo.AddPlaced(ctx, r.db, day, currency, now)
	case orderdomain.EventOrderPaid:
		err = r.repo.AddPaid(ctx, r.db, day, currency, payloadInt64(event.Payload, "total_cents"), now)
	case orderdomain.EventOrderCancelled:
		err = r.repo.AddCancelled(ctx, r.db, day, currency, now)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	logger.WithContext(ctx, r.log).Debug("daily stats updated",
		zap.String("day", day),
		zap.String("event_type", event.EventType),
		zap.Int64("sequence_number", event.SequenceNumber),
	)
	return nil
}

func payloadString(payload map[string]any, key string) string {
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}

func payloadInt64(payload map[string]any, key string) int64 {
	switch value := payload[key].(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case float64:
		return int64(value)
	case json.Number:
		n, err := value.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
