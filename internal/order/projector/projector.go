package projector

import (
	"context"
	"encoding/json"

	"github.com/smallbiznis/orderhub/internal/clock"
	eventdomain "github.com/smallbiznis/orderhub/internal/eventstore/domain"
	"github.com/smallbiznis/orderhub/internal/observability/logger"
	"github.com/smallbiznis/orderhub/internal/order/domain"
	productdomain "github.com/smallbiznis/orderhub/internal/product/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubscriberName identifies the projection consumer in the subscription
// registry and the processing log.
const SubscriberName = "orders-products-projector"

// Projector folds catalog events into the orders-local product reference
// table. Delivery is at least once; every apply is a full-row upsert or an
// absolute column set, so re-applying an event is harmless.
type Projector struct {
	db    *gorm.DB
	refs  domain.ProductRefRepository
	log   *zap.Logger
	clock clock.Clock
}

func New(conn *gorm.DB, refs domain.ProductRefRepository, log *zap.Logger, clk clock.Clock) *Projector {
	return &Projector{
		db:    conn,
		refs:  refs,
		log:   log.Named("order.projector"),
		clock: clk,
	}
}

func (p *Projector) SubscriberName() string { return SubscriberName }

func (p *Projector) Handle(ctx context.Context, event eventdomain.StoredEvent) error {
	if event.AggregateType != productdomain.AggregateType {
		return nil
	}

	now := p.clock.Now()
	switch event.EventType {
	case productdomain.EventProductCreated:
		ref := &domain.ProductRef{
			ProductID:  event.AggregateID,
			Name:       payloadString(event.Payload, "name"),
			Slug:       payloadString(event.Payload, "slug"),
			PriceCents: payloadInt64(event.Payload, "price_cents"),
			Currency:   payloadString(event.Payload, "currency"),
			Available:  payloadInt64(event.Payload, "stock"),
			UpdatedAt:  now,
		}
		if err := p.refs.Upsert(ctx, p.db, ref); err != nil {
			return err
		}
	case productdomain.EventProductPriceChanged:
		if err := p.refs.SetPrice(ctx, p.db, event.AggregateID, payloadInt64(event.Payload, "price_cents"), now); err != nil {
			return err
		}
	case productdomain.EventStockReserved, productdomain.EventStockReleased:
		available := payloadInt64(event.Payload, "on_hand") - payloadInt64(event.Payload, "reserved")
		if err := p.refs.SetAvailability(ctx, p.db, event.AggregateID, available, now); err != nil {
			return err
		}
	default:
		return nil
	}

	logger.WithContext(ctx, p.log).Debug("product reference updated",
		zap.String("product_id", event.AggregateID.String()),
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

// payloadInt64 tolerates the numeric types a JSON payload round-trips
// through: int64 before storage, float64 or json.Number after.
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
