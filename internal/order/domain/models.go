package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/domainevent"
	"gorm.io/datatypes"
)

const AggregateType = "order"

const (
	EventOrderPlaced    = "order.placed"
	EventOrderPaid      = "order.paid"
	EventOrderCancelled = "order.cancelled"
)

const (
	StatusPlaced    = "placed"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

var (
	ErrEmptyOrder         = errors.New("order has no items")
	ErrInvalidQuantity    = errors.New("item quantity must be positive")
	ErrUnknownProduct     = errors.New("unknown product")
	ErrInvalidTransition  = errors.New("invalid order transition")
	ErrNotFound           = errors.New("order not found")
	ErrInvalidCustomer    = errors.New("customer id is required")
	ErrCurrencyMismatch   = errors.New("order items must share one currency")
	ErrProductRefNotFound = errors.New("product reference not found")
)

// OrderItem is one priced line of an order. Prices are captured from the
// local product reference at placement time.
type OrderItem struct {
	ProductID      snowflake.ID `json:"product_id"`
	ProductName    string       `json:"product_name"`
	Quantity       int64        `json:"quantity"`
	UnitPriceCents int64        `json:"unit_price_cents"`
}

// Order is the orders aggregate. Behavior methods are the sole mutators and
// the sole place facts are recorded. One instance serves one operation.
type Order struct {
	ID         snowflake.ID                   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	CustomerID string                         `gorm:"type:text;not null;index" json:"customer_id"`
	Status     string                         `gorm:"type:text;not null;index" json:"status"`
	Items      datatypes.JSONSlice[OrderItem] `gorm:"not null" json:"items"`
	TotalCents int64                          `gorm:"not null" json:"total_cents"`
	Currency   string                         `gorm:"type:text;not null" json:"currency"`
	PlacedAt   time.Time                      `gorm:"not null" json:"placed_at"`
	PaidAt     *time.Time                     `json:"paid_at,omitempty"`
	CreatedAt  time.Time                      `json:"created_at"`
	UpdatedAt  time.Time                      `json:"updated_at"`

	buffer domainevent.Buffer `gorm:"-" json:"-"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// ProductRef is the orders-local projection of the catalog, maintained by the
// orders-products-projector subscriber. Order placement prices against this
// table and never queries the catalog context directly.
type ProductRef struct {
	ProductID  snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"product_id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	Slug       string       `gorm:"type:text;not null" json:"slug"`
	PriceCents int64        `gorm:"not null" json:"price_cents"`
	Currency   string       `gorm:"type:text;not null" json:"currency"`
	Available  int64        `gorm:"not null" json:"available"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// TableName sets the database table name.
func (ProductRef) TableName() string { return "order_product_refs" }

// ItemRequest is one requested line before pricing.
type ItemRequest struct {
	ProductID snowflake.ID `json:"product_id"`
	Quantity  int64        `json:"quantity"`
}

// PlaceNew prices the requested items against the local product references,
// enforces placement invariants and records OrderPlaced.
func PlaceNew(genID *snowflake.Node, now time.Time, customerID string, requests []ItemRequest, refs map[snowflake.ID]ProductRef) (*Order, error) {
	if customerID == "" {
		return nil, ErrInvalidCustomer
	}
	if len(requests) == 0 {
		return nil, ErrEmptyOrder
	}

	items := make([]OrderItem, 0, len(requests))
	var total int64
	currency := ""
	for _, req := range requests {
		if req.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s quantity %d", ErrInvalidQuantity, req.ProductID, req.Quantity)
		}
		ref, ok := refs[req.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, req.ProductID)
		}
		if currency == "" {
			currency = ref.Currency
		} else if currency != ref.Currency {
			return nil, ErrCurrencyMismatch
		}
		items = append(items, OrderItem{
			ProductID:      ref.ProductID,
			ProductName:    ref.Name,
			Quantity:       req.Quantity,
			UnitPriceCents: ref.PriceCents,
		})
		total += req.Quantity * ref.PriceCents
	}

	o := &Order{
		ID:         genID.Generate(),
		CustomerID: customerID,
		Status:     StatusPlaced,
		Items:      datatypes.NewJSONSlice(items),
		TotalCents: total,
		Currency:   currency,
		PlacedAt:   now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.record(genID, now, EventOrderPlaced, map[string]any{
		"customer_id": o.CustomerID,
		"total_cents": o.TotalCents,
		"currency":    o.Currency,
		"item_count":  len(items),
	})
	return o, nil
}

// Rehydrate reconstructs an order from persisted state without running
// placement invariants or recording facts.
func Rehydrate(state Order) *Order {
	o := state
	o.buffer = domainevent.Buffer{}
	return &o
}

func (o *Order) MarkPaid(genID *snowflake.Node, now time.Time) error {
	if o.Status != StatusPlaced {
		return fmt.Errorf("%w: cannot pay a %s order", ErrInvalidTransition, o.Status)
	}
	o.Status = StatusPaid
	o.PaidAt = &now
	o.UpdatedAt = now
	o.record(genID, now, EventOrderPaid, map[string]any{
		"total_cents": o.TotalCents,
		"currency":    o.Currency,
	})
	return nil
}

func (o *Order) Cancel(genID *snowflake.Node, now time.Time) error {
	if o.Status != StatusPlaced {
		return fmt.Errorf("%w: cannot cancel a %s order", ErrInvalidTransition, o.Status)
	}
	o.Status = StatusCancelled
	o.UpdatedAt = now
	o.record(genID, now, EventOrderCancelled, map[string]any{
		"total_cents": o.TotalCents,
		"currency":    o.Currency,
	})
	return nil
}

// PendingEvents drains the buffered facts in registration order.
func (o *Order) PendingEvents() []domainevent.Event {
	return o.buffer.Drain()
}

// DiscardEvents abandons buffered facts when the operation fails.
func (o *Order) DiscardEvents() {
	o.buffer.Discard()
}

func (o *Order) record(genID *snowflake.Node, now time.Time, eventType string, payload map[string]any) {
	o.buffer.Record(domainevent.New(genID, now, eventType, AggregateType, o.ID, payload))
}
