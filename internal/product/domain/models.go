package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/orderhub/internal/domainevent"
)

const AggregateType = "product"

const (
	EventProductCreated      = "product.created"
	EventProductPriceChanged = "product.price_changed"
	EventStockReserved       = "product.stock_reserved"
	EventStockReleased       = "product.stock_released"
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

var (
	ErrInvalidName       = errors.New("product name is required")
	ErrInvalidPrice      = errors.New("product price must be positive")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("product not found")
)

// Product is the catalog aggregate. Behavior methods are the only mutators of
// its fields; every state change records a fact into the event buffer. One
// instance serves one operation and must not be shared across goroutines.
type Product struct {
	ID            snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name          string       `gorm:"type:text;not null" json:"name"`
	Slug          string       `gorm:"type:text;not null;uniqueIndex:ux_products_slug" json:"slug"`
	Description   string       `gorm:"type:text" json:"description"`
	PriceCents    int64        `gorm:"not null" json:"price_cents"`
	Currency      string       `gorm:"type:text;not null" json:"currency"`
	StockOnHand   int64        `gorm:"not null" json:"stock_on_hand"`
	StockReserved int64        `gorm:"not null" json:"stock_reserved"`
	Status        string       `gorm:"type:text;not null" json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`

	buffer domainevent.Buffer `gorm:"-" json:"-"`
}

// TableName sets the database table name.
func (Product) TableName() string { return "products" }

// NewProduct is the creation path: it enforces creation invariants and records
// the ProductCreated fact.
func NewProduct(genID *snowflake.Node, now time.Time, name, description string, priceCents int64, currency string, initialStock int64) (*Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if priceCents <= 0 {
		return nil, ErrInvalidPrice
	}
	if initialStock < 0 {
		return nil, fmt.Errorf("%w: initial stock %d", ErrInvalidQuantity, initialStock)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}

	p := &Product{
		ID:          genID.Generate(),
		Name:        name,
		Slug:        slug.Make(name),
		Description: strings.TrimSpace(description),
		PriceCents:  priceCents,
		Currency:    currency,
		StockOnHand: initialStock,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.record(genID, now, EventProductCreated, map[string]any{
		"name":        p.Name,
		"slug":        p.Slug,
		"price_cents": p.PriceCents,
		"currency":    p.Currency,
		"stock":       p.StockOnHand,
	})
	return p, nil
}

// Rehydrate is the reconstruction path: it accepts persisted state as-is and
// records nothing. Creation invariants do not apply to state that already
// passed them.
func Rehydrate(state Product) *Product {
	p := state
	p.buffer = domainevent.Buffer{}
	return &p
}

func (p *Product) ChangePrice(genID *snowflake.Node, now time.Time, priceCents int64) error {
	if priceCents <= 0 {
		return ErrInvalidPrice
	}
	if priceCents == p.PriceCents {
		return nil
	}
	previous := p.PriceCents
	p.PriceCents = priceCents
	p.UpdatedAt = now
	p.record(genID, now, EventProductPriceChanged, map[string]any{
		"previous_price_cents": previous,
		"price_cents":          priceCents,
		"currency":             p.Currency,
	})
	return nil
}

func (p *Product) ReserveStock(genID *snowflake.Node, now time.Time, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	available := p.StockOnHand - p.StockReserved
	if quantity > available {
		return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, quantity, available)
	}
	p.StockReserved += quantity
	p.UpdatedAt = now
	p.record(genID, now, EventStockReserved, map[string]any{
		"quantity": quantity,
		"reserved": p.StockReserved,
		"on_hand":  p.StockOnHand,
	})
	return nil
}

func (p *Product) ReleaseStock(genID *snowflake.Node, now time.Time, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > p.StockReserved {
		return fmt.Errorf("%w: release %d exceeds reserved %d", ErrInvalidQuantity, quantity, p.StockReserved)
	}
	p.StockReserved -= quantity
	p.UpdatedAt = now
	p.record(genID, now, EventStockReleased, map[string]any{
		"quantity": quantity,
		"reserved": p.StockReserved,
		"on_hand":  p.StockOnHand,
	})
	return nil
}

// PendingEvents drains the buffered facts in registration order.
func (p *Product) PendingEvents() []domainevent.Event {
	return p.buffer.Drain()
}

// DiscardEvents abandons buffered facts when the operation fails.
func (p *Product) DiscardEvents() {
	p.buffer.Discard()
}

func (p *Product) record(genID *snowflake.Node, now time.Time, eventType string, payload map[string]any) {
	p.buffer.Record(domainevent.New(genID, now, eventType, AggregateType, p.ID, payload))
}
