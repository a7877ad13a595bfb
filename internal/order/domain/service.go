package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/orderhub/internal/eventstore/domain"
	"github.com/smallbiznis/orderhub/pkg/db/pagination"
)

// PlaceOrderInput carries a placement request before pricing.
type PlaceOrderInput struct {
	CustomerID string        `json:"customer_id"`
	Items      []ItemRequest `json:"items"`
}

// History is an order's reconstructed timeline: the state replayed from the
// latest snapshot plus every fact recorded after it.
type History struct {
	OrderID          snowflake.ID              `json:"order_id"`
	State            map[string]any            `json:"state"`
	FromSnapshot     bool                      `json:"from_snapshot"`
	SnapshotSequence int64                     `json:"snapshot_sequence,omitempty"`
	Events           []eventdomain.StoredEvent `json:"events"`
}

type Service interface {
	Place(ctx context.Context, input PlaceOrderInput) (*Order, error)
	Get(ctx context.Context, id snowflake.ID) (*Order, error)
	List(ctx context.Context, page pagination.Pagination) ([]*Order, error)
	Pay(ctx context.Context, id snowflake.ID) (*Order, error)
	Cancel(ctx context.Context, id snowflake.ID) (*Order, error)

	// History reconstructs the order timeline from the event log, seeded by
	// the latest snapshot when one exists.
	History(ctx context.Context, id snowflake.ID) (*History, error)
}
