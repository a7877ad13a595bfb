package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/pkg/db/pagination"
)

// CreateProductInput carries the fields accepted at creation time.
type CreateProductInput struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	PriceCents   int64  `json:"price_cents"`
	Currency     string `json:"currency"`
	InitialStock int64  `json:"initial_stock"`
}

// Service persists catalog state changes together with the facts they
// produce, in one transaction.
type Service interface {
	Create(ctx context.Context, input CreateProductInput) (*Product, error)
	Get(ctx context.Context, id snowflake.ID) (*Product, error)
	List(ctx context.Context, page pagination.Pagination) ([]*Product, error)
	ChangePrice(ctx context.Context, id snowflake.ID, priceCents int64) (*Product, error)
	ReserveStock(ctx context.Context, id snowflake.ID, quantity int64) (*Product, error)
	ReleaseStock(ctx context.Context, id snowflake.ID, quantity int64) (*Product, error)
}
