package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	List(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]*Order, error)
	UpdateState(ctx context.Context, db *gorm.DB, order *Order) error
}

// ProductRefRepository maintains the orders-local catalog projection.
type ProductRefRepository interface {
	Upsert(ctx context.Context, db *gorm.DB, ref *ProductRef) error
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]ProductRef, error)
	SetPrice(ctx context.Context, db *gorm.DB, productID snowflake.ID, priceCents int64, at time.Time) error
	SetAvailability(ctx context.Context, db *gorm.DB, productID snowflake.ID, available int64, at time.Time) error
}
