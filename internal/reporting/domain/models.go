package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// OrderDailyStat is one day of rolled-up order activity per currency.
type OrderDailyStat struct {
	Day           string    `gorm:"primaryKey;type:text" json:"day"`
	Currency      string    `gorm:"primaryKey;type:text" json:"currency"`
	OrdersPlaced  int64     `gorm:"not null" json:"orders_placed"`
	OrdersPaid    int64     `gorm:"not null" json:"orders_paid"`
	RevenueCents  int64     `gorm:"not null" json:"revenue_cents"`
	OrdersDropped int64     `gorm:"not null" json:"orders_dropped"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName sets the database table name.
func (OrderDailyStat) TableName() string { return "order_daily_stats" }

type Repository interface {
	AddPlaced(ctx context.Context, db *gorm.DB, day, currency string, at time.Time) error
	AddPaid(ctx context.Context, db *gorm.DB, day, currency string, revenueCents int64, at time.Time) error
	AddCancelled(ctx context.Context, db *gorm.DB, day, currency string, at time.Time) error
	FindRange(ctx context.Context, db *gorm.DB, fromDay, toDay string) ([]*OrderDailyStat, error)
}
