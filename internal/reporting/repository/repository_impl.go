package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/orderhub/internal/reporting/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) AddPlaced(ctx context.Context, db *gorm.DB, day, currency string, at time.Time) error {
	return r.upsert(ctx, db, &domain.OrderDailyStat{
		Day:          day,
		Currency:     currency,
		OrdersPlaced: 1,
		UpdatedAt:    at,
	}, "orders_placed")
}

func (r *repo) AddPaid(ctx context.Context, db *gorm.DB, day, currency string, revenueCents int64, at time.Time) error {
	return r.upsert(ctx, db, &domain.OrderDailyStat{
		Day:          day,
		Currency:     currency,
		OrdersPaid:   1,
		RevenueCents: revenueCents,
		UpdatedAt:    at,
	}, "orders_paid", "revenue_cents")
}

func (r *repo) AddCancelled(ctx context.Context, db *gorm.DB, day, currency string, at time.Time) error {
	return r.upsert(ctx, db, &domain.OrderDailyStat{
		Day:           day,
		Currency:      currency,
		OrdersDropped: 1,
		UpdatedAt:     at,
	}, "orders_dropped")
}

// upsert inserts the seed row or adds its counter columns onto the existing
// day row.
func (r *repo) upsert(ctx context.Context, db *gorm.DB, stat *domain.OrderDailyStat, counters ...string) error {
	assignments := make(map[string]any, len(counters)+1)
	assignments["updated_at"] = stat.UpdatedAt
	for _, column := range counters {
		assignments[column] = gorm.Expr(column+" + ?", counterValue(stat, column))
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "day"}, {Name: "currency"}},
			DoUpdates: clause.Assignments(assignments),
		}).
		Create(stat).Error
}

func counterValue(stat *domain.OrderDailyStat, column string) int64 {
	switch column {
	case "orders_placed":
		return stat.OrdersPlaced
	case "orders_paid":
		return stat.OrdersPaid
	case "revenue_cents":
		return stat.RevenueCents
	case "orders_dropped":
		return stat.OrdersDropped
	default:
		return 0
	}
}

func (r *repo) FindRange(ctx context.Context, db *gorm.DB, fromDay, toDay string) ([]*domain.OrderDailyStat, error) {
	var stats []*domain.OrderDailyStat
	err := db.WithContext(ctx).
		Model(&domain.OrderDailyStat{}).
		Where("day >= ? AND day <= ?", fromDay, toDay).
		Order("day asc, currency asc").
		Find(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
