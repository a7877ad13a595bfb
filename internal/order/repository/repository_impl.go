package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/order/domain"
	"github.com/smallbiznis/orderhub/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", id).
		Take(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]*domain.Order, error) {
	query := db.WithContext(ctx).
		Model(&domain.Order{}).
		Order("id asc").
		Limit(page.Limit())

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		query = query.Where("id > ?", cursor.ID)
	}

	var orders []*domain.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":     order.Status,
			"paid_at":    order.PaidAt,
			"updated_at": order.UpdatedAt,
		}).Error
}

type refRepo struct{}

func ProvideProductRefs() domain.ProductRefRepository {
	return &refRepo{}
}

func (r *refRepo) Upsert(ctx context.Context, db *gorm.DB, ref *domain.ProductRef) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "slug", "price_cents", "currency", "available", "updated_at",
			}),
		}).
		Create(ref).Error
}

func (r *refRepo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]domain.ProductRef, error) {
	if len(ids) == 0 {
		return map[snowflake.ID]domain.ProductRef{}, nil
	}
	var refs []domain.ProductRef
	err := db.WithContext(ctx).
		Model(&domain.ProductRef{}).
		Where("product_id IN ?", ids).
		Find(&refs).Error
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]domain.ProductRef, len(refs))
	for _, ref := range refs {
		out[ref.ProductID] = ref
	}
	return out, nil
}

func (r *refRepo) SetPrice(ctx context.Context, db *gorm.DB, productID snowflake.ID, priceCents int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE order_product_refs SET price_cents = ?, updated_at = ? WHERE product_id = ?`,
		priceCents,
		at,
		productID,
	).Error
}

func (r *refRepo) SetAvailability(ctx context.Context, db *gorm.DB, productID snowflake.ID, available int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE order_product_refs SET available = ?, updated_at = ? WHERE product_id = ?`,
		available,
		at,
		productID,
	).Error
}
