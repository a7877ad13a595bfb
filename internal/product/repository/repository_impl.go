package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orderhub/internal/product/domain"
	"github.com/smallbiznis/orderhub/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO products (id, name, slug, description, price_cents, currency, stock_on_hand, stock_reserved, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID,
		product.Name,
		product.Slug,
		product.Description,
		product.PriceCents,
		product.Currency,
		product.StockOnHand,
		product.StockReserved,
		product.Status,
		product.CreatedAt,
		product.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var product domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, description, price_cents, currency, stock_on_hand, stock_reserved, status, created_at, updated_at
		 FROM products WHERE id = ?`,
		id,
	).Scan(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ID == 0 {
		return nil, nil
	}
	return &product, nil
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Product, error) {
	var product domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, description, price_cents, currency, stock_on_hand, stock_reserved, status, created_at, updated_at
		 FROM products WHERE slug = ?`,
		slug,
	).Scan(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ID == 0 {
		return nil, nil
	}
	return &product, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]*domain.Product, error) {
	query := db.WithContext(ctx).
		Model(&domain.Product{}).
		Order("id asc").
		Limit(page.Limit())

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		query = query.Where("id > ?", cursor.ID)
	}

	var products []*domain.Product
	if err := query.Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Exec(
		`UPDATE products
		 SET name = ?, description = ?, price_cents = ?, currency = ?, stock_on_hand = ?, stock_reserved = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		product.Name,
		product.Description,
		product.PriceCents,
		product.Currency,
		product.StockOnHand,
		product.StockReserved,
		product.Status,
		product.UpdatedAt,
		product.ID,
	).Error
}
