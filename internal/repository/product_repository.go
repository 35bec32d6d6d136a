package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/adilzhan/dealsync/internal/model"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) UpsertProducts(ctx context.Context, products []model.Product) error {
	if len(products) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, product := range products {
			if err := tx.Exec(`
				INSERT INTO products (id, name)
				VALUES (?, ?)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
			`, product.ID, product.Name).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ProductRepository) ListProducts(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	if err := r.db.WithContext(ctx).Raw(`
		SELECT id, name FROM products ORDER BY name
	`).Scan(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *ProductRepository) DeleteProduct(ctx context.Context, productID int64) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM products WHERE id = ?`, productID).Error
}
