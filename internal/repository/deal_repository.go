package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/adilzhan/dealsync/internal/model"
)

type DealRepository struct {
	db *gorm.DB
}

func NewDealRepository(db *gorm.DB) *DealRepository {
	return &DealRepository{db: db}
}

// UpsertDeals writes CRM deal records insert-or-update keyed by id. The
// static city-code translation happens here, at write time, so the
// cache only ever holds display names.
func (r *DealRepository) UpsertDeals(ctx context.Context, deals []model.Deal) error {
	if len(deals) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, deal := range deals {
			city := model.CityName(deal.City)
			if err := tx.Exec(`
				INSERT INTO deals (id, title, date_create, assigned_id, city, service_price)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET
					title = EXCLUDED.title,
					date_create = EXCLUDED.date_create,
					assigned_id = EXCLUDED.assigned_id,
					city = EXCLUDED.city,
					service_price = EXCLUDED.service_price
			`, deal.ID, deal.Title, deal.DateCreate, deal.AssignedID, city, deal.ServicePrice).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// MaxDealID returns the incremental-sync watermark, zero for an empty
// cache.
func (r *DealRepository) MaxDealID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := r.db.WithContext(ctx).Raw(`
		SELECT COALESCE(MAX(id), 0) FROM deals
	`).Scan(&maxID).Error; err != nil {
		return 0, err
	}
	return maxID, nil
}

func (r *DealRepository) GetDeal(ctx context.Context, dealID int64) (*model.Deal, error) {
	var deal model.Deal
	err := r.db.WithContext(ctx).Raw(`
		SELECT id, title, date_create, assigned_id, is_conducted, is_approved,
			is_moved, is_failed, is_amount_mismatch, service_price, city
		FROM deals
		WHERE id = ?
		LIMIT 1
	`, dealID).Scan(&deal).Error
	if err != nil {
		return nil, err
	}
	if deal.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &deal, nil
}

func (r *DealRepository) UpdateDeal(ctx context.Context, dealID int64, patch model.DealPatch) error {
	if patch.Empty() {
		return nil
	}

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = ?", column))
		args = append(args, value)
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.DateCreate != nil {
		add("date_create", *patch.DateCreate)
	}
	if patch.AssignedID != nil {
		add("assigned_id", *patch.AssignedID)
	}
	if patch.Conducted != nil {
		add("is_conducted", *patch.Conducted)
	}
	if patch.Approved != nil {
		add("is_approved", *patch.Approved)
	}
	if patch.Moved != nil {
		add("is_moved", *patch.Moved)
	}
	if patch.Failed != nil {
		add("is_failed", *patch.Failed)
	}
	if patch.AmountMismatch != nil {
		add("is_amount_mismatch", *patch.AmountMismatch)
	}
	if patch.ServicePrice != nil {
		add("service_price", *patch.ServicePrice)
	}
	if patch.City != nil {
		add("city", model.CityName(*patch.City))
	}

	args = append(args, dealID)
	query := fmt.Sprintf("UPDATE deals SET %s WHERE id = ?", strings.Join(sets, ", "))
	return r.db.WithContext(ctx).Exec(query, args...).Error
}

func (r *DealRepository) ListDeals(ctx context.Context, assignedID *int64) ([]model.Deal, error) {
	query := `
		SELECT id, title, date_create, assigned_id, is_conducted, is_approved,
			is_moved, is_failed, is_amount_mismatch, service_price, city
		FROM deals
	`
	var args []interface{}
	if assignedID != nil {
		query += " WHERE assigned_id = ?"
		args = append(args, *assignedID)
	}
	query += " ORDER BY id ASC"

	var deals []model.Deal
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&deals).Error; err != nil {
		return nil, err
	}
	return deals, nil
}

// ListDealsWithProducts returns deals joined with their product rows and
// product names, optionally narrowed to one assignee.
func (r *DealRepository) ListDealsWithProducts(ctx context.Context, assignedID *int64) ([]model.DealWithProducts, error) {
	deals, err := r.ListDeals(ctx, assignedID)
	if err != nil {
		return nil, err
	}
	if len(deals) == 0 {
		return []model.DealWithProducts{}, nil
	}

	type joinedRow struct {
		DealID      int64
		ProductID   int64
		Name        string
		GivenAmount float64
		FactAmount  *float64
		Total       *float64
		Price       float64
	}
	var rows []joinedRow
	if err := r.db.WithContext(ctx).Raw(`
		SELECT dp.deal_id, dp.product_id, p.name, dp.given_amount, dp.fact_amount, dp.total, dp.price
		FROM deal_products dp
		JOIN products p ON p.id = dp.product_id
		ORDER BY dp.deal_id, dp.product_id
	`).Scan(&rows).Error; err != nil {
		return nil, err
	}

	byDeal := make(map[int64][]model.DealProductView, len(deals))
	for _, row := range rows {
		byDeal[row.DealID] = append(byDeal[row.DealID], model.DealProductView{
			ID:          row.ProductID,
			Name:        row.Name,
			GivenAmount: row.GivenAmount,
			FactAmount:  row.FactAmount,
			Total:       row.Total,
			Price:       row.Price,
		})
	}

	result := make([]model.DealWithProducts, 0, len(deals))
	for _, deal := range deals {
		products := byDeal[deal.ID]
		if products == nil {
			products = []model.DealProductView{}
		}
		result = append(result, model.DealWithProducts{Deal: deal, Products: products})
	}
	return result, nil
}

// DeleteDeal removes a deal; its product rows go with it via the
// cascade.
func (r *DealRepository) DeleteDeal(ctx context.Context, dealID int64) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM deals WHERE id = ?`, dealID).Error
}

func (r *DealRepository) DealProducts(ctx context.Context, dealID int64) ([]model.DealProduct, error) {
	var rows []model.DealProduct
	if err := r.db.WithContext(ctx).Raw(`
		SELECT id, deal_id, product_id, given_amount, fact_amount, price, total
		FROM deal_products
		WHERE deal_id = ?
		ORDER BY product_id
	`, dealID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ReplaceDealProducts makes the given rows the deal's authoritative row
// set: stale rows are deleted and the rest upserted on the
// (deal, product) key, all inside one transaction so a partial failure
// cannot leave a mixed state. Total is a generated column and is never
// written.
func (r *DealRepository) ReplaceDealProducts(ctx context.Context, dealID int64, rows []model.DealProduct) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) == 0 {
			return tx.Exec(`DELETE FROM deal_products WHERE deal_id = ?`, dealID).Error
		}

		placeholders := make([]string, len(rows))
		args := []interface{}{dealID}
		for i, row := range rows {
			placeholders[i] = "?"
			args = append(args, row.ProductID)
		}
		stmt := fmt.Sprintf(
			"DELETE FROM deal_products WHERE deal_id = ? AND product_id NOT IN (%s)",
			strings.Join(placeholders, ","),
		)
		if err := tx.Exec(stmt, args...).Error; err != nil {
			return err
		}

		for _, row := range rows {
			if err := tx.Exec(`
				INSERT INTO deal_products (deal_id, product_id, given_amount, fact_amount, price)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (deal_id, product_id) DO UPDATE SET
					given_amount = EXCLUDED.given_amount,
					fact_amount = EXCLUDED.fact_amount,
					price = EXCLUDED.price
			`, dealID, row.ProductID, row.GivenAmount, row.FactAmount, row.Price).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertDealProducts writes rows without touching ones not mentioned;
// used by the wholesale import, where the caller has no authoritative
// per-deal set.
func (r *DealRepository) UpsertDealProducts(ctx context.Context, rows []model.DealProduct) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			if err := tx.Exec(`
				INSERT INTO deal_products (deal_id, product_id, given_amount, fact_amount, price)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (deal_id, product_id) DO UPDATE SET
					given_amount = EXCLUDED.given_amount,
					fact_amount = EXCLUDED.fact_amount,
					price = EXCLUDED.price
			`, row.DealID, row.ProductID, row.GivenAmount, row.FactAmount, row.Price).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *DealRepository) UpdateDealProductQuantities(ctx context.Context, dealID, productID int64, given float64, fact *float64) error {
	return r.db.WithContext(ctx).Exec(`
		UPDATE deal_products
		SET given_amount = ?, fact_amount = ?
		WHERE deal_id = ? AND product_id = ?
	`, given, fact, dealID, productID).Error
}
