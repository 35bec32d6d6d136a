package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		name TEXT,
		last_name TEXT,
		department_ids TEXT,
		password TEXT,
		city TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS deals (
		id BIGINT PRIMARY KEY,
		title TEXT,
		date_create DATE,
		assigned_id BIGINT,
		is_conducted BOOLEAN NOT NULL DEFAULT FALSE,
		is_approved BOOLEAN NOT NULL DEFAULT FALSE,
		is_moved BOOLEAN NOT NULL DEFAULT FALSE,
		is_failed BOOLEAN NOT NULL DEFAULT FALSE,
		is_amount_mismatch BOOLEAN NOT NULL DEFAULT FALSE,
		service_price NUMERIC(18,2),
		city TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT PRIMARY KEY,
		name TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS deal_products (
		id BIGSERIAL PRIMARY KEY,
		deal_id BIGINT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		given_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		fact_amount DOUBLE PRECISION,
		price NUMERIC(18,2),
		total DOUBLE PRECISION GENERATED ALWAYS AS (given_amount - fact_amount) STORED,
		UNIQUE (deal_id, product_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_deals_assigned_id ON deals (assigned_id) WHERE assigned_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_deal_products_deal_id ON deal_products (deal_id);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
