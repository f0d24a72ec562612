package database

import (
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id VARCHAR(64) PRIMARY KEY,
	name TEXT NOT NULL,
	stock INT NOT NULL DEFAULT 0 CHECK (stock >= 0)
);

CREATE TABLE IF NOT EXISTS product_reviews (
	product_id VARCHAR(64) NOT NULL,
	account_id VARCHAR(64) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (product_id, account_id)
);

CREATE TABLE IF NOT EXISTS orders (
	id VARCHAR(64) PRIMARY KEY,
	owner_id VARCHAR(64) NOT NULL,
	owner_email TEXT NOT NULL DEFAULT '',
	items JSONB NOT NULL,
	shipping_address JSONB NOT NULL,
	payment_method TEXT NOT NULL DEFAULT '',
	items_price NUMERIC(12, 2) NOT NULL CHECK (items_price >= 0),
	tax_price NUMERIC(12, 2) NOT NULL CHECK (tax_price >= 0),
	shipping_price NUMERIC(12, 2) NOT NULL CHECK (shipping_price >= 0),
	total_price NUMERIC(12, 2) NOT NULL CHECK (total_price >= 0),
	status VARCHAR(20) NOT NULL,
	is_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	confirmation_token VARCHAR(128),
	confirmed_at TIMESTAMPTZ,
	is_paid BOOLEAN NOT NULL DEFAULT FALSE,
	paid_at TIMESTAMPTZ,
	payment_result JSONB,
	is_delivered BOOLEAN NOT NULL DEFAULT FALSE,
	delivered_at TIMESTAMPTZ,
	tracking_number VARCHAR(64),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_orders_owner_created ON orders(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_confirmation_token
	ON orders(confirmation_token) WHERE confirmation_token IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_orders_items ON orders USING GIN (items jsonb_path_ops);

CREATE TABLE IF NOT EXISTS outbox_messages (
	id SERIAL PRIMARY KEY,
	aggregate_type VARCHAR(50) NOT NULL,
	aggregate_id VARCHAR(64) NOT NULL,
	event_type VARCHAR(50) NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ,
	processing_attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	status VARCHAR(20) NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status);
CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);

CREATE TABLE IF NOT EXISTS dead_letter_messages (
	id SERIAL PRIMARY KEY,
	original_message_id BIGINT NOT NULL,
	aggregate_type VARCHAR(50) NOT NULL,
	aggregate_id VARCHAR(64) NOT NULL,
	event_type VARCHAR(50) NOT NULL,
	payload JSONB NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	retry_count INT NOT NULL DEFAULT 0,
	last_retry_at TIMESTAMPTZ,
	status VARCHAR(20) NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	resolved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_dead_letter_status ON dead_letter_messages(status);
`

// RunMigrations creates the tables the service needs
func (d *Database) RunMigrations() error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}
