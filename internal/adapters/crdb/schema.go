package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		organizer_id UUID NOT NULL,
		price_per_ticket INT8 NOT NULL CHECK (price_per_ticket >= 0),
		tickets_sold INT8 NOT NULL DEFAULT 0,
		ticket_limit INT8 NOT NULL CHECK (ticket_limit >= 0),
		on_hold BOOL NOT NULL DEFAULT false,
		is_completed BOOL NOT NULL DEFAULT false,
		is_settled_to_organizer BOOL NOT NULL DEFAULT false,
		cancellation_available BOOL NOT NULL DEFAULT true,
		event_date DATE NOT NULL,
		CONSTRAINT events_tickets_sold_bounds CHECK (tickets_sold BETWEEN 0 AND ticket_limit)
	)`,
	`CREATE INDEX IF NOT EXISTS events_settleable_idx ON events (event_date) WHERE NOT is_settled_to_organizer`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id UUID PRIMARY KEY,
		event_id UUID NOT NULL REFERENCES events (id),
		user_id UUID NOT NULL,
		booking_name TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		total_price INT8 NOT NULL CHECK (total_price >= 0),
		status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled', 'refunded', 'failed')),
		payment_method TEXT NOT NULL CHECK (payment_method IN ('wallet', 'card')),
		payment_id TEXT,
		payment_date TIMESTAMPTZ,
		coupon_id UUID,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT bookings_payment_id_key UNIQUE (payment_id)
	)`,
	`CREATE INDEX IF NOT EXISTS bookings_user_idx ON bookings (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS bookings_event_status_idx ON bookings (event_id, status)`,
	`CREATE INDEX IF NOT EXISTS bookings_status_created_idx ON bookings (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS wallets (
		id UUID PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('user', 'organizer')),
		owner_id UUID NOT NULL,
		balance INT8 NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT wallets_kind_owner_key UNIQUE (kind, owner_id)
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_transactions (
		id UUID PRIMARY KEY,
		wallet_id UUID NOT NULL REFERENCES wallets (id),
		event_id UUID,
		booking_id UUID,
		amount INT8 NOT NULL CHECK (amount > 0),
		type TEXT NOT NULL CHECK (type IN ('CREDIT', 'DEBIT', 'REFUND', 'WITHDRAWAL')),
		reference_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT wallet_transactions_reference_key UNIQUE (reference_id)
	)`,
	`CREATE INDEX IF NOT EXISTS wallet_transactions_wallet_idx ON wallet_transactions (wallet_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS company_ledger (
		id INT8 PRIMARY KEY CHECK (id = 1),
		total_balance INT8 NOT NULL DEFAULT 0 CHECK (total_balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`INSERT INTO company_ledger (id, total_balance) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS company_ledger_entries (
		id UUID PRIMARY KEY,
		event_id UUID,
		amount INT8 NOT NULL CHECK (amount > 0),
		type TEXT NOT NULL,
		total_balance INT8 NOT NULL CHECK (total_balance >= 0),
		reference_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT company_ledger_entries_reference_key UNIQUE (reference_id)
	)`,

	`CREATE TABLE IF NOT EXISTS coupons (
		id UUID PRIMARY KEY,
		code TEXT NOT NULL,
		organizer_id UUID NOT NULL,
		discount_amount INT8 NOT NULL CHECK (discount_amount >= 0),
		minimum_purchase_amount INT8 NOT NULL DEFAULT 0,
		valid_from TIMESTAMPTZ NOT NULL,
		valid_to TIMESTAMPTZ NOT NULL,
		is_active BOOL NOT NULL DEFAULT true,
		CONSTRAINT coupons_code_key UNIQUE (code)
	)`,
	`CREATE TABLE IF NOT EXISTS coupon_usages (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		coupon_id UUID NOT NULL REFERENCES coupons (id),
		event_id UUID NOT NULL,
		used_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT coupon_usages_user_coupon_key UNIQUE (user_id, coupon_id)
	)`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		payload_json JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED')),
		dedupe_key TEXT NOT NULL,
		CONSTRAINT outbox_dedupe_key UNIQUE (dedupe_key)
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_status_created_idx ON outbox (status, created_at)`,
}

// Migrate applies the schema. Every statement is idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrate: %.60s", stmt)
		}
	}
	return nil
}
