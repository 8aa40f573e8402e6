package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/outboundly/campaigns/internal/store/models"
)

// BillingStore persists tenant balances and the append-only billing
// entry ledger, with the atomic debit the billing ledger requires.
type BillingStore struct {
	db *sql.DB
}

// Billing returns the billing sub-store.
func (s *Store) Billing() *BillingStore { return &BillingStore{db: s.db} }

// Balance returns a tenant's current available balance, or 0 for a tenant
// with no balance row yet; it does not create the row.
func (s *BillingStore) Balance(ctx context.Context, tenantID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT available_balance FROM tenant_balances WHERE tenant_id = $1`, tenantID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading balance: %w", err)
	}
	return balance, nil
}

// Credit adds amount credits to a tenant's balance, creating the row if
// absent. Used to fund a tenant; not part of the call-billing hot path.
func (s *BillingStore) Credit(ctx context.Context, tenantID string, amount int64) (int64, error) {
	var after int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tenant_balances (tenant_id, available_balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (tenant_id) DO UPDATE
		SET available_balance = tenant_balances.available_balance + $2, updated_at = NOW()
		RETURNING available_balance`,
		tenantID, amount,
	).Scan(&after)
	if err != nil {
		return 0, fmt.Errorf("crediting balance: %w", err)
	}
	return after, nil
}

// Debit atomically decrements a tenant's balance by credits (which may be
// negative headroom is not enforced — a single call may push the balance
// below zero, per the post-pay admission model) and returns the balance
// after. The row is created first if it does not yet exist.
func (s *BillingStore) Debit(ctx context.Context, tenantID string, credits int64) (int64, error) {
	var after int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tenant_balances (tenant_id, available_balance, updated_at)
		VALUES ($1, -$2, NOW())
		ON CONFLICT (tenant_id) DO UPDATE
		SET available_balance = tenant_balances.available_balance - $2, updated_at = NOW()
		RETURNING available_balance`,
		tenantID, credits,
	).Scan(&after)
	if err != nil {
		return 0, fmt.Errorf("debiting balance: %w", err)
	}
	return after, nil
}

// AppendEntry writes a single billing ledger row (used for test/incoming
// calls, and for the one aggregated row per completed campaign).
func (s *BillingStore) AppendEntry(ctx context.Context, e *models.BillingEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_entries (tenant_id, call_id, campaign_id, kind, credits, balance_after, duration_seconds, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		e.TenantID, e.CallID, e.CampaignID, e.Kind, e.Credits, e.BalanceAfter, e.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("appending billing entry: %w", err)
	}
	return nil
}

// SumCampaignDebits totals the per-call debits billed against a campaign so
// far, used to build the single aggregated ledger row at completion.
func (s *BillingStore) SumCampaignDebits(ctx context.Context, tenantID, campaignID string) (credits int64, durationSeconds int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(billing_duration), 0) FROM active_calls WHERE campaign_id = $1 AND tenant_id = $2`,
		campaignID, tenantID,
	).Scan(&durationSeconds)
	if err != nil {
		return 0, 0, fmt.Errorf("summing campaign call durations: %w", err)
	}
	return -int64(durationSeconds), durationSeconds, nil
}
