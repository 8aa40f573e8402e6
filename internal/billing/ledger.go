// Package billing implements the credit ledger: pre-call admission,
// atomic per-call debit, and the deferred aggregated ledger row for
// completed campaigns.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/outboundly/campaigns/internal/store/models"
)

// ErrInsufficientBalance is returned by Admit when a tenant's balance is
// not positive. Admission is coarse (balance > 0), not reservation-based,
// because call durations are unknown in advance.
var ErrInsufficientBalance = errors.New("billing: insufficient balance")

// LowBalanceFunc is invoked after a debit if the resulting balance falls at
// or below a configured threshold, so operators can alert before a
// campaign actually stalls. It does not change admission.
type LowBalanceFunc func(tenantID string, balanceAfter int64)

// BalanceStore is the persistence this ledger needs; *store.BillingStore
// satisfies it, and tests substitute an in-memory fake.
type BalanceStore interface {
	Balance(ctx context.Context, tenantID string) (int64, error)
	Credit(ctx context.Context, tenantID string, amount int64) (int64, error)
	Debit(ctx context.Context, tenantID string, credits int64) (int64, error)
	AppendEntry(ctx context.Context, e *models.BillingEntry) error
	SumCampaignDebits(ctx context.Context, tenantID, campaignID string) (credits int64, durationSeconds int, err error)
}

// Ledger implements the Billing Ledger component over a BalanceStore.
type Ledger struct {
	store        BalanceStore
	log          *slog.Logger
	lowBalance   int64
	onLowBalance LowBalanceFunc
}

// Config tunes the ledger's low-balance alert side channel.
type Config struct {
	// LowBalanceThreshold, when > 0, invokes OnLowBalance once a debit
	// leaves a tenant's balance at or below this value. Zero disables it.
	LowBalanceThreshold int64
	OnLowBalance        LowBalanceFunc
}

// New builds a Ledger over a store and optional low-balance alerting.
func New(s BalanceStore, log *slog.Logger, cfg Config) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		store:        s,
		log:          log.With("component", "billing"),
		lowBalance:   cfg.LowBalanceThreshold,
		onLowBalance: cfg.OnLowBalance,
	}
}

// Admit reports whether tenantID may start a new call: admitted iff the
// available balance is strictly positive.
func (l *Ledger) Admit(ctx context.Context, tenantID string) error {
	balance, err := l.store.Balance(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("checking admission: %w", err)
	}
	if balance <= 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// Debit atomically decrements tenantID's balance by durationSeconds
// credits and records the usage. For kind=campaign, the balance updates in
// real time but the per-call ledger row is deferred to
// CompleteCampaignLedger to reduce write amplification; for test/incoming
// calls a row is written immediately.
func (l *Ledger) Debit(ctx context.Context, tenantID, callID string, durationSeconds int, kind models.CallKind, campaignID string) (balanceAfter int64, err error) {
	credits := int64(durationSeconds)
	balanceAfter, err = l.store.Debit(ctx, tenantID, credits)
	if err != nil {
		return 0, fmt.Errorf("debiting: %w", err)
	}

	if kind != models.KindCampaign {
		entry := &models.BillingEntry{
			TenantID:        tenantID,
			CallID:          callID,
			CampaignID:      campaignID,
			Kind:            kind,
			Credits:         -credits,
			BalanceAfter:    balanceAfter,
			DurationSeconds: durationSeconds,
		}
		if err := l.store.AppendEntry(ctx, entry); err != nil {
			return balanceAfter, fmt.Errorf("recording billing entry: %w", err)
		}
	}

	if l.lowBalance > 0 && balanceAfter <= l.lowBalance && l.onLowBalance != nil {
		l.onLowBalance(tenantID, balanceAfter)
	}

	return balanceAfter, nil
}

// CompleteCampaignLedger emits one aggregated ledger row summarizing every
// debit billed against campaignID, called once the runner reports the
// campaign terminal. It sums billingDuration across the campaign's
// ActiveCall rows rather than tracking a running total, since those rows
// are the durable record of what was actually billed in real time.
func (l *Ledger) CompleteCampaignLedger(ctx context.Context, tenantID, campaignID string) error {
	credits, durationSeconds, err := l.store.SumCampaignDebits(ctx, tenantID, campaignID)
	if err != nil {
		return fmt.Errorf("summing campaign debits: %w", err)
	}
	if durationSeconds == 0 {
		return nil
	}

	balance, err := l.store.Balance(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("reading balance for campaign ledger row: %w", err)
	}

	entry := &models.BillingEntry{
		TenantID:        tenantID,
		CampaignID:      campaignID,
		Kind:            models.KindCampaign,
		Credits:         credits,
		BalanceAfter:    balance,
		DurationSeconds: durationSeconds,
	}
	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("recording campaign ledger row: %w", err)
	}
	l.log.Info("completed campaign ledger", "campaign_id", campaignID, "credits", credits)
	return nil
}

// Balance returns a tenant's current available balance.
func (l *Ledger) Balance(ctx context.Context, tenantID string) (int64, error) {
	return l.store.Balance(ctx, tenantID)
}

// Credit funds a tenant's balance. Not on the call-billing hot path; used
// by the control plane to top up a tenant.
func (l *Ledger) Credit(ctx context.Context, tenantID string, amount int64) (int64, error) {
	return l.store.Credit(ctx, tenantID, amount)
}
