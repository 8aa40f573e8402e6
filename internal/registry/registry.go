// Package registry implements the Active Call Registry: the concurrency
// gates, warmup-before-dial, webhook-driven state machine, and timeout
// reaping for every in-flight call.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/outboundly/campaigns/internal/billing"
	"github.com/outboundly/campaigns/internal/provider"
	"github.com/outboundly/campaigns/internal/store"
	"github.com/outboundly/campaigns/internal/store/models"
)

// ErrConcurrencyFull is returned by TryAdmit when either the global or
// per-tenant ceiling is saturated; the runner retries with backpressure.
var ErrConcurrencyFull = store.ErrConcurrencyFull

// Limits are the configured concurrency gates.
type Limits struct {
	MaxGlobal    int
	MaxPerTenant int
}

// TransitionFields and TransitionResult alias store's types so this
// package's interface methods match *store.ActiveCallStore's exactly.
type TransitionFields = store.TransitionFields
type TransitionResult = store.TransitionResult

const (
	TransitionApplied = store.TransitionApplied
	TransitionNoop    = store.TransitionNoop
)

// ActiveCallStore is the persistence this registry needs from
// internal/store; *store.ActiveCallStore satisfies it.
type ActiveCallStore interface {
	TryAdmit(ctx context.Context, call *models.ActiveCall, maxGlobal, maxPerTenant int) error
	GetByID(ctx context.Context, callID string) (*models.ActiveCall, error)
	AttachProviderRef(ctx context.Context, callID, providerCallRef string) error
	Transition(ctx context.Context, callID string, fromStates []models.CallState, target models.CallState, set TransitionFields) (TransitionResult, error)
	Snapshot(ctx context.Context, tenantID string) (int, error)
}

// Registry implements the Active Call Registry over a store and the
// billing/provider ports it consults during admission.
type Registry struct {
	store   ActiveCallStore
	billing *billing.Ledger
	limits  Limits
	log     *slog.Logger
	warmup  Warmer
}

// Warmer performs the pre-dial bot-endpoint health probe.
type Warmer interface {
	Warmup(ctx context.Context, botEndpoint string) error
}

// New builds a Registry.
func New(store ActiveCallStore, ledger *billing.Ledger, warmer Warmer, limits Limits, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{store: store, billing: ledger, limits: limits, warmup: warmer, log: log.With("component", "registry")}
}

// Admission is the tagged result of TryAdmit.
type Admission struct {
	CallID string
}

// TryAdmit consults the billing ledger and the concurrency ceilings, and
// on success inserts an ActiveCall in state initiating. Billing admission
// and the concurrency gate are independent checks; billing is cheap and
// checked first so a broke tenant never occupies a slot.
func (r *Registry) TryAdmit(ctx context.Context, tenantID, campaignID string, contactIndex int, from, to string, providerName provider.Name) (Admission, error) {
	if err := r.billing.Admit(ctx, tenantID); err != nil {
		if errors.Is(err, billing.ErrInsufficientBalance) {
			return Admission{}, billing.ErrInsufficientBalance
		}
		return Admission{}, fmt.Errorf("checking billing admission: %w", err)
	}

	kind := models.KindCampaign
	if campaignID == "" {
		kind = models.KindTest
	}

	call := &models.ActiveCall{
		CallID:       uuid.NewString(),
		TenantID:     tenantID,
		CampaignID:   campaignID,
		ContactIndex: contactIndex,
		Kind:         kind,
		From:         from,
		To:           to,
		Provider:     string(providerName),
	}

	if err := r.store.TryAdmit(ctx, call, r.limits.MaxGlobal, r.limits.MaxPerTenant); err != nil {
		if errors.Is(err, store.ErrConcurrencyFull) {
			return Admission{}, ErrConcurrencyFull
		}
		return Admission{}, fmt.Errorf("admitting call: %w", err)
	}

	return Admission{CallID: call.CallID}, nil
}

// Warmup runs the pre-dial health probe and transitions initiating ->
// warming for its duration. When the Warmer gives up (its own retry loop
// lives there), Warmup itself moves the call to failed(bot_not_ready) and
// returns the error.
func (r *Registry) Warmup(ctx context.Context, callID, botEndpoint string) error {
	if _, err := r.store.Transition(ctx, callID, []models.CallState{models.CallInitiating}, models.CallWarming, TransitionFields{}); err != nil {
		return fmt.Errorf("transitioning to warming: %w", err)
	}
	if err := r.warmup.Warmup(ctx, botEndpoint); err != nil {
		reason := models.FailureBotNotReady
		if _, tErr := r.store.Transition(ctx, callID, []models.CallState{models.CallInitiating, models.CallWarming}, models.CallFailed, TransitionFields{FailureReason: reason}); tErr != nil {
			return fmt.Errorf("recording warmup failure: %w", tErr)
		}
		return fmt.Errorf("warmup: %w", err)
	}
	return nil
}

// RecordDialed transitions a successfully-dialed call from initiating or
// warming to ringing and records the provider's own call reference.
func (r *Registry) RecordDialed(ctx context.Context, callID, providerCallRef string) error {
	if err := r.store.AttachProviderRef(ctx, callID, providerCallRef); err != nil {
		return fmt.Errorf("attaching provider ref: %w", err)
	}
	if _, err := r.store.Transition(ctx, callID, []models.CallState{models.CallInitiating, models.CallWarming}, models.CallRinging, TransitionFields{}); err != nil {
		return fmt.Errorf("transitioning to ringing: %w", err)
	}
	return nil
}

// RecordDialFailed transitions a call to failed(provider_rejected) when
// placeCall itself was rejected outright.
func (r *Registry) RecordDialFailed(ctx context.Context, callID string) error {
	_, err := r.store.Transition(ctx, callID, []models.CallState{models.CallInitiating, models.CallWarming}, models.CallFailed, TransitionFields{FailureReason: models.FailureProviderRejected})
	if err != nil {
		return fmt.Errorf("recording dial failure: %w", err)
	}
	return nil
}

// OnEvent applies a webhook-normalized provider event to the call state
// machine. Duplicate/idempotent deliveries are safe: Transition no-ops if
// the call is no longer in a qualifying source state.
func (r *Registry) OnEvent(ctx context.Context, callID string, event provider.Event, fields provider.WebhookFields) error {
	call, err := r.store.GetByID(ctx, callID)
	if err != nil {
		return fmt.Errorf("loading call for event: %w", err)
	}

	switch event {
	case provider.EventRing:
		_, err := r.store.Transition(ctx, callID, []models.CallState{models.CallRinging}, models.CallRinging, TransitionFields{})
		return err

	case provider.EventAnswered:
		_, err := r.store.Transition(ctx, callID, []models.CallState{models.CallRinging}, models.CallOngoing, TransitionFields{AnsweredNow: true})
		return err

	case provider.EventHangup:
		if call.State == models.CallOngoing {
			duration := fields.DurationSeconds
			result, err := r.store.Transition(ctx, callID, []models.CallState{models.CallOngoing}, models.CallCompleted, TransitionFields{EndedNow: true, BillingDuration: &duration})
			if err != nil {
				return fmt.Errorf("transitioning to completed: %w", err)
			}
			if result == TransitionApplied {
				if _, err := r.billing.Debit(ctx, call.TenantID, callID, duration, call.Kind, call.CampaignID); err != nil {
					return fmt.Errorf("debiting hangup: %w", err)
				}
			}
			return nil
		}
		// Hangup without ever answering: not-answered, no billing.
		_, err := r.store.Transition(ctx, callID, []models.CallState{models.CallRinging, models.CallInitiating, models.CallWarming}, models.CallFailed, TransitionFields{EndedNow: true, FailureReason: models.FailureNotAnswered})
		return err

	case provider.EventRecording:
		// Recording URLs are forwarded only, never stored as media per the
		// no-media-handling non-goal; nothing to transition.
		return nil

	default:
		return fmt.Errorf("unhandled event %q", event)
	}
}

// Snapshot returns the count of non-terminal calls, optionally scoped to
// one tenant, for dashboards and admission visibility.
func (r *Registry) Snapshot(ctx context.Context, tenantID string) (int, error) {
	return r.store.Snapshot(ctx, tenantID)
}
