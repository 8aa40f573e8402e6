// Package runner implements the Campaign Runner: the single-campaign
// contact loop, including pacing, pause/cancel observation, and orphan
// takeover resumption.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/outboundly/campaigns/internal/billing"
	"github.com/outboundly/campaigns/internal/clock"
	"github.com/outboundly/campaigns/internal/contacts"
	"github.com/outboundly/campaigns/internal/notify"
	"github.com/outboundly/campaigns/internal/provider"
	"github.com/outboundly/campaigns/internal/registry"
	"github.com/outboundly/campaigns/internal/store"
	"github.com/outboundly/campaigns/internal/store/models"
)

// CounterUpdates aliases store's type so CampaignStore's AdvanceCursor
// signature matches *store.CampaignStore's exactly.
type CounterUpdates = store.CounterUpdates

// CampaignStore is the persistence this runner needs; *store.CampaignStore
// satisfies it.
type CampaignStore interface {
	ClaimRunnership(ctx context.Context, campaignID, runnerID string, expectedStatus models.CampaignStatus, orphanThreshold time.Duration) (*models.Campaign, error)
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	Heartbeat(ctx context.Context, campaignID, runnerID string) error
	AdvanceCursor(ctx context.Context, campaignID string, fromIndex, delta int, counters CounterUpdates) (*models.Campaign, error)
	Pause(ctx context.Context, campaignID string, reason models.PauseReason) error
	Complete(ctx context.Context, campaignID string) error
	Fail(ctx context.Context, campaignID string) error
}

// CallRegistry is the subset of the Active Call Registry this runner
// drives admission and dialing outcomes through; *registry.Registry
// satisfies it.
type CallRegistry interface {
	TryAdmit(ctx context.Context, tenantID, campaignID string, contactIndex int, from, to string, providerName provider.Name) (registry.Admission, error)
	Warmup(ctx context.Context, callID, botEndpoint string) error
	RecordDialed(ctx context.Context, callID, providerCallRef string) error
	RecordDialFailed(ctx context.Context, callID string) error
}

// Ledger is the billing operation the runner needs at campaign completion;
// *billing.Ledger satisfies it.
type Ledger interface {
	CompleteCampaignLedger(ctx context.Context, tenantID, campaignID string) error
}

// Notifier emails campaign-lifecycle alerts; *notify.Sender satisfies it.
// A nil Notifier (or empty Config.NotifyTo) disables notifications.
type Notifier interface {
	SendCampaignNotification(ctx context.Context, cfg notify.SMTPConfig, n notify.CampaignNotification) error
}

// Config tunes one Runner's pacing, retry, and notification behavior.
type Config struct {
	RunnerID          string
	DefaultProvider   provider.Name
	OrphanThreshold   time.Duration
	HeartbeatInterval time.Duration
	BackpressureSleep time.Duration
	InterCallPacing   time.Duration
	ProviderRetryMax  int
	ContactPageSize   int
	WebhookBaseURL    string // e.g. "https://calls.example.com"

	NotifyTo string
	SMTP     notify.SMTPConfig
}

// Runner drives a single campaign's contact loop to completion, pause, or
// cancellation. A single Runner serves every campaign, since Run takes the
// campaignID as a parameter; Manager owns the goroutine lifecycle across
// campaigns.
type Runner struct {
	campaigns CampaignStore
	contacts  contacts.Source
	registry  CallRegistry
	provider  provider.Port
	billing   Ledger
	signer    *provider.TokenSigner
	notifier  Notifier
	clock     clock.Clock
	log       *slog.Logger
	cfg       Config
}

// New builds a Runner.
func New(campaigns CampaignStore, contactSource contacts.Source, reg CallRegistry, prov provider.Port, ledger Ledger, signer *provider.TokenSigner, notifier Notifier, c clock.Clock, cfg Config, log *slog.Logger) *Runner {
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.ContactPageSize <= 0 {
		cfg.ContactPageSize = 50
	}
	if cfg.ProviderRetryMax < 0 {
		cfg.ProviderRetryMax = 0
	}
	return &Runner{
		campaigns: campaigns,
		contacts:  contactSource,
		registry:  reg,
		provider:  prov,
		billing:   ledger,
		signer:    signer,
		notifier:  notifier,
		clock:     c,
		log:       log.With("component", "runner"),
		cfg:       cfg,
	}
}

// Run claims runnership of campaignID and drives its contact loop until
// the campaign pauses, cancels, completes, fails, or ctx is cancelled. A
// lost claim (another runner already owns the campaign) is not an error:
// Run simply returns.
func (r *Runner) Run(ctx context.Context, campaignID string) error {
	campaign, err := r.campaigns.ClaimRunnership(ctx, campaignID, r.cfg.RunnerID, models.CampaignRunning, r.cfg.OrphanThreshold)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			r.log.Debug("runnership claim lost", "campaign_id", campaignID)
			return nil
		}
		return fmt.Errorf("claiming runnership: %w", err)
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.heartbeatLoop(heartbeatCtx, campaignID)

	currentIndex := campaign.CurrentIndex
	tenantID := campaign.TenantID

pageLoop:
	for {
		fresh, err := r.campaigns.GetByID(ctx, campaignID)
		if err != nil {
			return r.fail(ctx, campaignID, fmt.Errorf("reloading campaign snapshot: %w", err))
		}
		if fresh.Status != models.CampaignRunning {
			r.log.Info("runner stopping, campaign no longer running", "campaign_id", campaignID, "status", fresh.Status)
			return nil
		}
		if currentIndex >= fresh.TotalContacts {
			break
		}

		page, err := r.contacts.Page(ctx, fresh.ListID, currentIndex, r.cfg.ContactPageSize)
		if err != nil {
			return r.fail(ctx, campaignID, fmt.Errorf("paging contacts: %w", err))
		}
		if len(page) == 0 {
			break
		}

		for _, contact := range page {
			_ = r.campaigns.Heartbeat(ctx, campaignID, r.cfg.RunnerID)

			outcome, err := r.runContact(ctx, fresh, contact)
			if err != nil {
				return r.fail(ctx, campaignID, err)
			}
			switch outcome {
			case outcomePaused, outcomeStopped:
				return nil
			case outcomeStaleCursor:
				// The contact just processed was never advanced past; reload
				// the snapshot and restart paging from its current cursor
				// rather than skipping ahead to the next page entry.
				reloaded, err := r.campaigns.GetByID(ctx, campaignID)
				if err != nil {
					return r.fail(ctx, campaignID, fmt.Errorf("reloading after stale cursor: %w", err))
				}
				currentIndex = reloaded.CurrentIndex
				continue pageLoop
			case outcomeAdvanced:
				currentIndex++
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(r.cfg.InterCallPacing):
			}
		}
	}

	if err := r.campaigns.Complete(ctx, campaignID); err != nil && !errors.Is(err, store.ErrInvalidState) {
		return r.fail(ctx, campaignID, fmt.Errorf("completing campaign: %w", err))
	}
	if err := r.billing.CompleteCampaignLedger(ctx, tenantID, campaignID); err != nil {
		r.log.Error("completing campaign ledger failed", "campaign_id", campaignID, "error", err)
	}
	r.notify(ctx, campaignID, "", models.CampaignCompleted, "completed")
	return nil
}

type contactOutcome int

const (
	outcomeAdvanced contactOutcome = iota
	outcomePaused
	outcomeStopped
	outcomeStaleCursor
)

// runContact carries one contact through admission, warmup, dialing, and
// cursor advancement.
func (r *Runner) runContact(ctx context.Context, campaign *models.Campaign, contact models.Contact) (contactOutcome, error) {
	providerName := provider.Name(campaign.ProviderHint)
	if providerName == "" {
		providerName = r.cfg.DefaultProvider
	}

	var admission registry.Admission
	for {
		var err error
		admission, err = r.registry.TryAdmit(ctx, campaign.TenantID, campaign.ID, contact.Index, campaign.FromNumber, contact.PhoneNumber, providerName)
		if err == nil {
			break
		}
		if errors.Is(err, registry.ErrConcurrencyFull) {
			select {
			case <-ctx.Done():
				return outcomeStopped, ctx.Err()
			case <-r.clock.After(r.cfg.BackpressureSleep):
			}
			continue
		}
		if errors.Is(err, billing.ErrInsufficientBalance) {
			if perr := r.campaigns.Pause(ctx, campaign.ID, models.PauseReasonOutOfCredit); perr != nil && !errors.Is(perr, store.ErrInvalidState) {
				return outcomeStopped, fmt.Errorf("pausing out of credit: %w", perr)
			}
			r.notify(ctx, campaign.ID, campaign.Name, models.CampaignPaused, "out_of_credit")
			return outcomePaused, nil
		}
		return outcomeStopped, fmt.Errorf("admitting call: %w", err)
	}

	connected := r.dial(ctx, campaign, contact, admission.CallID, providerName)

	updated, err := r.campaigns.AdvanceCursor(ctx, campaign.ID, contact.Index, 1, CounterUpdates{Connected: connected})
	if errors.Is(err, store.ErrStaleCursor) {
		return outcomeStaleCursor, nil
	}
	if err != nil {
		return outcomeStopped, fmt.Errorf("advancing cursor: %w", err)
	}
	_ = updated
	return outcomeAdvanced, nil
}

// dial runs warmup then placeCall (with the provider retry budget) for one
// contact, returning whether the contact was successfully dialed.
func (r *Runner) dial(ctx context.Context, campaign *models.Campaign, contact models.Contact, callID string, providerName provider.Name) bool {
	if campaign.BotEndpoint != "" {
		if err := r.registry.Warmup(ctx, callID, campaign.BotEndpoint); err != nil {
			r.log.Info("warmup failed, marking contact failed", "call_id", callID, "error", err)
			return false
		}
	}

	creds, err := r.provider.ResolveCredentials(ctx, campaign.TenantID, providerName)
	if err != nil {
		r.log.Error("resolving provider credentials failed", "call_id", callID, "error", err)
		_ = r.registry.RecordDialFailed(ctx, callID)
		return false
	}
	cb := r.callbacks(providerName, callID)

	var providerCallRef string
	for attempt := 0; ; attempt++ {
		providerCallRef, err = r.provider.PlaceCall(ctx, providerName, creds, campaign.FromNumber, contact.PhoneNumber, cb)
		if err == nil {
			break
		}
		if errors.Is(err, provider.ErrProviderUnavailable) && attempt < r.cfg.ProviderRetryMax {
			backoff := r.cfg.InterCallPacing * time.Duration(attempt+1)
			select {
			case <-ctx.Done():
				return false
			case <-r.clock.After(backoff):
			}
			continue
		}
		r.log.Info("place call failed", "call_id", callID, "error", err)
		_ = r.registry.RecordDialFailed(ctx, callID)
		return false
	}

	if err := r.registry.RecordDialed(ctx, callID, providerCallRef); err != nil {
		r.log.Error("recording dialed call failed", "call_id", callID, "error", err)
	}
	return true
}

// callbacks builds the three webhook URL templates for callID, each
// carrying an opaque signed token.
func (r *Runner) callbacks(name provider.Name, callID string) provider.Callbacks {
	token, err := r.signer.Sign(callID)
	if err != nil {
		r.log.Error("signing callback token failed", "call_id", callID, "error", err)
		return provider.Callbacks{}
	}
	base := fmt.Sprintf("%s/webhooks/%s", r.cfg.WebhookBaseURL, name)
	return provider.Callbacks{
		RingURL:        fmt.Sprintf("%s/ring?token=%s", base, token),
		StreamStartURL: fmt.Sprintf("%s/stream-start?token=%s", base, token),
		HangupURL:      fmt.Sprintf("%s/hangup?token=%s", base, token),
	}
}

// fail marks a campaign failed on an unrecoverable error, which also clears
// its runner. Failed is a terminal status: the orphan sweeper only picks up
// running campaigns, so a failed campaign is not resumed by another runner.
func (r *Runner) fail(ctx context.Context, campaignID string, cause error) error {
	r.log.Error("runner failing campaign", "campaign_id", campaignID, "error", cause)
	if err := r.campaigns.Fail(ctx, campaignID); err != nil && !errors.Is(err, store.ErrInvalidState) {
		r.log.Error("marking campaign failed also failed", "campaign_id", campaignID, "error", err)
	}
	return cause
}

func (r *Runner) heartbeatLoop(ctx context.Context, campaignID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.cfg.HeartbeatInterval):
			if err := r.campaigns.Heartbeat(ctx, campaignID, r.cfg.RunnerID); err != nil {
				r.log.Debug("heartbeat timer write failed", "campaign_id", campaignID, "error", err)
			}
		}
	}
}

func (r *Runner) notify(ctx context.Context, campaignID, name string, status models.CampaignStatus, reason string) {
	if r.notifier == nil || r.cfg.NotifyTo == "" {
		return
	}
	n := notify.CampaignNotification{
		To:         r.cfg.NotifyTo,
		CampaignID: campaignID,
		Name:       name,
		Reason:     reason,
		Status:     status,
		At:         r.clock.Now(),
	}
	if err := r.notifier.SendCampaignNotification(ctx, r.cfg.SMTP, n); err != nil {
		r.log.Warn("campaign notification failed", "campaign_id", campaignID, "error", err)
	}
}
