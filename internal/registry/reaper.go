package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/outboundly/campaigns/internal/clock"
	"github.com/outboundly/campaigns/internal/store/models"
)

// TimeoutStore is the persistence the reaper needs to find and expire
// stale active calls; *store.ActiveCallStore satisfies it.
type TimeoutStore interface {
	DueForTimeout(ctx context.Context, timeouts map[models.CallState]time.Duration, now time.Time) ([]*models.ActiveCall, error)
	Transition(ctx context.Context, callID string, fromStates []models.CallState, target models.CallState, set TransitionFields) (TransitionResult, error)
}

// Debiter is the billing operation the reaper needs; *billing.Ledger
// satisfies it.
type Debiter interface {
	Debit(ctx context.Context, tenantID, callID string, durationSeconds int, kind models.CallKind, campaignID string) (int64, error)
}

// Reaper is the sole timeout authority: it periodically scans for calls
// whose current state has exceeded its per-state timeout and transitions
// them to timeout, debiting billing if the call was answered.
type Reaper struct {
	store    TimeoutStore
	billing  Debiter
	timeouts map[models.CallState]time.Duration
	clock    clock.Clock
	log      *slog.Logger

	cron gocron.Scheduler
}

// ReaperConfig carries the per-state wall-clock timeouts from
// configuration.
type ReaperConfig struct {
	Timeouts map[models.CallState]time.Duration
	Interval time.Duration
}

// NewReaper builds a Reaper over a store and billing ledger.
func NewReaper(store TimeoutStore, ledger Debiter, cfg ReaperConfig, c clock.Clock, log *slog.Logger) (*Reaper, error) {
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating reaper scheduler: %w", err)
	}
	return &Reaper{
		store:    store,
		billing:  ledger,
		timeouts: cfg.Timeouts,
		clock:    c,
		log:      log.With("component", "reaper"),
		cron:     cron,
	}, nil
}

// Start schedules the reap sweep on a singleton-mode gocron job so
// overlapping ticks are skipped rather than queued, and starts the
// scheduler.
func (r *Reaper) Start(interval time.Duration) error {
	_, err := r.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if err := r.Reap(ctx); err != nil {
				r.log.Error("reap sweep failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduling reaper job: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop shuts down the reaper's scheduler, waiting for an in-flight sweep
// to finish.
func (r *Reaper) Stop() error {
	return r.cron.Shutdown()
}

// Reap transitions every call whose stateSince has exceeded its per-state
// timeout to timeout state, debiting billing for any that had answered.
// Terminal timeouts release the concurrency slot they held (the slot is
// simply the absence from the non-terminal state set counted by Snapshot).
func (r *Reaper) Reap(ctx context.Context) error {
	due, err := r.store.DueForTimeout(ctx, r.timeouts, r.clock.Now())
	if err != nil {
		return fmt.Errorf("finding calls due for timeout: %w", err)
	}

	for _, call := range due {
		result, err := r.store.Transition(ctx, call.CallID, []models.CallState{call.State}, models.CallTimeout, TransitionFields{EndedNow: true})
		if err != nil {
			r.log.Error("reaping call failed", "call_id", call.CallID, "error", err)
			continue
		}
		if result != TransitionApplied {
			continue
		}
		r.log.Info("reaped timed out call", "call_id", call.CallID, "state", call.State)

		if call.AnsweredAt != nil {
			duration := int(r.clock.Now().Sub(*call.AnsweredAt).Seconds())
			if _, err := r.billing.Debit(ctx, call.TenantID, call.CallID, duration, call.Kind, call.CampaignID); err != nil {
				r.log.Error("debiting reaped call failed", "call_id", call.CallID, "error", err)
			}
		}
	}
	return nil
}
