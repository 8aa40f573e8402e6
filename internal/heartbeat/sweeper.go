// Package heartbeat implements the orphan detector: a background sweep
// that finds campaigns whose owning runner has gone silent and hands
// them to a fresh runner.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/outboundly/campaigns/internal/store/models"
)

// CampaignStore is the persistence the sweeper needs; *store.CampaignStore
// satisfies it.
type CampaignStore interface {
	ListOrphanCandidates(ctx context.Context, orphanThreshold time.Duration) ([]*models.Campaign, error)
	ClaimRunnership(ctx context.Context, campaignID, runnerID string, expectedStatus models.CampaignStatus, orphanThreshold time.Duration) (*models.Campaign, error)
}

// RunnerStarter is what the sweeper hands a claimed campaign to; a
// *runner.Manager satisfies it by spawning a goroutine that resumes from
// the campaign's currentIndex.
type RunnerStarter interface {
	Resume(campaign *models.Campaign)
}

// Sweeper periodically scans for stale-heartbeat campaigns and attempts a
// race-free takeover via ClaimRunnership.
type Sweeper struct {
	store           CampaignStore
	runner          RunnerStarter
	runnerID        string
	orphanThreshold time.Duration
	log             *slog.Logger

	cron gocron.Scheduler
}

// Config tunes the sweeper.
type Config struct {
	RunnerID        string
	OrphanThreshold time.Duration
	SweepInterval   time.Duration
}

// NewSweeper builds a Sweeper over a campaign store and a runner starter.
func NewSweeper(store CampaignStore, runner RunnerStarter, cfg Config, log *slog.Logger) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating sweeper scheduler: %w", err)
	}
	return &Sweeper{
		store:           store,
		runner:          runner,
		runnerID:        cfg.RunnerID,
		orphanThreshold: cfg.OrphanThreshold,
		log:             log.With("component", "heartbeat_sweeper"),
		cron:            cron,
	}, nil
}

// Start schedules the sweep on a singleton-mode gocron job so overlapping
// sweeps are skipped rather than queued, and starts the scheduler.
func (s *Sweeper) Start(interval time.Duration) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("orphan sweep failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduling sweep job: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop shuts down the sweeper's scheduler.
func (s *Sweeper) Stop() error {
	return s.cron.Shutdown()
}

// Sweep scans status=running campaigns with a stale heartbeat and attempts
// ClaimRunnership on each; campaigns claimed by this run are handed to the
// RunnerStarter to resume from their persisted currentIndex. A claim
// conflict (another sweeper or the original runner beat us to it) is
// expected under concurrent sweepers and is not an error.
func (s *Sweeper) Sweep(ctx context.Context) error {
	candidates, err := s.store.ListOrphanCandidates(ctx, s.orphanThreshold)
	if err != nil {
		return fmt.Errorf("listing orphan candidates: %w", err)
	}

	for _, candidate := range candidates {
		claimed, err := s.store.ClaimRunnership(ctx, candidate.ID, s.runnerID, models.CampaignRunning, s.orphanThreshold)
		if err != nil {
			s.log.Debug("orphan claim lost", "campaign_id", candidate.ID, "error", err)
			continue
		}
		s.log.Info("claimed orphaned campaign", "campaign_id", claimed.ID, "current_index", claimed.CurrentIndex)
		s.runner.Resume(claimed)
	}
	return nil
}
