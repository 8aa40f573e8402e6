package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/outboundly/campaigns/internal/store/models"
)

// Manager tracks one goroutine per actively-running campaign, so the
// control API and the heartbeat sweeper can start or stop a campaign's
// runner without knowing about goroutines directly. A single Runner is
// reused across campaigns since Runner.Run takes the campaignID as a
// parameter and holds no per-campaign state of its own.
//
// Manager holds its own process-lifetime base context rather than taking
// one from each caller: a runner goroutine must outlive the HTTP request
// that started it, and an http.Request's Context() is canceled the moment
// ServeHTTP returns, which would cancel the runner before it dials anyone.
type Manager struct {
	mu      sync.Mutex
	base    context.Context
	runner  *Runner
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	log     *slog.Logger
}

// NewManager builds a Manager over a Runner. base should be a
// process-lifetime context (canceled only on shutdown), not a per-request
// one — every runner goroutine Start spawns is a child of it.
func NewManager(base context.Context, r *Runner, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		base:    base,
		runner:  r,
		cancels: make(map[string]context.CancelFunc),
		log:     log.With("component", "runner_manager"),
	}
}

// Start spawns a goroutine driving campaignID's contact loop, unless one is
// already running. Safe to call from CreateCampaign or ResumeCampaign.
func (m *Manager) Start(campaignID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.cancels[campaignID]; running {
		return
	}

	runCtx, cancel := context.WithCancel(m.base)
	m.cancels[campaignID] = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.cancels, campaignID)
			m.mu.Unlock()
		}()
		if err := m.runner.Run(runCtx, campaignID); err != nil {
			m.log.Error("runner exited with error", "campaign_id", campaignID, "error", err)
		}
	}()
}

// Resume implements heartbeat.RunnerStarter: the sweeper hands this
// Manager a campaign it just claimed via ClaimRunnership, and Manager
// starts driving it from its persisted currentIndex.
func (m *Manager) Resume(campaign *models.Campaign) {
	m.Start(campaign.ID)
}

// Stop cancels campaignID's runner goroutine if one is running. It does
// not itself change the campaign's persisted status; callers pause/cancel
// the campaign first so the runner observes it and can also exit cleanly
// on its own.
func (m *Manager) Stop(campaignID string) {
	m.mu.Lock()
	cancel, running := m.cancels[campaignID]
	m.mu.Unlock()
	if running {
		cancel()
	}
}

// StopAll cancels every running campaign's goroutine and waits for them to
// exit, for graceful process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Running reports whether campaignID currently has an active runner
// goroutine, for dashboards/diagnostics.
func (m *Manager) Running(campaignID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cancels[campaignID]
	return ok
}
