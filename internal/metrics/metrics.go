package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/outboundly/campaigns/internal/store/models"
)

// ActiveCallCounter exposes the number of non-terminal active calls,
// optionally scoped to a tenant. Satisfied by *registry.Registry.
type ActiveCallCounter interface {
	Snapshot(ctx context.Context, tenantID string) (int, error)
}

// CampaignStatusCounter groups campaigns by status across all tenants.
// Satisfied by *store.CampaignStore.
type CampaignStatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.CampaignStatus]int64, error)
}

// OrphanCounter lists campaigns whose heartbeat has gone stale past the
// orphan threshold. Satisfied by *store.CampaignStore.
type OrphanCounter interface {
	ListOrphanCandidates(ctx context.Context, orphanThreshold time.Duration) ([]*models.Campaign, error)
}

// Collector is a prometheus.Collector that gathers campaign-orchestrator
// metrics at scrape time rather than maintaining in-process counters that
// can drift from the store of record.
type Collector struct {
	activeCalls     ActiveCallCounter
	campaignStatus  CampaignStatusCounter
	orphans         OrphanCounter
	orphanThreshold time.Duration
	startTime       time.Time

	activeCallsDesc     *prometheus.Desc
	campaignsDesc       *prometheus.Desc
	orphanCampaignsDesc *prometheus.Desc
	uptimeDesc          *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(
	activeCalls ActiveCallCounter,
	campaignStatus CampaignStatusCounter,
	orphans OrphanCounter,
	orphanThreshold time.Duration,
	startTime time.Time,
) *Collector {
	return &Collector{
		activeCalls:     activeCalls,
		campaignStatus:  campaignStatus,
		orphans:         orphans,
		orphanThreshold: orphanThreshold,
		startTime:       startTime,

		activeCallsDesc: prometheus.NewDesc(
			"campaigns_active_calls",
			"Number of calls currently occupying a concurrency slot (initiating, warming, ringing, ongoing)",
			nil, nil,
		),
		campaignsDesc: prometheus.NewDesc(
			"campaigns_by_status",
			"Number of campaigns in each status, across all tenants",
			[]string{"status"}, nil,
		),
		orphanCampaignsDesc: prometheus.NewDesc(
			"campaigns_orphan_candidates",
			"Number of running campaigns whose heartbeat is older than the orphan threshold",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"campaigns_uptime_seconds",
			"Seconds since the campaignd process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.campaignsDesc
	ch <- c.orphanCampaignsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.activeCalls != nil {
		count, err := c.activeCalls.Snapshot(ctx, "")
		if err != nil {
			slog.Error("metrics: failed to snapshot active calls", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.activeCallsDesc, prometheus.GaugeValue, float64(count),
			)
		}
	}

	if c.campaignStatus != nil {
		counts, err := c.campaignStatus.CountByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count campaigns by status", "error", err)
		} else {
			for _, status := range []models.CampaignStatus{
				models.CampaignRunning, models.CampaignPaused,
				models.CampaignCompleted, models.CampaignCancelled, models.CampaignFailed,
			} {
				ch <- prometheus.MustNewConstMetric(
					c.campaignsDesc, prometheus.GaugeValue,
					float64(counts[status]), string(status),
				)
			}
		}
	}

	if c.orphans != nil {
		candidates, err := c.orphans.ListOrphanCandidates(ctx, c.orphanThreshold)
		if err != nil {
			slog.Error("metrics: failed to list orphan candidates", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.orphanCampaignsDesc, prometheus.GaugeValue, float64(len(candidates)),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds(),
	)
}
