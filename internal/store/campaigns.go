package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/outboundly/campaigns/internal/store/models"
)

// CampaignStore persists campaign records and the conditional operations
// that keep at most one runner owning a campaign at a time.
type CampaignStore struct {
	db *sql.DB
}

// Campaigns returns the campaign sub-store.
func (s *Store) Campaigns() *CampaignStore { return &CampaignStore{db: s.db} }

const campaignColumns = `id, tenant_id, name, list_id, from_number, provider_hint, bot_endpoint,
	total_contacts, current_index, processed_contacts, connected_count, failed_count,
	status, pause_reason, heartbeat, runner_id,
	paused_at, resumed_at, cancelled_at, cancelled_by, last_activity,
	created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.ListID, &c.FromNumber, &c.ProviderHint, &c.BotEndpoint,
		&c.TotalContacts, &c.CurrentIndex, &c.ProcessedContacts, &c.ConnectedCount, &c.FailedCount,
		&c.Status, &c.PauseReason, &c.Heartbeat, &c.RunnerID,
		&c.PausedAt, &c.ResumedAt, &c.CancelledAt, &c.CancelledBy, &c.LastActivity,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning campaign: %w", err)
	}
	return &c, nil
}

// Create inserts a new campaign with counters at zero and status running.
func (s *CampaignStore) Create(ctx context.Context, c *models.Campaign) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, tenant_id, name, list_id, from_number, provider_hint, bot_endpoint,
			total_contacts, status, heartbeat, runner_id, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), $10, NOW())`,
		c.ID, c.TenantID, c.Name, c.ListID, c.FromNumber, c.ProviderHint, c.BotEndpoint,
		c.TotalContacts, models.CampaignRunning, c.RunnerID,
	)
	if err != nil {
		return fmt.Errorf("inserting campaign: %w", err)
	}
	return nil
}

// GetByID loads a campaign snapshot by id.
func (s *CampaignStore) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

// CampaignFilter narrows ListCampaigns results.
type CampaignFilter struct {
	TenantID string
	Status   models.CampaignStatus // empty means any
	Limit    int
	Offset   int
}

// List returns campaigns for a tenant, optionally filtered by status,
// newest first. This is a read-only dashboard query; it never mutates.
func (s *CampaignStore) List(ctx context.Context, f CampaignFilter) ([]*models.Campaign, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE tenant_id = $1`
	args := []any{f.TenantID}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, f.Status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing campaigns: %w", err)
	}
	defer rows.Close()

	var out []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of campaigns in each status, across all
// tenants, for the metrics collector.
func (s *CampaignStore) CountByStatus(ctx context.Context) (map[models.CampaignStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM campaigns GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting campaigns by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.CampaignStatus]int64)
	for rows.Next() {
		var status models.CampaignStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning campaign status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ClaimRunnership conditionally assigns runnerId and bumps the heartbeat.
// The claim succeeds when status == expectedStatus AND (runnerId is empty
// OR the existing heartbeat is older than orphanThreshold). It is the sole
// race-free mechanism for starting or taking over a runner.
func (s *CampaignStore) ClaimRunnership(ctx context.Context, campaignID, runnerID string, expectedStatus models.CampaignStatus, orphanThreshold time.Duration) (*models.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE campaigns
		SET runner_id = $1, heartbeat = NOW(), updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		  AND (runner_id = '' OR heartbeat < NOW() - $4::interval)
		RETURNING `+campaignColumns,
		runnerID, campaignID, expectedStatus, fmt.Sprintf("%d milliseconds", orphanThreshold.Milliseconds()),
	)
	c, err := scanCampaign(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	return c, err
}

// ListOrphanCandidates returns running campaigns whose heartbeat has gone
// stale past orphanThreshold — candidates for the heartbeat sweeper to
// attempt ClaimRunnership on. It is a plain read; the race-free takeover
// itself happens in ClaimRunnership.
func (s *CampaignStore) ListOrphanCandidates(ctx context.Context, orphanThreshold time.Duration) ([]*models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1 AND heartbeat < NOW() - $2::interval
		ORDER BY heartbeat ASC`,
		models.CampaignRunning, fmt.Sprintf("%d milliseconds", orphanThreshold.Milliseconds()),
	)
	if err != nil {
		return nil, fmt.Errorf("listing orphan candidates: %w", err)
	}
	defer rows.Close()

	var out []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Heartbeat refreshes the heartbeat timestamp for the current owner. It is
// a no-op (returns ErrConflict) if runnerID no longer owns the campaign.
func (s *CampaignStore) Heartbeat(ctx context.Context, campaignID, runnerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET heartbeat = NOW(), updated_at = NOW()
		WHERE id = $1 AND runner_id = $2 AND status = $3`,
		campaignID, runnerID, models.CampaignRunning,
	)
	if err != nil {
		return fmt.Errorf("writing heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking heartbeat write: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// CounterUpdates describes how AdvanceCursor should bump the processed
// counters for the contact being advanced past.
type CounterUpdates struct {
	Connected bool // true increments connectedCount, false increments failedCount
}

// AdvanceCursor conditionally moves currentIndex forward by delta and bumps
// the processed/connected/failed counters, keyed on fromIndex matching the
// persisted currentIndex so two runners can never double-advance.
func (s *CampaignStore) AdvanceCursor(ctx context.Context, campaignID string, fromIndex, delta int, counters CounterUpdates) (*models.Campaign, error) {
	connectedDelta, failedDelta := 0, 0
	if counters.Connected {
		connectedDelta = 1
	} else {
		failedDelta = 1
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE campaigns
		SET current_index = current_index + $1,
		    processed_contacts = processed_contacts + 1,
		    connected_count = connected_count + $2,
		    failed_count = failed_count + $3,
		    last_activity = NOW(),
		    updated_at = NOW()
		WHERE id = $4 AND current_index = $5
		RETURNING `+campaignColumns,
		delta, connectedDelta, failedDelta, campaignID, fromIndex,
	)
	c, err := scanCampaign(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStaleCursor
	}
	return c, err
}

// Pause conditionally transitions running -> paused, releasing ownership.
func (s *CampaignStore) Pause(ctx context.Context, campaignID string, reason models.PauseReason) error {
	return s.transitionFrom(ctx, campaignID, []models.CampaignStatus{models.CampaignRunning}, func() (string, []any) {
		return `UPDATE campaigns SET status = $1, pause_reason = $2, runner_id = '', heartbeat = 'epoch', paused_at = NOW(), updated_at = NOW()
			WHERE id = $3 AND status = $4`,
			[]any{models.CampaignPaused, reason, campaignID, models.CampaignRunning}
	})
}

// Resume conditionally transitions paused -> running. It does not itself
// assign a runner; the caller is expected to ClaimRunnership next.
func (s *CampaignStore) Resume(ctx context.Context, campaignID string) error {
	return s.transitionFrom(ctx, campaignID, []models.CampaignStatus{models.CampaignPaused}, func() (string, []any) {
		return `UPDATE campaigns SET status = $1, resumed_at = NOW(), updated_at = NOW()
			WHERE id = $2 AND status = $3`,
			[]any{models.CampaignRunning, campaignID, models.CampaignPaused}
	})
}

// Cancel conditionally transitions {running,paused} -> cancelled. Calling
// Cancel on an already-cancelled campaign is a no-op success (idempotent);
// calling it on any other terminal status returns ErrInvalidState.
func (s *CampaignStore) Cancel(ctx context.Context, campaignID, by string) error {
	current, err := s.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if current.Status == models.CampaignCancelled {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1, runner_id = '', cancelled_at = NOW(), cancelled_by = $2, updated_at = NOW()
		WHERE id = $3 AND status IN ($4, $5)`,
		models.CampaignCancelled, by, campaignID, models.CampaignRunning, models.CampaignPaused,
	)
	if err != nil {
		return fmt.Errorf("cancelling campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking cancel write: %w", err)
	}
	if n == 0 {
		return ErrInvalidState
	}
	return nil
}

// Complete conditionally transitions running -> completed. Callers must
// only invoke this once currentIndex == totalContacts.
func (s *CampaignStore) Complete(ctx context.Context, campaignID string) error {
	return s.transitionFrom(ctx, campaignID, []models.CampaignStatus{models.CampaignRunning}, func() (string, []any) {
		return `UPDATE campaigns SET status = $1, runner_id = '', updated_at = NOW()
			WHERE id = $2 AND status = $3`,
			[]any{models.CampaignCompleted, campaignID, models.CampaignRunning}
	})
}

// Fail conditionally transitions running -> failed and releases ownership,
// making the campaign permanently ineligible for further runs.
func (s *CampaignStore) Fail(ctx context.Context, campaignID string) error {
	return s.transitionFrom(ctx, campaignID, []models.CampaignStatus{models.CampaignRunning}, func() (string, []any) {
		return `UPDATE campaigns SET status = $1, runner_id = '', updated_at = NOW()
			WHERE id = $2 AND status = $3`,
			[]any{models.CampaignFailed, campaignID, models.CampaignRunning}
	})
}

func (s *CampaignStore) transitionFrom(ctx context.Context, campaignID string, allowed []models.CampaignStatus, build func() (string, []any)) error {
	query, args := build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transitioning campaign %s: %w", campaignID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking transition write: %w", err)
	}
	if n == 0 {
		return ErrInvalidState
	}
	return nil
}
