package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/outboundly/campaigns/internal/store"
	"github.com/outboundly/campaigns/internal/store/models"
)

type fakeCampaignStore struct {
	candidates []*models.Campaign
	claims     map[string]error
	claimed    []string
}

func (f *fakeCampaignStore) ListOrphanCandidates(ctx context.Context, orphanThreshold time.Duration) ([]*models.Campaign, error) {
	return f.candidates, nil
}

func (f *fakeCampaignStore) ClaimRunnership(ctx context.Context, campaignID, runnerID string, expectedStatus models.CampaignStatus, orphanThreshold time.Duration) (*models.Campaign, error) {
	if err, ok := f.claims[campaignID]; ok && err != nil {
		return nil, err
	}
	f.claimed = append(f.claimed, campaignID)
	for _, c := range f.candidates {
		if c.ID == campaignID {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeRunnerStarter struct {
	resumed []string
}

func (f *fakeRunnerStarter) Resume(campaign *models.Campaign) {
	f.resumed = append(f.resumed, campaign.ID)
}

func TestSweeper_ClaimsAndResumesOrphans(t *testing.T) {
	fs := &fakeCampaignStore{
		candidates: []*models.Campaign{
			{ID: "camp-1", CurrentIndex: 5},
			{ID: "camp-2", CurrentIndex: 0},
		},
		claims: map[string]error{},
	}
	starter := &fakeRunnerStarter{}

	sw, err := NewSweeper(fs, starter, Config{RunnerID: "runner-a", OrphanThreshold: 30 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}

	if err := sw.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if len(starter.resumed) != 2 {
		t.Fatalf("resumed = %v, want 2 campaigns", starter.resumed)
	}
}

func TestSweeper_LostClaimIsNotAnError(t *testing.T) {
	fs := &fakeCampaignStore{
		candidates: []*models.Campaign{{ID: "camp-1"}},
		claims:     map[string]error{"camp-1": store.ErrConflict},
	}
	starter := &fakeRunnerStarter{}

	sw, err := NewSweeper(fs, starter, Config{RunnerID: "runner-a", OrphanThreshold: 30 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}

	if err := sw.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(starter.resumed) != 0 {
		t.Errorf("resumed = %v, want none", starter.resumed)
	}
}

func TestSweeper_NoCandidatesIsNoop(t *testing.T) {
	fs := &fakeCampaignStore{}
	starter := &fakeRunnerStarter{}

	sw, err := NewSweeper(fs, starter, Config{RunnerID: "runner-a", OrphanThreshold: 30 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	if err := sw.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(fs.claimed) != 0 {
		t.Errorf("claimed = %v, want none", fs.claimed)
	}
}
