package runner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/outboundly/campaigns/internal/billing"
	"github.com/outboundly/campaigns/internal/clock"
	"github.com/outboundly/campaigns/internal/contacts"
	"github.com/outboundly/campaigns/internal/provider"
	"github.com/outboundly/campaigns/internal/registry"
	"github.com/outboundly/campaigns/internal/store"
	"github.com/outboundly/campaigns/internal/store/models"
)

type fakeCampaignStore struct {
	campaign     *models.Campaign
	advanceCalls []int
	paused       models.PauseReason
	completed    bool
	failed       bool
	staleOnce    bool
}

func (f *fakeCampaignStore) ClaimRunnership(ctx context.Context, campaignID, runnerID string, expectedStatus models.CampaignStatus, orphanThreshold time.Duration) (*models.Campaign, error) {
	if f.campaign.Status != expectedStatus {
		return nil, store.ErrConflict
	}
	f.campaign.RunnerID = runnerID
	return f.campaign, nil
}

func (f *fakeCampaignStore) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	return f.campaign, nil
}

func (f *fakeCampaignStore) Heartbeat(ctx context.Context, campaignID, runnerID string) error {
	return nil
}

func (f *fakeCampaignStore) AdvanceCursor(ctx context.Context, campaignID string, fromIndex, delta int, counters CounterUpdates) (*models.Campaign, error) {
	if f.staleOnce {
		f.staleOnce = false
		return nil, store.ErrStaleCursor
	}
	if fromIndex != f.campaign.CurrentIndex {
		return nil, store.ErrStaleCursor
	}
	f.advanceCalls = append(f.advanceCalls, fromIndex)
	f.campaign.CurrentIndex += delta
	f.campaign.ProcessedContacts++
	if counters.Connected {
		f.campaign.ConnectedCount++
	} else {
		f.campaign.FailedCount++
	}
	return f.campaign, nil
}

func (f *fakeCampaignStore) Pause(ctx context.Context, campaignID string, reason models.PauseReason) error {
	f.campaign.Status = models.CampaignPaused
	f.paused = reason
	return nil
}

func (f *fakeCampaignStore) Complete(ctx context.Context, campaignID string) error {
	f.campaign.Status = models.CampaignCompleted
	f.completed = true
	return nil
}

func (f *fakeCampaignStore) Fail(ctx context.Context, campaignID string) error {
	f.campaign.Status = models.CampaignFailed
	f.failed = true
	return nil
}

type fakeCallRegistry struct {
	admitErr   error
	warmupErr  error
	nextCallID int
	dialed     []string
	dialFailed []string
}

func (f *fakeCallRegistry) TryAdmit(ctx context.Context, tenantID, campaignID string, contactIndex int, from, to string, providerName provider.Name) (registry.Admission, error) {
	if f.admitErr != nil {
		return registry.Admission{}, f.admitErr
	}
	f.nextCallID++
	return registry.Admission{CallID: fmt.Sprintf("call-%d", f.nextCallID)}, nil
}

func (f *fakeCallRegistry) Warmup(ctx context.Context, callID, botEndpoint string) error {
	return f.warmupErr
}

func (f *fakeCallRegistry) RecordDialed(ctx context.Context, callID, providerCallRef string) error {
	f.dialed = append(f.dialed, callID)
	return nil
}

func (f *fakeCallRegistry) RecordDialFailed(ctx context.Context, callID string) error {
	f.dialFailed = append(f.dialFailed, callID)
	return nil
}

type fakeProvider struct {
	placeErr error
}

func (f *fakeProvider) ResolveCredentials(ctx context.Context, tenantID string, name provider.Name) (provider.Credentials, error) {
	return provider.Credentials{IsDefault: true}, nil
}

func (f *fakeProvider) PlaceCall(ctx context.Context, name provider.Name, creds provider.Credentials, from, to string, cb provider.Callbacks) (string, error) {
	if f.placeErr != nil {
		return "", f.placeErr
	}
	return "PROV-REF", nil
}

func (f *fakeProvider) NormalizeWebhook(ctx context.Context, name provider.Name, rawPayload []byte, tokenFromURL string) (provider.NormalizedWebhook, error) {
	return provider.NormalizedWebhook{}, nil
}

type fakeLedger struct {
	completedFor []string
}

func (f *fakeLedger) CompleteCampaignLedger(ctx context.Context, tenantID, campaignID string) error {
	f.completedFor = append(f.completedFor, campaignID)
	return nil
}

func newTestRunner(t *testing.T, cs *fakeCampaignStore, cr *fakeCallRegistry, prov provider.Port, ledger Ledger, src contacts.Source) *Runner {
	t.Helper()
	signer := provider.NewTokenSigner([]byte("test-secret"))
	cfg := Config{
		RunnerID:          "runner-1",
		DefaultProvider:   provider.Twilio,
		OrphanThreshold:   30 * time.Second,
		HeartbeatInterval: time.Hour,
		BackpressureSleep: 0,
		InterCallPacing:   0,
		ProviderRetryMax:  1,
		WebhookBaseURL:    "https://calls.example.com",
	}
	return New(cs, src, cr, prov, ledger, signer, nil, clock.NewFake(time.Unix(0, 0)), cfg, nil)
}

func contactList(n int) map[string][]models.Contact {
	cs := make([]models.Contact, n)
	for i := range cs {
		cs[i] = models.Contact{Index: i, PhoneNumber: fmt.Sprintf("+1555000%d", i)}
	}
	return map[string][]models.Contact{"list-1": cs}
}

func TestRunner_CompletesCampaignAndFinalizesLedger(t *testing.T) {
	cs := &fakeCampaignStore{campaign: &models.Campaign{
		ID: "camp-1", TenantID: "t1", ListID: "list-1", FromNumber: "+1000",
		TotalContacts: 3, Status: models.CampaignRunning,
	}}
	cr := &fakeCallRegistry{}
	ledger := &fakeLedger{}
	src := contacts.NewMemorySource(contactList(3))

	r := newTestRunner(t, cs, cr, &fakeProvider{}, ledger, src)
	if err := r.Run(context.Background(), "camp-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !cs.completed {
		t.Error("expected campaign to be marked completed")
	}
	if len(ledger.completedFor) != 1 || ledger.completedFor[0] != "camp-1" {
		t.Errorf("completedFor = %v, want [camp-1]", ledger.completedFor)
	}
	if cs.campaign.ConnectedCount != 3 {
		t.Errorf("ConnectedCount = %d, want 3", cs.campaign.ConnectedCount)
	}
	if len(cr.dialed) != 3 {
		t.Errorf("dialed = %v, want 3 calls", cr.dialed)
	}
}

func TestRunner_InsufficientBalancePausesCampaign(t *testing.T) {
	cs := &fakeCampaignStore{campaign: &models.Campaign{
		ID: "camp-1", TenantID: "t1", ListID: "list-1", FromNumber: "+1000",
		TotalContacts: 3, Status: models.CampaignRunning,
	}}
	cr := &fakeCallRegistry{admitErr: billing.ErrInsufficientBalance}
	ledger := &fakeLedger{}
	src := contacts.NewMemorySource(contactList(3))

	r := newTestRunner(t, cs, cr, &fakeProvider{}, ledger, src)
	if err := r.Run(context.Background(), "camp-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if cs.campaign.Status != models.CampaignPaused {
		t.Fatalf("status = %v, want paused", cs.campaign.Status)
	}
	if cs.paused != models.PauseReasonOutOfCredit {
		t.Errorf("pause reason = %v, want out_of_credit", cs.paused)
	}
	if cs.completed {
		t.Error("campaign should not be completed")
	}
}

func TestRunner_WarmupFailureMarksContactFailedAndAdvances(t *testing.T) {
	cs := &fakeCampaignStore{campaign: &models.Campaign{
		ID: "camp-1", TenantID: "t1", ListID: "list-1", FromNumber: "+1000",
		BotEndpoint: "http://bot", TotalContacts: 1, Status: models.CampaignRunning,
	}}
	cr := &fakeCallRegistry{warmupErr: registry.ErrBotNotReady}
	ledger := &fakeLedger{}
	src := contacts.NewMemorySource(contactList(1))

	r := newTestRunner(t, cs, cr, &fakeProvider{}, ledger, src)
	if err := r.Run(context.Background(), "camp-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if cs.campaign.FailedCount != 1 {
		t.Errorf("FailedCount = %d, want 1", cs.campaign.FailedCount)
	}
	if !cs.completed {
		t.Error("expected campaign to complete after the single failed contact")
	}
}

func TestRunner_ClaimConflictReturnsWithoutError(t *testing.T) {
	cs := &fakeCampaignStore{campaign: &models.Campaign{
		ID: "camp-1", Status: models.CampaignPaused,
	}}
	r := newTestRunner(t, cs, &fakeCallRegistry{}, &fakeProvider{}, &fakeLedger{}, contacts.NewMemorySource(nil))
	if err := r.Run(context.Background(), "camp-1"); err != nil {
		t.Fatalf("Run() error = %v, want nil on lost claim", err)
	}
}

func TestRunner_ProviderRejectionMarksContactFailed(t *testing.T) {
	cs := &fakeCampaignStore{campaign: &models.Campaign{
		ID: "camp-1", TenantID: "t1", ListID: "list-1", FromNumber: "+1000",
		TotalContacts: 1, Status: models.CampaignRunning,
	}}
	cr := &fakeCallRegistry{}
	prov := &fakeProvider{placeErr: &provider.RejectedError{Reason: "invalid number"}}
	src := contacts.NewMemorySource(contactList(1))

	r := newTestRunner(t, cs, cr, prov, &fakeLedger{}, src)
	if err := r.Run(context.Background(), "camp-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if cs.campaign.FailedCount != 1 {
		t.Errorf("FailedCount = %d, want 1", cs.campaign.FailedCount)
	}
	if len(cr.dialFailed) != 1 {
		t.Errorf("dialFailed = %v, want 1 entry", cr.dialFailed)
	}
}

func TestRunner_StaleCursorReloadsAndContinues(t *testing.T) {
	cs := &fakeCampaignStore{
		campaign: &models.Campaign{
			ID: "camp-1", TenantID: "t1", ListID: "list-1", FromNumber: "+1000",
			TotalContacts: 2, Status: models.CampaignRunning,
		},
		staleOnce: true,
	}
	cr := &fakeCallRegistry{}
	src := contacts.NewMemorySource(contactList(2))

	r := newTestRunner(t, cs, cr, &fakeProvider{}, &fakeLedger{}, src)
	if err := r.Run(context.Background(), "camp-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !cs.completed {
		t.Error("expected campaign to complete despite one stale-cursor retry")
	}
}

func TestRunner_FatalStoreErrorReleasesOwnership(t *testing.T) {
	cs := &fakeCampaignStore{campaign: &models.Campaign{
		ID: "camp-1", TenantID: "t1", ListID: "missing-list", FromNumber: "+1000",
		TotalContacts: 1, Status: models.CampaignRunning,
	}}
	r := newTestRunner(t, cs, &fakeCallRegistry{}, &fakeProvider{}, &fakeLedger{}, contacts.NewMemorySource(nil))

	err := r.Run(context.Background(), "camp-1")
	if err == nil {
		t.Fatal("Run() expected error for unknown contact list")
	}
	if !cs.failed {
		t.Error("expected campaign to be marked failed")
	}
}
