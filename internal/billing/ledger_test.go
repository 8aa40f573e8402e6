package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/outboundly/campaigns/internal/store/models"
)

type fakeBalanceStore struct {
	balances map[string]int64
	entries  []*models.BillingEntry
	durations map[string]int // campaignID -> total seconds billed
}

func newFakeBalanceStore() *fakeBalanceStore {
	return &fakeBalanceStore{
		balances:  map[string]int64{},
		durations: map[string]int{},
	}
}

func (f *fakeBalanceStore) Balance(ctx context.Context, tenantID string) (int64, error) {
	return f.balances[tenantID], nil
}

func (f *fakeBalanceStore) Credit(ctx context.Context, tenantID string, amount int64) (int64, error) {
	f.balances[tenantID] += amount
	return f.balances[tenantID], nil
}

func (f *fakeBalanceStore) Debit(ctx context.Context, tenantID string, credits int64) (int64, error) {
	f.balances[tenantID] -= credits
	return f.balances[tenantID], nil
}

func (f *fakeBalanceStore) AppendEntry(ctx context.Context, e *models.BillingEntry) error {
	f.entries = append(f.entries, e)
	if e.CampaignID != "" {
		f.durations[e.CampaignID] += e.DurationSeconds
	}
	return nil
}

func (f *fakeBalanceStore) SumCampaignDebits(ctx context.Context, tenantID, campaignID string) (int64, int, error) {
	d := f.durations[campaignID]
	return -int64(d), d, nil
}

func TestLedger_Admit(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		wantErr error
	}{
		{"positive balance admits", 100, nil},
		{"zero balance rejected", 0, ErrInsufficientBalance},
		{"negative balance rejected", -10, ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeBalanceStore()
			s.balances["t1"] = tt.balance
			l := New(s, nil, Config{})

			err := l.Admit(context.Background(), "t1")
			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Errorf("Admit() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLedger_DebitTestCallWritesEntryImmediately(t *testing.T) {
	s := newFakeBalanceStore()
	s.balances["t1"] = 100

	l := New(s, nil, Config{})
	after, err := l.Debit(context.Background(), "t1", "call-1", 15, models.KindTest, "")
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if after != 85 {
		t.Errorf("balance after = %d, want 85", after)
	}
	if len(s.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(s.entries))
	}
	if s.entries[0].Credits != -15 {
		t.Errorf("entry credits = %d, want -15", s.entries[0].Credits)
	}
}

func TestLedger_DebitCampaignCallDefersEntry(t *testing.T) {
	s := newFakeBalanceStore()
	s.balances["t1"] = 100

	l := New(s, nil, Config{})
	if _, err := l.Debit(context.Background(), "t1", "call-1", 20, models.KindCampaign, "camp-1"); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if len(s.entries) != 0 {
		t.Errorf("entries = %d, want 0 (deferred to campaign completion)", len(s.entries))
	}
}

func TestLedger_CompleteCampaignLedgerAggregates(t *testing.T) {
	s := newFakeBalanceStore()
	s.balances["t1"] = 1000
	s.durations["camp-1"] = 60 // as if the registry recorded 3 calls of 20s each

	l := New(s, nil, Config{})
	if err := l.CompleteCampaignLedger(context.Background(), "t1", "camp-1"); err != nil {
		t.Fatalf("CompleteCampaignLedger() error = %v", err)
	}
	if len(s.entries) != 1 {
		t.Fatalf("entries = %d, want 1 aggregated row", len(s.entries))
	}
	if s.entries[0].Credits != -60 || s.entries[0].DurationSeconds != 60 {
		t.Errorf("aggregated entry = %+v, want credits=-60 duration=60", s.entries[0])
	}
}

func TestLedger_CompleteCampaignLedgerNoCallsIsNoop(t *testing.T) {
	s := newFakeBalanceStore()
	l := New(s, nil, Config{})
	if err := l.CompleteCampaignLedger(context.Background(), "t1", "camp-empty"); err != nil {
		t.Fatalf("CompleteCampaignLedger() error = %v", err)
	}
	if len(s.entries) != 0 {
		t.Errorf("entries = %d, want 0 for a campaign with no billed calls", len(s.entries))
	}
}

func TestLedger_LowBalanceCallback(t *testing.T) {
	s := newFakeBalanceStore()
	s.balances["t1"] = 20

	var alerted string
	var alertedBalance int64
	l := New(s, nil, Config{
		LowBalanceThreshold: 10,
		OnLowBalance: func(tenantID string, balanceAfter int64) {
			alerted = tenantID
			alertedBalance = balanceAfter
		},
	})

	if _, err := l.Debit(context.Background(), "t1", "call-1", 15, models.KindTest, ""); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if alerted != "t1" || alertedBalance != 5 {
		t.Errorf("low balance callback = (%q, %d), want (t1, 5)", alerted, alertedBalance)
	}
}
