package registry

import (
	"context"
	"testing"
	"time"

	"github.com/outboundly/campaigns/internal/clock"
	"github.com/outboundly/campaigns/internal/store/models"
)

type fakeTimeoutStore struct {
	due         []*models.ActiveCall
	transitions []string
}

func (f *fakeTimeoutStore) DueForTimeout(ctx context.Context, timeouts map[models.CallState]time.Duration, now time.Time) ([]*models.ActiveCall, error) {
	return f.due, nil
}

func (f *fakeTimeoutStore) Transition(ctx context.Context, callID string, fromStates []models.CallState, target models.CallState, set TransitionFields) (TransitionResult, error) {
	f.transitions = append(f.transitions, callID)
	for _, call := range f.due {
		if call.CallID == callID {
			call.State = target
		}
	}
	return TransitionApplied, nil
}

type fakeDebiter struct {
	debited map[string]int
}

func (f *fakeDebiter) Debit(ctx context.Context, tenantID, callID string, durationSeconds int, kind models.CallKind, campaignID string) (int64, error) {
	if f.debited == nil {
		f.debited = map[string]int{}
	}
	f.debited[callID] = durationSeconds
	return 0, nil
}

func TestReaper_ReapsDueCallsAndDebitsIfAnswered(t *testing.T) {
	answeredAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeTimeoutStore{
		due: []*models.ActiveCall{
			{CallID: "answered-call", TenantID: "t1", State: models.CallOngoing, AnsweredAt: &answeredAt},
			{CallID: "ringing-call", TenantID: "t1", State: models.CallRinging},
		},
	}
	debiter := &fakeDebiter{}
	fc := clock.NewFake(answeredAt.Add(90 * time.Second))

	r, err := NewReaper(fs, debiter, ReaperConfig{Timeouts: map[models.CallState]time.Duration{}}, fc, nil)
	if err != nil {
		t.Fatalf("NewReaper() error = %v", err)
	}

	if err := r.Reap(context.Background()); err != nil {
		t.Fatalf("Reap() error = %v", err)
	}

	if len(fs.transitions) != 2 {
		t.Fatalf("transitions = %v, want 2 calls transitioned", fs.transitions)
	}
	if d, ok := debiter.debited["answered-call"]; !ok || d != 90 {
		t.Errorf("debited[answered-call] = %d, ok=%v, want 90s", d, ok)
	}
	if _, ok := debiter.debited["ringing-call"]; ok {
		t.Errorf("ringing-call should not be debited, never answered")
	}
}

func TestReaper_NoDueCallsIsNoop(t *testing.T) {
	fs := &fakeTimeoutStore{}
	debiter := &fakeDebiter{}
	fc := clock.NewFake(time.Unix(0, 0))

	r, err := NewReaper(fs, debiter, ReaperConfig{}, fc, nil)
	if err != nil {
		t.Fatalf("NewReaper() error = %v", err)
	}
	if err := r.Reap(context.Background()); err != nil {
		t.Fatalf("Reap() error = %v", err)
	}
	if len(fs.transitions) != 0 {
		t.Errorf("transitions = %v, want none", fs.transitions)
	}
}
