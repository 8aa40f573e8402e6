package contacts

import (
	"context"
	"testing"

	"github.com/outboundly/campaigns/internal/store/models"
)

func TestMemorySource_PageReturnsInIndexOrder(t *testing.T) {
	src := NewMemorySource(map[string][]models.Contact{
		"list-1": {
			{Index: 2, PhoneNumber: "+3"},
			{Index: 0, PhoneNumber: "+1"},
			{Index: 1, PhoneNumber: "+2"},
		},
	})

	got, err := src.Page(context.Background(), "list-1", 0, 2)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if len(got) != 2 || got[0].PhoneNumber != "+1" || got[1].PhoneNumber != "+2" {
		t.Fatalf("Page() = %+v, want [+1, +2]", got)
	}
}

func TestMemorySource_PagePastEndReturnsEmpty(t *testing.T) {
	src := NewMemorySource(map[string][]models.Contact{
		"list-1": {{Index: 0, PhoneNumber: "+1"}},
	})

	got, err := src.Page(context.Background(), "list-1", 5, 10)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Page() = %+v, want empty", got)
	}
}

func TestMemorySource_CountUnknownListErrors(t *testing.T) {
	src := NewMemorySource(nil)
	if _, err := src.Count(context.Background(), "missing"); err == nil {
		t.Fatal("Count() expected error for unknown list")
	}
}

func TestMemorySource_ZeroLimitReturnsRest(t *testing.T) {
	src := NewMemorySource(map[string][]models.Contact{
		"list-1": {{Index: 0}, {Index: 1}, {Index: 2}},
	})
	got, err := src.Page(context.Background(), "list-1", 1, 0)
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Page() len = %d, want 2", len(got))
	}
}
