// Package contacts defines the narrow port the campaign runner uses to
// page through a campaign's contact list. CSV ingestion and contact-list
// CRUD are external collaborators; the runner only needs a typed way to
// read contacts at an index, so this package stays a thin interface plus
// an in-memory implementation for tests and small lists.
package contacts

import (
	"context"
	"fmt"
	"sort"

	"github.com/outboundly/campaigns/internal/store/models"
)

// ErrOutOfRange is returned when fromIndex is negative. A fromIndex at or
// past the end of the list is not an error; Page returns an empty result.
var ErrOutOfRange = fmt.Errorf("contacts: index out of range")

// Source pages through a list's contacts in index order. Production
// deployments back this with whatever system owns contact lists; the
// runner only depends on this interface.
type Source interface {
	// Page returns up to limit contacts starting at fromIndex (inclusive),
	// ordered by Contact.Index ascending. An empty result with a nil error
	// means fromIndex is at or past the end of the list.
	Page(ctx context.Context, listID string, fromIndex, limit int) ([]models.Contact, error)

	// Count returns the total number of contacts in the list.
	Count(ctx context.Context, listID string) (int, error)
}

// MemorySource is an in-memory Source, used in tests and for small,
// pre-loaded contact lists (e.g. lists uploaded directly via the control
// API rather than fetched from an external system).
type MemorySource struct {
	lists map[string][]models.Contact
}

// NewMemorySource builds a MemorySource. lists maps listID to contacts,
// which need not be pre-sorted by Index.
func NewMemorySource(lists map[string][]models.Contact) *MemorySource {
	m := &MemorySource{lists: make(map[string][]models.Contact, len(lists))}
	for listID, cs := range lists {
		sorted := make([]models.Contact, len(cs))
		copy(sorted, cs)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
		m.lists[listID] = sorted
	}
	return m
}

func (m *MemorySource) Page(ctx context.Context, listID string, fromIndex, limit int) ([]models.Contact, error) {
	all, ok := m.lists[listID]
	if !ok {
		return nil, fmt.Errorf("contacts: unknown list %q", listID)
	}
	if fromIndex < 0 {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, fromIndex)
	}
	if fromIndex >= len(all) {
		return nil, nil
	}
	end := fromIndex + limit
	if end > len(all) || limit <= 0 {
		end = len(all)
	}
	out := make([]models.Contact, end-fromIndex)
	copy(out, all[fromIndex:end])
	return out, nil
}

func (m *MemorySource) Count(ctx context.Context, listID string) (int, error) {
	all, ok := m.lists[listID]
	if !ok {
		return 0, fmt.Errorf("contacts: unknown list %q", listID)
	}
	return len(all), nil
}
