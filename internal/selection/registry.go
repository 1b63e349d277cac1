// Package selection assigns stable identities to displayable assets and
// tracks which of them are chosen for export.
package selection

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tbafbrt/Billedhenter/internal/apperr"
	"github.com/tbafbrt/Billedhenter/internal/catalog"
	"github.com/tbafbrt/Billedhenter/internal/suggest"
)

// Role distinguishes direct matches from variant suggestions.
type Role string

const (
	RoleFound      Role = "found"
	RoleSuggestion Role = "suggestion"
)

// Identity is the stable key of one displayable asset. It is derived purely
// from content so that rebuilding the registry from the same match result
// always yields the same identity for the same logical asset. Ordinal is the
// 1-based occurrence of the filename within the owner code.
type Identity struct {
	Role      Role   `json:"role"`
	OwnerCode string `json:"owner_code"`
	Filename  string `json:"filename"`
	Ordinal   int    `json:"ordinal"`
}

// Key renders the identity as a single string, usable as a map key and as
// the wire form in API payloads and the selection store.
func (id Identity) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d", id.Role, id.OwnerCode, id.Filename, id.Ordinal)
}

// Entry is one registry row: an asset with its owner, duplicate bookkeeping,
// and (for suggestions) provenance.
type Entry struct {
	ID            Identity      `json:"id"`
	OwnerCode     string        `json:"owner_code"`
	Asset         catalog.Entry `json:"asset"`
	SuggestedCode string        `json:"suggested_code,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	IsDuplicate   bool          `json:"is_duplicate"`
	// DuplicateOrdinal is the running occurrence number when the filename
	// repeats within the owner; 0 for unique filenames.
	DuplicateOrdinal int `json:"duplicate_ordinal"`
}

// Registry holds the identity space for one match result plus the current
// selection. All operations are pure set manipulation over that space.
// Safe for concurrent use: a session's registry is shared between selection
// mutations and response/plan reads.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	entries  map[string]Entry
	selected map[string]struct{}
}

// Build constructs the registry from found entries and suggestions.
// Traversal is canonical: found owner codes in lexicographic order, then
// suggestion owner codes in lexicographic order; assets within an owner
// sorted by filename (ties by URL). Building twice from the same inputs
// yields identical identities and duplicate bookkeeping.
func Build(found map[string][]catalog.Entry, suggestions map[string][]suggest.Suggestion) *Registry {
	r := &Registry{
		entries:  make(map[string]Entry),
		selected: make(map[string]struct{}),
	}

	for _, owner := range sortedKeys(found) {
		assets := append([]catalog.Entry(nil), found[owner]...)
		sort.Slice(assets, func(i, j int) bool {
			if assets[i].Filename != assets[j].Filename {
				return assets[i].Filename < assets[j].Filename
			}
			return assets[i].URL < assets[j].URL
		})

		counts := make(map[string]int, len(assets))
		for _, a := range assets {
			counts[a.Filename]++
		}
		occurrence := make(map[string]int, len(assets))
		for _, a := range assets {
			occurrence[a.Filename]++
			r.add(Entry{
				ID: Identity{
					Role:      RoleFound,
					OwnerCode: owner,
					Filename:  a.Filename,
					Ordinal:   occurrence[a.Filename],
				},
				OwnerCode:        owner,
				Asset:            a,
				IsDuplicate:      counts[a.Filename] > 1,
				DuplicateOrdinal: dupOrdinal(counts[a.Filename], occurrence[a.Filename]),
			})
		}
	}

	for _, owner := range sortedKeys(suggestions) {
		sugg := append([]suggest.Suggestion(nil), suggestions[owner]...)
		sort.Slice(sugg, func(i, j int) bool {
			if sugg[i].Entry.Filename != sugg[j].Entry.Filename {
				return sugg[i].Entry.Filename < sugg[j].Entry.Filename
			}
			return sugg[i].Entry.URL < sugg[j].Entry.URL
		})

		counts := make(map[string]int, len(sugg))
		for _, s := range sugg {
			counts[s.Entry.Filename]++
		}
		occurrence := make(map[string]int, len(sugg))
		for _, s := range sugg {
			occurrence[s.Entry.Filename]++
			r.add(Entry{
				ID: Identity{
					Role:      RoleSuggestion,
					OwnerCode: owner,
					Filename:  s.Entry.Filename,
					Ordinal:   occurrence[s.Entry.Filename],
				},
				OwnerCode:        owner,
				Asset:            s.Entry,
				SuggestedCode:    s.ProductCode,
				Reason:           s.Reason,
				IsDuplicate:      counts[s.Entry.Filename] > 1,
				DuplicateOrdinal: dupOrdinal(counts[s.Entry.Filename], occurrence[s.Entry.Filename]),
			})
		}
	}

	return r
}

func dupOrdinal(count, occurrence int) int {
	if count > 1 {
		return occurrence
	}
	return 0
}

func (r *Registry) add(e Entry) {
	k := e.ID.Key()
	r.order = append(r.order, k)
	r.entries[k] = e
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns every registry row in canonical order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entriesLocked()
}

func (r *Registry) entriesLocked() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k])
	}
	return out
}

// Snapshot returns every registry row in canonical order together with the
// selected key set, read atomically. Response builders use this so a
// concurrent mutation can never produce a half-updated view.
func (r *Registry) Snapshot() ([]Entry, map[string]bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	selected := make(map[string]bool, len(r.selected))
	for k := range r.selected {
		selected[k] = true
	}
	return r.entriesLocked(), selected
}

// Len returns the number of registry rows.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// IsSelected reports whether the identity key is currently selected.
func (r *Registry) IsSelected(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.selected[key]
	return ok
}

// SelectedCount returns the number of selected identities.
func (r *Registry) SelectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.selected)
}

// SelectedKeys returns the selected identity keys in canonical order.
func (r *Registry) SelectedKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.selected))
	for _, k := range r.order {
		if _, ok := r.selected[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// SelectedEntries returns the selected rows in canonical order.
func (r *Registry) SelectedEntries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.selected))
	for _, k := range r.order {
		if _, ok := r.selected[k]; ok {
			out = append(out, r.entries[k])
		}
	}
	return out
}

// Toggle flips the selection state of one identity.
func (r *Registry) Toggle(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return fmt.Errorf("identity %q: %w", key, apperr.ErrNotFound)
	}
	if _, ok := r.selected[key]; ok {
		delete(r.selected, key)
	} else {
		r.selected[key] = struct{}{}
	}
	return nil
}

// SelectAll selects every identity, suggestions included.
func (r *Registry) SelectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = make(map[string]struct{}, len(r.order))
	for _, k := range r.order {
		r.selected[k] = struct{}{}
	}
}

// SelectExactOnly selects every direct match and nothing else.
func (r *Registry) SelectExactOnly() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = make(map[string]struct{}, len(r.order))
	for _, k := range r.order {
		if r.entries[k].ID.Role == RoleFound {
			r.selected[k] = struct{}{}
		}
	}
}

// DeselectSuggestions removes every suggestion from the selection.
func (r *Registry) DeselectSuggestions() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.selected {
		if r.entries[k].ID.Role == RoleSuggestion {
			delete(r.selected, k)
		}
	}
}

// DeselectDuplicates removes every entry beyond the first occurrence of a
// duplicated filename, keeping copy #1 selected.
func (r *Registry) DeselectDuplicates() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.selected {
		if r.entries[k].DuplicateOrdinal > 1 {
			delete(r.selected, k)
		}
	}
}

// Clear deselects everything.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = make(map[string]struct{})
}

// Restore replaces the selection with the given identity keys, ignoring
// keys outside the registry's identity space. Used when rehydrating a
// persisted session.
func (r *Registry) Restore(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := r.entries[k]; ok {
			r.selected[k] = struct{}{}
		}
	}
}
