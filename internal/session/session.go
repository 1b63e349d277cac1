// Package session holds the explicit per-search state object and its
// SQLite-backed persistence.
//
// One Session is created per search and replaced wholesale by the next
// search; the registry operations are the only way to mutate its selection.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/tbafbrt/Billedhenter/internal/apperr"
	"github.com/tbafbrt/Billedhenter/internal/match"
	"github.com/tbafbrt/Billedhenter/internal/selection"
	"github.com/tbafbrt/Billedhenter/internal/suggest"
)

// Session is the request-scoped state of one search: its match result,
// suggestions, registry, and selection.
type Session struct {
	ID          string
	ProjectCode string
	Mode        match.Mode
	CreatedAt   time.Time

	Result      match.Result
	Suggestions map[string][]suggest.Suggestion
	Registry    *selection.Registry
}

// Op names a selection operation exposed to the UI boundary.
type Op string

const (
	OpToggle               Op = "toggle"
	OpSelectAll            Op = "select_all"
	OpSelectExactOnly      Op = "select_exact_only"
	OpDeselectSuggestions  Op = "deselect_suggestions"
	OpDeselectDuplicates   Op = "deselect_duplicates"
	OpClear                Op = "clear"
)

// Manager owns live sessions and keeps the store in sync so selections
// survive restarts.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    *Store
}

// NewManager creates a Manager backed by the given store.
func NewManager(store *Store) *Manager {
	return &Manager{sessions: make(map[string]*Session), store: store}
}

// Create builds a new session from a match result, persists it, and returns
// it. The registry starts with an empty selection.
func (m *Manager) Create(projectCode string, mode match.Mode, result match.Result, suggestions map[string][]suggest.Suggestion) (*Session, error) {
	s := &Session{
		ID:          newID(),
		ProjectCode: projectCode,
		Mode:        mode,
		CreatedAt:   time.Now().UTC(),
		Result:      result,
		Suggestions: suggestions,
		Registry:    selection.Build(result.Found, suggestions),
	}
	if err := m.store.SaveSession(s); err != nil {
		return nil, fmt.Errorf("session: persist: %w", err)
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns a live session, falling back to the store after a restart.
// Rehydrated sessions rebuild their registry from the persisted match
// result, so identities come out identical and the stored selection
// applies cleanly.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	s, err := m.store.LoadSession(id)
	if err != nil {
		return nil, err
	}
	keys, err := m.store.SelectionKeys(id)
	if err != nil {
		return nil, err
	}
	s.Registry.Restore(keys)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s, nil
}

// Apply runs one selection operation against a session and persists the
// resulting selection. key is required for OpToggle only.
func (m *Manager) Apply(id string, op Op, key string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch op {
	case OpToggle:
		if err := s.Registry.Toggle(key); err != nil {
			return nil, err
		}
	case OpSelectAll:
		s.Registry.SelectAll()
	case OpSelectExactOnly:
		s.Registry.SelectExactOnly()
	case OpDeselectSuggestions:
		s.Registry.DeselectSuggestions()
	case OpDeselectDuplicates:
		s.Registry.DeselectDuplicates()
	case OpClear:
		s.Registry.Clear()
	default:
		return nil, fmt.Errorf("unknown selection op %q: %w", op, apperr.ErrNotFound)
	}

	if err := m.store.ReplaceSelection(id, s.Registry.SelectedKeys()); err != nil {
		return nil, fmt.Errorf("session: persist selection: %w", err)
	}
	return s, nil
}

func newID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
