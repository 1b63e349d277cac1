package api

import (
	"time"

	"github.com/tbafbrt/Billedhenter/internal/selection"
	"github.com/tbafbrt/Billedhenter/internal/session"
)

// SearchRequest starts a new search session. Codes come from exactly one
// source: an explicit list, pasted free text, or a stored code list.
type SearchRequest struct {
	Codes      []string `json:"codes,omitempty"`
	Text       string   `json:"text,omitempty"`
	CodeListID int64    `json:"code_list_id,omitempty"`
	// ProjectCode overrides auto-detection from the first code.
	ProjectCode string `json:"project_code,omitempty"`
	// Mode selects the matching policy; empty means exact.
	Mode string `json:"mode,omitempty"`
}

// RegistryEntry is one selectable asset in a session.
type RegistryEntry struct {
	Key              string     `json:"key"`
	Role             string     `json:"role"`
	OwnerCode        string     `json:"owner_code"`
	Filename         string     `json:"filename"`
	URL              string     `json:"url"`
	ModifiedAt       *time.Time `json:"modified_at,omitempty"`
	SuggestedCode    string     `json:"suggested_code,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	IsDuplicate      bool       `json:"is_duplicate"`
	DuplicateOrdinal int        `json:"duplicate_ordinal,omitempty"`
	Selected         bool       `json:"selected"`
}

// SessionResponse is the full state of a search session.
type SessionResponse struct {
	SessionID     string          `json:"session_id"`
	ProjectCode   string          `json:"project_code"`
	Mode          string          `json:"mode"`
	CreatedAt     time.Time       `json:"created_at"`
	FoundCodes    int             `json:"found_codes"`
	MissingCodes  []string        `json:"missing_codes"`
	TotalAssets   int             `json:"total_assets"`
	SelectedCount int             `json:"selected_count"`
	Entries       []RegistryEntry `json:"entries"`
	// RejectedCodes are input codes skipped before matching, with reasons
	// already reported at search time.
	RejectedCodes []string `json:"rejected_codes,omitempty"`
	// ImplausibleTokens are free-text tokens that did not look like
	// webcodes.
	ImplausibleTokens []string `json:"implausible_tokens,omitempty"`
}

// SelectionRequest applies one registry operation to a session.
type SelectionRequest struct {
	Op string `json:"op"`
	// Key is the identity key; required for "toggle" only.
	Key string `json:"key,omitempty"`
}

// PlanRequest asks for an export manifest.
type PlanRequest struct {
	RenameAlternates bool `json:"rename_alternates"`
}

// ManifestItem is one planned archive entry.
type ManifestItem struct {
	Identity      string `json:"identity"`
	URL           string `json:"url"`
	FinalFilename string `json:"final_filename"`
	OwnerCode     string `json:"owner_code"`
}

// PlanResponse wraps an export manifest.
type PlanResponse struct {
	Items []ManifestItem `json:"items"`
	Total int            `json:"total"`
}

// CodeListRequest stores a new code list from pasted text.
type CodeListRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// CodeListsResponse wraps stored code lists.
type CodeListsResponse struct {
	CodeLists []session.CodeList `json:"code_lists"`
}

func sessionResponse(s *session.Session, rejected, implausible []string) SessionResponse {
	entries, selected := s.Registry.Snapshot()
	out := SessionResponse{
		SessionID:         s.ID,
		ProjectCode:       s.ProjectCode,
		Mode:              string(s.Mode),
		CreatedAt:         s.CreatedAt,
		FoundCodes:        len(s.Result.Found),
		MissingCodes:      nonNilSlice(s.Result.Missing),
		SelectedCount:     len(selected),
		Entries:           make([]RegistryEntry, 0, len(entries)),
		RejectedCodes:     rejected,
		ImplausibleTokens: implausible,
	}
	for _, e := range entries {
		if e.ID.Role == selection.RoleFound {
			out.TotalAssets++
		}
		out.Entries = append(out.Entries, RegistryEntry{
			Key:              e.ID.Key(),
			Role:             string(e.ID.Role),
			OwnerCode:        e.OwnerCode,
			Filename:         e.Asset.Filename,
			URL:              e.Asset.URL,
			ModifiedAt:       e.Asset.ModifiedAt,
			SuggestedCode:    e.SuggestedCode,
			Reason:           e.Reason,
			IsDuplicate:      e.IsDuplicate,
			DuplicateOrdinal: e.DuplicateOrdinal,
			Selected:         selected[e.ID.Key()],
		})
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
