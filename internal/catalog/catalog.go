// Package catalog defines the media catalog boundary: the entry type the
// core consumes and the client interface an implementation must satisfy.
package catalog

import (
	"context"
	"time"
)

// Entry is one media asset in the remote catalog for a project scope.
// Supplied wholesale by the catalog collaborator; read-only for the core.
type Entry struct {
	Filename   string     `json:"filename"`
	URL        string     `json:"url"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// Client fetches the media entries for one project scope.
//
// Implementations report transport and auth failures by wrapping
// apperr.ErrCatalogUnavailable so callers can distinguish "catalog
// unreachable" from "no results".
type Client interface {
	ProjectMedia(ctx context.Context, projectCode string) ([]Entry, error)
}
