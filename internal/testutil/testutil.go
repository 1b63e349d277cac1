// Package testutil provides shared test helpers for stores and catalog
// fixtures.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/tbafbrt/Billedhenter/internal/catalog"
	"github.com/tbafbrt/Billedhenter/internal/session"
)

// TestStore creates a temporary SQLite session store that is automatically
// cleaned up.
func TestStore(t *testing.T) *session.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "billedhenter-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	store, err := session.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// StubCatalog is a catalog.Client returning fixed entries or an error.
type StubCatalog struct {
	Entries []catalog.Entry
	Err     error
}

// ProjectMedia implements catalog.Client.
func (s *StubCatalog) ProjectMedia(_ context.Context, _ string) ([]catalog.Entry, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Entries, nil
}

// Entries builds catalog entries from filenames, with synthetic URLs.
func Entries(filenames ...string) []catalog.Entry {
	out := make([]catalog.Entry, 0, len(filenames))
	for _, f := range filenames {
		out = append(out, catalog.Entry{Filename: f, URL: "https://media.example/" + f})
	}
	return out
}
