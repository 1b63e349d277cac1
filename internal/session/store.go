package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tbafbrt/Billedhenter/internal/apperr"
	"github.com/tbafbrt/Billedhenter/internal/catalog"
	"github.com/tbafbrt/Billedhenter/internal/match"
	"github.com/tbafbrt/Billedhenter/internal/selection"
	"github.com/tbafbrt/Billedhenter/internal/suggest"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	project_code TEXT NOT NULL DEFAULT '',
	mode         TEXT NOT NULL DEFAULT 'exact',
	payload      TEXT NOT NULL DEFAULT '{}',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS selections (
	session_id TEXT NOT NULL,
	identity   TEXT NOT NULL,
	UNIQUE(session_id, identity)
);

CREATE INDEX IF NOT EXISTS idx_selections_session ON selections(session_id);

CREATE TABLE IF NOT EXISTS code_lists (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	codes      TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store wraps a sql.DB with session persistence operations.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("session: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// payload is the persisted shape of a session's match result, sufficient to
// rebuild the registry with identical identities.
type payload struct {
	Found       map[string][]catalog.Entry      `json:"found"`
	Missing     []string                        `json:"missing"`
	Suggestions map[string][]suggest.Suggestion `json:"suggestions"`
}

// SaveSession inserts or replaces a session row, clearing any previous
// selection for the same id within the transaction.
func (s *Store) SaveSession(sess *Session) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	data, err := json.Marshal(payload{
		Found:       sess.Result.Found,
		Missing:     sess.Result.Missing,
		Suggestions: sess.Suggestions,
	})
	if err != nil {
		return fmt.Errorf("session: encode payload: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO sessions (id, project_code, mode, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_code = excluded.project_code,
			mode         = excluded.mode,
			payload      = excluded.payload,
			created_at   = excluded.created_at
	`, sess.ID, sess.ProjectCode, string(sess.Mode), string(data), sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("session: upsert: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM selections WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("session: clear selection: %w", err)
	}
	return tx.Commit()
}

// LoadSession rebuilds a session from its persisted payload. The caller is
// responsible for restoring the selection.
func (s *Store) LoadSession(id string) (*Session, error) {
	var (
		projectCode, mode, raw string
		createdAt              time.Time
	)
	err := s.conn.QueryRow(`
		SELECT project_code, mode, payload, created_at FROM sessions WHERE id = ?
	`, id).Scan(&projectCode, &mode, &raw, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %q: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("session: decode payload: %w", err)
	}

	return &Session{
		ID:          id,
		ProjectCode: projectCode,
		Mode:        match.Mode(mode),
		CreatedAt:   createdAt,
		Result:      match.Result{Found: p.Found, Missing: p.Missing},
		Suggestions: p.Suggestions,
		Registry:    selection.Build(p.Found, p.Suggestions),
	}, nil
}

// ReplaceSelection replaces the persisted selection for a session.
func (s *Store) ReplaceSelection(id string, keys []string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM selections WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("session: clear selection: %w", err)
	}
	if len(keys) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO selections (session_id, identity) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("session: prepare selection insert: %w", err)
		}
		defer stmt.Close()
		for _, k := range keys {
			if _, err := stmt.Exec(id, k); err != nil {
				return fmt.Errorf("session: insert selection: %w", err)
			}
		}
	}
	return tx.Commit()
}

// SelectionKeys returns the persisted selection for a session.
func (s *Store) SelectionKeys(id string) ([]string, error) {
	rows, err := s.conn.Query(`SELECT identity FROM selections WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("session: selection keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// CodeList is a stored list of webcodes, typically dropped into the inbox
// folder or saved from the API.
type CodeList struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Codes     []string  `json:"codes"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveCodeList stores a named list of codes and returns its id.
func (s *Store) SaveCodeList(name string, codeList []string) (int64, error) {
	data, _ := json.Marshal(codeList)
	res, err := s.conn.Exec(`
		INSERT INTO code_lists (name, codes, created_at) VALUES (?, ?, ?)
	`, name, string(data), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("session: save code list: %w", err)
	}
	return res.LastInsertId()
}

// GetCodeList returns one stored code list.
func (s *Store) GetCodeList(id int64) (*CodeList, error) {
	var (
		cl  CodeList
		raw string
	)
	err := s.conn.QueryRow(`
		SELECT id, name, codes, created_at FROM code_lists WHERE id = ?
	`, id).Scan(&cl.ID, &cl.Name, &raw, &cl.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("code list %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get code list: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &cl.Codes); err != nil {
		return nil, fmt.Errorf("session: decode code list: %w", err)
	}
	return &cl, nil
}

// ListCodeLists returns all stored code lists, newest first.
func (s *Store) ListCodeLists() ([]CodeList, error) {
	rows, err := s.conn.Query(`
		SELECT id, name, codes, created_at FROM code_lists ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("session: list code lists: %w", err)
	}
	defer rows.Close()

	var out []CodeList
	for rows.Next() {
		var (
			cl  CodeList
			raw string
		)
		if err := rows.Scan(&cl.ID, &cl.Name, &raw, &cl.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &cl.Codes); err != nil {
			return nil, fmt.Errorf("session: decode code list %d: %w", cl.ID, err)
		}
		out = append(out, cl)
	}
	return out, rows.Err()
}
