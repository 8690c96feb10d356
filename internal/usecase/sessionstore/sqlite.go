package sessionstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"browsir/internal/domain"
)

// SQLite is a durable Store backed by a single SQLite file: one row per
// session holding its metadata and its current root-to-leaf branch
// (Session.Branch) as a JSON blob; entries on other branches are not
// persisted. The
// whole-blob-per-session shape keeps Append/Fork's in-memory semantics
// (the caller mutates *domain.Session directly; Save persists the result)
// instead of normalizing entries into their own table, which would need a
// second round trip on every read just to rebuild the DAG.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SQLite{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			role        TEXT NOT NULL DEFAULT '',
			forked_from TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			document    TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error { return s.db.Close() }

// sessionDocument is the JSON shape persisted in the document column: the
// exported Session fields plus the entries of the current branch, from which
// the session is rebuilt on load (domain.Session keeps its entry map
// unexported).
type sessionDocument struct {
	ID        string             `json:"id"`
	ParentID  string             `json:"parent_id,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Leaf      string             `json:"leaf,omitempty"`
	Meta      domain.SessionMeta `json:"meta"`
	Entries   []domain.Entry     `json:"entries"`
}

func (s *SQLite) Create(id string, now time.Time) *domain.Session {
	session := domain.NewSession(id, now)
	_ = s.Save(session)
	return session
}

func (s *SQLite) Get(id string) (*domain.Session, bool) {
	row := s.db.QueryRow("SELECT document FROM sessions WHERE id = ?", id)
	var doc string
	if err := row.Scan(&doc); err != nil {
		return nil, false
	}
	return decodeSession(doc)
}

func (s *SQLite) Save(session *domain.Session) error {
	doc := sessionDocument{
		ID: session.ID, ParentID: session.ParentID, CreatedAt: session.CreatedAt,
		Leaf: session.Leaf, Meta: session.Meta, Entries: session.Branch(),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, role, forked_from, created_at, document)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET role=excluded.role, forked_from=excluded.forked_from, document=excluded.document
	`, session.ID, session.Meta.Role, session.Meta.ForkedFrom, session.CreatedAt.UTC().Format(time.RFC3339), string(raw))
	return err
}

func (s *SQLite) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("sessionstore: unknown session %q", id)
	}
	return nil
}

func (s *SQLite) List() []SessionSummary {
	rows, err := s.db.Query("SELECT id, role, forked_from, created_at, document FROM sessions ORDER BY created_at")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var id, role, forkedFrom, createdAt, doc string
		if err := rows.Scan(&id, &role, &forkedFrom, &createdAt, &doc); err != nil {
			continue
		}
		session, ok := decodeSession(doc)
		if !ok {
			continue
		}
		out = append(out, SessionSummary{
			ID: id, Role: role, ForkedFrom: forkedFrom,
			CreatedAt: session.CreatedAt, EntryCount: session.EntryCount(),
		})
	}
	return out
}

// decodeSession rebuilds a *domain.Session from its persisted document by
// replaying Branch()'s own ordering through Append — each entry's ParentID
// is recomputed from the current leaf rather than trusted from storage, so
// a hand-edited or corrupted document can't reintroduce a broken chain.
func decodeSession(raw string) (*domain.Session, bool) {
	var doc sessionDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false
	}
	session := domain.NewSession(doc.ID, doc.CreatedAt)
	session.ParentID = doc.ParentID
	session.Meta = doc.Meta
	for _, e := range doc.Entries {
		session.Append(e)
	}
	return session, true
}
