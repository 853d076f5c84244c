// Package archive provides an immutable SQLite audit trail of completed
// turns. It is written after a turn commits and queried over the API;
// it never sits on the request hot path, and sessions themselves remain
// in-memory only.
package archive

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed turn archive.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the archive database at path. Use ":memory:"
// for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive pragmas: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "archive")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		agent TEXT,
		recorded_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, recorded_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Turn is one archived turn row.
type Turn struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	Agent      string    `json:"agent,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Record appends one turn to the archive.
func (s *Store) Record(sessionID, role, text, agent string) error {
	_, err := s.db.Exec(
		`INSERT INTO turns (id, session_id, role, text, agent, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sessionID, role, text, agent, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// Transcript returns all archived turns for a session in order.
func (s *Store) Transcript(sessionID string) ([]Turn, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, text, agent, recorded_at FROM turns
		 WHERE session_id = ? ORDER BY recorded_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var agent sql.NullString
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Text, &agent, &t.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Agent = agent.String
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Stats summarizes archive contents.
type Stats struct {
	Turns    int `json:"turns"`
	Sessions int `json:"sessions"`
}

// Stats returns row counts for the maintenance API.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	row := s.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT session_id) FROM turns`)
	if err := row.Scan(&st.Turns, &st.Sessions); err != nil {
		return Stats{}, fmt.Errorf("archive stats: %w", err)
	}
	return st, nil
}
