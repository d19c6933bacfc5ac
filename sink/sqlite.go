package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/mrsingh-rishi/meeting-scribe/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcript_entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT    NOT NULL,
	position   INTEGER NOT NULL,
	speaker    TEXT    NOT NULL,
	text       TEXT    NOT NULL,
	timestamp  TEXT    NOT NULL,
	seq        INTEGER NOT NULL DEFAULT 0,
	UNIQUE(session_id, position)
);

CREATE TABLE IF NOT EXISTS notes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT    NOT NULL UNIQUE,
	entries      INTEGER NOT NULL,
	text         TEXT    NOT NULL,
	started_at   TEXT    NOT NULL,
	finalized_at TEXT    NOT NULL,
	duration_ms  INTEGER NOT NULL
);
`

// SQLiteStore persists transcripts in a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns ~/.meeting-scribe/scribe.sqlite.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".meeting-scribe", "scribe.sqlite")
}

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// for a throwaway store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// One connection: writes are serialized and :memory: stays a single database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendTranscript(ctx context.Context, sessionID string, r model.TranscriptionResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_entries (session_id, position, speaker, text, timestamp, seq)
		VALUES (?, (SELECT COUNT(*) FROM transcript_entries WHERE session_id = ?), ?, ?, ?, ?)
	`, sessionID, sessionID, r.Speaker, r.Text, formatTime(r.Timestamp), int64(r.Sequence))
	if err != nil {
		return errors.Wrap(err, "insert transcript entry")
	}
	return nil
}

// FinalizeTranscript writes the session's note. Finalizing the same session
// again replaces its note.
func (s *SQLiteStore) FinalizeTranscript(ctx context.Context, sessionID string, t model.Transcript) (model.StoredNote, error) {
	note := model.StoredNote{
		SessionID:   sessionID,
		Entries:     len(t.Entries),
		Text:        t.Text(),
		StartedAt:   t.StartedAt,
		FinalizedAt: s.now(),
		Duration:    t.Duration,
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO notes (session_id, entries, text, started_at, finalized_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			entries = excluded.entries,
			text = excluded.text,
			started_at = excluded.started_at,
			finalized_at = excluded.finalized_at,
			duration_ms = excluded.duration_ms
		RETURNING id
	`, sessionID, note.Entries, note.Text, formatTime(note.StartedAt), formatTime(note.FinalizedAt), note.Duration.Milliseconds())
	if err := row.Scan(&note.ID); err != nil {
		return model.StoredNote{}, errors.Wrap(err, "insert note")
	}
	return note, nil
}

// Entries returns a session's transcript lines in arrival order.
func (s *SQLiteStore) Entries(ctx context.Context, sessionID string) ([]model.TranscriptionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT speaker, text, timestamp, seq
		FROM transcript_entries
		WHERE session_id = ?
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query transcript entries")
	}
	defer rows.Close()

	var out []model.TranscriptionResult
	for rows.Next() {
		var (
			r   model.TranscriptionResult
			ts  string
			seq int64
		)
		if err := rows.Scan(&r.Speaker, &r.Text, &ts, &seq); err != nil {
			return nil, errors.Wrap(err, "scan transcript entry")
		}
		r.Timestamp = parseTime(ts)
		r.Sequence = uint64(seq)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Note returns the finalized note for sessionID, or ErrNotFound.
func (s *SQLiteStore) Note(ctx context.Context, sessionID string) (model.StoredNote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, entries, text, started_at, finalized_at, duration_ms
		FROM notes
		WHERE session_id = ?
	`, sessionID)
	note, err := scanNote(row)
	if err == sql.ErrNoRows {
		return model.StoredNote{}, errors.Wrapf(ErrNotFound, "note for session %s", sessionID)
	}
	return note, err
}

// Notes lists finalized notes, newest first.
func (s *SQLiteStore) Notes(ctx context.Context, limit int) ([]model.StoredNote, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, entries, text, started_at, finalized_at, duration_ms
		FROM notes
		ORDER BY finalized_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query notes")
	}
	defer rows.Close()

	var out []model.StoredNote
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, note)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (model.StoredNote, error) {
	var (
		n                    model.StoredNote
		started, finalized   string
		durationMilliseconds int64
	)
	if err := row.Scan(&n.ID, &n.SessionID, &n.Entries, &n.Text, &started, &finalized, &durationMilliseconds); err != nil {
		if err == sql.ErrNoRows {
			return model.StoredNote{}, err
		}
		return model.StoredNote{}, errors.Wrap(err, "scan note")
	}
	n.StartedAt = parseTime(started)
	n.FinalizedAt = parseTime(finalized)
	n.Duration = time.Duration(durationMilliseconds) * time.Millisecond
	return n, nil
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
