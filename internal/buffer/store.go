// Package buffer is the durable local staging area for frames the delivery
// queue could not hand to the server.
package buffer

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrEmptySession is returned when a session id is missing.
var ErrEmptySession = errors.New("session id is required")

// Frame is one buffered frame payload.
type Frame struct {
	ID             int64
	SessionID      string
	SequenceNumber int64
	Timestamp      time.Time
	Payload        []byte
	Synced         bool
}

// Event is one buffered client-side event, such as a camera loss.
type Event struct {
	ID        int64
	SessionID string
	Type      string
	Timestamp time.Time
	Payload   []byte
	Synced    bool
}

// SessionStats counts buffered records for one session.
type SessionStats struct {
	SessionID      string
	Frames         int
	UnsyncedFrames int
	Events         int
}

// Store wraps SQLite access for buffered frames and events.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps writers serialized on the file.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS frames (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			payload BLOB NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			payload BLOB,
			synced INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS sequences (
			session_id TEXT PRIMARY KEY,
			next_sequence INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_frames_session_synced ON frames(session_id, synced);`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save appends a new unsynced frame record and returns its id.
func (s *Store) Save(ctx context.Context, sessionID string, sequenceNumber int64, payload []byte) (int64, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, ErrEmptySession
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO frames (session_id, sequence_number, timestamp, payload, synced) VALUES (?, ?, ?, ?, 0)`,
		sessionID, sequenceNumber, s.now().UTC().Format(time.RFC3339Nano), payload,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ReserveSequence records that sequence numbers below next may be in use for
// the session. The stored mark never moves backwards.
func (s *Store) ReserveSequence(ctx context.Context, sessionID string, next int64) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySession
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sequences (session_id, next_sequence) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET next_sequence = MAX(next_sequence, excluded.next_sequence)`,
		sessionID, next,
	)
	return err
}

// NextSequence returns the first sequence number a restarted agent may use:
// past both the reserved mark and every buffered frame of the session.
func (s *Store) NextSequence(ctx context.Context, sessionID string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(
			COALESCE((SELECT next_sequence FROM sequences WHERE session_id = ?), 0),
			COALESCE((SELECT MAX(sequence_number) + 1 FROM frames WHERE session_id = ?), 0)
		)`,
		sessionID, sessionID,
	).Scan(&next)
	return next, err
}

// SaveEvent appends a client-side event record.
func (s *Store) SaveEvent(ctx context.Context, sessionID, eventType string, payload []byte) (int64, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, ErrEmptySession
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, type, timestamp, payload, synced) VALUES (?, ?, ?, ?, 0)`,
		sessionID, eventType, s.now().UTC().Format(time.RFC3339Nano), payload,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListUnsynced returns unsynced frames of a session in insertion order.
// A non-positive limit returns every unsynced frame.
func (s *Store) ListUnsynced(ctx context.Context, sessionID string, limit int) ([]Frame, error) {
	query := `SELECT id, session_id, sequence_number, timestamp, payload, synced
		FROM frames WHERE session_id = ? AND synced = 0 ORDER BY id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var frames []Frame
	for rows.Next() {
		var (
			frame  Frame
			stamp  string
			synced int
		)
		if err := rows.Scan(&frame.ID, &frame.SessionID, &frame.SequenceNumber, &stamp, &frame.Payload, &synced); err != nil {
			return nil, err
		}
		frame.Timestamp, _ = time.Parse(time.RFC3339Nano, stamp)
		frame.Synced = synced != 0
		frames = append(frames, frame)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// ListEvents returns every buffered event of a session in insertion order.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, type, timestamp, payload, synced FROM events WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var events []Event
	for rows.Next() {
		var (
			event  Event
			stamp  string
			synced int
		)
		if err := rows.Scan(&event.ID, &event.SessionID, &event.Type, &stamp, &event.Payload, &synced); err != nil {
			return nil, err
		}
		event.Timestamp, _ = time.Parse(time.RFC3339Nano, stamp)
		event.Synced = synced != 0
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkSynced flips the synced flag on the given frame ids.
func (s *Store) MarkSynced(ctx context.Context, ids []int64) (err error) {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `UPDATE frames SET synced = 1 WHERE id = ?`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for _, id := range ids {
		if _, err = stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Clear purges every frame and event of a session. The sequence mark is kept
// so a resumed session never reuses a number.
func (s *Store) Clear(ctx context.Context, sessionID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM frames WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats summarizes the buffer per session.
func (s *Store) Stats(ctx context.Context) ([]SessionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, SUM(frames), SUM(unsynced), SUM(events) FROM (
			SELECT session_id, COUNT(*) AS frames, SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END) AS unsynced, 0 AS events
			FROM frames GROUP BY session_id
			UNION ALL
			SELECT session_id, 0, 0, COUNT(*) FROM events GROUP BY session_id
		) GROUP BY session_id ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var stats []SessionStats
	for rows.Next() {
		var st SessionStats
		if err := rows.Scan(&st.SessionID, &st.Frames, &st.UnsyncedFrames, &st.Events); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}
