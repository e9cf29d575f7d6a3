package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nigamk1/tutorboard/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database and runs migrations. Foreign keys are
// forced on through the DSN so cascade deletes hold on every pooled
// connection, not just the first one.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "_foreign_keys=") {
		if strings.Contains(dsn, "?") {
			dsn += "&_foreign_keys=on"
		} else {
			dsn += "?_foreign_keys=on"
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			duration_minutes INTEGER,
			message_count INTEGER NOT NULL DEFAULT 0,
			question_count INTEGER NOT NULL DEFAULT 0,
			topics TEXT,
			summary TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			audio_ref TEXT NOT NULL DEFAULT '',
			transcript TEXT NOT NULL DEFAULT '',
			commands TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS whiteboards (
			session_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			elements TEXT,
			canvas TEXT,
			actions INTEGER NOT NULL DEFAULT 0,
			last_modified DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	topics, _ := json.Marshal(session.Topics)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, owner_id, subject, language, difficulty, status, started_at, message_count, question_count, topics, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.OwnerID, session.Subject, session.Language, session.Difficulty,
		session.Status, session.StartedAt, session.MessageCount, session.QuestionCount, string(topics), session.Summary)
	return err
}

// GetSession retrieves a session by ID. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var endedAt sql.NullTime
	var duration sql.NullInt64
	var topics sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, owner_id, subject, language, difficulty, status, started_at, ended_at, duration_minutes, message_count, question_count, topics, summary
		 FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &session.OwnerID, &session.Subject, &session.Language,
		&session.Difficulty, &session.Status, &session.StartedAt, &endedAt, &duration,
		&session.MessageCount, &session.QuestionCount, &topics, &session.Summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	if duration.Valid {
		d := int(duration.Int64)
		session.DurationMinutes = &d
	}
	if topics.Valid && topics.String != "" {
		_ = json.Unmarshal([]byte(topics.String), &session.Topics)
	}
	return &session, nil
}

// SetSessionStatus updates only the status column.
func (s *SQLiteStore) SetSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE session_id = ?`, status, sessionID)
	return err
}

// CompleteSession finalizes a session: status, end time, duration, summary.
func (s *SQLiteStore) CompleteSession(ctx context.Context, sessionID string, endedAt time.Time, durationMinutes int, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ?, duration_minutes = ?, summary = ? WHERE session_id = ?`,
		domain.StatusCompleted, endedAt, durationMinutes, summary, sessionID)
	return err
}

// IncrementCounters bumps the session's message and question counters.
func (s *SQLiteStore) IncrementCounters(ctx context.Context, sessionID string, messages, questions int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + ?, question_count = question_count + ? WHERE session_id = ?`,
		messages, questions, sessionID)
	return err
}

// AddTopic adds a topic to the session's topics-discussed set.
func (s *SQLiteStore) AddTopic(ctx context.Context, sessionID, topic string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	for _, t := range session.Topics {
		if t == topic {
			return nil
		}
	}
	topics, _ := json.Marshal(append(session.Topics, topic))
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET topics = ? WHERE session_id = ?`, string(topics), sessionID)
	return err
}

// DeleteSession removes a session together with its turns and whiteboard.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

// AppendTurn stores a new turn.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.Turn) error {
	var commands sql.NullString
	if len(turn.Commands) > 0 {
		data, err := json.Marshal(turn.Commands)
		if err != nil {
			return fmt.Errorf("failed to marshal commands: %w", err)
		}
		commands = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, session_id, origin, text, audio_ref, transcript, commands, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.TurnID, turn.SessionID, turn.Origin, turn.Text, turn.AudioRef, turn.Transcript, commands, turn.CreatedAt)
	return err
}

// GetTurns retrieves turns for a session, oldest first. A non-empty before
// cursor names a turn; only turns chronologically earlier than it are
// returned, so paging works even though turn ids are not monotonic.
func (s *SQLiteStore) GetTurns(ctx context.Context, sessionID string, limit int, before string) ([]domain.Turn, error) {
	query := `SELECT turn_id, session_id, origin, text, audio_ref, transcript, commands, created_at FROM turns WHERE session_id = ?`
	args := []interface{}{sessionID}

	if before != "" {
		query += ` AND (created_at, turn_id) < (SELECT created_at, turn_id FROM turns WHERE turn_id = ?)`
		args = append(args, before)
	}

	query += ` ORDER BY created_at ASC, turn_id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTurns(rows)
}

// RecentTurns returns the trailing n turns, oldest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, sessionID string, n int) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, session_id, origin, text, audio_ref, transcript, commands, created_at
		 FROM turns WHERE session_id = ? ORDER BY created_at DESC, turn_id DESC LIMIT ?`,
		sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func scanTurns(rows *sql.Rows) ([]domain.Turn, error) {
	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var commands sql.NullString
		if err := rows.Scan(&turn.TurnID, &turn.SessionID, &turn.Origin, &turn.Text,
			&turn.AudioRef, &turn.Transcript, &commands, &turn.CreatedAt); err != nil {
			return nil, err
		}
		if commands.Valid && commands.String != "" {
			_ = json.Unmarshal([]byte(commands.String), &turn.Commands)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// CreateWhiteboard stores the initial whiteboard snapshot for a session.
func (s *SQLiteStore) CreateWhiteboard(ctx context.Context, snap domain.WhiteboardSnapshot) error {
	elements, err := json.Marshal(snap.Elements)
	if err != nil {
		return fmt.Errorf("failed to marshal elements: %w", err)
	}
	canvas, _ := json.Marshal(snap.Canvas)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO whiteboards (session_id, version, elements, canvas, actions, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.Version, string(elements), string(canvas), snap.Actions, snap.LastModified)
	return err
}

// GetWhiteboard retrieves the whiteboard snapshot for a session. Returns
// (nil, nil) when absent.
func (s *SQLiteStore) GetWhiteboard(ctx context.Context, sessionID string) (*domain.WhiteboardSnapshot, error) {
	var snap domain.WhiteboardSnapshot
	var elements, canvas sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, version, elements, canvas, actions, last_modified FROM whiteboards WHERE session_id = ?`,
		sessionID).Scan(&snap.SessionID, &snap.Version, &elements, &canvas, &snap.Actions, &snap.LastModified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if elements.Valid && elements.String != "" {
		_ = json.Unmarshal([]byte(elements.String), &snap.Elements)
	}
	if canvas.Valid && canvas.String != "" {
		_ = json.Unmarshal([]byte(canvas.String), &snap.Canvas)
	}
	return &snap, nil
}

// ReplaceElements overwrites the stored whiteboard state with a new snapshot.
func (s *SQLiteStore) ReplaceElements(ctx context.Context, snap domain.WhiteboardSnapshot) error {
	elements, err := json.Marshal(snap.Elements)
	if err != nil {
		return fmt.Errorf("failed to marshal elements: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE whiteboards SET version = ?, elements = ?, actions = ?, last_modified = ? WHERE session_id = ?`,
		snap.Version, string(elements), snap.Actions, snap.LastModified, snap.SessionID)
	return err
}
