package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema uses portable SQL so the same store runs on SQLite and Postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		work_dir TEXT NOT NULL,
		patterns TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_session_id ON sessions(session_id)`,
	`CREATE TABLE IF NOT EXISTS changes (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		before_text TEXT NOT NULL DEFAULT '',
		after_text TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		instruction TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_changes_agent_id ON changes(agent_id)`,
	`CREATE TABLE IF NOT EXISTS output_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		text TEXT NOT NULL,
		stream TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_output_logs_agent_id ON output_logs(agent_id, seq)`,
}

// postgres has no AUTOINCREMENT keyword; substitute its serial type.
var postgresSchema = []string{
	schema[0], schema[1], schema[2], schema[3],
	`CREATE TABLE IF NOT EXISTS output_logs (
		seq BIGSERIAL PRIMARY KEY,
		agent_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		text TEXT NOT NULL,
		stream TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	)`,
	schema[5],
}

// SQLStore implements Store on any sqlx-compatible database.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates the store and its tables.
func NewSQLStore(database *sqlx.DB) (*SQLStore, error) {
	statements := schema
	if database.DriverName() == "pgx" {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := database.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &SQLStore{db: database}, nil
}

// SaveSession inserts or updates a session record.
func (s *SQLStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	query := s.db.Rebind(`INSERT INTO sessions
		(id, session_id, name, role, work_dir, patterns, status, pid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			session_id = excluded.session_id,
			status = excluded.status,
			pid = excluded.pid,
			updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.Name, rec.Role, rec.WorkDir,
		rec.Patterns, rec.Status, rec.PID, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", rec.ID, err)
	}
	return nil
}

// ListSessions returns all session records, newest first.
func (s *SQLStore) ListSessions(ctx context.Context) ([]*SessionRecord, error) {
	var recs []*SessionRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return recs, nil
}

// DeleteSession removes a session record and its output log.
func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	query := s.db.Rebind(`DELETE FROM sessions WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	query = s.db.Rebind(`DELETE FROM output_logs WHERE agent_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete output log for %s: %w", id, err)
	}
	return nil
}

// SaveChange inserts or updates a change record.
func (s *SQLStore) SaveChange(ctx context.Context, rec *ChangeRecord) error {
	query := s.db.Rebind(`INSERT INTO changes
		(id, session_id, agent_id, agent_name, file_path, before_text, after_text, status, instruction, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			instruction = excluded.instruction`)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, rec.AgentID, rec.AgentName,
		rec.FilePath, rec.Before, rec.After, rec.Status, rec.Instruction, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save change %s: %w", rec.ID, err)
	}
	return nil
}

// ListChanges returns all change records in chronological order.
func (s *SQLStore) ListChanges(ctx context.Context) ([]*ChangeRecord, error) {
	var recs []*ChangeRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM changes ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	return recs, nil
}

// AppendOutput appends one output chunk to the durable log.
func (s *SQLStore) AppendOutput(ctx context.Context, rec *OutputRecord) error {
	query := s.db.Rebind(`INSERT INTO output_logs
		(agent_id, session_id, text, stream, timestamp)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		rec.AgentID, rec.SessionID, rec.Text, rec.Stream, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append output for %s: %w", rec.AgentID, err)
	}
	return nil
}

// RecentOutput returns the newest chunks for an agent in chronological order.
func (s *SQLStore) RecentOutput(ctx context.Context, agentID string, limit int) ([]*OutputRecord, error) {
	query := s.db.Rebind(`SELECT * FROM (
		SELECT * FROM output_logs WHERE agent_id = ? ORDER BY seq DESC LIMIT ?
	) recent ORDER BY seq ASC`)
	var recs []*OutputRecord
	if err := s.db.SelectContext(ctx, &recs, query, agentID, limit); err != nil {
		return nil, fmt.Errorf("failed to load output for %s: %w", agentID, err)
	}
	return recs, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
