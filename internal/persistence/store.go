// Package persistence stores session, change, and output-log records so the
// manager can recover state across server restarts.
package persistence

import (
	"context"
	"time"
)

// SessionRecord is the durable form of a session, minus the execution handle.
// PID is the process-identity token used to test liveness during recovery.
type SessionRecord struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	Name      string    `db:"name"`
	Role      string    `db:"role"`
	WorkDir   string    `db:"work_dir"`
	Patterns  string    `db:"patterns"`
	Status    string    `db:"status"`
	PID       int       `db:"pid"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ChangeRecord is the durable form of a change proposal. Records are
// append-only: resolved proposals keep their terminal status.
type ChangeRecord struct {
	ID          string    `db:"id"`
	SessionID   string    `db:"session_id"`
	AgentID     string    `db:"agent_id"`
	AgentName   string    `db:"agent_name"`
	FilePath    string    `db:"file_path"`
	Before      string    `db:"before_text"`
	After       string    `db:"after_text"`
	Status      string    `db:"status"`
	Instruction string    `db:"instruction"`
	Timestamp   time.Time `db:"timestamp"`
}

// OutputRecord is one durable output chunk, mirroring the in-memory ring
// buffer for replay across restarts.
type OutputRecord struct {
	Seq       int64     `db:"seq"`
	AgentID   string    `db:"agent_id"`
	SessionID string    `db:"session_id"`
	Text      string    `db:"text"`
	Stream    string    `db:"stream"`
	Timestamp time.Time `db:"timestamp"`
}

// Store is the durable record store consumed by the session manager.
type Store interface {
	SaveSession(ctx context.Context, rec *SessionRecord) error
	ListSessions(ctx context.Context) ([]*SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error

	SaveChange(ctx context.Context, rec *ChangeRecord) error
	ListChanges(ctx context.Context) ([]*ChangeRecord, error)

	AppendOutput(ctx context.Context, rec *OutputRecord) error
	RecentOutput(ctx context.Context, agentID string, limit int) ([]*OutputRecord, error)

	Close() error
}
