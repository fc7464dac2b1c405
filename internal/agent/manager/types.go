// Package manager owns the authoritative tables of agent sessions and change
// proposals, routes runner events into buffers and the event bus, and
// persists state for recovery.
package manager

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// ChangeStatus is the lifecycle state of a change proposal.
type ChangeStatus string

const (
	ChangePending    ChangeStatus = "pending"
	ChangeProcessing ChangeStatus = "processing"
	ChangeAccepted   ChangeStatus = "accepted"
	ChangeDeclined   ChangeStatus = "declined"
)

// Session is one logical, resumable agent conversation. ID identifies one
// concrete running instance; SessionID survives restarts and ties instances
// of the same conversation together.
type Session struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	WorkDir   string    `json:"workDir"`
	Patterns  []string  `json:"patterns"`
	Status    Status    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Change is a detected file-edit proposal awaiting human review.
// Instruction holds an optional free-text follow-up attached while pending.
type Change struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionId"`
	AgentID     string       `json:"agentId"`
	AgentName   string       `json:"agentName"`
	FilePath    string       `json:"filePath"`
	Before      string       `json:"before"`
	After       string       `json:"after"`
	Status      ChangeStatus `json:"status"`
	Instruction string       `json:"instruction,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// StartRequest describes a session to start. An empty SessionID mints a new
// conversation; a SessionID belonging to a stopped session resumes it under
// a fresh agent ID.
type StartRequest struct {
	Name      string
	Role      string
	WorkDir   string
	Patterns  []string
	SessionID string
}

func (s *Session) clone() *Session {
	c := *s
	c.Patterns = append([]string(nil), s.Patterns...)
	return &c
}

func (c *Change) clone() *Change {
	d := *c
	return &d
}
